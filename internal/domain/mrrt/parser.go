package mrrt

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/ehr/radiology/internal/platform/apperr"
)

const dcTermsPrefix = "dcterms."

// ParseTemplate reads an MRRT report template document. Any conformance
// violation is reported as a parse error and no template is returned.
func ParseTemplate(src string) (*ReportTemplate, error) {
	if strings.TrimSpace(src) == "" {
		return nil, apperr.Parse("template is empty", nil)
	}
	if !hasExplicitBody(src) {
		return nil, apperr.Parse("template has no body element", nil)
	}

	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, apperr.Parse("template is not valid HTML", err)
	}
	head := findElement(doc, atom.Head)
	if head == nil {
		return nil, apperr.Parse("template has no head element", nil)
	}

	charsets := collect(head, func(n *html.Node) bool {
		_, ok := attr(n, "charset")
		return n.DataAtom == atom.Meta && ok
	})
	if len(charsets) != 1 {
		return nil, apperr.Parse(fmt.Sprintf("expected exactly one meta element with charset attribute, found %d", len(charsets)), nil)
	}
	charset, _ := attr(charsets[0], "charset")

	dc := dcTerms(head)
	if len(dc) == 0 {
		return nil, apperr.Parse("template has no dcterms meta elements", nil)
	}
	if dc["type"] != TemplateType {
		return nil, apperr.Parse(fmt.Sprintf("dcterms.type must be %s", TemplateType), nil)
	}
	if dc["identifier"] == "" {
		return nil, apperr.Parse("dcterms.identifier is required", nil)
	}

	t := &ReportTemplate{
		Charset:            strings.TrimSpace(charset),
		DCTermsIdentifier:  dc["identifier"],
		DCTermsTitle:       dc["title"],
		DCTermsDescription: dc["description"],
		DCTermsLanguage:    dc["language"],
		DCTermsType:        dc["type"],
		DCTermsPublisher:   dc["publisher"],
		DCTermsRights:      dc["rights"],
		DCTermsLicense:     dc["license"],
		DCTermsDate:        dc["date"],
		DCTermsCreator:     dc["creator"],
	}
	if title := findElement(head, atom.Title); title != nil {
		if s := strings.TrimSpace(textContent(title)); s != "" {
			t.DCTermsTitle = s
		}
	}

	for _, script := range collect(head, isTemplateAttributes) {
		terms, err := parseCodedTerms(textContent(script))
		if err != nil {
			return nil, err
		}
		t.CodedTerms = append(t.CodedTerms, terms...)
	}
	t.CodedTerms = uniqueCodedTerms(t.CodedTerms)

	return t, nil
}

// ExtractBody returns the inner HTML of the document's body element.
func ExtractBody(src string) (string, error) {
	if !hasExplicitBody(src) {
		return "", apperr.Parse("template has no body element", nil)
	}
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return "", apperr.Parse("template is not valid HTML", err)
	}
	return BodyHTML(doc)
}

// BodyHTML serializes the children of doc's body element.
func BodyHTML(doc *html.Node) (string, error) {
	body := findElement(doc, atom.Body)
	if body == nil {
		return "", apperr.Parse("template has no body element", nil)
	}
	var buf bytes.Buffer
	for c := body.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", apperr.Parse("could not serialize template body", err)
		}
	}
	return buf.String(), nil
}

// hasExplicitBody reports whether src contains a body start tag. html.Parse
// synthesizes one otherwise.
func hasExplicitBody(src string) bool {
	z := html.NewTokenizer(strings.NewReader(src))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return false
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			if atom.Lookup(name) == atom.Body {
				return true
			}
		}
	}
}

func dcTerms(head *html.Node) map[string]string {
	out := make(map[string]string)
	for _, m := range collect(head, func(n *html.Node) bool { return n.DataAtom == atom.Meta }) {
		name, _ := attr(m, "name")
		name = strings.ToLower(strings.TrimSpace(name))
		if !strings.HasPrefix(name, dcTermsPrefix) {
			continue
		}
		content, _ := attr(m, "content")
		key := strings.TrimPrefix(name, dcTermsPrefix)
		if _, seen := out[key]; !seen {
			out[key] = strings.TrimSpace(content)
		}
	}
	return out
}

func isTemplateAttributes(n *html.Node) bool {
	if n.DataAtom != atom.Script {
		return false
	}
	typ, _ := attr(n, "type")
	return strings.EqualFold(strings.TrimSpace(typ), "text/xml") &&
		strings.Contains(textContent(n), "<template_attributes")
}

// parseCodedTerms walks a template_attributes block and returns every code
// element whose parent is a term element.
func parseCodedTerms(block string) ([]CodedTerm, error) {
	dec := xml.NewDecoder(strings.NewReader(block))
	var (
		stack []string
		terms []CodedTerm
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperr.Parse("malformed template_attributes block", err)
		}
		switch el := tok.(type) {
		case xml.StartElement:
			if el.Name.Local == "code" && len(stack) > 0 && stack[len(stack)-1] == "term" {
				ct := CodedTerm{}
				for _, a := range el.Attr {
					switch a.Name.Local {
					case "scheme":
						ct.Scheme = strings.TrimSpace(a.Value)
					case "value":
						ct.Value = strings.TrimSpace(a.Value)
					case "meaning":
						ct.Meaning = strings.TrimSpace(a.Value)
					}
				}
				terms = append(terms, ct)
			}
			stack = append(stack, el.Name.Local)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if len(stack) != 0 {
		return nil, apperr.Parse("malformed template_attributes block", fmt.Errorf("unclosed element %s", stack[len(stack)-1]))
	}
	return terms, nil
}

func uniqueCodedTerms(in []CodedTerm) []CodedTerm {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[[2]string]bool, len(in))
	out := in[:0]
	for _, ct := range in {
		key := [2]string{ct.Scheme, ct.Value}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, ct)
	}
	return out
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

func collect(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && match(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
