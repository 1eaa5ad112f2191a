package mrrt

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/radiology/internal/platform/apperr"
)

const ctChestAbdomenIdentifier = "1.3.6.1.4.1.21367.13.199.1015"

func readTestdata(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return string(data)
}

func minimalTemplate(head, body string) string {
	return `<!DOCTYPE html><html><head>` + head + `</head>` + body + `</html>`
}

const conformantHead = `<meta charset="UTF-8"><title>Chest X-Ray</title>` +
	`<meta name="dcterms.identifier" content="urn:test:cxr">` +
	`<meta name="dcterms.type" content="IMAGE_REPORT_TEMPLATE">`

func TestParseTemplate_CTChestAbdomen(t *testing.T) {
	tmpl, err := ParseTemplate(readTestdata(t, "CTChestAbdomen.html"))
	require.NoError(t, err)

	assert.Equal(t, ctChestAbdomenIdentifier, tmpl.DCTermsIdentifier)
	assert.Equal(t, "UTF-8", tmpl.Charset)
	assert.Equal(t, "CT Chest Abdomen", tmpl.DCTermsTitle)
	assert.Equal(t, "en", tmpl.DCTermsLanguage)
	assert.Equal(t, "CT of the chest and abdomen with contrast", tmpl.DCTermsDescription)
	assert.Equal(t, TemplateType, tmpl.DCTermsType)
	assert.Equal(t, "IHE Radiology Technical Committee", tmpl.DCTermsPublisher)
	assert.Equal(t, "2015-01-05", tmpl.DCTermsDate)
	assert.Zero(t, tmpl.TemplateID)
	assert.Empty(t, tmpl.Path)
	assert.Empty(t, tmpl.Terms)

	assert.Equal(t, []CodedTerm{
		{Scheme: "RADLEX", Value: "RID10321", Meaning: "computed tomography"},
		{Scheme: "LOINC", Value: "55752-0", Meaning: "Clinical information"},
		{Scheme: "LOINC", Value: "59776-5", Meaning: "Procedure findings"},
		{Scheme: "LOINC", Value: "19005-8", Meaning: "Impression"},
	}, tmpl.CodedTerms)
}

func TestParseTemplate_MissingCharset(t *testing.T) {
	tmpl, err := ParseTemplate(readTestdata(t, "invalidMrrtReportTemplate-noMetaElementWithCharsetAttribute.html"))
	assert.Nil(t, tmpl)
	assert.True(t, errors.Is(err, apperr.ErrParse), "expected parse error, got %v", err)
}

func TestParseTemplate_ConformanceViolations(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"empty", "  "},
		{"two charsets", minimalTemplate(conformantHead+`<meta charset="ISO-8859-1">`, `<body></body>`)},
		{"no dcterms", minimalTemplate(`<meta charset="UTF-8"><title>x</title>`, `<body></body>`)},
		{"wrong type", minimalTemplate(
			`<meta charset="UTF-8"><meta name="dcterms.identifier" content="x"><meta name="dcterms.type" content="TEXT">`,
			`<body></body>`)},
		{"blank identifier", minimalTemplate(
			`<meta charset="UTF-8"><meta name="dcterms.identifier" content=" "><meta name="dcterms.type" content="IMAGE_REPORT_TEMPLATE">`,
			`<body></body>`)},
		{"no body", minimalTemplate(conformantHead, ``)},
		{"malformed attributes", minimalTemplate(conformantHead+
			`<script type="text/xml"><template_attributes><term><code value="RID1" scheme="RADLEX"></term></template_attributes></script>`,
			`<body></body>`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl, err := ParseTemplate(tt.src)
			assert.Nil(t, tmpl)
			assert.True(t, errors.Is(err, apperr.ErrParse), "expected parse error, got %v", err)
		})
	}
}

func TestParseTemplate_TitleFallsBackToDCTerms(t *testing.T) {
	src := minimalTemplate(
		`<meta charset="UTF-8"><meta name="dcterms.title" content="Shoulder MRI">`+
			`<meta name="dcterms.identifier" content="urn:test:mri"><meta name="dcterms.type" content="IMAGE_REPORT_TEMPLATE">`,
		`<body><p>x</p></body>`)

	tmpl, err := ParseTemplate(src)
	require.NoError(t, err)
	assert.Equal(t, "Shoulder MRI", tmpl.DCTermsTitle)
}

func TestParseTemplate_CodedTermsOnlyUnderTerm(t *testing.T) {
	src := minimalTemplate(conformantHead+`<script type="text/xml"><template_attributes>`+
		`<coding_schemes><coding_scheme name="RADLEX" designator="2.16.840.1.113883.6.256"/></coding_schemes>`+
		`<code value="IGNORED" scheme="RADLEX"/>`+
		`<term><code meaning="chest" value="RID1243" scheme="RADLEX"/></term>`+
		`<term><code meaning="chest" value="RID1243" scheme="RADLEX"/></term>`+
		`</template_attributes></script>`,
		`<body></body>`)

	tmpl, err := ParseTemplate(src)
	require.NoError(t, err)
	assert.Equal(t, []CodedTerm{{Scheme: "RADLEX", Value: "RID1243", Meaning: "chest"}}, tmpl.CodedTerms)
}

func TestExtractBody(t *testing.T) {
	body, err := ExtractBody("<html><head><title>Sample Template</title></head><body><p>Sample Template</p></body></html>")
	require.NoError(t, err)
	assert.Equal(t, "<p>Sample Template</p>", body)
}

func TestExtractBody_KeepsNestedMarkup(t *testing.T) {
	body, err := ExtractBody(readTestdata(t, "CTChestAbdomen.html"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(body), `<section id="T_CLINICAL"`))
	assert.NotContains(t, body, "<body")
	assert.Contains(t, body, `No focal consolidation.`)
}

func TestExtractBody_NoBody(t *testing.T) {
	_, err := ExtractBody("<html><head><title>x</title></head></html>")
	assert.True(t, errors.Is(err, apperr.ErrParse))

	_, err = ExtractBody("<p>just a fragment</p>")
	assert.True(t, errors.Is(err, apperr.ErrParse))
}

func TestHasExplicitBody_IgnoresRawText(t *testing.T) {
	assert.False(t, hasExplicitBody(`<html><head><script>var s = "<body>";</script></head></html>`))
	assert.True(t, hasExplicitBody(`<html><BODY class="x"></BODY></html>`))
}
