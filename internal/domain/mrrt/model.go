package mrrt

import (
	"errors"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"

	"github.com/ehr/radiology/internal/domain/terminology"
)

// TemplateType is the dcterms.type every MRRT report template declares.
const TemplateType = "IMAGE_REPORT_TEMPLATE"

// ReportTemplate is an IHE MRRT radiology report template. The HTML itself
// lives in the file store at Path; the row carries its Dublin Core metadata
// and the vocabulary terms it references.
type ReportTemplate struct {
	TemplateID         int64  `db:"template_id" json:"template_id"`
	UUID               string `db:"uuid" json:"uuid"`
	DCTermsIdentifier  string `db:"dcterms_identifier" json:"dcterms_identifier"`
	Charset            string `db:"charset" json:"charset,omitempty"`
	DCTermsTitle       string `db:"dcterms_title" json:"dcterms_title,omitempty"`
	DCTermsDescription string `db:"dcterms_description" json:"dcterms_description,omitempty"`
	DCTermsLanguage    string `db:"dcterms_language" json:"dcterms_language,omitempty"`
	DCTermsType        string `db:"dcterms_type" json:"dcterms_type,omitempty"`
	DCTermsPublisher   string `db:"dcterms_publisher" json:"dcterms_publisher,omitempty"`
	DCTermsRights      string `db:"dcterms_rights" json:"dcterms_rights,omitempty"`
	DCTermsLicense     string `db:"dcterms_license" json:"dcterms_license,omitempty"`
	DCTermsDate        string `db:"dcterms_date" json:"dcterms_date,omitempty"`
	DCTermsCreator     string `db:"dcterms_creator" json:"dcterms_creator,omitempty"`
	Path               string `db:"path" json:"path,omitempty"`

	Terms []*terminology.ReferenceTerm `json:"terms"`
	// CodedTerms are the (scheme, value) pairs found by the parser. They are
	// resolved into Terms and never stored.
	CodedTerms []CodedTerm `json:"-"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// CodedTerm is one term > code element of a template_attributes block.
type CodedTerm struct {
	Scheme  string
	Value   string
	Meaning string
}

// AddTerm appends term unless a term with the same id is already present.
func (t *ReportTemplate) AddTerm(term *terminology.ReferenceTerm) bool {
	if term == nil {
		return false
	}
	for _, existing := range t.Terms {
		if existing.ID == term.ID {
			return false
		}
	}
	t.Terms = append(t.Terms, term)
	return true
}

var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

func (t ReportTemplate) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.DCTermsIdentifier,
			validation.By(notBlank("identifier cannot be null")),
			validation.Length(1, 255)),
		validation.Field(&t.UUID, validation.Match(uuidPattern).Error("must be a UUID")),
		validation.Field(&t.Charset, validation.Length(0, 50)),
		validation.Field(&t.DCTermsTitle, validation.Length(0, 255)),
		validation.Field(&t.DCTermsLanguage, validation.Length(0, 50)),
		validation.Field(&t.Path, validation.Length(0, 1024)),
	)
}

func notBlank(msg string) validation.RuleFunc {
	return func(value interface{}) error {
		s, _ := value.(string)
		if strings.TrimSpace(s) == "" {
			return errors.New(msg)
		}
		return nil
	}
}

// SearchCriteria filters template searches. The zero value matches all.
type SearchCriteria struct {
	// Title is matched as a case-insensitive substring of DCTermsTitle.
	Title string
}

// SearchCriteriaBuilder builds SearchCriteria.
type SearchCriteriaBuilder struct {
	c SearchCriteria
}

func NewSearchCriteria() *SearchCriteriaBuilder {
	return &SearchCriteriaBuilder{}
}

func (b *SearchCriteriaBuilder) WithTitle(title string) *SearchCriteriaBuilder {
	b.c.Title = strings.TrimSpace(title)
	return b
}

func (b *SearchCriteriaBuilder) Build() *SearchCriteria {
	c := b.c
	return &c
}
