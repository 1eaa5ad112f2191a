package terminology

import (
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
)

// Well-known concept source names used by radiology templates.
const (
	SourceRadLex = "RADLEX"
	SourceLOINC  = "LOINC"
	SourceSNOMED = "SNOMED CT"
)

// ConceptSource is a coding system such as RADLEX or LOINC.
type ConceptSource struct {
	ID          int64     `db:"concept_source_id" json:"id"`
	UUID        string    `db:"uuid" json:"uuid"`
	Name        string    `db:"name" json:"name"`
	HL7Code     string    `db:"hl7_code" json:"hl7_code,omitempty"`
	Description string    `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// ReferenceTerm is a code drawn from a ConceptSource. It is identified by
// (SourceName, Code).
type ReferenceTerm struct {
	ID          int64     `db:"concept_reference_term_id" json:"id"`
	UUID        string    `db:"uuid" json:"uuid"`
	SourceID    int64     `db:"concept_source_id" json:"source_id"`
	SourceName  string    `db:"source_name" json:"source"`
	Code        string    `db:"code" json:"code"`
	Name        string    `db:"name" json:"name,omitempty"`
	Description string    `db:"description" json:"description,omitempty"`
	Retired     bool      `db:"retired" json:"retired"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

var sourceNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 _.\-]*$`)

func (s ConceptSource) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Name,
			validation.Required.Error("source name is required"),
			validation.Length(1, 50),
			validation.Match(sourceNamePattern).Error("source name contains invalid characters")),
		validation.Field(&s.HL7Code, validation.Length(0, 50)),
	)
}

func (t ReferenceTerm) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.SourceName, validation.Required.Error("source is required")),
		validation.Field(&t.Code, validation.Required.Error("code is required"), validation.Length(1, 255)),
		validation.Field(&t.Name, validation.Length(0, 255)),
	)
}
