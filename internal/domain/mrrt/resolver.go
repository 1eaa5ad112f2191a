package mrrt

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/ehr/radiology/internal/domain/terminology"
	"github.com/ehr/radiology/internal/platform/apperr"
)

// TermLookup finds a reference term by source name and code. A miss is
// (nil, nil).
type TermLookup interface {
	GetTermByCode(ctx context.Context, source, code string) (*terminology.ReferenceTerm, error)
}

// TermResolver turns a template's coded terms into vocabulary references.
type TermResolver struct {
	lookup TermLookup
	logger zerolog.Logger
}

func NewTermResolver(lookup TermLookup, logger zerolog.Logger) *TermResolver {
	return &TermResolver{lookup: lookup, logger: logger}
}

// Resolve adds every coded term the vocabulary knows to t.Terms. Unknown
// terms are dropped.
func (r *TermResolver) Resolve(ctx context.Context, t *ReportTemplate) error {
	for _, ct := range t.CodedTerms {
		if ct.Scheme == "" || ct.Value == "" {
			r.logger.Debug().
				Str("dcterms_identifier", t.DCTermsIdentifier).
				Str("scheme", ct.Scheme).
				Str("code", ct.Value).
				Msg("skipping incomplete coded term")
			continue
		}
		term, err := r.lookup.GetTermByCode(ctx, ct.Scheme, ct.Value)
		if err != nil {
			if errors.Is(err, apperr.ErrPersistence) {
				return err
			}
			return apperr.Persistence("reference term lookup failed", err)
		}
		if term == nil {
			r.logger.Debug().
				Str("dcterms_identifier", t.DCTermsIdentifier).
				Str("scheme", ct.Scheme).
				Str("code", ct.Value).
				Msg("coded term not found in vocabulary")
			continue
		}
		t.AddTerm(term)
	}
	return nil
}
