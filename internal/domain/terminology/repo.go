package terminology

import "context"

// Repository persists concept sources and reference terms. Lookups that
// find nothing return (nil, nil).
type Repository interface {
	CreateSource(ctx context.Context, s *ConceptSource) error
	GetSourceByName(ctx context.Context, name string) (*ConceptSource, error)
	ListSources(ctx context.Context) ([]*ConceptSource, error)

	CreateTerm(ctx context.Context, t *ReferenceTerm) error
	GetTermByID(ctx context.Context, id int64) (*ReferenceTerm, error)
	GetTermByCode(ctx context.Context, source, code string) (*ReferenceTerm, error)
	SearchTerms(ctx context.Context, query string, limit int) ([]*ReferenceTerm, error)
}
