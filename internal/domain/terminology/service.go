package terminology

import (
	"context"
	"strings"

	"github.com/ehr/radiology/internal/platform/apperr"
)

// Service provides lookup and maintenance of the controlled vocabulary.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// GetTermByCode returns the term with code in the named source, or
// (nil, nil) when either is unknown.
func (s *Service) GetTermByCode(ctx context.Context, source, code string) (*ReferenceTerm, error) {
	source, code = strings.TrimSpace(source), strings.TrimSpace(code)
	if source == "" {
		return nil, apperr.Argument("source cannot be null")
	}
	if code == "" {
		return nil, apperr.Argument("code cannot be null")
	}
	t, err := s.repo.GetTermByCode(ctx, source, code)
	if err != nil {
		return nil, apperr.Persistence("reference term lookup failed", err)
	}
	return t, nil
}

// GetTerm returns the term with id or a not-found error.
func (s *Service) GetTerm(ctx context.Context, id int64) (*ReferenceTerm, error) {
	if id <= 0 {
		return nil, apperr.Argument("id cannot be null")
	}
	t, err := s.repo.GetTermByID(ctx, id)
	if err != nil {
		return nil, apperr.Persistence("reference term lookup failed", err)
	}
	if t == nil {
		return nil, apperr.NotFound("reference term not found")
	}
	return t, nil
}

// SearchTerms matches query against term codes and names.
func (s *Service) SearchTerms(ctx context.Context, query string, limit int) ([]*ReferenceTerm, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.Argument("query parameter is required")
	}
	if limit <= 0 {
		limit = 20
	}
	terms, err := s.repo.SearchTerms(ctx, query, limit)
	if err != nil {
		return nil, apperr.Persistence("reference term search failed", err)
	}
	return terms, nil
}

func (s *Service) ListSources(ctx context.Context) ([]*ConceptSource, error) {
	sources, err := s.repo.ListSources(ctx)
	if err != nil {
		return nil, apperr.Persistence("concept source listing failed", err)
	}
	return sources, nil
}

// CreateSource registers a new coding system. Names are unique.
func (s *Service) CreateSource(ctx context.Context, src *ConceptSource) error {
	if src == nil {
		return apperr.Argument("source cannot be null")
	}
	src.Name = strings.TrimSpace(src.Name)
	if err := src.Validate(); err != nil {
		return apperr.Argument(err.Error())
	}
	existing, err := s.repo.GetSourceByName(ctx, src.Name)
	if err != nil {
		return apperr.Persistence("concept source lookup failed", err)
	}
	if existing != nil {
		return apperr.Argument("concept source " + src.Name + " already exists")
	}
	if err := s.repo.CreateSource(ctx, src); err != nil {
		return apperr.Persistence("could not create concept source", err)
	}
	return nil
}

// CreateTerm adds a term to an existing source named by t.SourceName.
func (s *Service) CreateTerm(ctx context.Context, t *ReferenceTerm) error {
	if t == nil {
		return apperr.Argument("term cannot be null")
	}
	t.SourceName, t.Code = strings.TrimSpace(t.SourceName), strings.TrimSpace(t.Code)
	if err := t.Validate(); err != nil {
		return apperr.Argument(err.Error())
	}
	src, err := s.repo.GetSourceByName(ctx, t.SourceName)
	if err != nil {
		return apperr.Persistence("concept source lookup failed", err)
	}
	if src == nil {
		return apperr.NotFound("concept source " + t.SourceName + " not found")
	}
	existing, err := s.repo.GetTermByCode(ctx, src.Name, t.Code)
	if err != nil {
		return apperr.Persistence("reference term lookup failed", err)
	}
	if existing != nil {
		return apperr.Argument("reference term " + t.SourceName + "/" + t.Code + " already exists")
	}
	t.SourceID = src.ID
	if err := s.repo.CreateTerm(ctx, t); err != nil {
		return apperr.Persistence("could not create reference term", err)
	}
	return nil
}
