package terminology

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/ehr/radiology/internal/platform/apperr"
)

type mockRepo struct {
	sources map[string]*ConceptSource
	terms   map[int64]*ReferenceTerm
	nextID  int64
	failErr error
}

func newMockRepo() *mockRepo {
	m := &mockRepo{
		sources: make(map[string]*ConceptSource),
		terms:   make(map[int64]*ReferenceTerm),
	}
	m.sources[SourceRadLex] = &ConceptSource{ID: 1, Name: SourceRadLex, HL7Code: "RADLEX"}
	m.sources[SourceLOINC] = &ConceptSource{ID: 2, Name: SourceLOINC, HL7Code: "LN"}
	m.terms[1] = &ReferenceTerm{ID: 1, SourceID: 1, SourceName: SourceRadLex, Code: "RID10321", Name: "computed tomography"}
	m.terms[2] = &ReferenceTerm{ID: 2, SourceID: 1, SourceName: SourceRadLex, Code: "RID1243", Name: "chest"}
	m.terms[3] = &ReferenceTerm{ID: 3, SourceID: 2, SourceName: SourceLOINC, Code: "24627-2", Name: "CT Chest"}
	m.nextID = 10
	return m
}

func (m *mockRepo) CreateSource(_ context.Context, s *ConceptSource) error {
	if m.failErr != nil {
		return m.failErr
	}
	m.nextID++
	s.ID = m.nextID
	m.sources[s.Name] = s
	return nil
}

func (m *mockRepo) GetSourceByName(_ context.Context, name string) (*ConceptSource, error) {
	if m.failErr != nil {
		return nil, m.failErr
	}
	return m.sources[name], nil
}

func (m *mockRepo) ListSources(_ context.Context) ([]*ConceptSource, error) {
	var out []*ConceptSource
	for _, s := range m.sources {
		out = append(out, s)
	}
	return out, m.failErr
}

func (m *mockRepo) CreateTerm(_ context.Context, t *ReferenceTerm) error {
	if m.failErr != nil {
		return m.failErr
	}
	m.nextID++
	t.ID = m.nextID
	m.terms[t.ID] = t
	return nil
}

func (m *mockRepo) GetTermByID(_ context.Context, id int64) (*ReferenceTerm, error) {
	if m.failErr != nil {
		return nil, m.failErr
	}
	return m.terms[id], nil
}

func (m *mockRepo) GetTermByCode(_ context.Context, source, code string) (*ReferenceTerm, error) {
	if m.failErr != nil {
		return nil, m.failErr
	}
	for _, t := range m.terms {
		if t.SourceName == source && t.Code == code {
			return t, nil
		}
	}
	return nil, nil
}

func (m *mockRepo) SearchTerms(_ context.Context, query string, limit int) ([]*ReferenceTerm, error) {
	if m.failErr != nil {
		return nil, m.failErr
	}
	var results []*ReferenceTerm
	q := strings.ToLower(query)
	for _, t := range m.terms {
		if strings.Contains(strings.ToLower(t.Code), q) || strings.Contains(strings.ToLower(t.Name), q) {
			results = append(results, t)
			if len(results) >= limit {
				break
			}
		}
	}
	return results, nil
}

func newTestService() *Service {
	return NewService(newMockRepo())
}

func TestGetTermByCode_Found(t *testing.T) {
	svc := newTestService()
	term, err := svc.GetTermByCode(context.Background(), "RADLEX", "RID10321")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if term == nil || term.ID != 1 {
		t.Fatalf("expected term 1, got %+v", term)
	}
}

func TestGetTermByCode_Miss(t *testing.T) {
	svc := newTestService()
	for _, tc := range [][2]string{{"RADLEX", "RID99999"}, {"UNKNOWN", "RID10321"}} {
		term, err := svc.GetTermByCode(context.Background(), tc[0], tc[1])
		if err != nil {
			t.Fatalf("unexpected error for %v: %v", tc, err)
		}
		if term != nil {
			t.Errorf("expected no term for %v, got %+v", tc, term)
		}
	}
}

func TestGetTermByCode_BlankArguments(t *testing.T) {
	svc := newTestService()
	if _, err := svc.GetTermByCode(context.Background(), " ", "RID1"); !errors.Is(err, apperr.ErrArgument) {
		t.Errorf("expected argument error for blank source, got %v", err)
	}
	if _, err := svc.GetTermByCode(context.Background(), "RADLEX", ""); !errors.Is(err, apperr.ErrArgument) {
		t.Errorf("expected argument error for blank code, got %v", err)
	}
}

func TestGetTermByCode_RepoFailure(t *testing.T) {
	repo := newMockRepo()
	repo.failErr = fmt.Errorf("connection reset")
	svc := NewService(repo)

	_, err := svc.GetTermByCode(context.Background(), "RADLEX", "RID10321")
	if !errors.Is(err, apperr.ErrPersistence) {
		t.Errorf("expected persistence error, got %v", err)
	}
}

func TestGetTerm(t *testing.T) {
	svc := newTestService()
	if _, err := svc.GetTerm(context.Background(), 0); !errors.Is(err, apperr.ErrArgument) {
		t.Errorf("expected argument error, got %v", err)
	}
	if _, err := svc.GetTerm(context.Background(), 404); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	term, err := svc.GetTerm(context.Background(), 3)
	if err != nil || term.Code != "24627-2" {
		t.Errorf("unexpected result %+v, %v", term, err)
	}
}

func TestSearchTerms(t *testing.T) {
	svc := newTestService()
	results, err := svc.SearchTerms(context.Background(), "chest", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("expected 2 matches, got %d", len(results))
	}

	if _, err := svc.SearchTerms(context.Background(), "", 10); !errors.Is(err, apperr.ErrArgument) {
		t.Errorf("expected argument error for empty query, got %v", err)
	}
}

func TestSearchTerms_DefaultLimit(t *testing.T) {
	svc := newTestService()
	results, err := svc.SearchTerms(context.Background(), "RID", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("expected 2 matches, got %d", len(results))
	}
}

func TestCreateSource(t *testing.T) {
	svc := newTestService()
	src := &ConceptSource{Name: " SNOMED CT ", HL7Code: "SCT"}
	if err := svc.CreateSource(context.Background(), src); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src.ID == 0 || src.Name != "SNOMED CT" {
		t.Errorf("unexpected source %+v", src)
	}

	if err := svc.CreateSource(context.Background(), &ConceptSource{Name: "RADLEX"}); !errors.Is(err, apperr.ErrArgument) {
		t.Errorf("expected argument error for duplicate source, got %v", err)
	}
	if err := svc.CreateSource(context.Background(), &ConceptSource{}); !errors.Is(err, apperr.ErrArgument) {
		t.Errorf("expected argument error for missing name, got %v", err)
	}
	if err := svc.CreateSource(context.Background(), nil); !errors.Is(err, apperr.ErrArgument) {
		t.Errorf("expected argument error for nil source, got %v", err)
	}
}

func TestCreateTerm(t *testing.T) {
	svc := newTestService()
	term := &ReferenceTerm{SourceName: "RADLEX", Code: "RID1301", Name: "lung"}
	if err := svc.CreateTerm(context.Background(), term); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if term.ID == 0 || term.SourceID != 1 {
		t.Errorf("unexpected term %+v", term)
	}

	got, err := svc.GetTermByCode(context.Background(), "RADLEX", "RID1301")
	if err != nil || got == nil || got.ID != term.ID {
		t.Errorf("expected created term to resolve, got %+v, %v", got, err)
	}
}

func TestCreateTerm_Errors(t *testing.T) {
	svc := newTestService()
	tests := []struct {
		name string
		term *ReferenceTerm
		kind error
	}{
		{"nil", nil, apperr.ErrArgument},
		{"missing code", &ReferenceTerm{SourceName: "RADLEX"}, apperr.ErrArgument},
		{"missing source", &ReferenceTerm{Code: "RID1"}, apperr.ErrArgument},
		{"unknown source", &ReferenceTerm{SourceName: "NOPE", Code: "RID1"}, apperr.ErrNotFound},
		{"duplicate", &ReferenceTerm{SourceName: "RADLEX", Code: "RID10321"}, apperr.ErrArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := svc.CreateTerm(context.Background(), tt.term); !errors.Is(err, tt.kind) {
				t.Errorf("expected %v, got %v", tt.kind, err)
			}
		})
	}
}
