//go:build integration

package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/ehr/radiology/internal/domain/terminology"
	"github.com/ehr/radiology/internal/platform/apperr"
)

func TestTerminology_LookupAndSearch(t *testing.T) {
	env := newTestEnv(t)
	env.seedRadLex(t)
	ctx := context.Background()

	term, err := env.terms.GetTermByCode(ctx, terminology.SourceRadLex, "RID10321")
	if err != nil || term == nil {
		t.Fatalf("lookup: %+v, %v", term, err)
	}
	if term.SourceName != terminology.SourceRadLex || term.Name != "computed tomography" {
		t.Errorf("unexpected term %+v", term)
	}

	missing, err := env.terms.GetTermByCode(ctx, terminology.SourceRadLex, "RID0")
	if err != nil || missing != nil {
		t.Errorf("expected miss, got %+v, %v", missing, err)
	}

	found, err := env.terms.SearchTerms(ctx, "tomo", 10)
	if err != nil || len(found) != 1 {
		t.Errorf("search: %d results, %v", len(found), err)
	}
}

func TestTerminology_DuplicateTerm(t *testing.T) {
	env := newTestEnv(t)
	env.seedRadLex(t)

	err := env.terms.CreateTerm(context.Background(), &terminology.ReferenceTerm{
		SourceName: terminology.SourceRadLex, Code: "RID10321",
	})
	if !errors.Is(err, apperr.ErrArgument) {
		t.Errorf("expected duplicate term to be rejected, got %v", err)
	}
}
