//go:build integration

package integration

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ehr/radiology/internal/domain/study"
	"github.com/ehr/radiology/internal/platform/apperr"
	"github.com/ehr/radiology/internal/platform/dicomuid"
)

func TestStudy_SaveAssignsUID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	st, err := env.studies.SaveStudy(ctx, &study.RadiologyStudy{OrderID: 100})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.HasPrefix(st.StudyInstanceUID, "1.2.826.0.1.3680043.8.2186.") || !dicomuid.Valid(st.StudyInstanceUID) {
		t.Errorf("unexpected uid %s", st.StudyInstanceUID)
	}

	got, err := env.studies.GetStudyByStudyInstanceUID(ctx, st.StudyInstanceUID)
	if err != nil || got == nil || got.StudyID != st.StudyID || got.UUID == "" {
		t.Errorf("lookup by uid: %+v, %v", got, err)
	}
	byUUID, err := env.studies.GetStudyByUUID(ctx, got.UUID)
	if err != nil || byUUID == nil {
		t.Errorf("lookup by uuid: %+v, %v", byUUID, err)
	}
}

func TestStudy_PreserveUIDAndStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.studies.SaveStudy(ctx, &study.RadiologyStudy{OrderID: 100, StudyInstanceUID: "1.2.3.4"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	updated, err := env.studies.UpdatePerformedStatus(ctx, "1.2.3.4", study.StatusCompleted)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if updated.StudyInstanceUID != "1.2.3.4" {
		t.Errorf("uid changed to %s", updated.StudyInstanceUID)
	}

	got, err := env.studies.GetStudyByOrderID(ctx, 100)
	if err != nil || got == nil || got.PerformedStatus != study.StatusCompleted {
		t.Errorf("expected COMPLETED, got %+v, %v", got, err)
	}
}

func TestStudy_OneStudyPerOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.studies.SaveStudy(ctx, &study.RadiologyStudy{OrderID: 100}); err != nil {
		t.Fatalf("save: %v", err)
	}
	_, err := env.studies.SaveStudy(ctx, &study.RadiologyStudy{OrderID: 100})
	if !errors.Is(err, apperr.ErrArgument) {
		t.Errorf("expected conflict on second study for the order, got %v", err)
	}
}

func TestStudy_ByOrders(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, order := range []int64{1, 2, 3} {
		if _, err := env.studies.SaveStudy(ctx, &study.RadiologyStudy{OrderID: order}); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	items, err := env.studies.GetStudiesByOrders(ctx, []int64{3, 1, 9})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 || items[0].OrderID != 1 || items[1].OrderID != 3 {
		t.Errorf("unexpected studies %+v", items)
	}
}
