package study

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/ehr/radiology/internal/platform/auth"
)

func newTestServer(t *testing.T) (*echo.Echo, *Service) {
	t.Helper()
	svc, _, _ := newTestService(orgRoot)
	e := echo.New()
	api := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			roles := strings.Split(c.Request().Header.Get("X-Test-Roles"), ",")
			c.SetRequest(c.Request().WithContext(auth.WithIdentity(c.Request().Context(), "u1", roles)))
			return next(c)
		}
	})
	NewHandler(svc).RegisterRoutes(api)
	return e, svc
}

func do(e *echo.Echo, method, path, roles, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("X-Test-Roles", roles)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_CreateStudy(t *testing.T) {
	e, _ := newTestServer(t)

	rec := do(e, http.MethodPost, "/api/v1/radiology-studies", "radiology_tech", `{"order_id":7}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var got RadiologyStudy
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(got.StudyInstanceUID, orgRoot+".") || got.OrderID != 7 {
		t.Errorf("unexpected study %+v", got)
	}

	rec = do(e, http.MethodPost, "/api/v1/radiology-studies", "radiology_tech", `{"order_id":8,"study_instance_uid":"1.2.3.4"}`)
	if rec.Code != http.StatusCreated || !strings.Contains(rec.Body.String(), `"study_instance_uid":"1.2.3.4"`) {
		t.Errorf("expected supplied uid to be kept, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(e, http.MethodPost, "/api/v1/radiology-studies", "radiology_tech", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without order, got %d", rec.Code)
	}

	rec = do(e, http.MethodPost, "/api/v1/radiology-studies", "physician", `{"order_id":9}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for physician, got %d", rec.Code)
	}
}

func TestHandler_GetRoutes(t *testing.T) {
	e, svc := newTestServer(t)
	st, err := svc.SaveStudy(context.Background(), &RadiologyStudy{OrderID: 7, StudyInstanceUID: "1.2.3.4"})
	if err != nil {
		t.Fatal(err)
	}
	id := strconv.FormatInt(st.StudyID, 10)

	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/radiology-studies/" + id, http.StatusOK},
		{"/api/v1/radiology-studies/99", http.StatusNotFound},
		{"/api/v1/radiology-studies/x", http.StatusBadRequest},
		{"/api/v1/radiology-studies/uuid/" + st.UUID, http.StatusOK},
		{"/api/v1/radiology-studies/order/7", http.StatusOK},
		{"/api/v1/radiology-studies/order/8", http.StatusNotFound},
		{"/api/v1/radiology-studies/uid/1.2.3.4", http.StatusOK},
		{"/api/v1/radiology-studies/uid/9.9", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := do(e, http.MethodGet, tt.path, "physician", "")
		if rec.Code != tt.want {
			t.Errorf("GET %s: expected %d, got %d", tt.path, tt.want, rec.Code)
		}
	}
}

func TestHandler_ListByOrders(t *testing.T) {
	e, svc := newTestServer(t)
	for _, order := range []int64{1, 2} {
		if _, err := svc.SaveStudy(context.Background(), &RadiologyStudy{OrderID: order}); err != nil {
			t.Fatal(err)
		}
	}

	rec := do(e, http.MethodGet, "/api/v1/radiology-studies?order_id=1,2,3", "physician", "")
	var items []RadiologyStudy
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Errorf("expected 2 studies, got %d", len(items))
	}

	rec = do(e, http.MethodGet, "/api/v1/radiology-studies", "physician", "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected empty array, got %s", rec.Body.String())
	}

	rec = do(e, http.MethodGet, "/api/v1/radiology-studies?order_id=a", "physician", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_UpdatePerformedStatus(t *testing.T) {
	e, svc := newTestServer(t)
	if _, err := svc.SaveStudy(context.Background(), &RadiologyStudy{OrderID: 7, StudyInstanceUID: "1.2.3.4"}); err != nil {
		t.Fatal(err)
	}

	rec := do(e, http.MethodPut, "/api/v1/radiology-studies/uid/1.2.3.4/performed-status", "radiologist", `{"status":"IN PROGRESS"}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"performed_status":"IN_PROGRESS"`) {
		t.Errorf("unexpected response %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(e, http.MethodPut, "/api/v1/radiology-studies/uid/1.2.3.4/performed-status", "radiologist", `{"status":"PAUSED"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}

	rec = do(e, http.MethodPut, "/api/v1/radiology-studies/uid/9.9/performed-status", "radiologist", `{"status":"COMPLETED"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_DicomAttributes(t *testing.T) {
	e, svc := newTestServer(t)
	st, err := svc.SaveStudy(context.Background(), &RadiologyStudy{OrderID: 7, StudyInstanceUID: "1.2.3.4", PerformedStatus: StatusCompleted})
	if err != nil {
		t.Fatal(err)
	}

	rec := do(e, http.MethodGet, "/api/v1/radiology-studies/"+strconv.FormatInt(st.StudyID, 10)+"/dicom", "physician", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var attrs []dicomAttribute
	if err := json.Unmarshal(rec.Body.Bytes(), &attrs); err != nil {
		t.Fatal(err)
	}
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %+v", attrs)
	}
	if attrs[0].VR != "UI" || attrs[0].Value[0] != "1.2.3.4" {
		t.Errorf("unexpected uid attribute %+v", attrs[0])
	}
	if attrs[1].Value[0] != "COMPLETED" {
		t.Errorf("unexpected status attribute %+v", attrs[1])
	}
}
