package telemetry

import (
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestHistogram_Buckets(t *testing.T) {
	h := newHistogram([]float64{0.1, 1})
	h.observe(0.05)
	h.observe(0.5)
	h.observe(2)

	s := h.snapshot()
	if s.count != 3 {
		t.Fatalf("expected count 3, got %d", s.count)
	}
	if s.buckets[0] != 1 || s.buckets[1] != 2 {
		t.Fatalf("unexpected buckets %v", s.buckets)
	}
	if math.Abs(s.sum-2.55) > 1e-9 {
		t.Fatalf("expected sum 2.55, got %v", s.sum)
	}
}

func TestMiddleware_RecordsRoutePattern(t *testing.T) {
	m := New()
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/v1/mrrt-templates/:id", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	e.GET("/api/v1/radiology-studies/:id", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "radiology study not found")
	})
	e.GET("/metrics", m.Handler())

	for _, path := range []string{"/api/v1/mrrt-templates/1", "/api/v1/mrrt-templates/2", "/api/v1/radiology-studies/9"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	if !strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), "text/plain") {
		t.Errorf("unexpected content type %q", rec.Header().Get(echo.HeaderContentType))
	}
	want := `radiology_http_request_duration_seconds_count{method="GET",route="/api/v1/mrrt-templates/:id",status="200"} 2`
	if !strings.Contains(body, want) {
		t.Errorf("expected %q in output:\n%s", want, body)
	}
	want = `radiology_http_request_duration_seconds_count{method="GET",route="/api/v1/radiology-studies/:id",status="404"} 1`
	if !strings.Contains(body, want) {
		t.Errorf("expected %q in output:\n%s", want, body)
	}
	if strings.Contains(body, "mrrt-templates/1\"") {
		t.Error("raw path leaked into labels")
	}
}

func TestOperations_ConcurrentAdds(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.AddOperation("mrrt-templates", "sweep", "removed", 2)
		}()
	}
	wg.Wait()

	if got := m.Operation("mrrt-templates", "sweep", "removed"); got != 40 {
		t.Fatalf("expected 40, got %d", got)
	}
	if got := m.Operation("mrrt-templates", "sweep", "failed"); got != 0 {
		t.Fatalf("expected 0 for unknown series, got %d", got)
	}
}

func TestRender_PoolAndOperations(t *testing.T) {
	m := New()
	m.SetPoolStats(func() (int32, int32, int32) { return 4, 3, 1 })
	m.AddOperation("mrrt-templates", "sweep", "removed", 1)
	m.ObserveRequest(http.MethodPost, "/api/v1/mrrt-templates", http.StatusCreated, 20*time.Millisecond)

	var sb strings.Builder
	m.Render(&sb)
	out := sb.String()

	for _, want := range []string{
		`radiology_db_connections{state="total"} 4`,
		`radiology_db_connections{state="acquired"} 1`,
		`radiology_operation_total{resource="mrrt-templates",operation="sweep",outcome="removed"} 1`,
		`radiology_http_request_duration_seconds_bucket{method="POST",route="/api/v1/mrrt-templates",status="201",le="0.025"} 1`,
		`radiology_http_request_duration_seconds_bucket{method="POST",route="/api/v1/mrrt-templates",status="201",le="0.01"} 0`,
		"radiology_http_requests_active 0",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}
