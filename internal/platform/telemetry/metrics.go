// Package telemetry keeps in-process request and domain metrics and renders
// them in the Prometheus text exposition format.
package telemetry

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// DefaultBuckets are the request duration bounds in seconds.
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

type histogram struct {
	mu      sync.Mutex
	bounds  []float64
	buckets []uint64
	count   uint64
	sum     float64
}

func newHistogram(bounds []float64) *histogram {
	return &histogram{bounds: bounds, buckets: make([]uint64, len(bounds))}
}

func (h *histogram) observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, b := range h.bounds {
		if v <= b {
			h.buckets[i]++
		}
	}
}

type histogramSnapshot struct {
	bounds  []float64
	buckets []uint64
	count   uint64
	sum     float64
}

func (h *histogram) snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		bounds:  h.bounds,
		buckets: append([]uint64(nil), h.buckets...),
		count:   h.count,
		sum:     h.sum,
	}
}

// labelKey joins label values into a stable map key.
func labelKey(values ...string) string {
	return strings.Join(values, "\x00")
}

func splitKey(key string) []string {
	return strings.Split(key, "\x00")
}

// PoolStats reports connection pool gauges at scrape time.
type PoolStats func() (total, idle, acquired int32)

// Metrics is safe for concurrent use.
type Metrics struct {
	mu         sync.RWMutex
	requests   map[string]*histogram
	operations map[string]*uint64
	active     atomic.Int64
	pool       PoolStats
}

// New returns an empty metrics registry.
func New() *Metrics {
	return &Metrics{
		requests:   make(map[string]*histogram),
		operations: make(map[string]*uint64),
	}
}

// SetPoolStats installs the connection pool reporter.
func (m *Metrics) SetPoolStats(fn PoolStats) {
	m.mu.Lock()
	m.pool = fn
	m.mu.Unlock()
}

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	key := labelKey(method, route, strconv.Itoa(status))

	m.mu.RLock()
	h, ok := m.requests[key]
	m.mu.RUnlock()
	if !ok {
		m.mu.Lock()
		if h, ok = m.requests[key]; !ok {
			h = newHistogram(DefaultBuckets)
			m.requests[key] = h
		}
		m.mu.Unlock()
	}
	h.observe(d.Seconds())
}

// AddOperation counts domain work, for example orphan files swept.
func (m *Metrics) AddOperation(resource, operation, outcome string, n uint64) {
	key := labelKey(resource, operation, outcome)

	m.mu.RLock()
	c, ok := m.operations[key]
	m.mu.RUnlock()
	if !ok {
		m.mu.Lock()
		if c, ok = m.operations[key]; !ok {
			c = new(uint64)
			m.operations[key] = c
		}
		m.mu.Unlock()
	}
	atomic.AddUint64(c, n)
}

// Operation returns the current value of one operation counter.
func (m *Metrics) Operation(resource, operation, outcome string) uint64 {
	m.mu.RLock()
	c, ok := m.operations[labelKey(resource, operation, outcome)]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadUint64(c)
}

// Middleware times every request under its registered route pattern so
// path parameters do not explode label cardinality.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.active.Add(1)
			defer m.active.Add(-1)

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else if status < http.StatusBadRequest {
					status = http.StatusInternalServerError
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.ObserveRequest(c.Request().Method, route, status, time.Since(start))
			return err
		}
	}
}

// Handler serves the exposition text.
func (m *Metrics) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set(echo.HeaderContentType, "text/plain; version=0.0.4; charset=utf-8")
		c.Response().WriteHeader(http.StatusOK)
		m.Render(c.Response())
		return nil
	}
}

// Render writes every metric. Series are sorted for stable output.
func (m *Metrics) Render(w io.Writer) {
	m.mu.RLock()
	reqKeys := sortedKeys(m.requests)
	reqs := make([]*histogram, len(reqKeys))
	for i, k := range reqKeys {
		reqs[i] = m.requests[k]
	}
	opKeys := sortedKeys(m.operations)
	ops := make([]uint64, len(opKeys))
	for i, k := range opKeys {
		ops[i] = atomic.LoadUint64(m.operations[k])
	}
	pool := m.pool
	m.mu.RUnlock()

	fmt.Fprintln(w, "# HELP radiology_http_request_duration_seconds HTTP request latency.")
	fmt.Fprintln(w, "# TYPE radiology_http_request_duration_seconds histogram")
	for i, k := range reqKeys {
		v := splitKey(k)
		labels := fmt.Sprintf(`method=%q,route=%q,status=%q`, v[0], v[1], v[2])
		writeHistogram(w, "radiology_http_request_duration_seconds", labels, reqs[i].snapshot())
	}

	fmt.Fprintln(w, "# HELP radiology_http_requests_active Requests currently in flight.")
	fmt.Fprintln(w, "# TYPE radiology_http_requests_active gauge")
	fmt.Fprintf(w, "radiology_http_requests_active %d\n", m.active.Load())

	fmt.Fprintln(w, "# HELP radiology_operation_total Domain operations by outcome.")
	fmt.Fprintln(w, "# TYPE radiology_operation_total counter")
	for i, k := range opKeys {
		v := splitKey(k)
		fmt.Fprintf(w, "radiology_operation_total{resource=%q,operation=%q,outcome=%q} %d\n", v[0], v[1], v[2], ops[i])
	}

	if pool != nil {
		total, idle, acquired := pool()
		fmt.Fprintln(w, "# HELP radiology_db_connections Database pool connections by state.")
		fmt.Fprintln(w, "# TYPE radiology_db_connections gauge")
		fmt.Fprintf(w, "radiology_db_connections{state=\"total\"} %d\n", total)
		fmt.Fprintf(w, "radiology_db_connections{state=\"idle\"} %d\n", idle)
		fmt.Fprintf(w, "radiology_db_connections{state=\"acquired\"} %d\n", acquired)
	}
}

func writeHistogram(w io.Writer, name, labels string, s histogramSnapshot) {
	for i, b := range s.bounds {
		fmt.Fprintf(w, "%s_bucket{%s,le=\"%s\"} %d\n", name, labels, strconv.FormatFloat(b, 'g', -1, 64), s.buckets[i])
	}
	fmt.Fprintf(w, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, s.count)
	fmt.Fprintf(w, "%s_sum{%s} %s\n", name, labels, strconv.FormatFloat(s.sum, 'g', -1, 64))
	fmt.Fprintf(w, "%s_count{%s} %d\n", name, labels, s.count)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
