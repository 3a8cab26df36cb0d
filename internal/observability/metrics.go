package observability

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultNamespace prefixes every exported metric name.
const DefaultNamespace = "usersvc"

const durationWindow = 1000

// Metrics collects request and domain counters and renders them in the
// Prometheus text exposition format. A nil *Metrics is a valid no-op.
type Metrics struct {
	namespace string
	version   string

	mu        sync.RWMutex
	requests  map[requestKey]*atomic.Int64
	durations map[routeKey]*durationWindowed

	violationsMu sync.RWMutex
	violations   map[string]*atomic.Int64 // keyed by field

	rateAllowed  atomic.Int64
	rateRejected atomic.Int64
	inFlight     atomic.Int64
}

type routeKey struct{ method, path string }

type requestKey struct {
	routeKey
	status int
}

// NewMetrics returns a collector. An empty namespace means DefaultNamespace.
func NewMetrics(namespace, version string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if version == "" {
		version = "dev"
	}
	return &Metrics{
		namespace:  namespace,
		version:    version,
		requests:   make(map[requestKey]*atomic.Int64),
		durations:  make(map[routeKey]*durationWindowed),
		violations: make(map[string]*atomic.Int64),
	}
}

// durationWindowed keeps the most recent samples in a fixed ring for quantiles.
type durationWindowed struct {
	mu      sync.Mutex
	samples []float64
	next    int
	total   int64
	sum     float64
}

func (d *durationWindowed) observe(v time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := v.Seconds()
	if len(d.samples) < durationWindow {
		d.samples = append(d.samples, s)
	} else {
		d.samples[d.next] = s
		d.next = (d.next + 1) % durationWindow
	}
	d.total++
	d.sum += s
}

// snapshot returns sorted window samples plus lifetime count and sum.
func (d *durationWindowed) snapshot() ([]float64, int64, float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sorted := append([]float64(nil), d.samples...)
	sort.Float64s(sorted)
	return sorted, d.total, d.sum
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := q * float64(len(sorted)-1)
	lo := int(idx)
	if lo+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[lo+1]*frac
}

// RecordRequest counts one finished request.
func (m *Metrics) RecordRequest(method, path string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	rk := routeKey{method: method, path: NormalizePath(path)}
	key := requestKey{routeKey: rk, status: status}

	m.mu.RLock()
	c, okc := m.requests[key]
	d, okd := m.durations[rk]
	m.mu.RUnlock()
	if !okc || !okd {
		m.mu.Lock()
		if c, okc = m.requests[key]; !okc {
			c = &atomic.Int64{}
			m.requests[key] = c
		}
		if d, okd = m.durations[rk]; !okd {
			d = &durationWindowed{}
			m.durations[rk] = d
		}
		m.mu.Unlock()
	}
	c.Add(1)
	d.observe(elapsed)
}

// RecordConstraintViolation counts a write rejected on field.
func (m *Metrics) RecordConstraintViolation(field string) {
	if m == nil {
		return
	}
	m.violationsMu.RLock()
	c, ok := m.violations[field]
	m.violationsMu.RUnlock()
	if !ok {
		m.violationsMu.Lock()
		if c, ok = m.violations[field]; !ok {
			c = &atomic.Int64{}
			m.violations[field] = c
		}
		m.violationsMu.Unlock()
	}
	c.Add(1)
}

// RecordRateLimit counts one rate limiter decision.
func (m *Metrics) RecordRateLimit(allowed bool) {
	if m == nil {
		return
	}
	if allowed {
		m.rateAllowed.Add(1)
	} else {
		m.rateRejected.Add(1)
	}
}

// OtherPath labels requests that match no registered route.
const OtherPath = "other"

var knownPaths = map[string]bool{
	"/user":         true,
	"/healthz":      true,
	"/readyz":       true,
	"/metrics":      true,
	"/audit":        true,
	"/openapi.yaml": true,
}

// NormalizePath maps a request path onto a bounded label set: per-user paths
// collapse to /user/{username} and unrouted paths to OtherPath.
func NormalizePath(path string) string {
	if rest, ok := strings.CutPrefix(path, "/user/"); ok && rest != "" {
		return "/user/{username}"
	}
	if knownPaths[path] {
		return path
	}
	return OtherPath
}

// Handler serves the exposition on GET.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = m.WriteTo(w)
	})
}

var _ io.WriterTo = (*Metrics)(nil)

// WriteTo renders every metric to w in Prometheus text format.
func (m *Metrics) WriteTo(w io.Writer) (int64, error) {
	if m == nil {
		return 0, nil
	}
	var buf bytes.Buffer
	m.writeExposition(&buf)
	return buf.WriteTo(w)
}

func (m *Metrics) writeExposition(w io.Writer) {
	ns := m.namespace

	fmt.Fprintf(w, "# HELP %s_info Build information\n# TYPE %s_info gauge\n", ns, ns)
	fmt.Fprintf(w, "%s_info{version=%q} 1\n\n", ns, m.version)

	m.mu.RLock()
	reqKeys := make([]requestKey, 0, len(m.requests))
	for k := range m.requests {
		reqKeys = append(reqKeys, k)
	}
	routes := make([]routeKey, 0, len(m.durations))
	for k := range m.durations {
		routes = append(routes, k)
	}
	m.mu.RUnlock()

	sort.Slice(reqKeys, func(i, j int) bool {
		a, b := reqKeys[i], reqKeys[j]
		if a.path != b.path {
			return a.path < b.path
		}
		if a.method != b.method {
			return a.method < b.method
		}
		return a.status < b.status
	})
	fmt.Fprintf(w, "# HELP %s_http_requests_total HTTP requests by route and status\n# TYPE %s_http_requests_total counter\n", ns, ns)
	for _, k := range reqKeys {
		m.mu.RLock()
		c := m.requests[k]
		m.mu.RUnlock()
		fmt.Fprintf(w, "%s_http_requests_total{method=%q,path=%q,status=\"%d\"} %d\n", ns, k.method, k.path, k.status, c.Load())
	}
	fmt.Fprintln(w)

	sort.Slice(routes, func(i, j int) bool {
		if routes[i].path != routes[j].path {
			return routes[i].path < routes[j].path
		}
		return routes[i].method < routes[j].method
	})
	fmt.Fprintf(w, "# HELP %s_http_request_duration_seconds HTTP request latency\n# TYPE %s_http_request_duration_seconds summary\n", ns, ns)
	for _, k := range routes {
		m.mu.RLock()
		d := m.durations[k]
		m.mu.RUnlock()
		sorted, count, sum := d.snapshot()
		for _, q := range []float64{0.5, 0.9, 0.99} {
			fmt.Fprintf(w, "%s_http_request_duration_seconds{method=%q,path=%q,quantile=\"%g\"} %.6f\n", ns, k.method, k.path, q, quantile(sorted, q))
		}
		fmt.Fprintf(w, "%s_http_request_duration_seconds_sum{method=%q,path=%q} %.6f\n", ns, k.method, k.path, sum)
		fmt.Fprintf(w, "%s_http_request_duration_seconds_count{method=%q,path=%q} %d\n", ns, k.method, k.path, count)
	}
	fmt.Fprintln(w)

	m.violationsMu.RLock()
	fields := make([]string, 0, len(m.violations))
	for f := range m.violations {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	fmt.Fprintf(w, "# HELP %s_constraint_violations_total Writes rejected by a uniqueness rule\n# TYPE %s_constraint_violations_total counter\n", ns, ns)
	for _, f := range fields {
		fmt.Fprintf(w, "%s_constraint_violations_total{field=%q} %d\n", ns, f, m.violations[f].Load())
	}
	m.violationsMu.RUnlock()
	fmt.Fprintln(w)

	fmt.Fprintf(w, "# HELP %s_rate_limit_requests_total Rate limiter decisions\n# TYPE %s_rate_limit_requests_total counter\n", ns, ns)
	fmt.Fprintf(w, "%s_rate_limit_requests_total{status=\"allowed\"} %d\n", ns, m.rateAllowed.Load())
	fmt.Fprintf(w, "%s_rate_limit_requests_total{status=\"rejected\"} %d\n\n", ns, m.rateRejected.Load())

	fmt.Fprintf(w, "# HELP %s_http_requests_in_flight Requests currently being served\n# TYPE %s_http_requests_in_flight gauge\n", ns, ns)
	fmt.Fprintf(w, "%s_http_requests_in_flight %d\n", ns, m.inFlight.Load())
}

// Middleware records count, latency and in-flight gauge for every request
// except scrapes of /metrics itself.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		m.inFlight.Add(1)
		defer m.inFlight.Add(-1)

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		m.RecordRequest(r.Method, r.URL.Path, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
