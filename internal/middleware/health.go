package middleware

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

const defaultCheckTimeout = 2 * time.Second

// Health report states.
const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
	HealthDown     = "down"
)

// HealthChecker reports whether one collaborator of the scanner is usable.
type HealthChecker interface {
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to HealthChecker.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) Check(ctx context.Context) error { return f(ctx) }

// SQLChecker pings a record store database.
type SQLChecker struct {
	DB *sql.DB
}

func (c SQLChecker) Check(ctx context.Context) error { return c.DB.PingContext(ctx) }

// Dependency is one named collaborator on the health report. A failing
// optional dependency (the capture device, say) degrades the report instead
// of taking it down.
type Dependency struct {
	Name     string
	Checker  HealthChecker
	Timeout  time.Duration
	Optional bool
}

// HealthReport is the /health response body.
type HealthReport struct {
	Status     string                     `json:"status"`
	CheckedAt  time.Time                  `json:"checked_at"`
	Components map[string]ComponentHealth `json:"components"`
}

type ComponentHealth struct {
	Status    string `json:"status"`
	Optional  bool   `json:"optional,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Health aggregates dependency checks. Each check runs concurrently under
// its own timeout, so one hung collaborator cannot starve the others.
type Health struct {
	mu   sync.RWMutex
	deps []Dependency
}

func NewHealth(deps ...Dependency) *Health {
	h := &Health{}
	for _, d := range deps {
		h.Add(d)
	}
	return h
}

// Add registers d, replacing an earlier dependency with the same name.
func (h *Health) Add(d Dependency) {
	if d.Timeout <= 0 {
		d.Timeout = defaultCheckTimeout
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.deps {
		if h.deps[i].Name == d.Name {
			h.deps[i] = d
			return
		}
	}
	h.deps = append(h.deps, d)
	sort.Slice(h.deps, func(i, j int) bool { return h.deps[i].Name < h.deps[j].Name })
}

// Report runs every check and folds the results into one status.
func (h *Health) Report(ctx context.Context) HealthReport {
	h.mu.RLock()
	deps := append([]Dependency(nil), h.deps...)
	h.mu.RUnlock()

	results := make([]ComponentHealth, len(deps))
	var wg sync.WaitGroup
	for i, d := range deps {
		i, d := i, d
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = runCheck(ctx, d)
		}()
	}
	wg.Wait()

	rep := HealthReport{
		Status:     HealthOK,
		CheckedAt:  time.Now().UTC(),
		Components: make(map[string]ComponentHealth, len(deps)),
	}
	for i, d := range deps {
		res := results[i]
		rep.Components[d.Name] = res
		switch {
		case res.Status == HealthOK:
		case d.Optional:
			if rep.Status == HealthOK {
				rep.Status = HealthDegraded
			}
		default:
			rep.Status = HealthDown
		}
	}
	return rep
}

func runCheck(ctx context.Context, d Dependency) ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	start := time.Now()
	errc := make(chan error, 1)
	go func() { errc <- d.Checker.Check(ctx) }()

	var err error
	select {
	case err = <-errc:
	case <-ctx.Done():
		// checker ignored its context
		err = ctx.Err()
	}

	res := ComponentHealth{Status: HealthOK, Optional: d.Optional, LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = HealthDown
		res.Error = err.Error()
	}
	return res
}

// ServeHTTP answers 200 while every required dependency is up and 503
// otherwise.
func (h *Health) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rep := h.Report(r.Context())
	code := http.StatusOK
	if rep.Status == HealthDown {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(rep)
}

// LivenessHandler creates a liveness check handler (simplest check)
func LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
