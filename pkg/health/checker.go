// Package health serves the liveness and readiness probes of the generator
// server.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/khattlab/khatt/pkg/fonts"
	"github.com/khattlab/khatt/pkg/style"
)

// Status represents the health status of a service.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// DefaultCheckTimeout bounds a check that sets no timeout of its own.
const DefaultCheckTimeout = 5 * time.Second

// CheckResult represents the result of a single health check.
type CheckResult struct {
	Status     Status `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
	Details    any    `json:"details,omitempty"`
}

// Report is the overall status returned by the probes.
type Report struct {
	Status    Status                 `json:"status"`
	Checks    map[string]CheckResult `json:"checks"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

// CheckFunc reports a failure as a non-nil error. A *DetailError adds
// details to the report.
type CheckFunc func(ctx context.Context) error

type check struct {
	name     string
	fn       CheckFunc
	timeout  time.Duration
	critical bool
}

// Checker runs the registered checks concurrently.
type Checker struct {
	mu      sync.RWMutex
	checks  []check
	version string
}

// NewChecker creates a checker reporting the given version.
func NewChecker(version string) *Checker {
	return &Checker{version: version}
}

// AddCheck adds a check whose failure degrades the service.
func (hc *Checker) AddCheck(name string, fn CheckFunc, timeout time.Duration) {
	hc.add(check{name: name, fn: fn, timeout: timeout})
}

// AddCriticalCheck adds a check whose failure makes the service unhealthy.
func (hc *Checker) AddCriticalCheck(name string, fn CheckFunc, timeout time.Duration) {
	hc.add(check{name: name, fn: fn, timeout: timeout, critical: true})
}

func (hc *Checker) add(c check) {
	if c.timeout <= 0 {
		c.timeout = DefaultCheckTimeout
	}
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks = append(hc.checks, c)
}

// Check runs all checks and returns the overall status.
func (hc *Checker) Check(ctx context.Context) Report {
	hc.mu.RLock()
	checks := append([]check(nil), hc.checks...)
	version := hc.version
	hc.mu.RUnlock()

	report := Report{
		Status:    StatusHealthy,
		Checks:    make(map[string]CheckResult, len(checks)),
		Timestamp: time.Now(),
		Version:   version,
	}

	type outcome struct {
		name     string
		result   CheckResult
		critical bool
	}
	results := make(chan outcome, len(checks))

	var wg sync.WaitGroup
	for _, c := range checks {
		wg.Add(1)
		go func(c check) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			start := time.Now()
			err := c.fn(cctx)
			res := CheckResult{Status: StatusHealthy, DurationMS: time.Since(start).Milliseconds()}
			if err != nil {
				res.Status = StatusUnhealthy
				res.Error = err.Error()
				var de *DetailError
				if errors.As(err, &de) {
					res.Details = de.Details
				}
			}
			results <- outcome{name: c.name, result: res, critical: c.critical}
		}(c)
	}
	wg.Wait()
	close(results)

	for r := range results {
		report.Checks[r.name] = r.result
		if r.result.Status == StatusHealthy {
			continue
		}
		if r.critical {
			report.Status = StatusUnhealthy
		} else if report.Status == StatusHealthy {
			report.Status = StatusDegraded
		}
	}
	return report
}

// LivenessHandler answers 200 while the process runs.
func (hc *Checker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "alive",
			"timestamp": time.Now(),
		})
	})
}

// ReadinessHandler answers 503 when a critical check fails.
func (hc *Checker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report := hc.Check(r.Context())
		code := http.StatusOK
		if report.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, report)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// FallbackFontCheck fails when the bundled fallback face cannot be parsed;
// without it exports cannot draw text while a font is still loading.
func FallbackFontCheck(l *fonts.Loader) CheckFunc {
	return func(ctx context.Context) error {
		if l.Fallback() == nil {
			return errors.New("fallback font unavailable")
		}
		return nil
	}
}

// DefaultFontCheck loads the default font and reports whether it came from
// the font directory or fell back to the bundled face.
func DefaultFontCheck(l *fonts.Loader, id string) CheckFunc {
	return func(ctx context.Context) error {
		f, ok := l.Registry().Lookup(id)
		if !ok {
			return fmt.Errorf("default font %q not registered", id)
		}
		details := map[string]any{"font": id, "file": f.File}
		if err := l.LoadFont(ctx, f.Family); err != nil {
			return &DetailError{Message: err.Error(), Details: details}
		}
		if l.State(f.Family) == style.FontFallback {
			return &DetailError{Message: "default font file missing, using fallback without Arabic glyphs", Details: details}
		}
		return nil
	}
}

// CapacityCheck fails when the live session count reaches max.
func CapacityCheck(count func() int, max int) CheckFunc {
	return func(ctx context.Context) error {
		n := count()
		if max > 0 && n >= max {
			return &DetailError{
				Message: "live sessions at capacity",
				Details: map[string]any{"current": n, "max": max},
			}
		}
		return nil
	}
}

// PingCheck adapts a connection ping, such as the analytics Redis sink's.
func PingCheck(ping func(context.Context) error) CheckFunc {
	return CheckFunc(ping)
}

// DetailError is a check failure with structured details.
type DetailError struct {
	Message string
	Details map[string]any
}

func (e *DetailError) Error() string {
	return e.Message
}
