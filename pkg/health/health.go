// Package health serves liveness and readiness probes for the API server.
//
// Each registered check runs in its own goroutine at a fixed interval. A check
// flips to unhealthy only after FailureThreshold consecutive failures and back
// after SuccessThreshold consecutive passes, so a single slow ping of Postgres
// or Redis does not take the replica out of rotation.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

// CheckFunc returns nil when the checked dependency is healthy.
type CheckFunc func(ctx context.Context) error

// Probe selects the endpoint a check contributes to.
type Probe int

const (
	Liveness Probe = iota
	Readiness
)

// Check describes one registered check. Zero thresholds default to 3
// failures and 1 success; a zero timeout defaults to one second.
type Check struct {
	Name             string
	Probe            Probe
	Timeout          time.Duration
	Func             CheckFunc
	FailureThreshold int
	SuccessThreshold int
}

// state is the runtime state of a check. run is called from exactly one
// goroutine, so the counters need no synchronization; healthy and lastErr
// are read by HTTP handlers.
type state struct {
	Check

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	fails int
	oks   int
}

func (s *state) err() error {
	if p := s.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *state) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	err := s.Func(ctx)
	s.lastErr.Store(&err)

	if err != nil {
		s.oks = 0
		s.fails++
		if s.fails >= s.FailureThreshold {
			s.healthy.Store(false)
		}
		return
	}
	s.fails = 0
	s.oks++
	if s.oks >= s.SuccessThreshold {
		s.healthy.Store(true)
	}
}

// Health owns the registered checks and the manual readiness flag.
type Health struct {
	ready atomic.Bool

	mu     sync.RWMutex
	checks []*state
	cancel context.CancelFunc
}

// New creates a Health that is not ready until SetReady(true).
func New() *Health {
	return &Health{}
}

// Register adds a check. Checks start healthy.
func (h *Health) Register(c Check) {
	if c.Timeout <= 0 {
		c.Timeout = time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 1
	}
	s := &state{Check: c}
	s.healthy.Store(true)

	h.mu.Lock()
	h.checks = append(h.checks, s)
	h.mu.Unlock()
}

// Start runs every registered check immediately and then every interval
// until Stop or ctx cancellation.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	checks := append([]*state(nil), h.checks...)
	h.mu.Unlock()

	for _, s := range checks {
		go func(s *state) {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			s.run(ctx)
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s.run(ctx)
				}
			}
		}(s)
	}
}

// Stop cancels the check goroutines. It is safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady sets the manual readiness flag. It is flipped to false at the
// start of graceful shutdown.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the flag is set and every readiness check passes.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	for _, s := range h.snapshot(Readiness) {
		if !s.healthy.Load() {
			return false
		}
	}
	return true
}

func (h *Health) snapshot(p Probe) []*state {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*state
	for _, s := range h.checks {
		if s.Probe == p {
			out = append(out, s)
		}
	}
	return out
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeReport(w, report(h.snapshot(Liveness)), true)
}

// ReadyEndpoint serves /readyz.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeReport(w, report(h.snapshot(Readiness)), h.ready.Load())
}

type result struct {
	name    string
	healthy bool
	err     string
}

func report(checks []*state) []result {
	out := make([]result, 0, len(checks))
	for _, s := range checks {
		r := result{name: s.Name, healthy: s.healthy.Load()}
		if !r.healthy {
			r.err = "check is unhealthy"
			if err := s.err(); err != nil {
				r.err = err.Error()
			}
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// writeReport answers 200 {"status":"ok",...} or 503 {"status":"unhealthy",...}
// with the per-check state.
func writeReport(w http.ResponseWriter, results []result, ready bool) {
	healthy := ready
	for _, r := range results {
		healthy = healthy && r.healthy
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("status", func(e *jx.Encoder) {
			if healthy {
				e.Str("ok")
			} else {
				e.Str("unhealthy")
			}
		})
		if !ready {
			e.Field("reason", func(e *jx.Encoder) { e.Str("service is not ready") })
		}
		if len(results) == 0 {
			return
		}
		e.Field("checks", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, r := range results {
					e.Field(r.name, func(e *jx.Encoder) {
						e.Obj(func(e *jx.Encoder) {
							if r.healthy {
								e.Field("status", func(e *jx.Encoder) { e.Str("ok") })
								return
							}
							e.Field("status", func(e *jx.Encoder) { e.Str("unhealthy") })
							e.Field("error", func(e *jx.Encoder) { e.Str(r.err) })
						})
					})
				}
			})
		})
	})

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
