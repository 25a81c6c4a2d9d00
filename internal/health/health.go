// Package health serves liveness and readiness probes for chunklogd.
package health

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"net/http/pprof"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chunklog/chunklog/internal/logging"
)

// Status values reported in Status.Status.
const (
	StatusOK           = "ok"
	StatusDegraded     = "degraded"
	StatusNotReady     = "not_ready"
	StatusShuttingDown = "shutting_down"
)

// DefaultReadinessTimeout bounds each readiness check.
const DefaultReadinessTimeout = 5 * time.Second

// ReadinessChecker is implemented by dependencies that take part in /readyz.
type ReadinessChecker interface {
	// Name identifies the dependency in the response.
	Name() string

	// CheckReady returns nil when the dependency is usable.
	CheckReady(ctx context.Context) error
}

// Status is the JSON body of both probes.
type Status struct {
	Status string                 `json:"status"`
	Loops  map[string]bool        `json:"loops,omitempty"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// Server answers /healthz and /readyz, plus pprof and any handlers
// registered before Start.
type Server struct {
	*Listener

	shutDown atomic.Bool

	mu       sync.RWMutex
	loops    map[string]bool
	checks   []ReadinessChecker
	timeout  time.Duration
	handlers map[string]http.Handler
}

// NewServer creates a probe server for addr.
func NewServer(addr string, logger *logging.Logger) *Server {
	return &Server{
		Listener: NewListener("health-server", addr, logger),
		loops:    make(map[string]bool),
		timeout:  DefaultReadinessTimeout,
		handlers: make(map[string]http.Handler),
	}
}

// RegisterHandler mounts handler at pattern. Call before Start.
func (h *Server) RegisterHandler(pattern string, handler http.Handler) {
	if pattern == "" || handler == nil {
		return
	}
	h.mu.Lock()
	h.handlers[pattern] = handler
	h.mu.Unlock()
}

// RegisterReadinessCheck adds checker to every readiness probe.
func (h *Server) RegisterReadinessCheck(checker ReadinessChecker) {
	h.mu.Lock()
	h.checks = append(h.checks, checker)
	h.mu.Unlock()
}

func (h *Server) SetReadinessTimeout(d time.Duration) {
	h.mu.Lock()
	h.timeout = d
	h.mu.Unlock()
}

// LoopStarted records a background loop whose exit degrades liveness.
func (h *Server) LoopStarted(name string) {
	h.mu.Lock()
	h.loops[name] = true
	h.mu.Unlock()
}

// LoopStopped marks a loop from LoopStarted as exited. Unknown names are
// ignored.
func (h *Server) LoopStopped(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.loops[name]; ok {
		h.loops[name] = false
	}
}

// SetShuttingDown fails both probes from now on.
func (h *Server) SetShuttingDown() {
	h.shutDown.Store(true)
}

func (h *Server) IsShuttingDown() bool {
	return h.shutDown.Load()
}

// Handler builds the mux served by Start.
func (h *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/healthz", h.probe(func(context.Context) Status { return h.CheckHealth() }))
	mux.Handle("/readyz", h.probe(h.CheckReadiness))

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	for name, fn := range map[string]http.HandlerFunc{
		"cmdline": pprof.Cmdline,
		"profile": pprof.Profile,
		"symbol":  pprof.Symbol,
		"trace":   pprof.Trace,
	} {
		mux.HandleFunc("/debug/pprof/"+name, fn)
	}

	h.mu.RLock()
	for pattern, handler := range h.handlers {
		mux.Handle(pattern, handler)
	}
	h.mu.RUnlock()
	return mux
}

// Start serves Handler in the background.
func (h *Server) Start() error {
	return h.Serve(h.Handler())
}

// probe answers GET and HEAD with status as JSON, 200 when ok and 503
// otherwise.
func (h *Server) probe(status func(context.Context) Status) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		s := status(r.Context())
		code := http.StatusOK
		if s.Status != StatusOK {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if r.Method == http.MethodGet {
			_ = json.NewEncoder(w).Encode(s)
		}
	})
}

var shuttingDown = Status{
	Status: StatusShuttingDown,
	Checks: map[string]CheckResult{
		"shutdown": {Message: "chunklogd is shutting down"},
	},
}

// CheckHealth reports liveness. A process shutting down fails, and one
// with an exited loop is degraded.
func (h *Server) CheckHealth() Status {
	if h.IsShuttingDown() {
		return shuttingDown
	}

	h.mu.RLock()
	loops := maps.Clone(h.loops)
	h.mu.RUnlock()

	status := Status{
		Status: StatusOK,
		Loops:  loops,
		Checks: map[string]CheckResult{
			"shutdown": {Healthy: true, Message: "chunklogd is running"},
		},
	}
	if slices.Contains(slices.Collect(maps.Values(loops)), false) {
		status.Status = StatusDegraded
		status.Checks["loops"] = CheckResult{Message: "one or more background loops have exited"}
	}
	return status
}

// CheckReadiness runs every readiness check, each under its own timeout.
func (h *Server) CheckReadiness(ctx context.Context) Status {
	if h.IsShuttingDown() {
		return shuttingDown
	}

	h.mu.RLock()
	checks := slices.Clone(h.checks)
	timeout := h.timeout
	h.mu.RUnlock()

	status := Status{Status: StatusOK, Checks: make(map[string]CheckResult, len(checks))}
	for _, c := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		err := c.CheckReady(checkCtx)
		cancel()

		result := CheckResult{Healthy: true, Message: "healthy"}
		if err != nil {
			status.Status = StatusNotReady
			result = CheckResult{Message: err.Error()}
		}
		status.Checks[c.Name()] = result
	}
	return status
}
