package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/chunklog/chunklog/internal/logging"
)

const shutdownTimeout = 5 * time.Second

// Listener serves one HTTP handler in the background. chunklogd runs one
// for the probes and, when it has its own address, one for /metrics.
type Listener struct {
	name   string
	addr   string
	logger *logging.Logger

	mu    sync.Mutex
	srv   *http.Server
	bound net.Addr
}

// NewListener prepares a listener for addr. name only labels log lines
// and errors.
func NewListener(name, addr string, logger *logging.Logger) *Listener {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Listener{
		name:   name,
		addr:   addr,
		logger: logger.With(map[string]any{"component": name}),
	}
}

// Serve binds the address and serves handler until Close. It fails if the
// listener is already serving.
func (l *Listener) Serve(handler http.Handler) error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("%s: listen on %s: %w", l.name, l.addr, err)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		// Readiness checks run inside the request.
		WriteTimeout: 10 * time.Second,
	}

	l.mu.Lock()
	if l.srv != nil {
		l.mu.Unlock()
		_ = ln.Close()
		return fmt.Errorf("%s: already serving on %s", l.name, l.bound)
	}
	l.srv, l.bound = srv, ln.Addr()
	l.mu.Unlock()

	l.logger.Infof("listening", map[string]any{"addr": ln.Addr().String()})
	go func() {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			l.logger.Errorf("stopped serving", map[string]any{"error": err.Error()})
		}
	}()
	return nil
}

// Addr is the bound address once serving, and the configured one before.
func (l *Listener) Addr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.bound != nil {
		return l.bound.String()
	}
	return l.addr
}

// Close gracefully stops the server. Closing an idle listener is a no-op.
func (l *Listener) Close() error {
	l.mu.Lock()
	srv := l.srv
	l.mu.Unlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
