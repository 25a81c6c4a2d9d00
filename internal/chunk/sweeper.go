package chunk

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chunklog/chunklog/internal/logging"
)

// SweeperConfig configures the temp sweeper.
type SweeperConfig struct {
	// Interval between sweeps.
	// Default: 10m
	Interval time.Duration

	// TTL is the age after which an abandoned rewrite output is removed.
	// It must exceed the longest rewrite of a single chunk.
	// Default: 1h
	TTL time.Duration
}

// DefaultSweeperConfig returns a default configuration.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval: 10 * time.Minute,
		TTL:      time.Hour,
	}
}

// TempSweeper removes rewrite outputs left behind by cancelled or crashed
// scavenges.
type TempSweeper struct {
	dir    string
	config SweeperConfig
	logger *logging.Logger
	now    func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewTempSweeper creates a sweeper for dir.
func NewTempSweeper(dir string, config SweeperConfig, logger *logging.Logger) *TempSweeper {
	if config.Interval <= 0 {
		config.Interval = 10 * time.Minute
	}
	if config.TTL <= 0 {
		config.TTL = time.Hour
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &TempSweeper{
		dir:    dir,
		config: config,
		logger: logger.With(map[string]any{"component": "temp-sweeper"}),
		now:    time.Now,
	}
}

// Start begins the background loop.
func (s *TempSweeper) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.run()
}

// Stop stops the loop and waits for the current sweep to finish.
func (s *TempSweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

func (s *TempSweeper) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	ctx := context.Background()
	s.sweep(ctx)

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *TempSweeper) sweep(ctx context.Context) {
	if _, err := s.SweepOnce(ctx); err != nil {
		s.logger.Warnf("temp sweep failed", map[string]any{"error": err.Error()})
	}
}

// SweepOnce removes expired temp files and returns how many it removed.
func (s *TempSweeper) SweepOnce(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-s.config.TTL)

	removed := 0
	var errs []error
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if e.IsDir() || !strings.HasSuffix(e.Name(), TempSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Infof("removed abandoned rewrite outputs", map[string]any{"count": removed})
	}
	return removed, errors.Join(errs...)
}
