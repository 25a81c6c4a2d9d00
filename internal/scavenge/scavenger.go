package scavenge

import (
	"context"
	"fmt"
	"time"

	"github.com/chunklog/chunklog/internal/logging"
)

// NewPointFunc creates the scavenge point for a new run. number is the
// previous point's number plus one, or 0 for the first run.
type NewPointFunc func(ctx context.Context, number int) (ScavengePoint, error)

// Scavenger drives a run through both stages, resuming from the stored
// checkpoint.
type Scavenger struct {
	state    StateStore
	executor *ChunkExecutor
	cleaner  *Cleaner
	observer Observer
	logger   *logging.Logger
	now      func() time.Time
}

// NewScavenger creates a scavenger.
func NewScavenger(state StateStore, executor *ChunkExecutor, cleaner *Cleaner, observer Observer, logger *logging.Logger) *Scavenger {
	if observer == nil {
		observer = NopObserver{}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Scavenger{
		state:    state,
		executor: executor,
		cleaner:  cleaner,
		observer: observer,
		logger:   logger.With(map[string]any{"component": "scavenger"}),
		now:      time.Now,
	}
}

// Run completes the interrupted run if there is one, or starts a new run
// with a point from newPoint. It returns the point that was scavenged.
func (s *Scavenger) Run(ctx context.Context, newPoint NewPointFunc) (ScavengePoint, error) {
	cp, ok, err := s.state.Checkpoint(ctx)
	if err != nil {
		return ScavengePoint{}, fmt.Errorf("scavenge: read checkpoint: %w", err)
	}

	var (
		sp       ScavengePoint
		number   int
		resuming bool
	)
	if ok {
		if cp.Stage() == StageDone {
			number = cp.ScavengePoint().Number + 1
		} else {
			sp = cp.ScavengePoint()
			resuming = true
		}
	}
	if !resuming {
		sp, err = newPoint(ctx, number)
		if err != nil {
			return ScavengePoint{}, fmt.Errorf("scavenge: new scavenge point: %w", err)
		}
	}

	ctx = logging.WithRunIDCtx(ctx, sp.Name)
	logger := s.logger.Ctx(ctx)
	if resuming {
		logger.Infof("resuming scavenge", map[string]any{"checkpoint": fmt.Sprint(cp)})
	} else {
		logger.Infof("starting scavenge", map[string]any{"position": sp.Position, "threshold": sp.Threshold})
	}

	start := s.now()
	s.observer.ScavengeStarted(sp)
	if err := s.run(ctx, sp, cp, resuming); err != nil {
		if isStopped(err) {
			logger.Infof("scavenge stopped", map[string]any{"reason": err.Error()})
		} else {
			logger.Errorf("scavenge failed", map[string]any{"error": err.Error()})
		}
		s.observer.ScavengeFailed(sp, err)
		return sp, err
	}
	elapsed := s.now().Sub(start)
	logger.Infof("scavenge completed", map[string]any{"elapsed": elapsed.String()})
	s.observer.ScavengeCompleted(sp, elapsed)
	return sp, nil
}

func (s *Scavenger) run(ctx context.Context, sp ScavengePoint, cp Checkpoint, resuming bool) error {
	if !resuming || cp.Stage() == StageExecutingChunks {
		err := s.stage(sp, StageExecutingChunks, func() error {
			if resuming {
				return s.executor.Resume(ctx, cp.(ExecutingChunks), s.state)
			}
			return s.executor.Execute(ctx, sp, s.state)
		})
		if err != nil {
			return err
		}
		resuming = false
	}

	err := s.stage(sp, StageCleaning, func() error {
		if resuming {
			return s.cleaner.Resume(ctx, cp.(Cleaning), s.state)
		}
		return s.cleaner.Clean(ctx, sp, s.state)
	})
	if err != nil {
		return err
	}

	if err := s.state.SetCheckpoint(ctx, Done{Point: sp}); err != nil {
		return fmt.Errorf("scavenge: set checkpoint: %w", err)
	}
	return nil
}

func (s *Scavenger) stage(sp ScavengePoint, stage Stage, fn func() error) error {
	start := s.now()
	s.observer.StageStarted(sp, stage)
	if err := fn(); err != nil {
		s.observer.StageFailed(sp, stage, err)
		return err
	}
	s.observer.StageCompleted(sp, stage, s.now().Sub(start))
	return nil
}
