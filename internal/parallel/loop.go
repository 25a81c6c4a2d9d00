// Package parallel runs an ordered sequence of items on a bounded number of
// slots while reporting progress as a trailing checkpoint.
//
// Items may complete out of order. A checkpoint is only ever emitted for the
// contiguous prefix of items that has completed, so a consumer that persists
// checkpoints can resume without skipping an unfinished item.
package parallel

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrInvalidDegree is returned when Degree is not positive.
	ErrInvalidDegree = errors.New("parallel: degree must be positive")

	// ErrPanic wraps a panic raised by Process.
	ErrPanic = errors.New("parallel: process panicked")
)

// Loop describes one bounded parallel run.
//
// Process is called concurrently for up to Degree items, each with a slot in
// [0, Degree) that no other in-flight item uses. CheckpointInclusive converts
// the last item of the completed prefix into a checkpoint value.
// CheckpointExclusive, when set, converts the oldest in-flight item into the
// checkpoint value that precedes it; returning false falls back to the
// inclusive value. OnCheckpoint is called only from the goroutine running Run,
// one call at a time.
type Loop[T, C any] struct {
	Degree              int
	Process             func(ctx context.Context, slot int, item T) error
	CheckpointInclusive func(item T) C
	CheckpointExclusive func(item T) (C, bool)
	OnCheckpoint        func(ctx context.Context, checkpoint C) error
}

type entry[T any] struct {
	item T
	slot int
	done bool
}

type completion[T any] struct {
	entry *entry[T]
	err   error
}

// Run dispatches items in sequence order and blocks until every dispatched
// item has finished.
//
// The first error from Process, from the sequence or from OnCheckpoint stops
// dispatch and checkpointing. Items already running are left to finish (they
// observe ctx themselves) and the first error is returned once all slots are
// idle. Cancelling ctx stops dispatch the same way and Run returns ctx.Err().
func (l Loop[T, C]) Run(ctx context.Context, items iter.Seq2[T, error]) error {
	if l.Degree <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidDegree, l.Degree)
	}

	next, stop := iter.Pull2(items)
	defer stop()

	// g joins the item goroutines. The free slot list already bounds them;
	// the limit makes exceeding Degree block instead of oversubscribing.
	var g errgroup.Group
	g.SetLimit(l.Degree)
	results := make(chan completion[T], l.Degree)

	free := make([]int, 0, l.Degree)
	for slot := l.Degree - 1; slot >= 0; slot-- {
		free = append(free, slot)
	}

	var (
		queue       []*entry[T]
		running     int
		firstErr    error
		dispatching = true
	)
	fail := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
		dispatching = false
	}

	for {
		for dispatching && len(free) > 0 {
			if err := ctx.Err(); err != nil {
				fail(err)
				break
			}
			item, err, ok := next()
			if !ok {
				dispatching = false
				break
			}
			if err != nil {
				fail(err)
				break
			}

			slot := free[len(free)-1]
			free = free[:len(free)-1]
			e := &entry[T]{item: item, slot: slot}
			queue = append(queue, e)
			running++

			g.Go(func() error {
				err := l.process(ctx, slot, item)
				results <- completion[T]{entry: e, err: err}
				return err
			})
		}

		if running == 0 {
			break
		}

		c := <-results
		running--
		free = append(free, c.entry.slot)
		if c.err != nil {
			fail(c.err)
			continue
		}
		c.entry.done = true
		if firstErr != nil {
			continue
		}

		var last *entry[T]
		for len(queue) > 0 && queue[0].done {
			last = queue[0]
			queue = queue[1:]
		}
		if last == nil {
			continue
		}
		if err := l.OnCheckpoint(ctx, l.checkpoint(last, queue)); err != nil {
			fail(err)
		}
	}

	// The driving goroutine saw every completion, so a process error from
	// Wait only matters when nothing failed earlier.
	if err := g.Wait(); firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (l Loop[T, C]) checkpoint(last *entry[T], queue []*entry[T]) C {
	if len(queue) > 0 && l.CheckpointExclusive != nil {
		if c, ok := l.CheckpointExclusive(queue[0].item); ok {
			return c
		}
	}
	return l.CheckpointInclusive(last.item)
}

func (l Loop[T, C]) process(ctx context.Context, slot int, item T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: slot %d: %v\n%s", ErrPanic, slot, r, debug.Stack())
		}
	}()
	return l.Process(ctx, slot, item)
}
