package scavenge

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chunklog/chunklog/internal/logging"
)

func newTestScavenger(f *executorFixture, unsafe bool) *Scavenger {
	exec := f.executor(func(c *ExecutorConfig) { c.UnsafeIgnoreHardDeletes = unsafe })
	return NewScavenger(f.state, exec, NewCleaner(unsafe, nil), f.observer, nil)
}

func pointAt(position int64) NewPointFunc {
	return func(ctx context.Context, number int) (ScavengePoint, error) {
		sp := testPoint()
		sp.Number = number
		sp.Position = position
		return sp, nil
	}
}

func TestScavenger_FreshRun(t *testing.T) {
	f := newExecutorFixture(
		localChunk(0, 0, chunkRecords("a", 0, 2, 0)...),
		localChunk(1, 1, chunkRecords("a", 2, 2, 100)...),
	)
	f.state.weights[1] = 30
	seedStreams(f.state)

	sp, err := newTestScavenger(f, false).Run(context.Background(), pointAt(200))
	require.NoError(t, err)
	assert.Equal(t, 0, sp.Number)

	assert.Equal(t, Done{Point: sp}, f.state.checkpoint)
	assert.Equal(t, []string{string(StageExecutingChunks), string(StageCleaning)}, f.observer.stages)
	assert.Equal(t, 1, f.observer.started)
	assert.Equal(t, 1, f.observer.finished)
	assert.Empty(t, f.state.meta, "cleanup ran after every chunk was executed")
}

func TestScavenger_NextRunAdvancesNumber(t *testing.T) {
	f := newExecutorFixture(localChunk(0, 0))
	f.state.checkpoint = Done{Point: ScavengePoint{Number: 6, Position: 50}}

	sp, err := newTestScavenger(f, false).Run(context.Background(), pointAt(100))
	require.NoError(t, err)
	assert.Equal(t, 7, sp.Number)
}

func TestScavenger_ResumesExecution(t *testing.T) {
	f := newExecutorFixture(
		localChunk(0, 0, chunkRecords("a", 0, 2, 0)...),
		localChunk(1, 1, chunkRecords("a", 2, 2, 100)...),
	)
	f.state.weights = map[int]float64{0: 30, 1: 30}
	stored := testPoint()
	stored.Number = 3
	stored.Position = 200
	f.state.checkpoint = ExecutingChunks{Point: stored, DoneChunk: ChunkDone(0)}

	called := false
	newPoint := func(ctx context.Context, number int) (ScavengePoint, error) {
		called = true
		return ScavengePoint{}, nil
	}

	sp, err := newTestScavenger(f, false).Run(context.Background(), newPoint)
	require.NoError(t, err)
	assert.False(t, called, "an interrupted run keeps its scavenge point")
	assert.Equal(t, stored, sp)
	assert.Equal(t, []int{1}, f.mgr.rewritten())
	assert.Equal(t, Done{Point: stored}, f.state.checkpoint)
}

func TestScavenger_ResumesCleaning(t *testing.T) {
	f := newExecutorFixture(localChunk(0, 0))
	seedStreams(f.state)
	stored := testPoint()
	f.state.checkpoint = Cleaning{Point: stored}

	var visited []int
	f.mgr.onGetChunk = func(start int) { visited = append(visited, start) }

	_, err := newTestScavenger(f, false).Run(context.Background(), pointAt(100))
	require.NoError(t, err)
	assert.Empty(t, visited, "chunk execution is not repeated")
	assert.Equal(t, []string{string(StageCleaning)}, f.observer.stages)
	assert.Empty(t, f.state.meta)
	assert.Equal(t, Done{Point: stored}, f.state.checkpoint)
}

func TestScavenger_FailureIsReported(t *testing.T) {
	f := newExecutorFixture(localChunk(0, 0), openChunk(1))

	_, err := newTestScavenger(f, false).Run(context.Background(), pointAt(200))
	require.ErrorIs(t, err, ErrChunkNotReadOnly)
	assert.ErrorIs(t, f.observer.runErr, ErrChunkNotReadOnly)
	assert.Zero(t, f.observer.finished)
	assert.Equal(t, StageExecutingChunks, f.state.checkpoint.Stage())
}

func TestScavenger_LogsCarryRunID(t *testing.T) {
	f := newExecutorFixture(localChunk(0, 0))
	var buf bytes.Buffer
	logger := logging.New(logging.Config{Level: logging.LevelInfo, Output: &buf})
	exec := f.executor(nil)
	s := NewScavenger(f.state, exec, NewCleaner(false, nil), f.observer, logger)

	sp, err := s.Run(context.Background(), pointAt(100))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	for _, line := range lines {
		var entry logging.Entry
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		assert.Equal(t, sp.Name, entry.RunID, "entry %q", entry.Message)
	}
}

func TestScavenger_RunEndLoggedOnce(t *testing.T) {
	f := newExecutorFixture(localChunk(0, 0))
	var buf bytes.Buffer
	logger := logging.New(logging.Config{Level: logging.LevelInfo, Output: &buf})
	s := NewScavenger(f.state, f.executor(nil), NewCleaner(false, nil), NewReporter(logger, nil), logger)

	_, err := s.Run(context.Background(), pointAt(100))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(buf.String(), `"starting scavenge"`))
	assert.Equal(t, 1, strings.Count(buf.String(), `"scavenge completed"`))
}
