package scavenge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedStreams(s *fakeState) {
	s.meta["$$a"] = MetastreamData{DiscardPoint: DiscardBefore(3)}
	s.originals["active"] = StatusActive
	s.originals["archived"] = StatusArchived
	s.originals["spent"] = StatusSpent
}

func TestCleaner_DeletesWhenAllChunksExecuted(t *testing.T) {
	state := newFakeState()
	seedStreams(state)
	sp := testPoint()

	require.NoError(t, NewCleaner(false, nil).Clean(context.Background(), sp, state))

	assert.Empty(t, state.meta)
	assert.Contains(t, state.originals, "active")
	assert.Contains(t, state.originals, "archived")
	assert.NotContains(t, state.originals, "spent")
	assert.Equal(t, Cleaning{Point: sp}, state.checkpoint)
}

func TestCleaner_UnsafeDeletesArchived(t *testing.T) {
	state := newFakeState()
	seedStreams(state)

	require.NoError(t, NewCleaner(true, nil).Clean(context.Background(), testPoint(), state))

	assert.Equal(t, map[string]StreamStatus{"active": StatusActive}, state.originals)
}

func TestCleaner_SkipsWhenWeightRemains(t *testing.T) {
	state := newFakeState()
	seedStreams(state)
	state.weights[4] = 2

	require.NoError(t, NewCleaner(false, nil).Clean(context.Background(), testPoint(), state))

	assert.Len(t, state.meta, 1)
	assert.Len(t, state.originals, 3)
	assert.Equal(t, StageCleaning, state.checkpoint.Stage())
}

func TestCleaner_UnsafeRequiresAllChunksExecuted(t *testing.T) {
	state := newFakeState()
	seedStreams(state)
	state.weights[4] = 2

	err := NewCleaner(true, nil).Clean(context.Background(), testPoint(), state)
	require.ErrorIs(t, err, ErrCleanupPrecondition)
	assert.Equal(t, 1, state.rollbacks)
	assert.Len(t, state.meta, 1)
	assert.Len(t, state.originals, 3)
}

func TestCleaner_CommitFailureRollsBack(t *testing.T) {
	state := newFakeState()
	seedStreams(state)
	state.commitErr = errBoom

	err := NewCleaner(false, nil).Clean(context.Background(), testPoint(), state)
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, state.rollbacks)
	assert.Len(t, state.meta, 1)
}

func TestCleaner_ResumeIsIdempotent(t *testing.T) {
	state := newFakeState()
	seedStreams(state)
	cp := Cleaning{Point: testPoint()}
	cleaner := NewCleaner(false, nil)

	require.NoError(t, cleaner.Resume(context.Background(), cp, state))
	require.NoError(t, cleaner.Resume(context.Background(), cp, state))
	assert.Empty(t, state.meta)
	assert.Len(t, state.originals, 2)
}
