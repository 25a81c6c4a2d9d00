package chunk

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestSweepOnce(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	touch(t, filepath.Join(dir, "old"+TempSuffix), now.Add(-2*time.Hour))
	touch(t, filepath.Join(dir, "new"+TempSuffix), now.Add(-time.Minute))
	touch(t, filepath.Join(dir, FileName(0, 0)), now.Add(-48*time.Hour))

	s := NewTempSweeper(dir, SweeperConfig{TTL: time.Hour}, nil)
	s.now = func() time.Time { return now }

	removed, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"new" + TempSuffix, FileName(0, 0)}, names)
}

func TestSweeperStartStop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "abandoned"+TempSuffix)
	touch(t, path, time.Now().Add(-2*time.Hour))

	s := NewTempSweeper(dir, SweeperConfig{Interval: time.Hour, TTL: time.Hour}, nil)
	s.Start()
	s.Start()

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, 5*time.Second, 10*time.Millisecond)

	s.Stop()
	s.Stop()
}

func TestSweepMissingDirectory(t *testing.T) {
	s := NewTempSweeper(filepath.Join(t.TempDir(), "missing"), DefaultSweeperConfig(), nil)
	_, err := s.SweepOnce(context.Background())
	assert.Error(t, err)
}
