package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chunklog/chunklog/internal/metadata"
	"github.com/chunklog/chunklog/internal/metadata/keys"
)

// Lock-related errors.
var (
	// ErrRunLockHeld is returned when another node holds the run lock.
	ErrRunLockHeld = errors.New("state: scavenge run lock held by another node")

	// ErrRunLockNotHeld is returned when releasing a lock this node does not hold.
	ErrRunLockNotHeld = errors.New("state: scavenge run lock not held")

	// ErrInvalidNodeID is returned for an empty node id.
	ErrInvalidNodeID = errors.New("state: invalid node ID")
)

// RunLock is the ephemeral record of the node running a scavenge. It
// disappears with the holder's metadata session.
type RunLock struct {
	NodeID       string `json:"nodeId"`
	AcquiredAtMs int64  `json:"acquiredAtMs"`
}

// AcquireRunLock takes the run lock for nodeID. A node that already holds
// the lock renews it.
func (s *Store) AcquireRunLock(ctx context.Context, nodeID string) (*RunLock, error) {
	if nodeID == "" {
		return nil, ErrInvalidNodeID
	}

	existing, version, err := s.runLock(ctx)
	if err != nil {
		return nil, err
	}

	lock := RunLock{NodeID: nodeID, AcquiredAtMs: time.Now().UnixMilli()}
	data, err := json.Marshal(lock)
	if err != nil {
		return nil, fmt.Errorf("state: marshal run lock: %w", err)
	}

	if existing != nil && existing.NodeID != nodeID {
		return existing, fmt.Errorf("%w: %s", ErrRunLockHeld, existing.NodeID)
	}

	// version is 0 when nobody holds the lock, so the same precondition
	// covers both a fresh acquire and a renewal.
	if _, err := s.meta.Put(ctx, keys.RunLockKey, data, metadata.Ephemeral(), metadata.IfVersion(version)); err != nil {
		if errors.Is(err, metadata.ErrVersionMismatch) {
			holder, _, getErr := s.runLock(ctx)
			if getErr != nil {
				return nil, getErr
			}
			if holder == nil {
				return nil, fmt.Errorf("%w: lost a race with a node that already released it", ErrRunLockHeld)
			}
			return holder, fmt.Errorf("%w: %s", ErrRunLockHeld, holder.NodeID)
		}
		return nil, fmt.Errorf("state: acquire run lock: %w", err)
	}
	return &lock, nil
}

// ReleaseRunLock releases the run lock held by nodeID.
func (s *Store) ReleaseRunLock(ctx context.Context, nodeID string) error {
	existing, version, err := s.runLock(ctx)
	if err != nil {
		return err
	}
	if existing == nil || existing.NodeID != nodeID {
		return ErrRunLockNotHeld
	}
	if err := s.meta.Delete(ctx, keys.RunLockKey, metadata.IfVersion(version)); err != nil {
		return fmt.Errorf("state: release run lock: %w", err)
	}
	return nil
}

// RunLockHolder returns the current lock holder, or nil.
func (s *Store) RunLockHolder(ctx context.Context) (*RunLock, error) {
	lock, _, err := s.runLock(ctx)
	return lock, err
}

func (s *Store) runLock(ctx context.Context) (*RunLock, metadata.Version, error) {
	res, err := s.meta.Get(ctx, keys.RunLockKey)
	if err != nil {
		return nil, 0, fmt.Errorf("state: get run lock: %w", err)
	}
	if !res.Exists {
		return nil, 0, nil
	}
	var lock RunLock
	if err := json.Unmarshal(res.Value, &lock); err != nil {
		return nil, 0, fmt.Errorf("state: unmarshal run lock: %w", err)
	}
	return &lock, res.Version, nil
}
