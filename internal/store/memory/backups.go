package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/JonMunkholm/putr/internal/core"
)

// BackupStore keeps snapshots as encoded JSON so size accounting matches the
// persistent stores.
type BackupStore struct {
	mu    sync.RWMutex
	items map[string][]byte

	// SetErr, when non-nil, fails every Set.
	SetErr error
}

// NewBackupStore creates an empty store.
func NewBackupStore() *BackupStore {
	return &BackupStore{items: make(map[string][]byte)}
}

func (s *BackupStore) Get(_ context.Context, id string) (core.BackupSnapshot, error) {
	s.mu.RLock()
	raw, ok := s.items[id]
	s.mu.RUnlock()
	if !ok {
		return core.BackupSnapshot{}, fmt.Errorf("snapshot %s: %w", id, core.ErrSnapshotNotFound)
	}
	var snap core.BackupSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return core.BackupSnapshot{}, fmt.Errorf("decode snapshot %s: %w: %v", id, core.ErrSnapshotCorrupt, err)
	}
	return snap, nil
}

func (s *BackupStore) Set(_ context.Context, id string, snap core.BackupSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", id, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SetErr != nil {
		return s.SetErr
	}
	s.items[id] = raw
	return nil
}

// SetRaw stores raw bytes under id, for corrupt-snapshot tests.
func (s *BackupStore) SetRaw(id string, raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[id] = append([]byte(nil), raw...)
}

func (s *BackupStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	return nil
}

func (s *BackupStore) List(_ context.Context) ([]core.BackupSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.BackupSnapshot, 0, len(s.items))
	var corrupt []string
	for id, raw := range s.items {
		var snap core.BackupSnapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			corrupt = append(corrupt, id)
			continue
		}
		out = append(out, snap)
	}
	if len(corrupt) > 0 {
		sort.Strings(corrupt)
		return out, &core.CorruptSnapshotsError{IDs: corrupt}
	}
	return out, nil
}

func (s *BackupStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string][]byte)
	return nil
}

func (s *BackupStore) ApproxSizeBytes(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for id, raw := range s.items {
		n += int64(len(id) + len(raw))
	}
	return n, nil
}

// Len returns the number of stored snapshots.
func (s *BackupStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
