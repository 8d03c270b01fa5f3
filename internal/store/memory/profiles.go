// Package memory provides in-process implementations of the core store
// interfaces. They back the CLI's offline mode and the test suites.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JonMunkholm/putr/internal/core"
)

// ProfileStore is a mutex-guarded ProfileStore that keeps insertion order.
// Failures can be injected per method to exercise error paths.
type ProfileStore struct {
	mu       sync.RWMutex
	order    []string
	profiles map[string]core.PlayerProfile

	// Fault injection. A non-nil error is returned instead of doing work.
	FetchErr  error
	ExistsErr error
	UpdateErr error
	PingErr   error

	updates int
}

// NewProfileStore creates a store seeded with profiles in the given order.
func NewProfileStore(profiles ...core.PlayerProfile) *ProfileStore {
	s := &ProfileStore{profiles: make(map[string]core.PlayerProfile)}
	for _, p := range profiles {
		s.put(p)
	}
	return s
}

func (s *ProfileStore) put(p core.PlayerProfile) {
	if _, ok := s.profiles[p.Key]; !ok {
		s.order = append(s.order, p.Key)
	}
	s.profiles[p.Key] = p.Clone()
}

// Put inserts or replaces a profile outside of a transaction.
func (s *ProfileStore) Put(p core.PlayerProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(p)
}

// Delete removes a profile.
func (s *ProfileStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[key]; !ok {
		return
	}
	delete(s.profiles, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Profile returns a copy of one profile.
func (s *ProfileStore) Profile(key string) (core.PlayerProfile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[key]
	return p.Clone(), ok
}

// UpdateCount returns how many transactional updates have been applied.
func (s *ProfileStore) UpdateCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updates
}

func (s *ProfileStore) FetchAllProfiles(ctx context.Context) (core.ProfileSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return core.ProfileSnapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FetchErr != nil {
		return core.ProfileSnapshot{}, s.FetchErr
	}
	out := make([]core.PlayerProfile, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.profiles[k])
	}
	return core.NewProfileSnapshot(out), nil
}

func (s *ProfileStore) ProfileExists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ExistsErr != nil {
		return false, s.ExistsErr
	}
	_, ok := s.profiles[key]
	return ok, nil
}

// TransactionalUpdate replaces every profile in updates or none of them.
func (s *ProfileStore) TransactionalUpdate(ctx context.Context, updates map[string]core.PlayerProfile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpdateErr != nil {
		return s.UpdateErr
	}
	for key := range updates {
		if _, ok := s.profiles[key]; !ok {
			return fmt.Errorf("update %q: %w", key, core.ErrProfileNotFound)
		}
	}
	for key, p := range updates {
		p = p.Clone()
		p.Key = key
		s.profiles[key] = p
	}
	s.updates++
	return nil
}

func (s *ProfileStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.PingErr
}

// SetFaults replaces every injected failure at once.
func (s *ProfileStore) SetFaults(fetch, exists, update, ping error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FetchErr, s.ExistsErr, s.UpdateErr, s.PingErr = fetch, exists, update, ping
}

// ReplaceAll drops every profile and stores profiles in the given order.
func (s *ProfileStore) ReplaceAll(ctx context.Context, profiles []core.PlayerProfile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpdateErr != nil {
		return s.UpdateErr
	}
	s.order = nil
	s.profiles = make(map[string]core.PlayerProfile, len(profiles))
	for _, p := range profiles {
		s.put(p)
	}
	s.updates++
	return nil
}
