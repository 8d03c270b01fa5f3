package core

import "sync"

type uploadKey struct {
	date     string
	filename string
}

// SessionUploads remembers (date, filename) pairs committed by this service
// instance. It is the fast path of duplicate detection; the authoritative
// check scans profiles' games.
type SessionUploads struct {
	mu   sync.Mutex
	seen map[uploadKey]struct{}
}

// NewSessionUploads creates an empty set.
func NewSessionUploads() *SessionUploads {
	return &SessionUploads{seen: make(map[uploadKey]struct{})}
}

// Seen reports whether the pair was recorded.
func (s *SessionUploads) Seen(date, filename string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[uploadKey{date, filename}]
	return ok
}

// Record adds a pair.
func (s *SessionUploads) Record(date, filename string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[uploadKey{date, filename}] = struct{}{}
}

// Forget removes every pair for date, e.g. after the game is undone.
func (s *SessionUploads) Forget(date string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.seen {
		if k.date == date {
			delete(s.seen, k)
		}
	}
}

// Reset removes every pair.
func (s *SessionUploads) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = make(map[uploadKey]struct{})
}

// CheckDuplicate rejects a batch whose date was uploaded in this session or
// already appears in any profile's games.
func CheckDuplicate(session *SessionUploads, snap ProfileSnapshot, date, filename string) error {
	if session != nil && session.Seen(date, filename) {
		return NewError(KindDuplicate, SubDuplicateUpload, map[string]any{"date": date, "filename": filename})
	}

	var holder string
	snap.each(func(p PlayerProfile) bool {
		if p.HasPlayed(date) {
			holder = p.Key
			return false
		}
		return true
	})
	if holder != "" {
		return NewError(KindDuplicate, SubDuplicateGame, map[string]any{"date": date, "key": holder, "filename": filename})
	}
	return nil
}
