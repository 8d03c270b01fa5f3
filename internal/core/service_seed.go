package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/JonMunkholm/putr/internal/logging"
)

// ProfileReplacer is a ProfileStore that can replace its whole contents. It
// is used only by the admin seed.
type ProfileReplacer interface {
	ReplaceAll(ctx context.Context, profiles []PlayerProfile) error
}

// SeedResult reports an admin seed.
type SeedResult struct {
	PlayerCount      int `json:"playerCount"`
	ClearedSnapshots int `json:"clearedSnapshots"`
}

// ValidateSeed checks that every profile has a key and at least one
// nickname, and that no key or nickname belongs to two profiles.
func ValidateSeed(profiles []PlayerProfile) error {
	keys := make(map[string]struct{}, len(profiles))
	owners := make(map[string]string)
	for i, p := range profiles {
		if strings.TrimSpace(p.Key) == "" {
			return fmt.Errorf("profile %d: empty key", i+1)
		}
		if _, dup := keys[p.Key]; dup {
			return fmt.Errorf("profile %q: duplicate key", p.Key)
		}
		keys[p.Key] = struct{}{}
		if len(p.Nicknames) == 0 {
			return fmt.Errorf("profile %q: no nicknames", p.Key)
		}
		for _, n := range p.Nicknames {
			norm := strings.ToLower(strings.TrimSpace(n))
			if norm == "" {
				return fmt.Errorf("profile %q: empty nickname", p.Key)
			}
			if owner, ok := owners[norm]; ok && owner != p.Key {
				return fmt.Errorf("nickname %q belongs to both %q and %q", n, owner, p.Key)
			}
			owners[norm] = p.Key
		}
	}
	return nil
}

// Seed replaces every profile in store with profiles. Existing snapshots
// are cleared because they describe profiles that no longer exist, and the
// session's upload memory is reset.
func (s *Service) Seed(ctx context.Context, store ProfileReplacer, profiles []PlayerProfile) (SeedResult, error) {
	if err := s.gate.TryEnter(OpSeed); err != nil {
		return SeedResult{}, err
	}
	defer s.gate.Leave()

	if err := ValidateSeed(profiles); err != nil {
		return SeedResult{}, NewError(KindDataValidation, SubNoValidRows, map[string]any{"reason": err.Error()},
			WithMessage("The seed file is invalid"), WithDetail(err.Error()), WithCause(err))
	}

	snaps, err := s.backups.List(ctx)
	if err != nil {
		return SeedResult{}, Classify(err, nil)
	}

	commitCtx, cancel := s.commitContext(ctx)
	defer cancel()
	if err := store.ReplaceAll(commitCtx, profiles); err != nil {
		return SeedResult{}, commitError(fmt.Errorf("seed: %w", err), "", "")
	}
	s.session.Reset()
	s.cache.Invalidate()

	res := SeedResult{PlayerCount: len(profiles)}
	if err := s.backups.Clear(commitCtx); err != nil {
		logging.FromContext(ctx).Error("snapshots could not be cleared after seed", "error", err)
	} else {
		res.ClearedSnapshots = len(snaps)
	}

	keys := make([]string, len(profiles))
	for i, p := range profiles {
		keys[i] = p.Key
	}
	entry := NewAuditEntry(ctx, ActionSeed)
	entry.PlayerKeys = keys
	entry.PlayerCount = len(keys)
	s.recordAudit(ctx, entry)

	logging.FromContext(ctx).Warn("profiles seeded", "players", len(keys), "cleared_snapshots", res.ClearedSnapshots)
	return res, nil
}
