package core

// backup.go captures pre-commit copies of player profiles and restores them.
//
// A snapshot is written before every commit. Retention runs after each write:
// snapshots older than MaxAge go first, then the oldest beyond MaxSnapshots,
// then the oldest until the store fits MaxBytes. If the newest snapshot alone
// is over budget every snapshot is dropped and undo becomes unavailable.
//
// Restore verifies the snapshot and every referenced profile before issuing
// a single transactional write, and deletes the snapshot only after that
// write succeeds.

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/JonMunkholm/putr/internal/logging"
	"github.com/google/uuid"
)

// Retention defaults.
const (
	DefaultMaxSnapshots = 5
	DefaultMaxAge       = 24 * time.Hour
	DefaultMaxBytes     = 4 << 20
)

// RetentionPolicy bounds the local backup store. A zero MaxAge disables age
// eviction; a zero MaxBytes disables size eviction.
type RetentionPolicy struct {
	MaxSnapshots int
	MaxAge       time.Duration
	MaxBytes     int64
}

// DefaultRetention returns the standard policy.
func DefaultRetention() RetentionPolicy {
	return RetentionPolicy{
		MaxSnapshots: DefaultMaxSnapshots,
		MaxAge:       DefaultMaxAge,
		MaxBytes:     DefaultMaxBytes,
	}
}

// BackupManager owns snapshot capture, retention and restore.
type BackupManager struct {
	store    BackupStore
	profiles ProfileStore
	policy   RetentionPolicy
	now      func() time.Time
}

// BackupOption configures a BackupManager.
type BackupOption func(*BackupManager)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) BackupOption {
	return func(m *BackupManager) { m.now = now }
}

// NewBackupManager creates a manager over a local store and the remote
// profile store.
func NewBackupManager(store BackupStore, profiles ProfileStore, policy RetentionPolicy, opts ...BackupOption) *BackupManager {
	if policy.MaxSnapshots <= 0 {
		policy.MaxSnapshots = DefaultMaxSnapshots
	}
	m := &BackupManager{
		store:    store,
		profiles: profiles,
		policy:   policy,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Policy returns the retention policy in effect.
func (m *BackupManager) Policy() RetentionPolicy {
	return m.policy
}

// CaptureRequest names the profiles to copy.
type CaptureRequest struct {
	Keys       []string
	GameDate   string
	SourceName string
	Reason     string
}

// CaptureResult reports a written snapshot. Retained is false when retention
// evicted the snapshot straight away, in which case it cannot be undone.
type CaptureResult struct {
	Snapshot BackupSnapshot
	Retained bool
}

// Capture reads the requested profiles from the remote store and saves them.
func (m *BackupManager) Capture(ctx context.Context, req CaptureRequest) (CaptureResult, error) {
	snap, err := m.profiles.FetchAllProfiles(ctx)
	if err != nil {
		return CaptureResult{}, Classify(fmt.Errorf("fetch profiles for backup: %w", err), nil)
	}
	return m.CaptureFrom(ctx, snap, req)
}

// CaptureFrom saves copies of the requested profiles taken from snap, the
// same snapshot the caller computes its update from.
func (m *BackupManager) CaptureFrom(ctx context.Context, snap ProfileSnapshot, req CaptureRequest) (CaptureResult, error) {
	profiles := make(map[string]PlayerProfile, len(req.Keys))
	for _, key := range req.Keys {
		p, ok := snap.Get(key)
		if !ok {
			return CaptureResult{}, NewError(KindSystem, SubBackupFailed, map[string]any{"key": key},
				WithCause(fmt.Errorf("capture %q: %w", key, ErrProfileNotFound)))
		}
		p.Key = key
		profiles[key] = p
	}

	reason := req.Reason
	if reason == "" {
		reason = BackupReasonUpload
	}
	backup := BackupSnapshot{
		ID:          uuid.New().String(),
		CreatedAt:   m.now().UTC(),
		GameDate:    req.GameDate,
		SourceName:  req.SourceName,
		Reason:      reason,
		PlayerCount: len(profiles),
		Profiles:    profiles,
	}

	if err := m.store.Set(ctx, backup.ID, backup); err != nil {
		return CaptureResult{}, NewError(KindSystem, SubBackupFailed, map[string]any{"snapshot_id": backup.ID},
			WithCause(fmt.Errorf("save snapshot: %w", err)))
	}

	if err := m.Enforce(ctx); err != nil {
		logging.FromContext(ctx).Warn("backup retention failed", "snapshot_id", backup.ID, "error", err)
	}

	_, err := m.store.Get(ctx, backup.ID)
	switch {
	case err == nil:
		return CaptureResult{Snapshot: backup, Retained: true}, nil
	case errors.Is(err, ErrSnapshotNotFound):
		return CaptureResult{Snapshot: backup, Retained: false}, nil
	default:
		return CaptureResult{}, NewError(KindSystem, SubBackupFailed, map[string]any{"snapshot_id": backup.ID},
			WithCause(fmt.Errorf("verify snapshot: %w", err)))
	}
}

// List returns stored snapshots, newest first. Entries the store cannot
// decode are skipped; Enforce removes them.
func (m *BackupManager) List(ctx context.Context) ([]BackupSnapshot, error) {
	snaps, corrupt, err := m.list(ctx)
	if err != nil {
		return nil, err
	}
	if len(corrupt) > 0 {
		logging.FromContext(ctx).Warn("skipping undecodable snapshots", "snapshot_ids", corrupt)
	}
	return snaps, nil
}

func (m *BackupManager) list(ctx context.Context) ([]BackupSnapshot, []string, error) {
	snaps, err := m.store.List(ctx)
	var corrupt *CorruptSnapshotsError
	switch {
	case errors.As(err, &corrupt):
	case err != nil:
		return nil, nil, fmt.Errorf("list snapshots: %w", err)
	}
	sortNewestFirst(snaps)
	if corrupt != nil {
		return snaps, corrupt.IDs, nil
	}
	return snaps, nil, nil
}

// Latest returns the newest snapshot, or System/no_snapshot when the store
// is empty.
func (m *BackupManager) Latest(ctx context.Context) (BackupSnapshot, error) {
	snaps, err := m.List(ctx)
	if err != nil {
		return BackupSnapshot{}, Classify(err, nil)
	}
	if len(snaps) == 0 {
		return BackupSnapshot{}, NewError(KindSystem, SubNoSnapshot, nil)
	}
	return snaps[0], nil
}

// Enforce applies the retention policy to the store.
func (m *BackupManager) Enforce(ctx context.Context) error {
	snaps, corrupt, err := m.list(ctx)
	if err != nil {
		return err
	}
	for _, id := range corrupt {
		if err := m.store.Delete(ctx, id); err != nil {
			return fmt.Errorf("evict corrupt %s: %w", id, err)
		}
		logging.FromContext(ctx).Warn("evicted undecodable snapshot", "snapshot_id", id)
	}

	var keep []BackupSnapshot
	cutoff := m.now().Add(-m.policy.MaxAge)
	for i, s := range snaps {
		expired := m.policy.MaxAge > 0 && s.CreatedAt.Before(cutoff)
		if expired || i >= m.policy.MaxSnapshots {
			if err := m.store.Delete(ctx, s.ID); err != nil {
				return fmt.Errorf("evict %s: %w", s.ID, err)
			}
			continue
		}
		keep = append(keep, s)
	}

	if m.policy.MaxBytes <= 0 {
		return nil
	}
	for len(keep) > 0 {
		size, err := m.store.ApproxSizeBytes(ctx)
		if err != nil {
			return fmt.Errorf("measure backup store: %w", err)
		}
		if size <= m.policy.MaxBytes {
			return nil
		}
		if len(keep) == 1 {
			// The newest snapshot alone is over budget.
			logging.FromContext(ctx).Warn("backup store over budget, clearing all snapshots",
				"size_bytes", size, "max_bytes", m.policy.MaxBytes)
			if err := m.store.Clear(ctx); err != nil {
				return fmt.Errorf("clear backup store: %w", err)
			}
			return nil
		}
		oldest := keep[len(keep)-1]
		if err := m.store.Delete(ctx, oldest.ID); err != nil {
			return fmt.Errorf("evict %s: %w", oldest.ID, err)
		}
		keep = keep[:len(keep)-1]
	}
	return nil
}

// Verify loads a snapshot and checks its structure and that every profile it
// references still exists. It performs no writes.
func (m *BackupManager) Verify(ctx context.Context, id string) (BackupSnapshot, error) {
	snap, err := m.store.Get(ctx, id)
	if err != nil {
		return BackupSnapshot{}, Classify(fmt.Errorf("load snapshot: %w", err), map[string]any{"snapshot_id": id})
	}
	if err := validateSnapshot(id, snap); err != nil {
		return BackupSnapshot{}, NewError(KindSystem, SubSnapshotCorrupt, map[string]any{"snapshot_id": id, "reason": err.Error()}, WithCause(err))
	}

	for _, key := range snapshotKeys(snap) {
		ok, err := m.profiles.ProfileExists(ctx, key)
		if err != nil {
			return BackupSnapshot{}, Classify(fmt.Errorf("check profile %q: %w", key, err), map[string]any{"key": key, "snapshot_id": id})
		}
		if !ok {
			return BackupSnapshot{}, NewError(KindPersistence, SubPlayerMissing, map[string]any{"key": key, "snapshot_id": id})
		}
	}
	return snap, nil
}

// CheckSafety is a read-only pre-flight for Restore: the snapshot verifies
// and the remote store answers a connectivity probe.
func (m *BackupManager) CheckSafety(ctx context.Context, id string) (BackupSnapshot, error) {
	if err := m.profiles.Ping(ctx); err != nil {
		return BackupSnapshot{}, Classify(fmt.Errorf("ping profile store: %w", err), map[string]any{"snapshot_id": id})
	}
	return m.Verify(ctx, id)
}

// Apply overwrites every profile in snap with its saved copy in one
// transactional update.
func (m *BackupManager) Apply(ctx context.Context, snap BackupSnapshot) error {
	updates := make(map[string]PlayerProfile, len(snap.Profiles))
	for key, p := range snap.Profiles {
		p = p.Clone()
		p.Key = key
		updates[key] = p
	}
	if err := m.profiles.TransactionalUpdate(ctx, updates); err != nil {
		ctx := map[string]any{"snapshot_id": snap.ID}
		switch {
		case errors.Is(err, ErrProfileNotFound), errors.Is(err, ErrConflict):
			return Classify(err, ctx)
		default:
			return NewError(KindPersistence, SubRestoreFailed, ctx, WithCause(err))
		}
	}
	return nil
}

// Discard deletes a snapshot.
func (m *BackupManager) Discard(ctx context.Context, id string) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", id, err)
	}
	return nil
}

// Restore verifies, applies and then deletes a snapshot.
func (m *BackupManager) Restore(ctx context.Context, id string) (UndoResult, error) {
	snap, err := m.Verify(ctx, id)
	if err != nil {
		return UndoResult{}, err
	}
	if err := m.Apply(ctx, snap); err != nil {
		return UndoResult{}, err
	}
	if err := m.Discard(ctx, id); err != nil {
		// Profiles are already restored; a leftover snapshot only re-applies
		// the same values.
		logging.FromContext(ctx).Error("restored snapshot could not be deleted", "snapshot_id", id, "error", err)
	}
	return UndoResult{SnapshotID: id, GameDate: snap.GameDate, RestoredKeys: snapshotKeys(snap)}, nil
}

// Clear removes every snapshot.
func (m *BackupManager) Clear(ctx context.Context) error {
	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear snapshots: %w", err)
	}
	return nil
}

func validateSnapshot(id string, snap BackupSnapshot) error {
	switch {
	case snap.ID != id:
		return fmt.Errorf("snapshot id %q does not match %q", snap.ID, id)
	case len(snap.Profiles) == 0:
		return errors.New("snapshot has no profiles")
	case snap.PlayerCount != len(snap.Profiles):
		return fmt.Errorf("snapshot lists %d players but holds %d", snap.PlayerCount, len(snap.Profiles))
	case snap.CreatedAt.IsZero():
		return errors.New("snapshot has no timestamp")
	}
	for key, p := range snap.Profiles {
		if key == "" {
			return errors.New("snapshot has an empty profile key")
		}
		if p.Key != "" && p.Key != key {
			return fmt.Errorf("profile %q stored under %q", p.Key, key)
		}
	}
	return nil
}

func snapshotKeys(snap BackupSnapshot) []string {
	keys := make([]string, 0, len(snap.Profiles))
	for k := range snap.Profiles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortNewestFirst(snaps []BackupSnapshot) {
	sort.SliceStable(snaps, func(i, j int) bool {
		if !snaps[i].CreatedAt.Equal(snaps[j].CreatedAt) {
			return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
		}
		return snaps[i].ID > snaps[j].ID
	})
}
