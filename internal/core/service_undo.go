package core

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/putr/internal/logging"
)

// PreviewUndo describes what undoing the newest snapshot would restore and
// whether it can proceed. It performs no writes.
func (s *Service) PreviewUndo(ctx context.Context) (UndoPreview, error) {
	latest, err := s.backups.Latest(ctx)
	if err != nil {
		return UndoPreview{}, err
	}

	s.markIfIdle(OpUndo, latest.ID, StateAwaitConfirmation)

	preview := UndoPreview{
		SnapshotID:  latest.ID,
		GameDate:    latest.GameDate,
		SourceName:  latest.SourceName,
		CreatedAt:   latest.CreatedAt,
		PlayerCount: latest.PlayerCount,
		CanUndo:     true,
	}
	if _, err := s.backups.CheckSafety(ctx, latest.ID); err != nil {
		preview.CanUndo = false
		preview.Reason = Classify(err, nil).Message
	}
	return preview, nil
}

// CheckUndoSafety runs the read-only pre-flight for a snapshot. An empty id
// means the newest snapshot.
func (s *Service) CheckUndoSafety(ctx context.Context, id string) (BackupSnapshot, error) {
	id, err := s.resolveSnapshotID(ctx, id)
	if err != nil {
		return BackupSnapshot{}, err
	}
	return s.backups.CheckSafety(ctx, id)
}

// Undo restores the profiles saved in a snapshot and deletes it. An empty id
// means the newest snapshot. Any failure before the restore write leaves the
// store untouched.
func (s *Service) Undo(ctx context.Context, id string) (res UndoResult, err error) {
	if err := s.gate.TryEnter(OpUndo); err != nil {
		return UndoResult{}, err
	}
	defer s.gate.Leave()

	id, err = s.resolveSnapshotID(ctx, id)
	if err != nil {
		return UndoResult{}, err
	}

	logger := logging.WithFields(ctx, "snapshot_id", id)
	r := s.begin(OpUndo, id)
	defer r.recoverPanic(&err)

	failed := func(err error) (UndoResult, error) {
		ue := r.fail(err)
		logger.Warn("undo failed", "kind", ue.Kind, "subkind", ue.Subkind, "error_id", ue.ID, "error", ue.Error())
		return UndoResult{}, ue
	}

	r.to(StateVerifyingSafety, nil)
	snap, err := s.backups.CheckSafety(ctx, id)
	if err != nil {
		return failed(err)
	}
	if err := checkCancelled(ctx); err != nil {
		return failed(err)
	}

	r.to(StateRestoring, nil)
	restoreCtx, cancel := s.commitContext(ctx)
	defer cancel()
	if err := s.backups.Apply(restoreCtx, snap); err != nil {
		return failed(err)
	}
	s.cache.Invalidate()

	r.to(StateCleanup, nil)
	if err := s.backups.Discard(restoreCtx, id); err != nil {
		logger.Error("restored snapshot could not be deleted", "error", err)
	}
	if snap.Reason == BackupReasonUpload {
		s.session.Forget(snap.GameDate)
	}

	result := UndoResult{SnapshotID: id, GameDate: snap.GameDate, RestoredKeys: snapshotKeys(snap)}

	entry := NewAuditEntry(ctx, ActionUndo)
	entry.SnapshotID = id
	entry.GameDate = snap.GameDate
	entry.SourceName = snap.SourceName
	entry.PlayerKeys = result.RestoredKeys
	entry.PlayerCount = len(result.RestoredKeys)
	entry.Reason = snap.Reason
	s.recordAudit(ctx, entry)

	r.to(StateDone, nil)
	logger.Info("undo completed", "game_date", snap.GameDate, "players", len(result.RestoredKeys))
	return result, nil
}

// resolveSnapshotID returns the newest snapshot's id. A non-empty id must
// name that snapshot: restoring an older one would overwrite every later
// commit for its players.
func (s *Service) resolveSnapshotID(ctx context.Context, id string) (string, error) {
	snaps, err := s.backups.List(ctx)
	if err != nil {
		return "", Classify(err, nil)
	}
	if id == "" {
		if len(snaps) == 0 {
			return "", NewError(KindSystem, SubNoSnapshot, nil)
		}
		return snaps[0].ID, nil
	}
	for i, snap := range snaps {
		if snap.ID != id {
			continue
		}
		if i > 0 {
			return "", NewError(KindSystem, SubSnapshotNotLatest, map[string]any{
				"snapshot_id": id,
				"latest_id":   snaps[0].ID,
			})
		}
		return id, nil
	}
	return "", NewError(KindSystem, SubSnapshotNotFound, map[string]any{"snapshot_id": id})
}

// ResetResult reports an admin reset.
type ResetResult struct {
	SnapshotID  string   `json:"snapshotId,omitempty"`
	ResetKeys   []string `json:"resetKeys"`
	PlayerCount int      `json:"playerCount"`
}

// ResetStats zeroes every profile's statistics, keeping keys and aliases.
// A backup of every profile is captured first so the reset can be undone.
func (s *Service) ResetStats(ctx context.Context) (res ResetResult, err error) {
	if err := s.gate.TryEnter(OpReset); err != nil {
		return ResetResult{}, err
	}
	defer s.gate.Leave()

	r := s.begin(OpReset, "")
	defer r.recoverPanic(&err)

	snap, err := s.fetchSnapshot(ctx)
	if err != nil {
		return ResetResult{}, r.fail(err)
	}
	if snap.Len() == 0 {
		return ResetResult{}, r.fail(NewError(KindPlayerMatching, SubNoProfiles, nil))
	}

	keys := snap.Keys()
	r.to(StateCapturingBackup, nil)
	captured, err := s.backups.CaptureFrom(ctx, snap, CaptureRequest{Keys: keys, Reason: BackupReasonReset})
	if err != nil {
		return ResetResult{}, r.fail(err)
	}
	if !captured.Retained {
		// A reset that cannot be undone is refused.
		return ResetResult{}, r.fail(NewError(KindSystem, SubStorageQuota, map[string]any{"snapshot_id": captured.Snapshot.ID},
			WithSeverity(SeverityHigh), WithRecoverable(false)))
	}

	updates := make(map[string]PlayerProfile, len(keys))
	for _, p := range snap.All() {
		updates[p.Key] = ResetProfile(p)
	}

	r.to(StateCommitting, nil)
	commitCtx, cancel := s.commitContext(ctx)
	defer cancel()
	if err := s.profiles.TransactionalUpdate(commitCtx, updates); err != nil {
		return ResetResult{}, r.fail(commitError(fmt.Errorf("reset: %w", err), "", captured.Snapshot.ID))
	}
	s.session.Reset()
	s.cache.Invalidate()

	res = ResetResult{SnapshotID: captured.Snapshot.ID, ResetKeys: keys, PlayerCount: len(keys)}

	entry := NewAuditEntry(ctx, ActionReset)
	entry.SnapshotID = res.SnapshotID
	entry.PlayerKeys = keys
	entry.PlayerCount = len(keys)
	s.recordAudit(ctx, entry)

	r.to(StateSucceeded, nil)
	logging.FromContext(ctx).Warn("player statistics reset", "players", len(keys), "snapshot_id", res.SnapshotID)
	return res, nil
}

// Players returns every profile from the read cache.
func (s *Service) Players(ctx context.Context) ([]PlayerProfile, error) {
	snap, err := s.cache.Snapshot(ctx)
	if err != nil {
		return nil, Classify(err, nil)
	}
	return snap.All(), nil
}

// RecentGames returns a player's last n games. key may be a profile key or
// any alias.
func (s *Service) RecentGames(ctx context.Context, key string, n int) (RecentGames, error) {
	p, err := s.cache.Profile(ctx, key)
	if err != nil {
		return RecentGames{}, Classify(err, map[string]any{"key": key})
	}
	return Recent(p, n), nil
}

// ListBackups returns stored snapshots, newest first.
func (s *Service) ListBackups(ctx context.Context) ([]BackupSnapshot, error) {
	snaps, err := s.backups.List(ctx)
	if err != nil {
		return nil, Classify(err, nil)
	}
	return snaps, nil
}
