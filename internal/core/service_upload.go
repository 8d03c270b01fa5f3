package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/putr/internal/logging"
	"github.com/google/uuid"
)

// UploadRequest is one ledger file submitted for commit.
type UploadRequest struct {
	Filename string
	Data     []byte
	// Exclude names nicknames to drop before resolution.
	Exclude []string
}

// Upload parses, validates and commits one ledger.
//
// All players are resolved and every new profile is computed against one
// profile snapshot before any write. The commit is a single transactional
// update; once it starts, cancelling ctx no longer stops it.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (res *UploadResult, err error) {
	if err := s.gate.TryEnter(OpUpload); err != nil {
		return nil, err
	}
	defer s.gate.Leave()

	start := time.Now()
	uploadID := uuid.New().String()
	logger := logging.WithFields(ctx, "upload_id", uploadID, "file", req.Filename)

	r := s.begin(OpUpload, uploadID)
	defer r.recoverPanic(&err)

	// Parsing: file checks and CSV structure.
	r.to(StateParsing, nil)
	opts := s.parse
	opts.Exclude = append(append([]string(nil), opts.Exclude...), req.Exclude...)
	raw, err := DecodeLedger(req.Filename, req.Data, opts)
	if err != nil {
		return nil, s.uploadFailed(r, logger, err)
	}

	// Validating: headers, rows and aggregate limits.
	r.to(StateValidating, nil)
	parsed, err := raw.Validate(opts)
	if err != nil {
		return nil, s.uploadFailed(r, logger, err)
	}
	batch := parsed.Batch
	dateKey := batch.DateKey()
	logger = logger.With("game_date", dateKey)
	if err := checkCancelled(ctx); err != nil {
		return nil, s.uploadFailed(r, logger, err)
	}

	// ResolvingPlayers: one snapshot for the whole batch.
	r.to(StateResolvingPlayers, nil)
	snap, err := s.fetchSnapshot(ctx)
	if err != nil {
		return nil, s.uploadFailed(r, logger, err)
	}
	if snap.Len() == 0 {
		return nil, s.uploadFailed(r, logger, NewError(KindPlayerMatching, SubNoProfiles, nil))
	}
	results := batch.Results()
	nicknames := make([]string, len(results))
	for i, pr := range results {
		nicknames[i] = pr.Nickname
	}
	resolution := ResolveMany(nicknames, snap)
	if !resolution.Complete() {
		return nil, s.uploadFailed(r, logger, resolution.UnmatchedError())
	}

	// DuplicateCheck: session fast path, then every profile's games.
	r.to(StateDuplicateCheck, nil)
	if err := CheckDuplicate(s.session, snap, dateKey, batch.SourceName); err != nil {
		return nil, s.uploadFailed(r, logger, err)
	}

	keys, updates := computeUpdates(snap, results, resolution, batch)
	if err := checkCancelled(ctx); err != nil {
		return nil, s.uploadFailed(r, logger, err)
	}

	// CapturingBackup: pre-update copies from the same snapshot.
	r.to(StateCapturingBackup, nil)
	captured, err := s.backups.CaptureFrom(ctx, snap, CaptureRequest{
		Keys:       keys,
		GameDate:   dateKey,
		SourceName: batch.SourceName,
		Reason:     BackupReasonUpload,
	})
	if err != nil {
		return nil, s.uploadFailed(r, logger, err)
	}
	warnings := parsed.Warnings
	snapshotID := captured.Snapshot.ID
	if !captured.Retained {
		warnings = append(warnings, NewError(KindSystem, SubStorageQuota, map[string]any{"snapshot_id": snapshotID}))
		snapshotID = ""
	}

	// Committing: detached from ctx.
	r.to(StateCommitting, nil)
	commitCtx, cancel := s.commitContext(ctx)
	defer cancel()
	if err := s.profiles.TransactionalUpdate(commitCtx, updates); err != nil {
		ue := commitError(err, dateKey, captured.Snapshot.ID)
		if !ue.ManualVerification && captured.Retained {
			// Nothing landed, so the snapshot would undo a game that was
			// never recorded.
			if derr := s.backups.Discard(commitCtx, captured.Snapshot.ID); derr != nil {
				logger.Warn("discard unused snapshot failed", "snapshot_id", captured.Snapshot.ID, "error", derr)
			}
		}
		return nil, s.uploadFailed(r, logger, ue)
	}

	s.session.Record(dateKey, batch.SourceName)
	s.cache.Invalidate()

	result := &UploadResult{
		UploadID:    uploadID,
		GameDate:    dateKey,
		SourceName:  batch.SourceName,
		PlayerCount: len(keys),
		UpdatedKeys: keys,
		SnapshotID:  snapshotID,
		Results:     SortedResults(batch),
		Warnings:    warnings,
		Duration:    time.Since(start),
	}

	entry := NewAuditEntry(ctx, ActionUpload)
	entry.UploadID = uploadID
	entry.GameDate = dateKey
	entry.SourceName = batch.SourceName
	entry.SnapshotID = snapshotID
	entry.PlayerKeys = keys
	entry.PlayerCount = len(keys)
	s.recordAudit(ctx, entry)

	r.to(StateSucceeded, nil)
	logger.Info("upload committed",
		"players", len(keys),
		"warnings", len(warnings),
		"snapshot_id", snapshotID,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

func (s *Service) uploadFailed(r *run, logger *slog.Logger, err error) *UploadError {
	ue := r.fail(err)
	logger.Warn("upload failed", "kind", ue.Kind, "subkind", ue.Subkind, "error_id", ue.ID, "error", ue.Error())
	return ue
}

// computeUpdates folds each resolved player's delta into their profile.
// Nicknames resolving to the same profile are combined into one delta, and
// extremes are measured over those combined deltas.
func computeUpdates(snap ProfileSnapshot, results []PlayerGameResult, res Resolution, batch GameBatch) ([]string, map[string]PlayerProfile) {
	deltas := make(map[string]int64, len(results))
	var keys []string
	for _, pr := range results {
		key := res.Matched[pr.Nickname]
		if _, ok := deltas[key]; !ok {
			keys = append(keys, key)
		}
		deltas[key] += pr.NetCents
	}

	ext := BatchExtremes(deltas)
	updates := make(map[string]PlayerProfile, len(keys))
	for _, key := range keys {
		p, _ := snap.Get(key)
		d := deltas[key]
		updates[key] = Apply(p, CentsToDollars(d), batch.GameDate, d == ext.Max, d == ext.Min)
	}
	return keys, updates
}

// commitError separates definite rejections from commits whose outcome only
// the store knows.
func commitError(err error, dateKey, snapshotID string) *UploadError {
	ctx := map[string]any{"date": dateKey, "snapshot_id": snapshotID}
	cause := fmt.Errorf("commit: %w", err)

	if ambiguousCommit(err) {
		return NewError(KindPersistence, SubCommitAmbiguous, ctx, WithCause(cause), WithManualVerification())
	}
	return NewError(KindPersistence, SubCommitFailed, ctx, WithCause(cause))
}

func ambiguousCommit(err error) bool {
	if errors.Is(err, ErrOutcomeUnknown) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, ErrProfileNotFound) || errors.Is(err, ErrConflict) {
		return false
	}
	return Classify(err, nil).Kind == KindNetwork
}

// GameReport is a parsed ledger's results without a commit.
type GameReport struct {
	GameDate   string             `json:"gameDate"`
	SourceName string             `json:"sourceName"`
	Results    []PlayerGameResult `json:"results"`
	Excluded   int                `json:"excluded,omitempty"`
	Warnings   []*UploadError     `json:"warnings,omitempty"`
}

// GameResults parses a ledger and returns each player's net, highest first.
// Nothing is read from or written to the stores.
func (s *Service) GameResults(filename string, data []byte, exclude []string) (*GameReport, error) {
	opts := s.parse
	opts.Exclude = append(append([]string(nil), opts.Exclude...), exclude...)
	parsed, err := ParseLedger(filename, data, opts)
	if err != nil {
		return nil, Classify(err, nil)
	}
	return &GameReport{
		GameDate:   parsed.Batch.DateKey(),
		SourceName: parsed.Batch.SourceName,
		Results:    SortedResults(parsed.Batch),
		Excluded:   parsed.Excluded,
		Warnings:   parsed.Warnings,
	}, nil
}
