package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/JonMunkholm/putr/internal/core"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SQLSTATE codes treated as a concurrent-update conflict.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// ProfileStore keeps one row per player. Statistics are stored as a JSONB
// document in the same shape as the data.json seed file.
type ProfileStore struct {
	pool *pgxpool.Pool
}

// NewProfileStore creates a store over an open pool.
func NewProfileStore(pool *pgxpool.Pool) *ProfileStore {
	return &ProfileStore{pool: pool}
}

// FetchAllProfiles reads every profile in seed order.
func (s *ProfileStore) FetchAllProfiles(ctx context.Context) (core.ProfileSnapshot, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, data FROM profiles ORDER BY position, key`)
	if err != nil {
		return core.ProfileSnapshot{}, fmt.Errorf("query profiles: %w", mapError(err))
	}
	defer rows.Close()

	var profiles []core.PlayerProfile
	for rows.Next() {
		var key string
		var data []byte
		if err := rows.Scan(&key, &data); err != nil {
			return core.ProfileSnapshot{}, fmt.Errorf("scan profile: %w", err)
		}
		p, err := decodeProfile(key, data)
		if err != nil {
			return core.ProfileSnapshot{}, err
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return core.ProfileSnapshot{}, fmt.Errorf("read profiles: %w", mapError(err))
	}
	return core.NewProfileSnapshot(profiles), nil
}

// ProfileExists reports whether a row exists for key.
func (s *ProfileStore) ProfileExists(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM profiles WHERE key = $1)`, key).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check profile %q: %w", key, mapError(err))
	}
	return ok, nil
}

// TransactionalUpdate replaces every profile in updates inside one
// transaction. Rows are locked in key order so concurrent writers cannot
// deadlock on each other, and a missing key aborts the whole update.
func (s *ProfileStore) TransactionalUpdate(ctx context.Context, updates map[string]core.PlayerProfile) error {
	if len(updates) == 0 {
		return nil
	}
	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapError(err))
	}
	defer tx.Rollback(ctx) // No-op if already committed

	rows, err := tx.Query(ctx, `SELECT key FROM profiles WHERE key = ANY($1) ORDER BY key FOR UPDATE`, keys)
	if err != nil {
		return fmt.Errorf("lock profiles: %w", mapError(err))
	}
	locked, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("lock profiles: %w", mapError(err))
	}
	if missing := missingKeys(keys, locked); len(missing) > 0 {
		return fmt.Errorf("update %v: %w", missing, core.ErrProfileNotFound)
	}

	batch := &pgx.Batch{}
	for _, key := range keys {
		data, err := encodeProfile(updates[key])
		if err != nil {
			return err
		}
		batch.Queue(`UPDATE profiles SET data = $2, updated_at = now() WHERE key = $1`, key, data)
	}
	br := tx.SendBatch(ctx, batch)
	for _, key := range keys {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return fmt.Errorf("update profile %q: %w", key, mapError(err))
		}
		if tag.RowsAffected() != 1 {
			_ = br.Close()
			return fmt.Errorf("update profile %q: %w", key, core.ErrProfileNotFound)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("update profiles: %w", mapError(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", commitError(err))
	}
	return nil
}

// ReplaceAll deletes every profile and inserts profiles in order, in one
// transaction. It backs the seed command.
func (s *ProfileStore) ReplaceAll(ctx context.Context, profiles []core.PlayerProfile) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapError(err))
	}
	defer tx.Rollback(ctx) // No-op if already committed

	if _, err := tx.Exec(ctx, `DELETE FROM profiles`); err != nil {
		return fmt.Errorf("clear profiles: %w", mapError(err))
	}

	batch := &pgx.Batch{}
	for i, p := range profiles {
		data, err := encodeProfile(p)
		if err != nil {
			return err
		}
		batch.Queue(`INSERT INTO profiles (key, position, data) VALUES ($1, $2, $3)`, p.Key, i, data)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert profiles: %w", mapError(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", commitError(err))
	}
	return nil
}

// Ping checks that the database is reachable.
func (s *ProfileStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func encodeProfile(p core.PlayerProfile) ([]byte, error) {
	p.Key = ""
	if p.GamesPlayed == nil {
		p.GamesPlayed = []string{}
	}
	if p.NetHistory == nil {
		p.NetHistory = core.NetHistory{}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode profile: %w", err)
	}
	return data, nil
}

func decodeProfile(key string, data []byte) (core.PlayerProfile, error) {
	var p core.PlayerProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return core.PlayerProfile{}, fmt.Errorf("decode profile %q: %w", key, err)
	}
	p.Key = key
	return p, nil
}

func missingKeys(want, got []string) []string {
	have := make(map[string]struct{}, len(got))
	for _, k := range got {
		have[k] = struct{}{}
	}
	var missing []string
	for _, k := range want {
		if _, ok := have[k]; !ok {
			missing = append(missing, k)
		}
	}
	return missing
}

// mapError translates server-reported conflicts into core.ErrConflict.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%w: %w", core.ErrConflict, err)
		}
	}
	return err
}

// commitError separates commits the server definitely rejected from commits
// whose acknowledgement was lost.
func commitError(err error) error {
	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &pgErr):
		return mapError(err)
	case errors.Is(err, pgx.ErrTxCommitRollback), errors.Is(err, pgx.ErrTxClosed):
		return err
	default:
		return fmt.Errorf("%w: %w", core.ErrOutcomeUnknown, err)
	}
}
