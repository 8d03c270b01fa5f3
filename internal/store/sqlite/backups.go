// Package sqlite implements the local backup store on a SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JonMunkholm/putr/internal/core"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// BackupStore keeps each snapshot as a JSON blob keyed by id.
type BackupStore struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies migrations.
func Open(path string) (*BackupStore, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open backup database %s: %w", path, err)
	}
	// Limit open connections to 1 for SQLite to avoid locking issues
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping backup database: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &BackupStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite migration driver: %w", err)
	}
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply backup migrations: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *BackupStore) Close() error {
	return s.db.Close()
}

func (s *BackupStore) Get(ctx context.Context, id string) (core.BackupSnapshot, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM snapshots WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return core.BackupSnapshot{}, fmt.Errorf("snapshot %s: %w", id, core.ErrSnapshotNotFound)
	}
	if err != nil {
		return core.BackupSnapshot{}, fmt.Errorf("read snapshot %s: %w", id, err)
	}
	return decode(id, data)
}

func (s *BackupStore) Set(ctx context.Context, id string, snap core.BackupSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", id, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, created_at, data) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET created_at = excluded.created_at, data = excluded.data`,
		id, snap.CreatedAt.UnixNano(), data)
	if err != nil {
		return fmt.Errorf("write snapshot %s: %w", id, err)
	}
	return nil
}

func (s *BackupStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", id, err)
	}
	return nil
}

func (s *BackupStore) List(ctx context.Context) ([]core.BackupSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, data FROM snapshots ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []core.BackupSnapshot
	var corrupt []string
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap, err := decode(id, data)
		if err != nil {
			corrupt = append(corrupt, id)
			continue
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	if len(corrupt) > 0 {
		return out, &core.CorruptSnapshotsError{IDs: corrupt}
	}
	return out, nil
}

func (s *BackupStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots`); err != nil {
		return fmt.Errorf("clear snapshots: %w", err)
	}
	return nil
}

func (s *BackupStore) ApproxSizeBytes(ctx context.Context) (int64, error) {
	var n sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT SUM(length(id) + length(data)) FROM snapshots`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("measure snapshots: %w", err)
	}
	return n.Int64, nil
}

func decode(id string, data []byte) (core.BackupSnapshot, error) {
	var snap core.BackupSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return core.BackupSnapshot{}, fmt.Errorf("decode snapshot %s: %w: %v", id, core.ErrSnapshotCorrupt, err)
	}
	return snap, nil
}
