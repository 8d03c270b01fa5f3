// Package redis implements the backup store as a Redis hash.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/JonMunkholm/putr/internal/core"
	"github.com/redis/go-redis/v9"
)

// DefaultKey is the hash holding every snapshot.
const DefaultKey = "putr:snapshots"

// Options configure the client.
type Options struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// BackupStore keeps snapshots as JSON values in one hash. One hash per
// service instance keeps the store private to it.
type BackupStore struct {
	client *redis.Client
	key    string
}

// Open connects and pings the server.
func Open(ctx context.Context, opts Options) (*BackupStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return New(client, opts.Key), nil
}

// New wraps an existing client. An empty key uses DefaultKey.
func New(client *redis.Client, key string) *BackupStore {
	if key == "" {
		key = DefaultKey
	}
	return &BackupStore{client: client, key: key}
}

// Close closes the client.
func (s *BackupStore) Close() error {
	return s.client.Close()
}

func (s *BackupStore) Get(ctx context.Context, id string) (core.BackupSnapshot, error) {
	raw, err := s.client.HGet(ctx, s.key, id).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.BackupSnapshot{}, fmt.Errorf("snapshot %s: %w", id, core.ErrSnapshotNotFound)
	}
	if err != nil {
		return core.BackupSnapshot{}, fmt.Errorf("read snapshot %s: %w", id, err)
	}
	return decode(id, raw)
}

func (s *BackupStore) Set(ctx context.Context, id string, snap core.BackupSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", id, err)
	}
	if err := s.client.HSet(ctx, s.key, id, raw).Err(); err != nil {
		return fmt.Errorf("write snapshot %s: %w", id, err)
	}
	return nil
}

func (s *BackupStore) Delete(ctx context.Context, id string) error {
	if err := s.client.HDel(ctx, s.key, id).Err(); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", id, err)
	}
	return nil
}

func (s *BackupStore) List(ctx context.Context) ([]core.BackupSnapshot, error) {
	all, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	out := make([]core.BackupSnapshot, 0, len(all))
	var corrupt []string
	for id, raw := range all {
		snap, err := decode(id, []byte(raw))
		if err != nil {
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

func (s *BackupStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("clear snapshots: %w", err)
	}
	return nil
}

func (s *BackupStore) ApproxSizeBytes(ctx context.Context) (int64, error) {
	all, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("measure snapshots: %w", err)
	}
	var n int64
	for id, raw := range all {
		n += int64(len(id) + len(raw))
	}
	return n, nil
}

func decode(id string, raw []byte) (core.BackupSnapshot, error) {
	var snap core.BackupSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return core.BackupSnapshot{}, fmt.Errorf("decode snapshot %s: %w: %v", id, core.ErrSnapshotCorrupt, err)
	}
	return snap, nil
}
