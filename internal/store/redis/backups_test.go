package redis

import (
	"context"
	"testing"
	"time"

	"github.com/JonMunkholm/putr/internal/core"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (*BackupStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })

	return New(client, ""), mr
}

func testSnapshot(id string, at time.Time) core.BackupSnapshot {
	return core.BackupSnapshot{
		ID:          id,
		CreatedAt:   at,
		GameDate:    "23_10_15",
		Reason:      core.BackupReasonUpload,
		PlayerCount: 1,
		Profiles:    map[string]core.PlayerProfile{"bob": {Key: "bob", Net: -5}},
	}
}

func TestBackupStore_SetGet(t *testing.T) {
	ctx := context.Background()
	s, mr := setupTestStore(t)
	at := time.Date(2023, 10, 15, 20, 0, 0, 0, time.UTC)

	require.NoError(t, s.Set(ctx, "a", testSnapshot("a", at)))
	assert.True(t, mr.Exists(DefaultKey))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID)
	assert.True(t, got.CreatedAt.Equal(at))
	assert.Equal(t, -5.0, got.Profiles["bob"].Net)

	_, err = s.Get(ctx, "nope")
	assert.ErrorIs(t, err, core.ErrSnapshotNotFound)
}

func TestBackupStore_ListDeleteClear(t *testing.T) {
	ctx := context.Background()
	s, _ := setupTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.Set(ctx, "a", testSnapshot("a", now)))
	require.NoError(t, s.Set(ctx, "b", testSnapshot("b", now)))

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	size, err := s.ApproxSizeBytes(ctx)
	require.NoError(t, err)
	assert.Greater(t, size, int64(0))

	require.NoError(t, s.Delete(ctx, "a"))
	list, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "b", list[0].ID)

	require.NoError(t, s.Clear(ctx))
	size, err = s.ApproxSizeBytes(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestBackupStore_Corrupt(t *testing.T) {
	ctx := context.Background()
	s, mr := setupTestStore(t)

	mr.HSet(DefaultKey, "bad", "not json")
	require.NoError(t, s.Set(ctx, "good", testSnapshot("good", time.Now())))

	_, err := s.Get(ctx, "bad")
	assert.ErrorIs(t, err, core.ErrSnapshotCorrupt)

	snaps, err := s.List(ctx)
	assert.ErrorIs(t, err, core.ErrSnapshotCorrupt)
	var corrupt *core.CorruptSnapshotsError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, []string{"bad"}, corrupt.IDs)
	require.Len(t, snaps, 1)
	assert.Equal(t, "good", snaps[0].ID)
}

func TestBackupStore_ServerDown(t *testing.T) {
	ctx := context.Background()
	s, mr := setupTestStore(t)
	mr.Close()

	err := s.Set(ctx, "a", testSnapshot("a", time.Now()))
	assert.Error(t, err)

	m := core.NewBackupManager(s, nil, core.DefaultRetention())
	_, err = m.CaptureFrom(ctx, core.NewProfileSnapshot([]core.PlayerProfile{{Key: "bob"}}), core.CaptureRequest{Keys: []string{"bob"}})
	assert.True(t, core.IsKind(err, core.KindSystem, core.SubBackupFailed), "got %v", err)
}

func TestBackupStore_SeparateKeys(t *testing.T) {
	ctx := context.Background()
	s, mr := setupTestStore(t)
	other := New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "putr:other")

	require.NoError(t, s.Set(ctx, "a", testSnapshot("a", time.Now())))
	list, err := other.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}
