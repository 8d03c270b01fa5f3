package core_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/putr/internal/core"
	"github.com/JonMunkholm/putr/internal/store/memory"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func seedProfiles() []core.PlayerProfile {
	return []core.PlayerProfile{
		{Key: "alice", Nicknames: []string{"Alice"}, Net: 10, GamesPlayed: []string{"23_10_01"},
			NetHistory: core.NetHistory{{Date: "23_10_01", Net: 10}}},
		{Key: "bob", Nicknames: []string{"Bob", "Bobby"}, Net: -10, GamesPlayed: []string{"23_10_01"},
			NetHistory: core.NetHistory{{Date: "23_10_01", Net: -10}}},
	}
}

func newManager(t *testing.T, policy core.RetentionPolicy) (*core.BackupManager, *memory.BackupStore, *memory.ProfileStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2023, 10, 15, 20, 0, 0, 0, time.UTC)}
	backups := memory.NewBackupStore()
	profiles := memory.NewProfileStore(seedProfiles()...)
	return core.NewBackupManager(backups, profiles, policy, core.WithClock(clock.Now)), backups, profiles, clock
}

func TestBackupManager_CaptureAndList(t *testing.T) {
	ctx := context.Background()
	m, _, _, clock := newManager(t, core.DefaultRetention())

	first, err := m.Capture(ctx, core.CaptureRequest{Keys: []string{"alice"}, GameDate: "23_10_15"})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if !first.Retained {
		t.Fatal("snapshot should be retained")
	}
	if first.Snapshot.Reason != core.BackupReasonUpload || first.Snapshot.PlayerCount != 1 {
		t.Errorf("snapshot = %+v", first.Snapshot)
	}

	clock.Advance(time.Minute)
	second, err := m.Capture(ctx, core.CaptureRequest{Keys: []string{"alice", "bob"}, GameDate: "23_10_16"})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}

	latest, err := m.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.ID != second.Snapshot.ID {
		t.Errorf("Latest = %s, want %s", latest.ID, second.Snapshot.ID)
	}
	list, _ := m.List(ctx)
	if len(list) != 2 || list[1].ID != first.Snapshot.ID {
		t.Errorf("List order wrong: %+v", list)
	}
}

func TestBackupManager_CaptureUnknownKey(t *testing.T) {
	m, backups, _, _ := newManager(t, core.DefaultRetention())

	_, err := m.Capture(context.Background(), core.CaptureRequest{Keys: []string{"alice", "carol"}})
	if !core.IsKind(err, core.KindSystem, core.SubBackupFailed) {
		t.Fatalf("error = %v, want backup_failed", err)
	}
	if backups.Len() != 0 {
		t.Error("nothing should be stored")
	}
}

func TestBackupManager_CaptureStoreFailure(t *testing.T) {
	m, backups, _, _ := newManager(t, core.DefaultRetention())
	backups.SetErr = errors.New("disk full")

	_, err := m.Capture(context.Background(), core.CaptureRequest{Keys: []string{"alice"}})
	if !core.IsKind(err, core.KindSystem, core.SubBackupFailed) {
		t.Fatalf("error = %v, want backup_failed", err)
	}
}

func TestBackupManager_LatestEmpty(t *testing.T) {
	m, _, _, _ := newManager(t, core.DefaultRetention())

	_, err := m.Latest(context.Background())
	if !core.IsKind(err, core.KindSystem, core.SubNoSnapshot) {
		t.Errorf("error = %v, want no_snapshot", err)
	}
}

func TestBackupManager_RetentionCount(t *testing.T) {
	ctx := context.Background()
	m, backups, _, clock := newManager(t, core.RetentionPolicy{MaxSnapshots: 5})

	var ids []string
	for i := 0; i < 6; i++ {
		res, err := m.Capture(ctx, core.CaptureRequest{Keys: []string{"alice"}})
		if err != nil {
			t.Fatalf("Capture %d: %v", i, err)
		}
		ids = append(ids, res.Snapshot.ID)
		clock.Advance(25 * time.Hour)
	}

	if backups.Len() != 5 {
		t.Fatalf("stored = %d, want 5", backups.Len())
	}
	if _, err := backups.Get(ctx, ids[0]); !errors.Is(err, core.ErrSnapshotNotFound) {
		t.Errorf("oldest snapshot should be evicted, got %v", err)
	}
	if _, err := backups.Get(ctx, ids[5]); err != nil {
		t.Errorf("newest snapshot missing: %v", err)
	}
}

func TestBackupManager_RetentionAge(t *testing.T) {
	ctx := context.Background()
	m, backups, _, clock := newManager(t, core.DefaultRetention())

	old, _ := m.Capture(ctx, core.CaptureRequest{Keys: []string{"alice"}})
	clock.Advance(25 * time.Hour)
	fresh, _ := m.Capture(ctx, core.CaptureRequest{Keys: []string{"alice"}})

	if _, err := backups.Get(ctx, old.Snapshot.ID); !errors.Is(err, core.ErrSnapshotNotFound) {
		t.Errorf("expired snapshot should be evicted, got %v", err)
	}
	if !fresh.Retained || backups.Len() != 1 {
		t.Errorf("fresh retained=%v stored=%d", fresh.Retained, backups.Len())
	}
}

func TestBackupManager_RetentionSize(t *testing.T) {
	ctx := context.Background()

	// Measure one snapshot to size the budget at two of them.
	probe, probeStore, _, _ := newManager(t, core.RetentionPolicy{})
	if _, err := probe.Capture(ctx, core.CaptureRequest{Keys: []string{"alice", "bob"}}); err != nil {
		t.Fatal(err)
	}
	one, _ := probeStore.ApproxSizeBytes(ctx)

	m, backups, _, clock := newManager(t, core.RetentionPolicy{MaxBytes: 2*one + one/2})
	var ids []string
	for i := 0; i < 3; i++ {
		res, err := m.Capture(ctx, core.CaptureRequest{Keys: []string{"alice", "bob"}})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, res.Snapshot.ID)
		clock.Advance(time.Minute)
	}

	if backups.Len() != 2 {
		t.Fatalf("stored = %d, want 2", backups.Len())
	}
	if _, err := backups.Get(ctx, ids[0]); err == nil {
		t.Error("oldest snapshot should be evicted for size")
	}
}

func TestBackupManager_OversizedClearsAll(t *testing.T) {
	ctx := context.Background()
	m, backups, _, _ := newManager(t, core.RetentionPolicy{MaxBytes: 10})

	res, err := m.Capture(ctx, core.CaptureRequest{Keys: []string{"alice", "bob"}})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if res.Retained {
		t.Error("oversized snapshot should not be retained")
	}
	if backups.Len() != 0 {
		t.Errorf("stored = %d, want 0", backups.Len())
	}
}

func TestBackupManager_RestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	m, backups, profiles, _ := newManager(t, core.DefaultRetention())
	keys := []string{"alice", "bob"}

	before := make(map[string][]byte, len(keys))
	for _, k := range keys {
		p, _ := profiles.Profile(k)
		raw, err := json.Marshal(p)
		if err != nil {
			t.Fatal(err)
		}
		before[k] = raw
	}

	res, err := m.Capture(ctx, core.CaptureRequest{Keys: keys, GameDate: "23_10_15"})
	if err != nil {
		t.Fatal(err)
	}

	for _, k := range keys {
		p, _ := profiles.Profile(k)
		changed := p.Clone()
		changed.Net += 99
		changed.BiggestWin = 99
		changed.GamesUp++
		changed.GamesPlayed = append(changed.GamesPlayed, "23_10_15")
		changed.NetHistory = changed.NetHistory.Set("23_10_15", changed.Net)
		profiles.Put(changed)
	}

	undo, err := m.Restore(ctx, res.Snapshot.ID)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if strings.Join(undo.RestoredKeys, ",") != "alice,bob" || undo.GameDate != "23_10_15" {
		t.Errorf("result = %+v", undo)
	}

	for _, k := range keys {
		p, _ := profiles.Profile(k)
		after, err := json.Marshal(p)
		if err != nil {
			t.Fatal(err)
		}
		if string(after) != string(before[k]) {
			t.Errorf("%s restored as\n%s\nwant\n%s", k, after, before[k])
		}
	}
	if backups.Len() != 0 {
		t.Error("snapshot should be deleted after restore")
	}
}

func TestBackupManager_RestoreMissingPlayer(t *testing.T) {
	ctx := context.Background()
	m, backups, profiles, _ := newManager(t, core.DefaultRetention())

	res, _ := m.Capture(ctx, core.CaptureRequest{Keys: []string{"alice", "bob"}})
	profiles.Delete("bob")
	writes := profiles.UpdateCount()

	_, err := m.Restore(ctx, res.Snapshot.ID)
	if !core.IsKind(err, core.KindPersistence, core.SubPlayerMissing) {
		t.Fatalf("error = %v, want player_missing", err)
	}
	ue, _ := core.AsUploadError(err)
	if ue.Context["key"] != "bob" {
		t.Errorf("key = %v, want bob", ue.Context["key"])
	}
	if profiles.UpdateCount() != writes {
		t.Error("no write should be issued")
	}
	if backups.Len() != 1 {
		t.Error("snapshot must be kept after a failed restore")
	}
}

func TestBackupManager_CorruptSnapshot(t *testing.T) {
	ctx := context.Background()
	m, backups, profiles, _ := newManager(t, core.DefaultRetention())

	backups.SetRaw("broken", []byte(`{"id":"broken","profiles":`))
	_, err := m.Verify(ctx, "broken")
	if !core.IsKind(err, core.KindSystem, core.SubSnapshotCorrupt) {
		t.Errorf("truncated JSON: error = %v, want snapshot_corrupt", err)
	}

	backups.SetRaw("mismatch", []byte(`{"id":"other","createdAt":"2023-10-15T20:00:00Z","playerCount":1,"profiles":{"alice":{"net":1}}}`))
	_, err = m.Verify(ctx, "mismatch")
	if !core.IsKind(err, core.KindSystem, core.SubSnapshotCorrupt) {
		t.Errorf("id mismatch: error = %v, want snapshot_corrupt", err)
	}

	backups.SetRaw("count", []byte(`{"id":"count","createdAt":"2023-10-15T20:00:00Z","playerCount":3,"profiles":{"alice":{"net":1}}}`))
	_, err = m.Verify(ctx, "count")
	if !core.IsKind(err, core.KindSystem, core.SubSnapshotCorrupt) {
		t.Errorf("count mismatch: error = %v, want snapshot_corrupt", err)
	}

	_, err = m.Verify(ctx, "absent")
	if !core.IsKind(err, core.KindSystem, core.SubSnapshotNotFound) {
		t.Errorf("absent: error = %v, want snapshot_not_found", err)
	}
	if profiles.UpdateCount() != 0 {
		t.Error("verify must not write")
	}
}

func TestBackupManager_CheckSafetyPingFails(t *testing.T) {
	ctx := context.Background()
	m, _, profiles, _ := newManager(t, core.DefaultRetention())
	res, _ := m.Capture(ctx, core.CaptureRequest{Keys: []string{"alice"}})

	profiles.PingErr = errors.New("dial tcp 10.0.0.1:5432: connect: connection refused")
	_, err := m.CheckSafety(ctx, res.Snapshot.ID)
	if !core.IsKind(err, core.KindNetwork, "") {
		t.Errorf("error = %v, want a network error", err)
	}
}

func TestBackupManager_ApplyFailureKeepsSnapshot(t *testing.T) {
	ctx := context.Background()
	m, backups, profiles, _ := newManager(t, core.DefaultRetention())
	res, _ := m.Capture(ctx, core.CaptureRequest{Keys: []string{"alice"}})

	profiles.UpdateErr = errors.New("write rejected")
	_, err := m.Restore(ctx, res.Snapshot.ID)
	if !core.IsKind(err, core.KindPersistence, core.SubRestoreFailed) {
		t.Errorf("error = %v, want restore_failed", err)
	}

	profiles.UpdateErr = core.ErrConflict
	_, err = m.Restore(ctx, res.Snapshot.ID)
	if !core.IsKind(err, core.KindPersistence, core.SubConflict) {
		t.Errorf("error = %v, want conflict", err)
	}
	if backups.Len() != 1 {
		t.Error("snapshot must be kept")
	}
}

func TestBackupManager_RetentionEvictsUndecodable(t *testing.T) {
	ctx := context.Background()
	m, backups, _, clock := newManager(t, core.RetentionPolicy{MaxSnapshots: 5, MaxBytes: 1 << 20})

	backups.SetRaw("broken", []byte(`{"id":"broken","profiles":`))

	// Listing skips the broken entry instead of failing.
	if _, err := m.Latest(ctx); !core.IsKind(err, core.KindSystem, core.SubNoSnapshot) {
		t.Fatalf("Latest with only a broken entry = %v, want no_snapshot", err)
	}

	var last core.CaptureResult
	for i := 0; i < 8; i++ {
		clock.Advance(time.Minute)
		res, err := m.Capture(ctx, core.CaptureRequest{Keys: []string{"alice"}, GameDate: "23_10_15"})
		if err != nil {
			t.Fatalf("Capture %d: %v", i, err)
		}
		last = res
	}

	if backups.Len() != 5 {
		t.Errorf("stored = %d, want 5", backups.Len())
	}
	if _, err := backups.Get(ctx, "broken"); !errors.Is(err, core.ErrSnapshotNotFound) {
		t.Errorf("broken entry should be evicted, Get = %v", err)
	}
	latest, err := m.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.ID != last.Snapshot.ID {
		t.Errorf("Latest = %s, want %s", latest.ID, last.Snapshot.ID)
	}
}
