package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/putr/internal/core"
	"github.com/JonMunkholm/putr/internal/store/memory"
)

const ledger = "player_nickname,player_id,session_start_at,session_end_at,buy_in,buy_out,stack,net\n" +
	"Alice,a1,2023-10-15T19:00:00.000Z,2023-10-15T23:00:00.000Z,1000,0,2500,1500\n" +
	"Bobby,b1,2023-10-15T19:00:00.000Z,2023-10-15T23:00:00.000Z,1275,0,0,-1275\n"

type testCLI struct {
	*cli
	profiles *memory.ProfileStore
	out      *bytes.Buffer
	dir      string
}

func newTestCLI(t *testing.T, stdin string) *testCLI {
	t.Helper()
	profiles := memory.NewProfileStore(
		core.PlayerProfile{Key: "alice", Nicknames: []string{"Alice"}, GamesPlayed: []string{}, NetHistory: core.NetHistory{}},
		core.PlayerProfile{Key: "bob", Nicknames: []string{"Bob", "Bobby"}, GamesPlayed: []string{}, NetHistory: core.NetHistory{}},
	)
	svc, err := core.NewService(core.Options{Profiles: profiles, Backups: memory.NewBackupStore()})
	require.NoError(t, err)

	out := &bytes.Buffer{}
	return &testCLI{
		cli:      &cli{svc: svc, seeder: profiles, in: strings.NewReader(stdin), out: out},
		profiles: profiles,
		out:      out,
		dir:      t.TempDir(),
	}
}

func (tc *testCLI) file(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(tc.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func (tc *testCLI) run(args ...string) (int, string) {
	tc.out.Reset()
	code := tc.cli.run(context.Background(), args)
	return code, tc.out.String()
}

func TestCLI_AddThenUndo(t *testing.T) {
	tc := newTestCLI(t, "")
	path := tc.file(t, "ledger23_10_15.csv", ledger)

	code, out := tc.run("add", path)
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "game 23_10_15 committed for 2 players")
	assert.Contains(t, out, "15.00")
	assert.Contains(t, out, "-12.75")

	alice, _ := tc.profiles.Profile("alice")
	assert.Equal(t, 15.0, alice.Net)

	code, out = tc.run("add", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "DUPLICATE/")

	code, out = tc.run("last")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "game:    23_10_15")

	code, out = tc.run("undo")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "restored 2 players")

	alice, _ = tc.profiles.Profile("alice")
	assert.Equal(t, 0.0, alice.Net)

	code, out = tc.run("undo")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "SYSTEM/no_snapshot")
}

func TestCLI_ResultsWithExclude(t *testing.T) {
	tc := newTestCLI(t, "")
	path := tc.file(t, "ledger23_10_15.csv", ledger+
		"House,h1,2023-10-15T19:00:00.000Z,2023-10-15T23:00:00.000Z,225,0,0,-225\n")

	code, out := tc.run("results", "-exclude", "house", path)
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "Alice")
	assert.NotContains(t, out, "House")
	assert.Equal(t, 0, tc.profiles.UpdateCount())
}

func TestCLI_PlayersRecentStatus(t *testing.T) {
	tc := newTestCLI(t, "")
	path := tc.file(t, "ledger23_10_15.csv", ledger)
	code, _ := tc.run("add", path)
	require.Equal(t, 0, code)

	code, out := tc.run("players")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "KEY")
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "-12.75")

	code, out = tc.run("recent", "-n", "3", "Bobby")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "bob: net -12.75 over 1 games")

	code, out = tc.run("status")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "snapshots: 1")
}

func TestCLI_Seed(t *testing.T) {
	tc := newTestCLI(t, "")
	path := tc.file(t, "data.json", `{"carol": {"player_nicknames": ["Carol"], "net": 3}}`)

	code, out := tc.run("seed", path)
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "seeded 1 players")

	_, ok := tc.profiles.Profile("alice")
	assert.False(t, ok)

	bad := tc.file(t, "bad.json", `[]`)
	code, out = tc.run("seed", bad)
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "The seed file is invalid")
}

func TestCLI_Reset(t *testing.T) {
	path := func(t *testing.T, tc *testCLI) string { return tc.file(t, "ledger23_10_15.csv", ledger) }

	t.Run("declined", func(t *testing.T) {
		tc := newTestCLI(t, "no\n")
		code, _ := tc.run("add", path(t, tc))
		require.Equal(t, 0, code)

		code, out := tc.run("reset")
		assert.Equal(t, 1, code)
		assert.Contains(t, out, "reset cancelled")
		alice, _ := tc.profiles.Profile("alice")
		assert.Equal(t, 15.0, alice.Net)
	})

	t.Run("confirmed", func(t *testing.T) {
		tc := newTestCLI(t, "reset\n")
		code, _ := tc.run("add", path(t, tc))
		require.Equal(t, 0, code)

		code, out := tc.run("reset")
		require.Equal(t, 0, code, out)
		assert.Contains(t, out, "reset 2 players")
		alice, _ := tc.profiles.Profile("alice")
		assert.Equal(t, 0.0, alice.Net)
	})

	t.Run("yes flag", func(t *testing.T) {
		tc := newTestCLI(t, "")
		code, out := tc.run("reset", "-yes")
		require.Equal(t, 0, code, out)
	})
}

func TestCLI_Usage(t *testing.T) {
	tc := newTestCLI(t, "")

	code, out := tc.run()
	assert.Equal(t, 2, code)
	assert.Contains(t, out, "usage: putr")

	code, _ = tc.run("help")
	assert.Equal(t, 0, code)

	code, out = tc.run("frobnicate")
	assert.Equal(t, 2, code)
	assert.Contains(t, out, `unknown command "frobnicate"`)

	code, out = tc.run("add")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "needs exactly one ledger file")

	code, out = tc.run("add", filepath.Join(tc.dir, "missing.csv"))
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "FILE_VALIDATION/read_failed")
}
