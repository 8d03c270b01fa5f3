package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/JonMunkholm/putr/internal/config"
	"github.com/JonMunkholm/putr/internal/core"
	"github.com/JonMunkholm/putr/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ledgerName = "ledger23_10_15.csv"

var ledgerData = []byte("player_nickname,player_id,session_start_at,session_end_at,buy_in,buy_out,stack,net\n" +
	"Alice,a1,2023-10-15T19:00:00.000Z,2023-10-15T23:00:00.000Z,1000,0,2500,1500\n" +
	"Bobby,b1,2023-10-15T19:00:00.000Z,2023-10-15T23:00:00.000Z,1275,0,0,-1275\n")

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: 8080, RequestTimeout: 10 * time.Second, ShutdownTimeout: time.Second},
		Upload: config.UploadConfig{MinFileSize: 10, MaxFileSize: 1 << 20, MinRows: 2, MaxRows: 100,
			Timeout: 10 * time.Second, CommitTimeout: 5 * time.Second},
		Security: config.SecurityConfig{APIKeys: []string{"ops:secret"}},
	}
}

type testEnv struct {
	server   *Server
	profiles *memory.ProfileStore
	backups  *memory.BackupStore
}

func newTestEnv(t *testing.T, cfg *config.Config, opts ...Option) *testEnv {
	t.Helper()
	profiles := memory.NewProfileStore(
		core.PlayerProfile{Key: "alice", Nicknames: []string{"Alice"}, GamesPlayed: []string{}, NetHistory: core.NetHistory{}},
		core.PlayerProfile{Key: "bob", Nicknames: []string{"Bob", "Bobby"}, GamesPlayed: []string{}, NetHistory: core.NetHistory{}},
	)
	backups := memory.NewBackupStore()
	svc, err := core.NewService(core.Options{
		Profiles: profiles,
		Backups:  backups,
		Parse:    core.ParseOptions{MinBytes: cfg.Upload.MinFileSize, MaxBytes: cfg.Upload.MaxFileSize},
	})
	require.NoError(t, err)
	return &testEnv{server: NewServer(svc, cfg, opts...), profiles: profiles, backups: backups}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func ledgerRequest(t *testing.T, path, filename string, data []byte, exclude ...string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mp := multipart.NewWriter(&body)
	part, err := mp.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	for _, x := range exclude {
		require.NoError(t, mp.WriteField("exclude", x))
	}
	require.NoError(t, mp.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mp.FormDataContentType())
	return req
}

type errorBody struct {
	Error core.UploadError `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) core.UploadError {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error
}

func TestUpload_Commit(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := env.do(t, ledgerRequest(t, "/api/uploads", ledgerName, ledgerData))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var body struct {
		GameDate    string       `json:"gameDate"`
		UpdatedKeys []string     `json:"updatedKeys"`
		SnapshotID  string       `json:"snapshotId"`
		Results     []resultView `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "23_10_15", body.GameDate)
	assert.ElementsMatch(t, []string{"alice", "bob"}, body.UpdatedKeys)
	assert.NotEmpty(t, body.SnapshotID)
	assert.Equal(t, []resultView{{"Alice", "15.00"}, {"Bobby", "-12.75"}}, body.Results)

	bob, _ := env.profiles.Profile("bob")
	assert.Equal(t, -12.75, bob.Net)

	t.Run("duplicate is a conflict", func(t *testing.T) {
		rec := env.do(t, ledgerRequest(t, "/api/uploads", ledgerName, ledgerData))
		require.Equal(t, http.StatusConflict, rec.Code)
		ue := decodeError(t, rec)
		assert.Equal(t, core.KindDuplicate, ue.Kind)
		assert.NotEmpty(t, ue.ID)
		assert.NotEmpty(t, ue.Message)
	})
}

func TestUpload_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		data     []byte
		exclude  []string
		wantCode int
		wantSub  string
	}{
		{"bad filename", "game.csv", ledgerData, nil, http.StatusUnprocessableEntity, core.SubInvalidFilename},
		{"too small", ledgerName, []byte("a,b"), nil, http.StatusUnprocessableEntity, core.SubFileTooSmall},
		{"unmatched player", ledgerName, bytes.Replace(ledgerData, []byte("Bobby"), []byte("Carol"), 1), nil,
			http.StatusUnprocessableEntity, core.SubUnmatchedPlayers},
		{"exclusion leaves one player", ledgerName, ledgerData, []string{"Bobby"},
			http.StatusUnprocessableEntity, core.SubInsufficientRows},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, testConfig())
			rec := env.do(t, ledgerRequest(t, "/api/uploads", tt.filename, tt.data, tt.exclude...))
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantSub, decodeError(t, rec).Subkind)
			assert.Equal(t, 0, env.profiles.UpdateCount())
		})
	}
}

func TestUpload_NoFile(t *testing.T) {
	env := newTestEnv(t, testConfig())
	req := httptest.NewRequest(http.MethodPost, "/api/uploads", nil)
	rec := env.do(t, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, core.SubReadFailed, decodeError(t, rec).Subkind)
}

func TestUpload_TooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.Upload.MaxFileSize = 64
	env := newTestEnv(t, cfg)

	rec := env.do(t, ledgerRequest(t, "/api/uploads", ledgerName, ledgerData))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())
	assert.Equal(t, core.SubFileTooLarge, decodeError(t, rec).Subkind)
}

func TestUpload_RequiresAPIKey(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RequireAPIKey = true
	env := newTestEnv(t, cfg)

	rec := env.do(t, ledgerRequest(t, "/api/uploads", ledgerName, ledgerData))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, core.KindPermission, decodeError(t, rec).Kind)

	req := ledgerRequest(t, "/api/uploads", ledgerName, ledgerData)
	req.Header.Set("X-API-Key", "secret")
	rec = env.do(t, req)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Reads stay open.
	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/players", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestResults_ParseOnly(t *testing.T) {
	env := newTestEnv(t, testConfig())

	withHost := append(append([]byte(nil), ledgerData...),
		"House,h1,2023-10-15T19:00:00.000Z,2023-10-15T23:00:00.000Z,225,0,0,-225\n"...)
	rec := env.do(t, ledgerRequest(t, "/api/results", ledgerName, withHost, "house"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		GameDate string       `json:"gameDate"`
		Excluded int          `json:"excluded"`
		Results  []resultView `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "23_10_15", body.GameDate)
	assert.Equal(t, 1, body.Excluded)
	assert.Equal(t, []resultView{{"Alice", "15.00"}, {"Bobby", "-12.75"}}, body.Results)
	assert.Equal(t, 0, env.profiles.UpdateCount())
}

func TestUndo_Flow(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/undo", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, core.SubNoSnapshot, decodeError(t, rec).Subkind)

	rec = env.do(t, ledgerRequest(t, "/api/uploads", ledgerName, ledgerData))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/undo", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var preview core.UndoPreview
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &preview))
	assert.True(t, preview.CanUndo)
	assert.Equal(t, "23_10_15", preview.GameDate)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/undo/"+preview.SnapshotID+"/safety", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/backups", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Backups []backupView `json:"backups"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Backups, 1)
	assert.Equal(t, []string{"alice", "bob"}, listing.Backups[0].Keys)

	rec = env.do(t, httptest.NewRequest(http.MethodPost, "/api/undo/"+preview.SnapshotID, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	bob, _ := env.profiles.Profile("bob")
	assert.Zero(t, bob.Net)
	assert.Equal(t, 0, env.backups.Len())

	rec = env.do(t, httptest.NewRequest(http.MethodPost, "/api/undo/"+preview.SnapshotID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReset_RequiresConfirmation(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/api/reset", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 0, env.profiles.UpdateCount())

	rec = env.do(t, httptest.NewRequest(http.MethodPost, "/api/reset?confirm=reset", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res core.ResetResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 2, res.PlayerCount)
	assert.NotEmpty(t, res.SnapshotID)
}

func TestPlayers(t *testing.T) {
	env := newTestEnv(t, testConfig())
	require.Equal(t, http.StatusCreated, env.do(t, ledgerRequest(t, "/api/uploads", ledgerName, ledgerData)).Code)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/players", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Equal(t, 2, listing.Count)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/players/Bobby/recent?n=3", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var recent core.RecentGames
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recent))
	assert.Equal(t, "bob", recent.Key)
	assert.Len(t, recent.Games, 1)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/players/nobody/recent", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())
}

type auditStub struct {
	entries []core.AuditEntry
	limit   int
}

func (a *auditStub) Recent(_ context.Context, limit int) ([]core.AuditEntry, error) {
	a.limit = limit
	return a.entries, nil
}

func TestHealthAndStatus(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status core.ServiceStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, core.StateIdle, status.State)

	env.profiles.SetFaults(nil, nil, nil, errors.New("dial tcp: connection refused"))
	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAuditRoute(t *testing.T) {
	env := newTestEnv(t, testConfig())
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/audit", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "route is absent without a reader")

	stub := &auditStub{entries: []core.AuditEntry{{ID: "a1", Action: core.ActionUpload, GameDate: "23_10_15"}}}
	env = newTestEnv(t, testConfig(), WithAuditReader(stub))
	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/audit?limit=1000", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 500, stub.limit)

	var body struct {
		Entries []core.AuditEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Entries, 1)
	assert.Equal(t, "a1", body.Entries[0].ID)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 100, UploadLimit: 1}
	env := newTestEnv(t, cfg)

	first := env.do(t, ledgerRequest(t, "/api/uploads", "game.csv", ledgerData))
	assert.Equal(t, http.StatusUnprocessableEntity, first.Code)

	second := env.do(t, ledgerRequest(t, "/api/uploads", "game.csv", ledgerData))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	body, _ := io.ReadAll(second.Body)
	assert.Contains(t, string(body), "rate limit exceeded")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind core.ErrorKind
		sub  string
		want int
	}{
		{core.KindFileValidation, core.SubFileTooLarge, http.StatusRequestEntityTooLarge},
		{core.KindDataValidation, core.SubNetMismatch, http.StatusUnprocessableEntity},
		{core.KindDuplicate, core.SubDuplicateUpload, http.StatusConflict},
		{core.KindPersistence, core.SubCommitAmbiguous, http.StatusInternalServerError},
		{core.KindPersistence, core.SubFetchFailed, http.StatusServiceUnavailable},
		{core.KindSystem, core.SubOperationInProgress, http.StatusConflict},
		{core.KindSystem, core.SubSnapshotNotLatest, http.StatusConflict},
		{core.KindSystem, core.SubStorageQuota, http.StatusInsufficientStorage},
		{core.KindNetwork, core.SubOffline, http.StatusServiceUnavailable},
		{core.KindPermission, core.SubDenied, http.StatusForbidden},
	}
	for _, tt := range tests {
		got := statusFor(core.NewError(tt.kind, tt.sub, nil))
		assert.Equal(t, tt.want, got, "%s/%s", tt.kind, tt.sub)
	}
}
