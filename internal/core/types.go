package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Sentinel errors returned by store implementations. The orchestrator maps
// them to structured UploadErrors.
var (
	ErrProfileNotFound  = errors.New("profile not found")
	ErrConflict         = errors.New("conflicting concurrent update")
	ErrSnapshotNotFound = errors.New("backup snapshot not found")
	ErrSnapshotCorrupt  = errors.New("backup snapshot is corrupt")
)

// CorruptSnapshotsError is returned by BackupStore.List alongside every
// entry that did decode. IDs names the entries that did not.
type CorruptSnapshotsError struct {
	IDs []string
}

func (e *CorruptSnapshotsError) Error() string {
	return fmt.Sprintf("%d undecodable snapshots: %s", len(e.IDs), strings.Join(e.IDs, ", "))
}

func (e *CorruptSnapshotsError) Unwrap() error { return ErrSnapshotCorrupt }

// ErrOutcomeUnknown marks a commit whose result the store could not confirm,
// e.g. the connection dropped while COMMIT was in flight.
var ErrOutcomeUnknown = errors.New("commit outcome unknown")

// ProfileStore is the remote profile store.
// TransactionalUpdate must be atomic across every key in one call and fail
// wholesale if any key is missing or the update conflicts.
type ProfileStore interface {
	FetchAllProfiles(ctx context.Context) (ProfileSnapshot, error)
	ProfileExists(ctx context.Context, key string) (bool, error)
	TransactionalUpdate(ctx context.Context, updates map[string]PlayerProfile) error
	Ping(ctx context.Context) error
}

// BackupStore is the local key-value store holding backup snapshots.
// It is private to one service instance. List returns every entry that
// decodes and reports the rest with a *CorruptSnapshotsError.
type BackupStore interface {
	Get(ctx context.Context, id string) (BackupSnapshot, error)
	Set(ctx context.Context, id string, snap BackupSnapshot) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]BackupSnapshot, error)
	Clear(ctx context.Context) error
	ApproxSizeBytes(ctx context.Context) (int64, error)
}

// LedgerRow is one parsed data line of a ledger file. Amounts are cents.
type LedgerRow struct {
	Line         int
	Nickname     string
	PlayerID     string
	SessionStart *time.Time
	SessionEnd   *time.Time
	BuyInCents   int64
	BuyOutCents  int64
	HasBuyOut    bool
	StackCents   int64
	NetCents     int64
}

// GameBatch is the validated content of one uploaded ledger file.
type GameBatch struct {
	GameDate   time.Time
	SourceName string
	Rows       []LedgerRow
}

// DateKey returns the batch's date key (YY_MM_DD).
func (b GameBatch) DateKey() string {
	return DateKey(b.GameDate)
}

// PlayerGameResult is the combined net of every row sharing a nickname.
type PlayerGameResult struct {
	Nickname string `json:"nickname"`
	NetCents int64  `json:"netCents"`
}

// NetDollars returns the result in dollars.
func (r PlayerGameResult) NetDollars() decimal.Decimal {
	return decimal.New(r.NetCents, -2)
}

// Results collapses rows by nickname, summing rebuys into one delta.
// Results are returned in order of first appearance.
func (b GameBatch) Results() []PlayerGameResult {
	idx := make(map[string]int)
	var out []PlayerGameResult
	for _, row := range b.Rows {
		i, ok := idx[row.Nickname]
		if !ok {
			idx[row.Nickname] = len(out)
			out = append(out, PlayerGameResult{Nickname: row.Nickname, NetCents: row.NetCents})
			continue
		}
		out[i].NetCents += row.NetCents
	}
	return out
}

// DateKey formats a game date the way ledger filenames and profiles do.
func DateKey(t time.Time) string {
	return t.Format("06_01_02")
}

// NetPoint is the running total recorded after one game date.
type NetPoint struct {
	Date string
	Net  float64
}

// NetHistory is an insertion-ordered map of date key to running total.
// It marshals to a JSON object so it stays compatible with existing data files.
type NetHistory []NetPoint

// Get returns the total recorded for a date.
func (h NetHistory) Get(date string) (float64, bool) {
	for _, p := range h {
		if p.Date == date {
			return p.Net, true
		}
	}
	return 0, false
}

// Set records a total, replacing an existing entry for the same date.
func (h NetHistory) Set(date string, net float64) NetHistory {
	for i := range h {
		if h[i].Date == date {
			h[i].Net = net
			return h
		}
	}
	return append(h, NetPoint{Date: date, Net: net})
}

// Last returns the most recently recorded point.
func (h NetHistory) Last() (NetPoint, bool) {
	if len(h) == 0 {
		return NetPoint{}, false
	}
	return h[len(h)-1], true
}

// MarshalJSON encodes the history as an ordered JSON object.
func (h NetHistory) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range h {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(p.Date)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(p.Net)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping key order.
func (h *NetHistory) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*h = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("net history: expected object, got %v", tok)
	}
	out := NetHistory{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("net history: invalid key %v", keyTok)
		}
		var net float64
		if err := dec.Decode(&net); err != nil {
			return fmt.Errorf("net history %q: %w", key, err)
		}
		out = out.Set(key, net)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*h = out
	return nil
}

// PlayerProfile is a player's persisted cumulative statistics record.
// Money fields are dollars with 2-decimal precision.
type PlayerProfile struct {
	Key           string     `json:"key,omitempty"`
	Nicknames     []string   `json:"player_nicknames"`
	Net           float64    `json:"net"`
	GamesPlayed   []string   `json:"games_played"`
	NetHistory    NetHistory `json:"net_dictionary"`
	BiggestWin    float64    `json:"biggest_win"`
	BiggestLoss   float64    `json:"biggest_loss"`
	HighestNet    float64    `json:"highest_net"`
	LowestNet     float64    `json:"lowest_net"`
	GamesUpMost   int        `json:"games_up_most"`
	GamesDownMost int        `json:"games_down_most"`
	GamesUp       int        `json:"games_up"`
	GamesDown     int        `json:"games_down"`
	AverageNet    float64    `json:"average_net"`
}

// Clone returns a deep copy of the profile.
func (p PlayerProfile) Clone() PlayerProfile {
	c := p
	if p.Nicknames != nil {
		c.Nicknames = append([]string(nil), p.Nicknames...)
	}
	if p.GamesPlayed != nil {
		c.GamesPlayed = append([]string(nil), p.GamesPlayed...)
	}
	if p.NetHistory != nil {
		c.NetHistory = append(NetHistory(nil), p.NetHistory...)
	}
	return c
}

// HasPlayed reports whether the profile already holds a game on date.
func (p PlayerProfile) HasPlayed(date string) bool {
	for _, d := range p.GamesPlayed {
		if d == date {
			return true
		}
	}
	return false
}

// ProfileSnapshot is an immutable, ordered view of every profile in the store.
type ProfileSnapshot struct {
	keys     []string
	profiles map[string]PlayerProfile
}

// NewProfileSnapshot builds a snapshot preserving the given order.
// Later duplicates of a key replace earlier ones but keep the first position.
func NewProfileSnapshot(profiles []PlayerProfile) ProfileSnapshot {
	s := ProfileSnapshot{profiles: make(map[string]PlayerProfile, len(profiles))}
	for _, p := range profiles {
		if _, ok := s.profiles[p.Key]; !ok {
			s.keys = append(s.keys, p.Key)
		}
		s.profiles[p.Key] = p.Clone()
	}
	return s
}

// Len returns the number of profiles.
func (s ProfileSnapshot) Len() int { return len(s.keys) }

// Keys returns profile keys in snapshot order.
func (s ProfileSnapshot) Keys() []string {
	return append([]string(nil), s.keys...)
}

// Get returns a copy of the profile stored under key.
func (s ProfileSnapshot) Get(key string) (PlayerProfile, bool) {
	p, ok := s.profiles[key]
	if !ok {
		return PlayerProfile{}, false
	}
	return p.Clone(), true
}

// All returns copies of every profile in snapshot order.
func (s ProfileSnapshot) All() []PlayerProfile {
	out := make([]PlayerProfile, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, s.profiles[k].Clone())
	}
	return out
}

// each iterates profiles in order without copying. fn must not retain or mutate p.
func (s ProfileSnapshot) each(fn func(p PlayerProfile) bool) {
	for _, k := range s.keys {
		if !fn(s.profiles[k]) {
			return
		}
	}
}

// BackupSnapshot holds pre-update copies of every profile touched by a commit.
type BackupSnapshot struct {
	ID          string                   `json:"id"`
	CreatedAt   time.Time                `json:"createdAt"`
	GameDate    string                   `json:"gameDate"`
	SourceName  string                   `json:"sourceName,omitempty"`
	Reason      string                   `json:"reason"`
	PlayerCount int                      `json:"playerCount"`
	Profiles    map[string]PlayerProfile `json:"profiles"`
}

// Backup reasons.
const (
	BackupReasonUpload = "upload"
	BackupReasonReset  = "reset"
)

// UploadResult is returned on a successful commit.
type UploadResult struct {
	UploadID    string             `json:"uploadId"`
	GameDate    string             `json:"gameDate"`
	SourceName  string             `json:"sourceName"`
	PlayerCount int                `json:"playerCount"`
	UpdatedKeys []string           `json:"updatedKeys"`
	SnapshotID  string             `json:"snapshotId,omitempty"`
	Results     []PlayerGameResult `json:"results"`
	Warnings    []*UploadError     `json:"warnings,omitempty"`
	Duration    time.Duration      `json:"duration"`
}

// UndoResult is returned on a successful restore.
type UndoResult struct {
	SnapshotID   string   `json:"snapshotId"`
	GameDate     string   `json:"gameDate"`
	RestoredKeys []string `json:"restoredKeys"`
}

// UndoPreview describes what an undo would restore.
// Used for confirmation prompts before performing the restore.
type UndoPreview struct {
	SnapshotID  string    `json:"snapshotId"`
	GameDate    string    `json:"gameDate"`
	SourceName  string    `json:"sourceName,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	PlayerCount int       `json:"playerCount"`
	CanUndo     bool      `json:"canUndo"`
	Reason      string    `json:"reason,omitempty"`
}
