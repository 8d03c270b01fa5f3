package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultCommitTimeout bounds the single transactional write. The commit
// runs detached from the caller's context, so this is its only deadline.
const DefaultCommitTimeout = 30 * time.Second

// State is a step of the upload or undo state machine.
type State string

// Upload states.
const (
	StateIdle             State = "idle"
	StateParsing          State = "parsing"
	StateValidating       State = "validating"
	StateResolvingPlayers State = "resolving_players"
	StateDuplicateCheck   State = "duplicate_check"
	StateCapturingBackup  State = "capturing_backup"
	StateCommitting       State = "committing"
	StateSucceeded        State = "succeeded"
	StateFailed           State = "failed"
)

// Undo states. Idle and Failed are shared with uploads.
const (
	StateAwaitConfirmation State = "await_confirmation"
	StateVerifyingSafety   State = "verifying_safety"
	StateRestoring         State = "restoring"
	StateCleanup           State = "cleanup"
	StateDone              State = "done"
)

// Operation names used for the flight gate, state changes and logs.
const (
	OpUpload = "upload"
	OpUndo   = "undo"
	OpReset  = "reset"
	OpSeed   = "seed"
)

// StateChange describes one transition. Err is set on transitions to
// StateFailed.
type StateChange struct {
	Operation string       `json:"operation"`
	ID        string       `json:"id"`
	From      State        `json:"from"`
	To        State        `json:"to"`
	Err       *UploadError `json:"error,omitempty"`
	At        time.Time    `json:"at"`
}

// StateCallback observes transitions. It runs synchronously on the
// operation's goroutine and must not call back into the Service.
type StateCallback func(StateChange)

// Options configure a Service.
type Options struct {
	Profiles ProfileStore // required
	Backups  BackupStore  // required

	Retention RetentionPolicy
	// Cache serves read-only listings. One is created when nil.
	Cache *ProfileCache
	// Audit receives an entry for every commit, undo and reset.
	Audit AuditSink
	Parse ParseOptions

	CommitTimeout time.Duration
	OnState       StateCallback
}

// Service sequences ledger ingestion: parse, resolve, check for duplicates,
// back up, commit. It also drives undo and the admin reset. One Service
// runs one mutating operation at a time.
type Service struct {
	profiles      ProfileStore
	backups       *BackupManager
	cache         *ProfileCache
	audit         AuditSink
	session       *SessionUploads
	gate          *FlightGate
	parse         ParseOptions
	commitTimeout time.Duration
	onState       StateCallback

	mu      sync.RWMutex
	state   State
	lastErr *UploadError
}

// NewService creates a new Service instance.
func NewService(opts Options) (*Service, error) {
	if opts.Profiles == nil {
		return nil, errors.New("core: profile store is required")
	}
	if opts.Backups == nil {
		return nil, errors.New("core: backup store is required")
	}
	if opts.Retention == (RetentionPolicy{}) {
		opts.Retention = DefaultRetention()
	}
	if opts.Cache == nil {
		opts.Cache = NewProfileCache(opts.Profiles, DefaultCacheTTL)
	}
	if opts.CommitTimeout <= 0 {
		opts.CommitTimeout = DefaultCommitTimeout
	}

	return &Service{
		profiles:      opts.Profiles,
		backups:       NewBackupManager(opts.Backups, opts.Profiles, opts.Retention),
		cache:         opts.Cache,
		audit:         opts.Audit,
		session:       NewSessionUploads(),
		gate:          NewFlightGate(),
		parse:         opts.Parse,
		commitTimeout: opts.CommitTimeout,
		onState:       opts.OnState,
		state:         StateIdle,
	}, nil
}

// Backups exposes the backup manager.
func (s *Service) Backups() *BackupManager {
	return s.backups
}

// Cache exposes the read-side profile cache.
func (s *Service) Cache() *ProfileCache {
	return s.cache
}

// State returns the state of the current or most recent operation.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastError returns the error of the most recent failed operation.
func (s *Service) LastError() *UploadError {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// ServiceStatus is a read-only summary for status endpoints.
type ServiceStatus struct {
	State     State        `json:"state"`
	Gate      GateStatus   `json:"gate"`
	Snapshots int          `json:"snapshots"`
	LastError *UploadError `json:"lastError,omitempty"`
}

// Status reports the current state and the number of stored snapshots.
func (s *Service) Status(ctx context.Context) (ServiceStatus, error) {
	snaps, err := s.backups.List(ctx)
	if err != nil {
		return ServiceStatus{}, err
	}
	return ServiceStatus{
		State:     s.State(),
		Gate:      s.gate.Status(),
		Snapshots: len(snaps),
		LastError: s.LastError(),
	}, nil
}

// WaitForDrain blocks until the running operation, if any, finishes.
func (s *Service) WaitForDrain(ctx context.Context) error {
	return s.gate.WaitForDrain(ctx)
}

// run tracks one operation's transitions.
type run struct {
	s  *Service
	op string
	id string
}

func (s *Service) begin(op, id string) *run {
	r := &run{s: s, op: op, id: id}
	r.to(StateIdle, nil)
	return r
}

func (r *run) to(next State, err *UploadError) {
	r.s.mu.Lock()
	prev := r.s.state
	r.s.state = next
	if err != nil {
		r.s.lastErr = err
	}
	cb := r.s.onState
	r.s.mu.Unlock()

	if cb != nil {
		cb(StateChange{Operation: r.op, ID: r.id, From: prev, To: next, Err: err, At: time.Now().UTC()})
	}
}

// markIfIdle records a transition for a read-only step. It is skipped while
// an operation holds the gate so that operation's state is not overwritten.
// Operations enter the gate before their first transition, so checking under
// s.mu orders the two.
func (s *Service) markIfIdle(op, id string, next State) {
	s.mu.Lock()
	if s.gate.Busy() {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = next
	cb := s.onState
	s.mu.Unlock()

	if cb != nil {
		cb(StateChange{Operation: op, ID: id, From: prev, To: next, At: time.Now().UTC()})
	}
}

// fail moves to StateFailed and returns the structured error.
func (r *run) fail(err error) *UploadError {
	ue := Classify(err, nil)
	r.to(StateFailed, ue)
	return ue
}

// recoverPanic turns a panic into a failed transition so the gate is still
// released by the caller's deferred Leave.
func (r *run) recoverPanic(errp *error) {
	if v := recover(); v != nil {
		*errp = r.fail(NewError(KindSystem, SubUnknown, map[string]any{"operation": r.op},
			WithCause(fmt.Errorf("panic: %v", v))))
	}
}

// checkCancelled maps a done context to System/cancelled. It is consulted
// between stages up to, but never after, the start of a commit.
func checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return NewError(KindSystem, SubCancelled, nil, WithCause(err))
	}
	return nil
}

// fetchSnapshot reads every profile for a write path. It never uses the cache.
func (s *Service) fetchSnapshot(ctx context.Context) (ProfileSnapshot, error) {
	snap, err := s.profiles.FetchAllProfiles(ctx)
	if err != nil {
		ue := Classify(err, nil)
		if ue.Kind == KindSystem && ue.Subkind == SubUnknown {
			ue = NewError(KindPersistence, SubFetchFailed, nil, WithCause(err))
		}
		return ProfileSnapshot{}, ue
	}
	return snap, nil
}

// commitContext detaches the commit from caller cancellation and bounds it
// with the commit timeout.
func (s *Service) commitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.commitTimeout)
}

// Ping checks that the profile store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.profiles.Ping(ctx); err != nil {
		return Classify(err, nil)
	}
	return nil
}
