package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action being audited.
type AuditAction string

const (
	ActionUpload AuditAction = "upload"
	ActionUndo   AuditAction = "undo"
	ActionReset  AuditAction = "reset"
	ActionSeed   AuditAction = "seed"
)

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID          string      `json:"id"`
	Action      AuditAction `json:"action"`
	Severity    Severity    `json:"severity"`
	Actor       string      `json:"actor,omitempty"`
	IPAddress   string      `json:"ipAddress,omitempty"`
	UserAgent   string      `json:"userAgent,omitempty"`
	GameDate    string      `json:"gameDate,omitempty"`
	SourceName  string      `json:"sourceName,omitempty"`
	SnapshotID  string      `json:"snapshotId,omitempty"`
	UploadID    string      `json:"uploadId,omitempty"`
	PlayerKeys  []string    `json:"playerKeys,omitempty"`
	PlayerCount int         `json:"playerCount"`
	Reason      string      `json:"reason,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// AuditSink records audit entries. Failures are logged by the caller and
// never fail the audited operation.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// determineSeverity returns the appropriate severity for an action.
func determineSeverity(action AuditAction) Severity {
	switch action {
	case ActionUpload, ActionUndo, ActionSeed:
		return SeverityHigh
	case ActionReset:
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// NewAuditEntry fills id, severity, timestamp and request metadata from ctx.
func NewAuditEntry(ctx context.Context, action AuditAction) AuditEntry {
	return AuditEntry{
		ID:        uuid.New().String(),
		Action:    action,
		Severity:  determineSeverity(action),
		Actor:     GetActorFromContext(ctx),
		IPAddress: GetIPAddressFromContext(ctx),
		UserAgent: GetUserAgentFromContext(ctx),
		CreatedAt: time.Now().UTC(),
	}
}

// LogAuditSink writes audit entries as structured log records.
type LogAuditSink struct {
	Logger *slog.Logger
}

func (s LogAuditSink) Record(ctx context.Context, e AuditEntry) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.LogAttrs(ctx, slog.LevelInfo, "audit",
		slog.String("audit_id", e.ID),
		slog.String("action", string(e.Action)),
		slog.String("severity", string(e.Severity)),
		slog.String("actor", e.Actor),
		slog.String("game_date", e.GameDate),
		slog.String("snapshot_id", e.SnapshotID),
		slog.Int("player_count", e.PlayerCount),
		slog.String("reason", e.Reason),
	)
	return nil
}

// recordAudit sends an entry to the service's sink.
func (s *Service) recordAudit(ctx context.Context, e AuditEntry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, e); err != nil {
		slog.Error("audit record failed", "action", e.Action, "audit_id", e.ID, "error", err)
	}
}
