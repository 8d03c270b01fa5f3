package core

// errors.go defines the structured error type shared by every stage of
// ledger ingestion.
//
// Errors are created from the static catalog in error_catalog.go using
// NewError. Each instance carries a kind, subkind, severity and recoverable
// flag, plus free-form context. Instances are never mutated after creation;
// options are applied before NewError returns.

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrorKind is the top-level category of an UploadError.
type ErrorKind string

const (
	KindFileValidation ErrorKind = "file_validation"
	KindParsing        ErrorKind = "parsing"
	KindDataValidation ErrorKind = "data_validation"
	KindPlayerMatching ErrorKind = "player_matching"
	KindPersistence    ErrorKind = "persistence"
	KindDuplicate      ErrorKind = "duplicate"
	KindSystem         ErrorKind = "system"
	KindNetwork        ErrorKind = "network"
	KindPermission     ErrorKind = "permission"
)

// Severity is shared by errors and audit entries.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Advisory reports whether presentation layers may auto-dismiss the severity.
func (s Severity) Advisory() bool {
	return s == SeverityLow || s == SeverityMedium
}

// UploadError is a structured, user-presentable error.
type UploadError struct {
	ID                 string         `json:"id"`
	Kind               ErrorKind      `json:"kind"`
	Subkind            string         `json:"subkind"`
	Message            string         `json:"message"`
	Detail             string         `json:"detail,omitempty"`
	Hints              []string       `json:"hints,omitempty"`
	Severity           Severity       `json:"severity"`
	Recoverable        bool           `json:"recoverable"`
	ManualVerification bool           `json:"manualVerification,omitempty"`
	Context            map[string]any `json:"context,omitempty"`
	Timestamp          time.Time      `json:"timestamp"`
	Cause              error          `json:"-"`
}

func (e *UploadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s/%s: %s: %v", e.Kind, e.Subkind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s/%s: %s", e.Kind, e.Subkind, e.Message)
}

func (e *UploadError) Unwrap() error {
	return e.Cause
}

// Code returns the support reference code, e.g. "DUPLICATE/duplicate_game".
func (e *UploadError) Code() string {
	return strings.ToUpper(string(e.Kind)) + "/" + e.Subkind
}

// Is matches another UploadError with the same kind and subkind, so callers
// can write errors.Is(err, core.Template(core.KindDuplicate, core.SubDuplicateGame)).
func (e *UploadError) Is(target error) bool {
	t, ok := target.(*UploadError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Subkind == t.Subkind
}

// ErrorOption overrides catalog defaults when creating an error.
type ErrorOption func(*UploadError)

// WithMessage replaces the catalog message template.
func WithMessage(msg string) ErrorOption {
	return func(e *UploadError) { e.Message = msg }
}

// WithDetail replaces the catalog detail text.
func WithDetail(detail string) ErrorOption {
	return func(e *UploadError) { e.Detail = detail }
}

// WithHints replaces the catalog recovery hints.
func WithHints(hints ...string) ErrorOption {
	return func(e *UploadError) { e.Hints = append([]string(nil), hints...) }
}

// WithSeverity overrides the catalog severity.
func WithSeverity(s Severity) ErrorOption {
	return func(e *UploadError) { e.Severity = s }
}

// WithRecoverable overrides the catalog recoverable flag.
func WithRecoverable(r bool) ErrorOption {
	return func(e *UploadError) { e.Recoverable = r }
}

// WithCause attaches the underlying technical error.
func WithCause(err error) ErrorOption {
	return func(e *UploadError) { e.Cause = err }
}

// WithManualVerification flags that only the remote store knows whether
// writes landed.
func WithManualVerification() ErrorOption {
	return func(e *UploadError) {
		e.ManualVerification = true
		e.Hints = append(e.Hints, "Manual verification recommended: check the player profiles before retrying")
	}
}

// NewError instantiates a structured error from the catalog.
// Unknown (kind, subkind) pairs fall back to the system/unknown template.
// Message and detail templates have {name} placeholders filled from ctx.
func NewError(kind ErrorKind, subkind string, ctx map[string]any, opts ...ErrorOption) *UploadError {
	tmpl, ok := lookupTemplate(kind, subkind)
	if !ok {
		tmpl = fallbackTemplate
		if ctx == nil {
			ctx = map[string]any{}
		}
		ctx = copyContext(ctx)
		ctx["requested_kind"] = string(kind)
		ctx["requested_subkind"] = subkind
		kind, subkind = KindSystem, SubUnknown
	} else {
		ctx = copyContext(ctx)
	}

	e := &UploadError{
		ID:          uuid.New().String(),
		Kind:        kind,
		Subkind:     subkind,
		Message:     tmpl.message,
		Detail:      tmpl.detail,
		Hints:       append([]string(nil), tmpl.hints...),
		Severity:    tmpl.severity,
		Recoverable: tmpl.recoverable,
		Context:     ctx,
		Timestamp:   time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.Message = render(e.Message, ctx)
	e.Detail = render(e.Detail, ctx)
	return e
}

// Template returns a matcher for errors.Is comparisons.
func Template(kind ErrorKind, subkind string) *UploadError {
	return &UploadError{Kind: kind, Subkind: subkind}
}

// IsKind reports whether err wraps an UploadError of the given kind.
// An empty subkind matches any subkind.
func IsKind(err error, kind ErrorKind, subkind string) bool {
	var ue *UploadError
	if !errors.As(err, &ue) {
		return false
	}
	return ue.Kind == kind && (subkind == "" || ue.Subkind == subkind)
}

// AsUploadError extracts an UploadError from err's chain.
func AsUploadError(err error) (*UploadError, bool) {
	var ue *UploadError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

func copyContext(ctx map[string]any) map[string]any {
	if ctx == nil {
		return nil
	}
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		out[k] = v
	}
	return out
}

// render fills {name} placeholders with context values.
func render(tmpl string, ctx map[string]any) string {
	if tmpl == "" || len(ctx) == 0 || !strings.Contains(tmpl, "{") {
		return tmpl
	}
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", formatContextValue(ctx[k]))
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

func formatContextValue(v any) string {
	switch val := v.(type) {
	case []string:
		return strings.Join(val, ", ")
	case error:
		return val.Error()
	default:
		return fmt.Sprint(val)
	}
}
