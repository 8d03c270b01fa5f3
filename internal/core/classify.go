package core

// classify.go retrofits structure onto errors raised by lower layers that
// do not already produce an UploadError.
//
// Classification is best-effort: components under this package's control
// construct structured errors directly with NewError. Anything that already
// carries a kind and subkind passes through unchanged.
//
// Patterns are matched case-insensitively. The first matching pattern wins,
// so groups are ordered from most to least specific vocabulary.

import (
	"context"
	"errors"
	"regexp"
)

type classifyPattern struct {
	re      *regexp.Regexp
	kind    ErrorKind
	subkind string
}

func pattern(expr string, kind ErrorKind, subkind string) classifyPattern {
	return classifyPattern{re: regexp.MustCompile(`(?i)` + expr), kind: kind, subkind: subkind}
}

var classifyPatterns = []classifyPattern{
	// Permission
	pattern(`permission denied|unauthori[sz]ed|forbidden|missing or insufficient permissions|invalid api key`, KindPermission, SubDenied),

	// Network
	pattern(`deadline exceeded|timed? ?out|i/o timeout`, KindNetwork, SubTimeout),
	pattern(`network is unreachable|no such host|offline|failed to fetch`, KindNetwork, SubOffline),
	pattern(`connection refused|connection reset|broken pipe|dial tcp|eof while reading|unexpected eof`, KindNetwork, SubConnectionFailed),

	// File
	pattern(`empty file|file is empty`, KindFileValidation, SubEmptyFile),
	pattern(`file too large|exceeds maximum size`, KindFileValidation, SubFileTooLarge),
	pattern(`invalid file ?name|must be a csv`, KindFileValidation, SubInvalidFilename),
	pattern(`binary`, KindFileValidation, SubBinaryContent),

	// Parsing
	pattern(`bare " in non-quoted-field|extraneous or missing " in quoted-field|wrong number of fields|parse error on line`, KindParsing, SubMalformedCSV),
	pattern(`missing (required )?columns?`, KindParsing, SubMissingColumns),
	pattern(`no header`, KindParsing, SubMissingHeader),

	// Validation
	pattern(`invalid date|unable to extract date|month out of range|day out of range`, KindDataValidation, SubInvalidDateFormat),
	pattern(`invalid (number|syntax)|can't convert .* to decimal|not a number`, KindDataValidation, SubInvalidNumber),
	pattern(`required field|is required`, KindDataValidation, SubMissingField),

	// Matching
	pattern(`not all players known|unknown player|unmatched`, KindPlayerMatching, SubUnmatchedPlayers),

	// Duplicate
	pattern(`already (been )?(uploaded|recorded|exists)|duplicate game`, KindDuplicate, SubDuplicateGame),

	// Persistence
	pattern(`profile not found|no rows in result set|not[ -]found`, KindPersistence, SubPlayerMissing),
	pattern(`serialization failure|could not serialize|deadlock|conflict|aborted`, KindPersistence, SubConflict),
	pattern(`transaction|commit|rollback`, KindPersistence, SubCommitFailed),
	pattern(`quota|resource exhausted|oom command not allowed`, KindSystem, SubStorageQuota),
}

// Classify converts err into an UploadError. Errors that already wrap an
// UploadError are returned unchanged; known sentinel errors map directly;
// everything else is pattern-matched against its message.
// Returns nil if err is nil.
func Classify(err error, ctx map[string]any) *UploadError {
	if err == nil {
		return nil
	}

	var ue *UploadError
	if errors.As(err, &ue) {
		return ue
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(KindNetwork, SubTimeout, ctx, WithCause(err))
	case errors.Is(err, context.Canceled):
		return NewError(KindSystem, SubCancelled, ctx, WithCause(err))
	case errors.Is(err, ErrProfileNotFound):
		return NewError(KindPersistence, SubPlayerMissing, withDefault(ctx, "key", "unknown"), WithCause(err))
	case errors.Is(err, ErrConflict):
		return NewError(KindPersistence, SubConflict, ctx, WithCause(err))
	case errors.Is(err, ErrSnapshotNotFound):
		return NewError(KindSystem, SubSnapshotNotFound, withDefault(ctx, "snapshot_id", "unknown"), WithCause(err))
	case errors.Is(err, ErrSnapshotCorrupt):
		ctx = withDefault(ctx, "snapshot_id", "unknown")
		return NewError(KindSystem, SubSnapshotCorrupt, withDefault(ctx, "reason", err.Error()), WithCause(err))
	}

	return classifyText(err.Error(), ctx, err)
}

// ClassifyMessage classifies free text, e.g. an error string reported by an
// external collaborator.
func ClassifyMessage(msg string, ctx map[string]any) *UploadError {
	return classifyText(msg, ctx, nil)
}

func classifyText(msg string, ctx map[string]any, cause error) *UploadError {
	opts := []ErrorOption{WithDetail(msg)}
	if cause != nil {
		opts = append(opts, WithCause(cause))
	}
	for _, p := range classifyPatterns {
		if !p.re.MatchString(msg) {
			continue
		}
		// Catalog messages use placeholders the raw text cannot fill, so keep
		// the template only where it renders cleanly.
		if needsContext(p.kind, p.subkind, ctx) {
			opts = append(opts, WithMessage(msg))
		}
		return NewError(p.kind, p.subkind, ctx, opts...)
	}
	return NewError(KindSystem, SubUnknown, ctx, opts...)
}

// needsContext reports whether a template's message keeps unfilled
// placeholders after rendering with ctx.
func needsContext(kind ErrorKind, subkind string, ctx map[string]any) bool {
	t, ok := lookupTemplate(kind, subkind)
	if !ok {
		return false
	}
	return placeholderRe.MatchString(render(t.message, ctx))
}

var placeholderRe = regexp.MustCompile(`\{[a-z_]+\}`)

func withDefault(ctx map[string]any, key string, value any) map[string]any {
	out := copyContext(ctx)
	if out == nil {
		out = map[string]any{}
	}
	if _, ok := out[key]; !ok {
		out[key] = value
	}
	return out
}
