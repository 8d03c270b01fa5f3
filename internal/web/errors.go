package web

// errors.go renders every failure as a structured UploadError.
//
// The error flow:
//  1. Handler receives an error from the service
//  2. Calls respondError(w, r, err)
//  3. core.Classify adapts it to an UploadError; structured errors pass through
//  4. The error and its cause are logged with the request id
//  5. statusFor picks the HTTP status from kind and subkind

import (
	"net/http"

	"github.com/JonMunkholm/putr/internal/core"
	"github.com/JonMunkholm/putr/internal/logging"
	mw "github.com/JonMunkholm/putr/internal/web/middleware"
)

// respondError logs err and writes its structured form.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	respondErrorStatus(w, r, err, 0)
}

// respondErrorStatus is respondError with a fixed status. Zero derives the
// status from the error.
func respondErrorStatus(w http.ResponseWriter, r *http.Request, err error, status int) {
	ue := core.Classify(err, nil)
	if status == 0 {
		status = statusFor(ue)
	}

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"code", ue.Code(),
		"error_id", ue.ID,
		"error", ue.Error(),
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Info("request rejected", attrs...)
	}

	mw.WriteError(w, status, ue)
}

// statusFor maps an error to an HTTP status.
func statusFor(ue *core.UploadError) int {
	switch ue.Kind {
	case core.KindFileValidation:
		switch ue.Subkind {
		case core.SubFileTooLarge:
			return http.StatusRequestEntityTooLarge
		case core.SubReadFailed:
			return http.StatusBadRequest
		}
		return http.StatusUnprocessableEntity

	case core.KindParsing, core.KindDataValidation, core.KindPlayerMatching:
		return http.StatusUnprocessableEntity

	case core.KindDuplicate:
		return http.StatusConflict

	case core.KindPersistence:
		switch ue.Subkind {
		case core.SubConflict, core.SubPlayerMissing:
			return http.StatusConflict
		case core.SubFetchFailed:
			return http.StatusServiceUnavailable
		}
		return http.StatusInternalServerError

	case core.KindSystem:
		switch ue.Subkind {
		case core.SubOperationInProgress, core.SubSnapshotNotLatest:
			return http.StatusConflict
		case core.SubNoSnapshot, core.SubSnapshotNotFound:
			return http.StatusNotFound
		case core.SubSnapshotCorrupt:
			return http.StatusUnprocessableEntity
		case core.SubStorageQuota:
			return http.StatusInsufficientStorage
		case core.SubCancelled:
			return http.StatusRequestTimeout
		}
		return http.StatusInternalServerError

	case core.KindNetwork:
		if ue.Subkind == core.SubTimeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable

	case core.KindPermission:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// badRequest reports a malformed request that never reached the service.
func badRequest(w http.ResponseWriter, r *http.Request, sub string, reason string) {
	respondError(w, r, core.NewError(core.KindFileValidation, sub, map[string]any{"reason": reason},
		core.WithDetail(reason)))
}
