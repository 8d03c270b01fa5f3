package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/putr/internal/core"
)

// ErrorBody is the JSON envelope for every error response.
type ErrorBody struct {
	Error *core.UploadError `json:"error"`
}

// WriteError renders ue with status.
func WriteError(w http.ResponseWriter, status int, ue *core.UploadError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{Error: ue})
}

func itoa(i int) string { return strconv.Itoa(i) }
