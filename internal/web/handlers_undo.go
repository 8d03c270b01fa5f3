package web

import (
	"net/http"

	"github.com/JonMunkholm/putr/internal/core"
	"github.com/go-chi/chi/v5"
)

// handleUndoPreview describes the newest snapshot and whether it can be
// restored.
func (s *Server) handleUndoPreview(w http.ResponseWriter, r *http.Request) {
	preview, err := s.service.PreviewUndo(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, preview)
}

// safetyResponse reports a passed pre-flight check.
type safetyResponse struct {
	SnapshotID  string `json:"snapshotId"`
	GameDate    string `json:"gameDate"`
	PlayerCount int    `json:"playerCount"`
	Safe        bool   `json:"safe"`
}

// handleUndoSafety runs the read-only pre-flight for one snapshot.
func (s *Server) handleUndoSafety(w http.ResponseWriter, r *http.Request) {
	snap, err := s.service.CheckUndoSafety(r.Context(), chi.URLParam(r, "snapshotID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, safetyResponse{
		SnapshotID:  snap.ID,
		GameDate:    snap.GameDate,
		PlayerCount: snap.PlayerCount,
		Safe:        true,
	})
}

// handleUndo restores a snapshot. Without an id the newest one is used.
func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.Undo(r.Context(), chi.URLParam(r, "snapshotID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// handleReset zeroes every player's statistics after backing them up.
// The request must carry ?confirm=reset.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "reset" {
		respondError(w, r, core.NewError(core.KindPermission, core.SubDenied,
			map[string]any{"reason": "missing confirmation"},
			core.WithMessage("Reset must be confirmed"),
			core.WithHints("Repeat the request with confirm=reset")))
		return
	}
	res, err := s.service.ResetStats(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// backupView lists a snapshot without its profile payloads.
type backupView struct {
	ID          string   `json:"id"`
	CreatedAt   string   `json:"createdAt"`
	GameDate    string   `json:"gameDate"`
	SourceName  string   `json:"sourceName,omitempty"`
	Reason      string   `json:"reason"`
	PlayerCount int      `json:"playerCount"`
	Keys        []string `json:"keys"`
}

// handleListBackups lists stored snapshots, newest first.
func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.service.ListBackups(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	out := make([]backupView, len(snaps))
	for i, snap := range snaps {
		keys := make([]string, 0, len(snap.Profiles))
		for k := range snap.Profiles {
			keys = append(keys, k)
		}
		sortStrings(keys)
		out[i] = backupView{
			ID:          snap.ID,
			CreatedAt:   snap.CreatedAt.UTC().Format(timeFormat),
			GameDate:    snap.GameDate,
			SourceName:  snap.SourceName,
			Reason:      snap.Reason,
			PlayerCount: snap.PlayerCount,
			Keys:        keys,
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"backups": out})
}
