package web

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/JonMunkholm/putr/internal/core"
	"github.com/go-chi/chi/v5"
)

const timeFormat = time.RFC3339

// recentDefault is the number of games shown when n is absent.
const recentDefault = 5

// parseIntParam parses a positive integer query parameter with a default
// value and an upper bound.
func parseIntParam(r *http.Request, name string, defaultVal, maxVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	if i > maxVal {
		return maxVal
	}
	return i
}

func sortStrings(s []string) { sort.Strings(s) }

// handleListPlayers returns every profile from the read cache.
func (s *Server) handleListPlayers(w http.ResponseWriter, r *http.Request) {
	players, err := s.service.Players(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"players": players, "count": len(players)})
}

// handleRecentGames returns a player's last n games. The key may be any
// alias.
func (s *Server) handleRecentGames(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	n := parseIntParam(r, "n", recentDefault, 100)

	recent, err := s.service.RecentGames(r.Context(), key, n)
	if core.IsKind(err, core.KindPersistence, core.SubPlayerMissing) {
		respondErrorStatus(w, r, err, http.StatusNotFound)
		return
	}
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, recent)
}

// handleStatus reports the state machine and snapshot count.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.Status(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, status)
}

// handleAuditLog lists recent audit entries.
func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 50, 500)
	entries, err := s.audit.Recent(r.Context(), limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"entries": entries})
}

// handleHealth pings the profile store.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{"status": "ok", "time": nowUTC().Format(timeFormat)}
	if err := s.service.Ping(r.Context()); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "unavailable"
		body["error"] = core.Classify(err, nil).Message
	}
	writeJSON(w, r, status, body)
}
