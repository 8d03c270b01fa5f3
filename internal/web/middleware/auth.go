package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/JonMunkholm/putr/internal/core"
	"github.com/JonMunkholm/putr/internal/logging"
)

// APIKeyHeader carries the caller's key.
const APIKeyHeader = "X-API-Key"

// apiKey is one configured key. Name is the audit actor.
type apiKey struct {
	name  string
	value []byte
}

// parseKeys accepts "name:key" or a bare key. Bare keys are named by
// position so audit entries never contain the secret.
func parseKeys(raw []string) []apiKey {
	keys := make([]apiKey, 0, len(raw))
	for i, k := range raw {
		name, value, ok := strings.Cut(k, ":")
		if !ok {
			name, value = "key-"+itoa(i+1), k
		}
		name, value = strings.TrimSpace(name), strings.TrimSpace(value)
		if value == "" {
			continue
		}
		keys = append(keys, apiKey{name: name, value: []byte(value)})
	}
	return keys
}

// APIKeyAuth validates the X-API-Key header against keys. When require is
// false requests without a key pass through anonymously; a key that is sent
// must still be valid. The matching key's name becomes the audit actor.
func APIKeyAuth(keys []string, require bool) func(http.Handler) http.Handler {
	parsed := parseKeys(keys)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get(APIKeyHeader)
			if provided == "" {
				if !require {
					next.ServeHTTP(w, r)
					return
				}
				logging.FromContext(r.Context()).Warn("auth: missing API key",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
				)
				WriteError(w, http.StatusUnauthorized, core.NewError(core.KindPermission, core.SubDenied,
					map[string]any{"reason": "missing API key"}))
				return
			}

			name, ok := matchKey(provided, parsed)
			if !ok {
				logging.FromContext(r.Context()).Warn("auth: invalid API key",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
				)
				WriteError(w, http.StatusForbidden, core.NewError(core.KindPermission, core.SubDenied,
					map[string]any{"reason": "invalid API key"}))
				return
			}

			ctx := core.ContextWithActor(r.Context(), name)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// matchKey compares against every key in constant time so the duration does
// not reveal which key, if any, matched.
func matchKey(provided string, keys []apiKey) (string, bool) {
	var name string
	matched := 0
	for _, k := range keys {
		if subtle.ConstantTimeCompare([]byte(provided), k.value) == 1 {
			name = k.name
			matched = 1
		}
	}
	return name, matched == 1
}
