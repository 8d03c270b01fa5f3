package core

import "strings"

// normalizeNickname is the comparison form of an alias.
func normalizeNickname(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ResolveOne maps a ledger nickname to a canonical profile key.
//
// An exact match on a profile key wins. Otherwise aliases are compared
// case-insensitively after trimming, walking profiles in snapshot order;
// the first profile listing the alias wins.
func ResolveOne(nickname string, snap ProfileSnapshot) (string, bool) {
	if _, ok := snap.profiles[nickname]; ok {
		return nickname, true
	}

	want := normalizeNickname(nickname)
	if want == "" {
		return "", false
	}

	var key string
	snap.each(func(p PlayerProfile) bool {
		for _, alias := range p.Nicknames {
			if normalizeNickname(alias) == want {
				key = p.Key
				return false
			}
		}
		return true
	})
	return key, key != ""
}

// Resolution partitions a batch's nicknames.
type Resolution struct {
	// Matched maps each resolved nickname to its profile key.
	Matched map[string]string
	// Unmatched lists nicknames with no profile, in input order.
	Unmatched []string
}

// Complete reports whether every nickname resolved.
func (r Resolution) Complete() bool {
	return len(r.Unmatched) == 0
}

// ResolveMany resolves every nickname against one snapshot. Repeated
// nicknames are resolved once.
func ResolveMany(nicknames []string, snap ProfileSnapshot) Resolution {
	res := Resolution{Matched: make(map[string]string, len(nicknames))}
	seen := make(map[string]struct{}, len(nicknames))
	for _, n := range nicknames {
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		if key, ok := ResolveOne(n, snap); ok {
			res.Matched[n] = key
		} else {
			res.Unmatched = append(res.Unmatched, n)
		}
	}
	return res
}

// UnmatchedError builds the PlayerMatching error for a partial resolution.
func (r Resolution) UnmatchedError() *UploadError {
	if r.Complete() {
		return nil
	}
	return NewError(KindPlayerMatching, SubUnmatchedPlayers, map[string]any{
		"nicknames": append([]string(nil), r.Unmatched...),
		"count":     len(r.Unmatched),
	})
}
