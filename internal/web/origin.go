package web

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// originChecker returns the websocket CheckOrigin func for the allowlist.
// An empty list accepts every origin; otherwise requests without a matching
// Origin header are refused.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}

	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if normalized, ok := normalizeOrigin(origin); ok {
			set[normalized] = struct{}{}
		}
	}

	return func(r *http.Request) bool {
		normalized, ok := normalizeOrigin(r.Header.Get("Origin"))
		if !ok {
			return false
		}
		_, ok = set[normalized]
		return ok
	}
}

func normalizeOrigin(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return fmt.Sprintf("%s://%s", strings.ToLower(u.Scheme), strings.ToLower(u.Host)), true
}
