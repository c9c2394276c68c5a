package security

import (
	"net/http"
	"net/url"
	"strings"
)

// OriginChecker validates the Origin header of websocket upgrades.
// An empty allow list admits every origin.
type OriginChecker struct {
	allowed []string
}

// NewOriginChecker creates an origin checker. Entries are exact origins
// ("https://chat.example.com") or wildcard hosts ("*.example.com").
func NewOriginChecker(allowedOrigins []string) *OriginChecker {
	allowed := make([]string, 0, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			allowed = append(allowed, strings.TrimRight(o, "/"))
		}
	}
	return &OriginChecker{allowed: allowed}
}

// CheckOrigin reports whether r's origin is allowed. Requests without an
// Origin header (native mobile clients) are always allowed.
func (oc *OriginChecker) CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(oc.allowed) == 0 {
		return true
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	host := parsed.Hostname()

	for _, allowed := range oc.allowed {
		if strings.EqualFold(origin, allowed) {
			return true
		}
		if suffix, ok := strings.CutPrefix(allowed, "*."); ok {
			if host == suffix || strings.HasSuffix(host, "."+suffix) {
				return true
			}
		}
	}
	return false
}
