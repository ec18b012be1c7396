package api

import (
	"net/http"
	"net/url"
)

// RequireSameOrigin rejects cross-origin browser requests on state-changing
// endpoints. Requests without an Origin header (CLI clients, curl) pass.
func RequireSameOrigin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next(w, r)
			return
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host != r.Host {
			http.Error(w, "Cross-origin request rejected", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}
