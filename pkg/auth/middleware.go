package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

// HeaderAPIKey is the header the shared secret is read from.
const HeaderAPIKey = "X-API-Key"

// Middleware enforces the guard on every request except the excluded
// paths (discovery, health, metrics stay open). An excluded path
// matches exactly or as a path-segment prefix, so excluding "/" opens
// only the root route.
func Middleware(guard *Guard, excluded ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !guard.Enabled() || isExcluded(r.URL.Path, excluded) {
				next.ServeHTTP(w, r)
				return
			}

			if err := guard.Authorize(r.Header.Get(HeaderAPIKey)); err != nil {
				writeUnauthorized(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isExcluded(path string, excluded []string) bool {
	for _, ex := range excluded {
		if path == ex || strings.HasPrefix(path, ex+"/") {
			return true
		}
	}
	return false
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"detail": "Invalid or missing API key",
	})
}
