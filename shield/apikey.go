package shield

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// APIKeyHeader is the header carrying the master API key.
const APIKeyHeader = "X-API-Key"

// APIKey returns middleware that requires the master API key on every
// request except the listed exempt path prefixes (health checks, the
// public tracking pixel). Comparison is constant-time.
func APIKey(masterKey string, exemptPrefixes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, p := range exemptPrefixes {
				if strings.HasPrefix(r.URL.Path, p) {
					next.ServeHTTP(w, r)
					return
				}
			}

			key := r.Header.Get(APIKeyHeader)
			if key == "" {
				unauthorized(w, "missing_api_key", "X-API-Key header is required")
				return
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(masterKey)) != 1 {
				unauthorized(w, "invalid_api_key", "the provided API key is invalid")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, kind, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   kind,
		"message": msg,
	})
}
