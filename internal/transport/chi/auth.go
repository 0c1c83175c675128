package chi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	bwerr "github.com/mrz1836/balancewatch/pkg/errors"
)

// exemptPaths bypass authentication.
var exemptPaths = map[string]struct{}{ //nolint:gochecknoglobals // read-only lookup table
	"/health":  {},
	"/metrics": {},
}

// BearerAuthMiddleware rejects requests without one of apiKeys as a Bearer
// token. With no keys configured it passes everything through.
func BearerAuthMiddleware(apiKeys []string) func(http.Handler) http.Handler {
	var keys [][]byte
	for _, k := range apiKeys {
		if k != "" {
			keys = append(keys, []byte(k))
		}
	}

	return func(next http.Handler) http.Handler {
		if len(keys) == 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := exemptPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			const bearerPrefix = "Bearer "
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, bearerPrefix) {
				writeError(w, http.StatusUnauthorized, bwerr.ErrAuthentication.Code, "missing bearer token")
				return
			}

			token := []byte(auth[len(bearerPrefix):])
			for _, k := range keys {
				if subtle.ConstantTimeCompare(token, k) == 1 {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusUnauthorized, bwerr.ErrAuthentication.Code, "invalid api key")
		})
	}
}
