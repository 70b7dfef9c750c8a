// Package middleware holds HTTP middleware shared by hived's listeners.
package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"github.com/kestrelworks/hive/internal/logger"
)

const headerRequestID = "X-Request-ID"

// RequestID tags each request with an id: the caller's X-Request-ID when
// present, otherwise a fresh one. The id lands in the request context for
// log correlation and is echoed on the response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = newRequestID()
		}

		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	})
}

// newRequestID returns 16 random bytes, hex encoded.
func newRequestID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
