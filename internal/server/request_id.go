package server

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"github.com/sambrabizz-star/thevideo/internal/observability/logging"
)

const requestIDHeader = "X-Request-ID"

// requestIDMiddleware tags every request with an identifier that flows into
// the logs and back to the client. An inbound header is trusted as-is so IDs
// survive proxies.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = newRequestID()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := logging.ContextWithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func newRequestID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(buf)
}
