package middleware

import (
	"net/http"
	"strings"
)

// SkipCompressionForEvents wraps a compression middleware so the
// newline-delimited JSON events endpoint is never buffered behind a gzip
// writer, which would defeat its incremental flushing.
func SkipCompressionForEvents(compress func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressed := compress(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/events") {
				next.ServeHTTP(w, r)
				return
			}
			compressed.ServeHTTP(w, r)
		})
	}
}
