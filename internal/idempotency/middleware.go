package idempotency

import (
	"bytes"
	"net/http"
	"time"

	"github.com/mrgun/server/internal/auth"
)

const (
	// HeaderKey is the request header carrying the client's key.
	HeaderKey = "Idempotency-Key"

	// HeaderReplay marks a response served from the cache.
	HeaderReplay = "X-Idempotency-Replay"

	// DefaultTTL bounds how long a cached response keeps replaying.
	DefaultTTL = 24 * time.Hour
)

// responseWriter captures status, headers and body while passing them
// through to the client.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
	headers    map[string]string
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
		body:           &bytes.Buffer{},
		headers:        make(map[string]string),
	}
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

// captureHeaders snapshots the headers the handler set, once the
// response is complete.
func (rw *responseWriter) captureHeaders() {
	for key := range rw.ResponseWriter.Header() {
		rw.headers[key] = rw.ResponseWriter.Header().Get(key)
	}
}

// Middleware replays cached responses for repeated Idempotency-Key
// requests. Keys are scoped to the authenticated account, method and
// path: one account can never replay another's response, and the same
// key may be reused across endpoints. Only 2xx responses are cached,
// so a failed request can be retried with the same key.
func Middleware(store Store, ttl time.Duration) func(http.Handler) http.Handler {
	if ttl == 0 {
		ttl = DefaultTTL
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := r.Header.Get(HeaderKey)
			if rawKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			key := scopedKey(r, rawKey)

			if cached, found := store.Get(r.Context(), key); found {
				for k, v := range cached.Headers {
					w.Header().Set(k, v)
				}
				w.Header().Set(HeaderReplay, "true")
				w.WriteHeader(cached.StatusCode)
				w.Write(cached.Body)
				return
			}

			rw := newResponseWriter(w)
			next.ServeHTTP(rw, r)

			if rw.statusCode >= 200 && rw.statusCode < 300 {
				rw.captureHeaders()
				store.Set(r.Context(), key, &Response{
					StatusCode: rw.statusCode,
					Headers:    rw.headers,
					Body:       rw.body.Bytes(),
					CachedAt:   time.Now(),
				}, ttl)
			}
		})
	}
}

// scopedKey prefixes the client's key with the authenticated subject
// and the endpoint.
func scopedKey(r *http.Request, rawKey string) string {
	subject := ""
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		subject = claims.OperatorID()
	}
	return subject + ":" + r.Method + ":" + r.URL.Path + ":" + rawKey
}
