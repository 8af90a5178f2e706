// Package middleware provides HTTP middlewares for caller identity and logging.
package middleware

import (
	"context"
	"net/http"

	"github.com/atinyakov/GVMBot/internal/models"
)

type ctxKey string

const callerKey ctxKey = "caller"

// Headers carrying the chat identity of the caller.
const (
	CallerIDHeader   = "X-Caller-ID"
	CallerNameHeader = "X-Caller-Name"
)

// CallerIdentity reads the chat identity from the request headers and stores
// it in the request context. Requests without a caller id are rejected with
// 401. The health endpoint is exempt.
//
// When the server requires client certificates, the certificate Common Name
// is used as the display name if the request does not carry one.
func CallerIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" {
			next.ServeHTTP(w, r)
			return
		}
		id := r.Header.Get(CallerIDHeader)
		if id == "" {
			http.Error(w, "caller id required", http.StatusUnauthorized)
			return
		}
		name := r.Header.Get(CallerNameHeader)
		if name == "" && r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
			name = r.TLS.PeerCertificates[0].Subject.CommonName
		}
		ctx := WithCaller(r.Context(), models.Caller{ID: id, Name: name})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithCaller returns a copy of ctx carrying caller.
func WithCaller(ctx context.Context, caller models.Caller) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// GetCallerFromContext extracts the caller stored by CallerIdentity.
// The second result is false if none is present.
func GetCallerFromContext(ctx context.Context) (models.Caller, bool) {
	c, ok := ctx.Value(callerKey).(models.Caller)
	return c, ok
}
