package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/handsomefox/watchwise/internal/auth"
)

const RequestIDHeader = "X-Request-Id"

type ctxKeyRequestID struct{}

func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyRequestID{}).(string)
	return v
}

// MiddlewareRequestID echoes the caller's request id or assigns a new one.
func MiddlewareRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if rid == "" || len(rid) > 128 {
			rid = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, rid)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID{}, rid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) MiddlewareRequireAuth(next http.Handler) http.Handler {
	reject := Adapt(func(http.ResponseWriter, *http.Request) error {
		return unauthorized("missing or invalid bearer token")
	})
	return auth.RequireUser(h.tokens, reject)(next)
}
