// Package session carries the caller's credentials explicitly through
// context instead of any process-wide store.
package session

import (
	"context"
	"strings"
)

type ctxKey string

const sessionKey ctxKey = "clinic.session"

// Session is the per-request identity forwarded to upstream collaborators.
type Session struct {
	Token     string
	RequestID string
}

// WithSession stores s in ctx.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// FromContext extracts the session if present.
func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey).(Session)
	return s, ok
}

// BearerToken pulls the token out of an Authorization header value.
func BearerToken(header string) string {
	const prefix = "bearer "
	header = strings.TrimSpace(header)
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
