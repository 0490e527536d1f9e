package shared

import "context"

type sessionContextKey struct{}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context. Nil when the request
// never went through the session middleware.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// SessionUserID returns the user of an enriched session, or "".
func SessionUserID(ctx context.Context) string {
	sess := SessionFromContext(ctx)
	if sess == nil || sess.State() != StateEnriched {
		return ""
	}
	return sess.User()
}
