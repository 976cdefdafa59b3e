package shared

import "context"

type sessionContextKey struct{}

type tenantContextKey struct{}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// ContextWithTenant pins a tenant identifier on the context. It takes
// precedence over the tenant stored in the session.
func ContextWithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, tenantID)
}

// TenantFromContext resolves the active tenant, first from an explicit
// context value, then from the session.
func TenantFromContext(ctx context.Context) (string, bool) {
	if id, ok := ctx.Value(tenantContextKey{}).(string); ok && id != "" {
		return id, true
	}
	if sess := SessionFromContext(ctx); sess != nil {
		if id := sess.Tenant(); id != "" {
			return id, true
		}
	}
	return "", false
}
