// Package authctx defines the opaque identity contract every core operation
// accepts. Resolving a bearer token into a Context is explicitly out of
// scope for this package — transport/http is expected to supply one, built
// however its deployment environment authenticates callers.
package authctx

import "context"

// Context carries the caller identity and authorization facts every
// workflow- and AI-router operation needs: which organization scopes
// visibility, and which roles gate transitions.
type Context struct {
	UserID string
	OrganizationID string
	Roles []string

	// Metadata carries narrow, optional extensions such as idempotency_key.
	// Callers should not rely on any other key being present.
	Metadata map[string]string
}

// HasRole reports whether the context carries the given role.
func (c Context) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the context carries any of the given roles.
// An empty candidate list means "no role requirement" and always passes.
func (c Context) HasAnyRole(roles []string) bool {
	if len(roles) == 0 {
		return true
	}
	for _, want := range roles {
		if c.HasRole(want) {
			return true
		}
	}
	return false
}

// IdempotencyKey returns the optional Create() idempotency key, if set.
func (c Context) IdempotencyKey() (string, bool) {
	if c.Metadata == nil {
		return "", false
	}
	key, ok := c.Metadata["idempotency_key"]
	return key, ok && key != ""
}

type contextKey struct{}

// WithContext returns a copy of ctx carrying actor, retrievable by FromContext.
// internal/server's auth middleware is the only expected writer; every other
// caller should only read.
func WithContext(ctx context.Context, actor Context) context.Context {
	return context.WithValue(ctx, contextKey{}, actor)
}

// FromContext returns the Context previously attached by WithContext, or
// false if ctx carries none.
func FromContext(ctx context.Context) (Context, bool) {
	actor, ok := ctx.Value(contextKey{}).(Context)
	return actor, ok
}
