// Package auditctx carries the caller of an HTTP request down to the
// services that write audit entries.
package auditctx

import "context"

// Actor is who made a request and from where. UserID and HealthID stay empty
// until a bearer token has been accepted.
type Actor struct {
	UserID    string
	HealthID  string
	IPAddress string
	UserAgent string
}

// Authenticated reports whether the actor carries a verified identity.
func (a Actor) Authenticated() bool {
	return a.UserID != ""
}

type ctxKey struct{}

// WithActor returns a copy of ctx carrying actor.
func WithActor(ctx context.Context, actor Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKey{}, actor)
}

// FromContext returns the actor stored on ctx, if any.
func FromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(ctxKey{}).(Actor)
	return actor, ok
}

// WithIdentity records the authenticated user on ctx and keeps the network
// details already captured for the request.
func WithIdentity(ctx context.Context, userID, healthID string) context.Context {
	actor, _ := FromContext(ctx)
	actor.UserID = userID
	actor.HealthID = healthID
	return WithActor(ctx, actor)
}
