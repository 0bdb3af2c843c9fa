package audit

import "context"

type actorContextKey struct{}

// WithActor returns a context carrying the actor responsible for the request.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext returns the actor stored in ctx, defaulting to System.
func ActorFromContext(ctx context.Context) Actor {
	if ctx == nil {
		return System()
	}
	if actor, ok := ctx.Value(actorContextKey{}).(Actor); ok {
		return actor
	}
	return System()
}
