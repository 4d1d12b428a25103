package generic

import "context"

type actorKey struct{}

// WithActorID returns a context carrying the id of whoever performs the
// operation. Journal entries record it as their actor.
func WithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

// ActorFromContext returns the actor id, or "system" when none was set.
func ActorFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey{}).(string); ok && v != "" {
		return v
	}
	return "system"
}
