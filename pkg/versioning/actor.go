package versioning

import "context"

// SystemActor is recorded when no principal is bound to a session
const SystemActor = "system"

type actorKey struct{}

// WithActor binds the acting principal to ctx
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

// ActorFromContext returns the principal bound by WithActor
func ActorFromContext(ctx context.Context) (string, bool) {
	actorID, ok := ctx.Value(actorKey{}).(string)
	if !ok || actorID == "" {
		return "", false
	}
	return actorID, true
}
