package audit

import "context"

type actorKey struct{}

// SystemActor is recorded for mutations without an authenticated caller,
// such as the operator CLI and the repair sweep.
const SystemActor = "system"

// WithActor attaches the acting principal to the context.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// Actor returns the acting principal from the context, or SystemActor.
func Actor(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return SystemActor
}
