package identity

import "context"

// Actor bundles the authenticated principal with the persona it currently
// acts as. Permission predicates take the whole actor so ownership can be
// re-checked independently of the persona match.
type Actor struct {
	Principal Principal
	Persona   Persona
}

type actorContextKey struct{}

// ContextWithActor stores the resolved actor in context.
func ContextWithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context, nil when logged out.
func ActorFromContext(ctx context.Context) *Actor {
	actor, _ := ctx.Value(actorContextKey{}).(*Actor)
	return actor
}
