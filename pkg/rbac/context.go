package rbac

import (
	"context"
)

type contextKey string

const (
	creatorContextKey contextKey = "rbac_creator"
	actorContextKey   contextKey = "rbac_actor"
	clientContextKey  contextKey = "rbac_client"
)

// RequestClient carries the connection-level details the Audit component
// records alongside every privileged operation.
type RequestClient struct {
	IP        string
	UserAgent string
}

// CreatorFromContext retrieves the caller's validated tenant key.
func CreatorFromContext(ctx context.Context) (string, bool) {
	c, ok := ctx.Value(creatorContextKey).(string)
	return c, ok
}

// ContextWithCreator attaches the validated tenant key to the context.
func ContextWithCreator(ctx context.Context, creator string) context.Context {
	return context.WithValue(ctx, creatorContextKey, creator)
}

// ActorFromContext retrieves the optional acting-user identity decoded
// from a secondary actor-attribution token (§4.5/§9).
func ActorFromContext(ctx context.Context) (string, bool) {
	a, ok := ctx.Value(actorContextKey).(string)
	return a, ok
}

// ContextWithActor attaches the acting-user identity to the context.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey, actor)
}

// ClientFromContext retrieves the request's IP/user-agent for audit rows.
func ClientFromContext(ctx context.Context) (RequestClient, bool) {
	c, ok := ctx.Value(clientContextKey).(RequestClient)
	return c, ok
}

// ContextWithClient attaches request client details to the context.
func ContextWithClient(ctx context.Context, c RequestClient) context.Context {
	return context.WithValue(ctx, clientContextKey, c)
}
