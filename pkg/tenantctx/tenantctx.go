package tenantctx

import "context"

type keyType string

const (
	TenantIDKey keyType = "tenant_id"
	ActorIDKey  keyType = "actor_id"
)

func TenantID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(TenantIDKey).(int64)
	return id, ok
}

func WithTenantID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, TenantIDKey, id)
}

func ActorID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ActorIDKey).(string)
	return id, ok
}

func WithActorID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, ActorIDKey, id)
}
