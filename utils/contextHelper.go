package utils

import (
	"context"

	"github.com/inboundr/art-framer-sub005/appctx"
)

var (
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
	ContextKeyAdminActor    = appctx.ContextKeyAdminActor
)

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func GetAdminActorFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyAdminActor)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func SetAdminActorInContext(ctx context.Context, actor string) context.Context {
	return appctx.Set(ctx, ContextKeyAdminActor, actor)
}
