package utils

import (
	"context"

	"bitbucket.org/letmesee/nomus_sync_backend/appctx"
)

// Alias the shared context key type so call sites don't import appctx directly.
type contextKey = appctx.ContextKey

var (
	ContextKeyTenantGroupId = appctx.ContextKeyTenantGroupId
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
	ContextKeySyncRunId     = appctx.ContextKeySyncRunId
)

func GetTenantGroupIdFromContext(ctx context.Context) (int64, bool) {
	return appctx.GetInt64(ctx, ContextKeyTenantGroupId)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func GetSyncRunIdFromContext(ctx context.Context) (uint, bool) {
	return appctx.GetUint(ctx, ContextKeySyncRunId)
}

func SetTenantGroupIdInContext(ctx context.Context, tenantGroupId int64) context.Context {
	return appctx.Set(ctx, ContextKeyTenantGroupId, tenantGroupId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func SetSyncRunIdInContext(ctx context.Context, runId uint) context.Context {
	return appctx.Set(ctx, ContextKeySyncRunId, runId)
}
