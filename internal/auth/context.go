package auth

import (
	"context"
	"strings"
)

type ctxKey string

const callerKey ctxKey = "auth_caller_id"

// ContextWithCaller stores the authenticated account id in the context.
func ContextWithCaller(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, callerKey, strings.TrimSpace(accountID))
}

// CallerFromContext extracts the authenticated account id from context.
func CallerFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(callerKey).(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}
