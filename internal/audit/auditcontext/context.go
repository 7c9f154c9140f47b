// Package auditcontext carries request metadata recorded on audit entries.
package auditcontext

import (
	"context"
	"strings"
)

type ctxKey string

const (
	requestIDKey ctxKey = "audit.request_id"
	ipAddressKey ctxKey = "audit.ip_address"
	userAgentKey ctxKey = "audit.user_agent"
	actorTypeKey ctxKey = "audit.actor_type"
	actorIDKey   ctxKey = "audit.actor_id"
)

func WithRequestID(ctx context.Context, value string) context.Context {
	return context.WithValue(ctx, requestIDKey, strings.TrimSpace(value))
}

func WithIPAddress(ctx context.Context, value string) context.Context {
	return context.WithValue(ctx, ipAddressKey, strings.TrimSpace(value))
}

func WithUserAgent(ctx context.Context, value string) context.Context {
	return context.WithValue(ctx, userAgentKey, strings.TrimSpace(value))
}

func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	ctx = context.WithValue(ctx, actorTypeKey, strings.TrimSpace(actorType))
	return context.WithValue(ctx, actorIDKey, strings.TrimSpace(actorID))
}

func RequestIDFromContext(ctx context.Context) string { return stringValue(ctx, requestIDKey) }
func IPAddressFromContext(ctx context.Context) string { return stringValue(ctx, ipAddressKey) }
func UserAgentFromContext(ctx context.Context) string { return stringValue(ctx, userAgentKey) }

func ActorFromContext(ctx context.Context) (string, string) {
	return stringValue(ctx, actorTypeKey), stringValue(ctx, actorIDKey)
}

func stringValue(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(key).(string)
	return value
}
