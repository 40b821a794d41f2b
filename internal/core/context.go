package core

import "context"

type contextKey string

const (
	ctxKeyTrigger    contextKey = "load_trigger"
	ctxKeyRemoteAddr contextKey = "load_remote_addr"
)

// Trigger names what started a load.
type Trigger string

const (
	TriggerCLI   Trigger = "cli"
	TriggerWatch Trigger = "watch"
	TriggerHTTP  Trigger = "http"
)

// ContextWithTrigger records what started the load run under ctx.
func ContextWithTrigger(ctx context.Context, t Trigger) context.Context {
	return context.WithValue(ctx, ctxKeyTrigger, t)
}

// TriggerFromContext returns the trigger stored in ctx, TriggerCLI if none.
func TriggerFromContext(ctx context.Context) Trigger {
	if v, ok := ctx.Value(ctxKeyTrigger).(Trigger); ok {
		return v
	}
	return TriggerCLI
}

// ContextWithRemoteAddr records the client address of an HTTP load.
func ContextWithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, ctxKeyRemoteAddr, addr)
}

// RemoteAddrFromContext returns the client address stored in ctx, or "".
func RemoteAddrFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyRemoteAddr).(string); ok {
		return v
	}
	return ""
}
