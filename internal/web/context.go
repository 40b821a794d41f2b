package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/geoload/internal/core"
)

// withLoadMetadata tags ctx as an HTTP-triggered load. The client address
// comes from ClientAddr; a request that bypassed it falls back to the
// connection address.
func withLoadMetadata(ctx context.Context, r *http.Request) context.Context {
	ctx = core.ContextWithTrigger(ctx, core.TriggerHTTP)
	if core.RemoteAddrFromContext(ctx) == "" {
		ctx = core.ContextWithRemoteAddr(ctx, r.RemoteAddr)
	}
	return ctx
}
