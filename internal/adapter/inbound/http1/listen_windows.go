//go:build windows

package http1

import (
	"context"
	"net"
)

// listen binds addr. Port reuse options are not applied on Windows.
func listen(ctx context.Context, addr string, _ bool) (net.Listener, error) {
	var lc net.ListenConfig
	return lc.Listen(ctx, "tcp", addr)
}
