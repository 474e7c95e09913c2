package server

import (
	"context"

	"github.com/chalvern/streamrpc/streamctx"
)

// inFlightCall is the server-side per-call state: the stream context bound
// to this call and a cancel func the engine uses to abort the dispatched
// goroutine if the transport dies mid-call.
type inFlightCall struct {
	callID string
	sctx   *streamctx.Context
	cancel context.CancelFunc
}
