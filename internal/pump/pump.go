// Package pump implements the outgoing-stream pump and incoming-hot-stream
// feeder shared by the client and server engines. The pump logic is
// identical on both sides — a stream doesn't know which side of the call
// opened it — so it lives here once rather than twice.
package pump

import (
	"context"
	"sync"

	"github.com/chalvern/streamrpc/internal/rpclog"
	"github.com/chalvern/streamrpc/status"
	"github.com/chalvern/streamrpc/streamctx"
	"github.com/chalvern/streamrpc/wire"
)

// Sender abstracts "send one wire message for this call", so pump doesn't
// need to know about transport.Transport or engine bookkeeping.
type Sender func(ctx context.Context, msg wire.Message) error

// RunOutgoing drains sctx's outgoingStreams queue for the lifetime of ctx:
// each registered stream gets its own child goroutine that collects the
// local Producer and sends StreamMessage/StreamFinished/StreamCancel, in
// order, per stream, via a dedicated per-call mutex so that no two
// composite sends for the same call interleave on the wire.
// maxElementSize, when positive, bounds
// each encoded element the way provider.MethodConfig.MaxSendMessageSize
// bounds the scalar payload; an oversized element cancels the stream.
func RunOutgoing(ctx context.Context, sctx *streamctx.Context, serviceFqn, callID string, maxElementSize int, send Sender, log rpclog.Logger) {
	var mu sync.Mutex
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		info, ok := sctx.NextOutgoing(ctx)
		if !ok {
			return
		}
		wg.Add(1)
		go func(info *streamctx.Info) {
			defer wg.Done()
			runOneOutgoing(ctx, &mu, sctx, serviceFqn, callID, maxElementSize, info, send, log)
		}(info)
	}
}

func runOneOutgoing(ctx context.Context, mu *sync.Mutex, sctx *streamctx.Context, serviceFqn, callID string, maxElementSize int, info *streamctx.Info, send Sender, log rpclog.Logger) {
	sendLocked := func(msg wire.Message) error {
		mu.Lock()
		defer mu.Unlock()
		return send(ctx, msg)
	}

	onElement := func(v interface{}) error {
		payload, err := info.Encode(v)
		if err != nil {
			return err
		}
		if maxElementSize > 0 && len(payload) > maxElementSize {
			return status.Errorf(status.ResourceExhausted,
				"stream element on %s is %d bytes, limit %d", info.StreamID, len(payload), maxElementSize)
		}
		return sendLocked(wire.NewStreamMessage(callID, serviceFqn, info.StreamID, payload))
	}

	err := info.Producer.Collect(ctx, onElement)
	defer sctx.MarkOutgoingDone(info.StreamID)
	if err != nil {
		cause := status.ToSerializedException(err)
		if sendErr := sendLocked(wire.NewStreamCancel(callID, serviceFqn, info.StreamID, cause)); sendErr != nil {
			log.Warnw("failed to send StreamCancel", "callId", callID, "streamId", info.StreamID, "err", sendErr)
		}
		return
	}
	if sendErr := sendLocked(wire.NewStreamFinished(callID, serviceFqn, info.StreamID)); sendErr != nil {
		log.Warnw("failed to send StreamFinished", "callId", callID, "streamId", info.StreamID, "err", sendErr)
	}
}

// RunHotFeeders drains sctx's incomingHotFlows queue for the lifetime of
// ctx, starting each hot/state stream's feeder goroutine as it appears.
func RunHotFeeders(ctx context.Context, sctx *streamctx.Context) {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		handle, ok := sctx.NextHotFlow(ctx)
		if !ok {
			return
		}
		wg.Add(1)
		go func(h streamctx.HotFlowHandle) {
			defer wg.Done()
			h.Run(ctx)
		}(handle)
	}
}
