package client

import (
	"github.com/chalvern/streamrpc/codec"
	"github.com/chalvern/streamrpc/provider"
	"github.com/chalvern/streamrpc/status"
	"github.com/chalvern/streamrpc/transport"
	"github.com/chalvern/streamrpc/wire"
)

// callHandler builds the inbound state machine for one call:
// CallSuccess completes the deferred with the decoded value,
// CallException completes it with a reconstructed error,
// StreamMessage/StreamFinished/StreamCancel delegate to the call's Stream
// Context, and CallData is a protocol violation on the client side.
func (e *Engine) callHandler(ac *activeCall, p *provider.Provider, bridge *codec.Bridge, info provider.CallInfo) transport.Handler {
	mc := p.MethodConfigs[info.CallableName]
	return func(msg wire.Message) bool {
		if msg.CallID != ac.callID {
			return false
		}

		switch msg.Kind {
		case wire.KindCallSuccess:
			if mc.MaxRecvMessageSize > 0 && len(msg.Payload) > mc.MaxRecvMessageSize {
				ac.complete(nil, status.Errorf(status.ResourceExhausted,
					"streamrpc/client: response payload for %s is %d bytes, limit %d", info.CallableName, len(msg.Payload), mc.MaxRecvMessageSize))
				return true
			}
			val, err := info.DecodeReturn(bridge, msg.Payload)
			ac.complete(val, err)
		case wire.KindCallException:
			ac.complete(nil, status.FromSerializedException(msg.Cause))
		case wire.KindStreamMessage:
			if err := ac.sctx.Deliver(msg.StreamID, msg.Payload); err != nil {
				e.logger.Warnw("streamrpc/client: dropping StreamMessage for unknown stream",
					"callId", ac.callID, "streamId", msg.StreamID, "err", err)
			}
		case wire.KindStreamFinished:
			if err := ac.sctx.Finish(msg.StreamID); err != nil {
				e.logger.Debugw("streamrpc/client: late StreamFinished after context close",
					"callId", ac.callID, "streamId", msg.StreamID)
			}
		case wire.KindStreamCancel:
			cause := status.FromSerializedException(msg.Cause)
			if err := ac.sctx.Cancel(msg.StreamID, cause); err != nil {
				e.logger.Debugw("streamrpc/client: late StreamCancel after context close",
					"callId", ac.callID, "streamId", msg.StreamID)
			}
		case wire.KindCallData:
			ac.complete(nil, status.Errorf(status.Internal, "streamrpc/client: protocol violation: CallData received for callId %s", ac.callID))
		}
		return true
	}
}
