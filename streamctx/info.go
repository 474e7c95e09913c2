package streamctx

import "github.com/chalvern/streamrpc/codec"

// Info is the per-stream, per-call record: identity, kind, element codec,
// and whichever side's concrete endpoint/collector this process holds for
// it.
type Info struct {
	CallID   string
	StreamID string
	Kind     Kind
	Elem     codec.Codec

	// Encode is set for an outgoing stream: encodes one local element to
	// its wire payload.
	Encode func(v interface{}) (string, error)
	// Decode is set for an incoming stream: decodes a wire payload into the
	// element value pushed onto the stream's channel.
	Decode func(payload string) (interface{}, error)
	// Producer is set for an outgoing stream: how the pump collects local
	// elements to send.
	Producer Producer

	// Endpoint is the receive-side handle materialized by prepareIncoming:
	// *ColdStream, *HotBroadcaster, or *StateStream.
	Endpoint interface{}
}
