// Package streamctx implements the per-call stream context: the registry
// of outgoing and incoming streams for one call, the endpoint construction
// for each stream kind, and the routing of inbound
// StreamMessage/StreamFinished/StreamCancel frames to the right channel.
package streamctx

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chalvern/streamrpc/codec"
	"go.uber.org/atomic"
)

// ErrContextClosed is the cause a still-open hot/state feeder observes when
// the owning Context is torn down before its stream finished or was
// cancelled, e.g. because the call itself was cancelled.
var ErrContextClosed = errors.New("streamrpc/streamctx: stream context closed")

// ErrUnknownStream is returned by Deliver/Finish/Cancel when the peer names
// a streamId this Context never registered.
type ErrUnknownStream struct{ StreamID string }

func (e *ErrUnknownStream) Error() string {
	return fmt.Sprintf("streamrpc/streamctx: unknown streamId %q", e.StreamID)
}

// HotFlowHandle signals that a hot (SharedHot/StateHot) receive-side stream
// has been materialized and needs its feeder scheduled; pushed onto the
// Context's hot-flow queue, drained by whichever engine (client or server)
// owns this Context.
type HotFlowHandle struct {
	StreamID string
	run      func(ctx context.Context)
}

// Run drives the feeder loop until the stream terminates or ctx is done.
func (h HotFlowHandle) Run(ctx context.Context) { h.run(ctx) }

// Context is the per-call stream registry: the incoming-stream records and
// their channels, the outgoing-stream queue, the hot-flow queue, and the
// monotonic stream-id counter.
type Context struct {
	callID string
	hotCfg HotConfig
	nextID atomic.Int64

	mu               sync.Mutex
	incomingStreams  map[string]*Info
	incomingChannels map[string]*queue[item]
	closed           bool

	outgoingStreams  *queue[*Info]
	incomingHotFlows *queue[HotFlowHandle]

	drainMu   sync.Mutex
	drainCond *sync.Cond
	live      int64
}

// New creates a stream context for one call.
func New(callID string, hotCfg HotConfig) *Context {
	c := &Context{
		callID:           callID,
		hotCfg:           hotCfg,
		incomingStreams:  make(map[string]*Info),
		incomingChannels: make(map[string]*queue[item]),
		outgoingStreams:  newQueue[*Info](),
		incomingHotFlows: newQueue[HotFlowHandle](),
	}
	c.drainCond = sync.NewCond(&c.drainMu)
	return c
}

func (c *Context) trackOpened() {
	c.drainMu.Lock()
	c.live++
	c.drainMu.Unlock()
}

func (c *Context) trackClosed() {
	c.drainMu.Lock()
	if c.live > 0 {
		c.live--
	}
	c.drainCond.Broadcast()
	c.drainMu.Unlock()
}

// LiveStreams returns the number of streams registered but not yet
// terminated (Finished/Cancel delivered on the incoming side, or sent on
// the outgoing side).
func (c *Context) LiveStreams() int64 {
	c.drainMu.Lock()
	defer c.drainMu.Unlock()
	return c.live
}

// MarkOutgoingDone is called by the outgoing-stream pump once it has sent
// StreamFinished or StreamCancel for streamID, so AwaitDrained can observe
// the stream as terminated.
func (c *Context) MarkOutgoingDone(streamID string) {
	c.trackClosed()
}

// AwaitDrained blocks until every stream registered on this Context has
// terminated, or ctx is done. Call it once a call's scalar result has
// arrived, to find the point at which the Context may be closed: a call is
// fully over only when its scalar has completed and all its streams have
// terminated.
func (c *Context) AwaitDrained(ctx context.Context) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			c.drainMu.Lock()
			c.drainCond.Broadcast()
			c.drainMu.Unlock()
		case <-stop:
		}
	}()
	c.drainMu.Lock()
	defer c.drainMu.Unlock()
	for c.live > 0 && ctx.Err() == nil {
		c.drainCond.Wait()
	}
}

// CallID returns the owning call's id.
func (c *Context) CallID() string { return c.callID }

// RegisterOutgoing assigns a new streamId, enqueues the stream for the
// outgoing-stream pump, and returns the id to place on the wire. Constant
// time; never blocks.
func (c *Context) RegisterOutgoing(producer Producer, kind Kind, elem codec.Codec, encode func(v interface{}) (string, error)) string {
	id := fmt.Sprintf("stream:%d", c.nextID.Inc()-1)
	info := &Info{CallID: c.callID, StreamID: id, Kind: kind, Elem: elem, Encode: encode, Producer: producer}
	c.trackOpened()
	c.outgoingStreams.push(info)
	return id
}

// NextOutgoing blocks until a registered outgoing stream is available or
// the context closes/ctx is done, for the outgoing-stream pump to drain.
func (c *Context) NextOutgoing(ctx context.Context) (*Info, bool) {
	return c.outgoingStreams.pop(ctx)
}

// NextHotFlow blocks until a receive-side hot/state stream needs its
// feeder started, for the engine's hot-flow feeder pump to drain.
func (c *Context) NextHotFlow(ctx context.Context) (HotFlowHandle, bool) {
	return c.incomingHotFlows.pop(ctx)
}

func (c *Context) prepareIncomingRaw(streamID string, kind Kind, elem codec.Codec, decode func(string) (interface{}, error)) *queue[item] {
	ch := newQueue[item]()
	info := &Info{CallID: c.callID, StreamID: streamID, Kind: kind, Elem: elem, Decode: decode}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		ch.close()
		return ch
	}
	c.incomingStreams[streamID] = info
	c.incomingChannels[streamID] = ch
	c.trackOpened()
	return ch
}

func (c *Context) setEndpoint(streamID string, ep interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if info, ok := c.incomingStreams[streamID]; ok {
		info.Endpoint = ep
	}
}

func (c *Context) scheduleHotFeeder(streamID string, ch *queue[item], onElem func(interface{}), onFinish func(error)) {
	feed := func(ctx context.Context) {
		for {
			it, ok := ch.pop(ctx)
			if !ok {
				if err := ctx.Err(); err != nil {
					onFinish(err)
				} else {
					onFinish(ErrContextClosed)
				}
				return
			}
			switch it.kind {
			case itemElement:
				onElem(it.value)
			case itemEnd:
				onFinish(nil)
				return
			case itemCancel:
				onFinish(it.cause)
				return
			}
		}
	}
	c.incomingHotFlows.push(HotFlowHandle{StreamID: streamID, run: feed})
}

// PrepareIncomingCold materializes a Cold receive-side endpoint for
// streamID, decoding each element as a T.
func PrepareIncomingCold[T any](c *Context, streamID string, elem codec.Codec) *ColdStream {
	ch := c.prepareIncomingRaw(streamID, Cold, elem, decodeAs[T](elem))
	ep := newColdStream(ch)
	c.setEndpoint(streamID, ep)
	return ep
}

// PrepareIncomingHot materializes a SharedHot receive-side endpoint for
// streamID and schedules its feeder via incomingHotFlows.
func PrepareIncomingHot[T any](c *Context, streamID string, elem codec.Codec) *HotBroadcaster {
	ch := c.prepareIncomingRaw(streamID, SharedHot, elem, decodeAs[T](elem))
	hot := newHotBroadcaster(c.hotCfg)
	c.setEndpoint(streamID, hot)
	c.scheduleHotFeeder(streamID, ch, hot.publish, hot.finish)
	return hot
}

// PrepareIncomingState materializes a StateHot receive-side endpoint for
// streamID, seeded with initial (transported out-of-band next to the
// stream placeholder).
func PrepareIncomingState[T any](c *Context, streamID string, elem codec.Codec, initial T) *StateStream {
	ch := c.prepareIncomingRaw(streamID, StateHot, elem, decodeAs[T](elem))
	st := newStateStream(initial)
	c.setEndpoint(streamID, st)
	c.scheduleHotFeeder(streamID, ch, st.update, st.finish)
	return st
}

func decodeAs[T any](elem codec.Codec) func(string) (interface{}, error) {
	return func(payload string) (interface{}, error) {
		var v T
		if err := elem.Unmarshal(payload, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// Deliver decodes and pushes one StreamMessage element onto streamID's
// channel. Returns *ErrUnknownStream if the peer named a streamId this
// Context never registered.
func (c *Context) Deliver(streamID, payload string) error {
	c.mu.Lock()
	info, ok := c.incomingStreams[streamID]
	ch := c.incomingChannels[streamID]
	c.mu.Unlock()
	if !ok || ch == nil {
		return &ErrUnknownStream{StreamID: streamID}
	}
	v, err := info.Decode(payload)
	if err != nil {
		return err
	}
	ch.push(item{kind: itemElement, value: v})
	return nil
}

// Finish delivers StreamFinished: the End sentinel.
func (c *Context) Finish(streamID string) error {
	c.mu.Lock()
	ch := c.incomingChannels[streamID]
	c.mu.Unlock()
	if ch == nil {
		return &ErrUnknownStream{StreamID: streamID}
	}
	ch.push(item{kind: itemEnd})
	c.trackClosed()
	return nil
}

// Cancel delivers StreamCancel: the Cancel(cause) sentinel.
func (c *Context) Cancel(streamID string, cause error) error {
	c.mu.Lock()
	ch := c.incomingChannels[streamID]
	c.mu.Unlock()
	if ch == nil {
		return &ErrUnknownStream{StreamID: streamID}
	}
	ch.push(item{kind: itemCancel, cause: cause})
	c.trackClosed()
	return nil
}

// Endpoint returns the receive-side endpoint materialized for streamID, or
// nil if none was prepared.
func (c *Context) Endpoint(streamID string) interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if info, ok := c.incomingStreams[streamID]; ok {
		return info.Endpoint
	}
	return nil
}

// EncodeStream implements codec.StreamResolver for callers that only have
// the type-erased codec.Codec interface in hand; value must implement
// Producer. Generated carriers that know their element type statically
// should prefer calling RegisterOutgoing directly instead, to avoid the
// interface{} boxing this path implies.
func (c *Context) EncodeStream(value interface{}, kind codec.StreamKindTag, elem codec.Codec) (string, error) {
	producer, ok := value.(Producer)
	if !ok {
		return "", fmt.Errorf("streamrpc/streamctx: value %T does not implement Producer", value)
	}
	encode := func(v interface{}) (string, error) { return elem.Marshal(v) }
	return c.RegisterOutgoing(producer, fromTag(kind), elem, encode), nil
}

// DecodeStream implements codec.StreamResolver, materializing an untyped
// (interface{}-typed elements) receive-side endpoint. Generated carriers
// that know their element type statically should prefer calling
// PrepareIncomingCold/Hot/State[T] directly for a typed endpoint.
func (c *Context) DecodeStream(streamID string, kind codec.StreamKindTag, elem codec.Codec) (interface{}, error) {
	switch fromTag(kind) {
	case Cold:
		return PrepareIncomingCold[interface{}](c, streamID, elem), nil
	case SharedHot:
		return PrepareIncomingHot[interface{}](c, streamID, elem), nil
	case StateHot:
		return PrepareIncomingState[interface{}](c, streamID, elem, nil), nil
	default:
		return nil, fmt.Errorf("streamrpc/streamctx: unknown stream kind %v", kind)
	}
}

// DecodeStateStream implements codec.StreamResolver's StateHot path,
// seeding the endpoint with the initial value the carrier decoded
// out-of-band next to the stream placeholder.
func (c *Context) DecodeStateStream(streamID string, initial interface{}, elem codec.Codec) (interface{}, error) {
	return PrepareIncomingState[interface{}](c, streamID, elem, initial), nil
}

// Close idempotently tears the Context down: closes every incoming
// channel, clears both registries, and closes the outgoing and hot-flow
// queues so any blocked pump unblocks. No stream outlives its call's
// Context.
func (c *Context) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	channels := c.incomingChannels
	c.incomingChannels = make(map[string]*queue[item])
	c.incomingStreams = make(map[string]*Info)
	c.mu.Unlock()

	for _, ch := range channels {
		ch.close()
	}
	c.outgoingStreams.close()
	c.incomingHotFlows.close()
}
