// Package codec defines streamrpc's pluggable contextual serializer: an
// interface for encode-value-to-string/decode-string-to-value, a process
// registry of named codecs, and a per-call Bridge through which generated
// "arguments carrier" types resolve their own stream-typed fields instead
// of going through a plain Marshal.
//
// The runtime never picks a serializer by runtime type: carriers are
// generated code that know their own field layout statically, so the only
// thing threaded through at runtime is this Bridge, looked up by nothing
// more exotic than the call it belongs to.
package codec

// Codec encodes a value of static type T to a string and decodes a string
// back into a T. Implementations must be safe for concurrent use.
type Codec interface {
	Name() string
	Marshal(v interface{}) (string, error)
	Unmarshal(data string, v interface{}) error
}

var registry = map[string]Codec{}

// Register adds c to the process-wide registry keyed by its Name(). Last
// registration for a name wins; call during init, mirroring
// encoding.RegisterCodec.
func Register(c Codec) {
	if c == nil {
		panic("streamrpc/codec: cannot register a nil Codec")
	}
	if c.Name() == "" {
		panic("streamrpc/codec: cannot register a Codec with an empty Name()")
	}
	registry[c.Name()] = c
}

// Get returns the registered Codec for name, or nil.
func Get(name string) Codec {
	return registry[name]
}

// StreamKindTag is a codec-side copy of streamctx.Kind, kept in this
// package to avoid an import cycle (codec sits below streamctx, which
// depends on codec to encode stream elements).
type StreamKindTag uint8

const (
	KindCold StreamKindTag = iota
	KindSharedHot
	KindStateHot
)

// StreamPlaceholder is the payload shape a stream-typed value encodes to on
// the wire: just its assigned streamId. The elements themselves travel as
// separate StreamMessage frames, never inline in the payload.
type StreamPlaceholder struct {
	StreamID string `json:"streamId"`
}

// StreamResolver is implemented by a per-call Stream Context (package
// streamctx) so a generated carrier can route its stream-typed fields to it
// without the codec package itself knowing anything about streams.
type StreamResolver interface {
	// EncodeStream registers an outgoing stream for sending and returns the
	// streamId to place on the wire. value is the local stream handle
	// (e.g. a channel or iterator) in whatever shape the generated carrier
	// produced it.
	EncodeStream(value interface{}, kind StreamKindTag, elem Codec) (streamID string, err error)
	// DecodeStream materializes (or looks up) the receive-side endpoint for
	// an inbound streamId and returns it as the value the carrier should
	// place in its stream-typed field.
	DecodeStream(streamID string, kind StreamKindTag, elem Codec) (value interface{}, err error)
	// DecodeStateStream is DecodeStream for StateHot slots: the carrier
	// hands over the initial value it decoded out-of-band next to the
	// placeholder, which seeds the endpoint's current value.
	DecodeStateStream(streamID string, initial interface{}, elem Codec) (value interface{}, err error)
}

// Bridge is the per-call serialization bridge: a plain Codec for
// everything that isn't a stream, plus the StreamResolver that binds this
// call's Stream Context. Generated Encodable/Decodable carriers are handed
// a *Bridge instead of a bare Codec.
type Bridge struct {
	Base     Codec
	Resolver StreamResolver
}

// Name reports the bridged codec's name. Bridge satisfies Codec itself so
// a carrier whose stream carries stream-bearing elements can hand the
// Bridge in as the element codec — nested streams then resolve through
// the same per-call Resolver, to arbitrary depth.
func (b *Bridge) Name() string { return b.Base.Name() }

// Marshal defers to Base for values with no stream-typed fields; carriers
// with stream fields implement Encodable instead and call b.Resolver
// themselves.
func (b *Bridge) Marshal(v interface{}) (string, error) {
	if enc, ok := v.(Encodable); ok {
		return enc.EncodeRPC(b)
	}
	return b.Base.Marshal(v)
}

// Unmarshal defers to Base unless v implements Decodable.
func (b *Bridge) Unmarshal(data string, v interface{}) error {
	if dec, ok := v.(Decodable); ok {
		return dec.DecodeRPC(b, data)
	}
	return b.Base.Unmarshal(data, v)
}

// Encodable is implemented by a generated arguments/return carrier that has
// at least one stream-typed field; EncodeRPC must call b.Resolver
// .EncodeStream for each such field and b.Base.Marshal for the rest,
// combining both into one payload string.
type Encodable interface {
	EncodeRPC(b *Bridge) (string, error)
}

// Decodable is the receive-side counterpart of Encodable.
type Decodable interface {
	DecodeRPC(b *Bridge, data string) error
}
