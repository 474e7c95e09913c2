// Package provider defines the contract generated code supplies per
// service type, so the client and server engines can build stubs and
// dispatch calls without reflecting into user types. The runtime discovers
// providers through the registry below, keyed by the service's fully
// qualified name; generated code registers its provider at init time.
package provider

import (
	"context"
	"fmt"

	"github.com/chalvern/streamrpc/codec"
)

// CallKind mirrors wire.CallKind without importing the wire package, kept
// here so provider has no dependency on the message model.
type CallKind uint8

const (
	Method CallKind = iota
	Field
)

// CallInfo is the client-side, engine-internal description of one call:
// the callable name, the argument carrier, its static type identity, the
// expected return type, and the call kind. ArgTypeRepr must identify the
// generated arguments-carrier type uniquely per method — it feeds directly
// into the callId format.
type CallInfo struct {
	ServiceFqn   string
	CallableName string
	Kind         CallKind
	Argument     interface{}
	ArgTypeRepr  string
	ReturnType   string

	// DecodeReturn decodes a CallSuccess payload into the method's actual
	// return type. It is supplied by the generated client stub, which is
	// the one place that knows the return type statically; see
	// Provider.ReturnTypeTag for the rarer case where even that isn't
	// enough, e.g. a generic return.
	DecodeReturn func(bridge *codec.Bridge, payload string) (interface{}, error)
}

// Binder is what Provider.NewClientStub is handed: the service name plus a
// way to invoke the bound engine. Generated client stubs embed a *Binder
// and call Invoke from each method body.
//
// Invoke takes opts as []interface{} rather than []client.CallOption to
// avoid a provider -> client import cycle (client already imports
// provider); a generated stub method accepts ...client.CallOption and
// widens each one to interface{} before forwarding, and client.Engine's
// Binder construction narrows them back.
type Binder struct {
	ServiceFqn string
	Invoke     func(ctx context.Context, info CallInfo, opts ...interface{}) (interface{}, error)
}

// ServerDispatcher is the generated server adapter's dispatch table:
// Invoke looks up callableName and calls into the user's service
// implementation with already-decoded arguments, returning the result or
// an error.
type ServerDispatcher interface {
	Invoke(ctx context.Context, callableName string, decodedArgs interface{}) (interface{}, error)
	// NewArgs returns a fresh, zero-valued arguments carrier for
	// callableName, for the server engine to decode CallData's payload
	// into. Returning (nil, false) means callableName is not implemented
	// ("Unimplemented" per status.Unimplemented).
	NewArgs(callableName string) (interface{}, bool)
}

// MethodConfig carries per-callable timeout and message-size limits,
// looked up by (serviceFqn, callableName). There is no wildcard matching:
// a streamrpc engine has exactly one peer, so exact keys suffice.
type MethodConfig struct {
	TimeoutMillis      int64
	MaxSendMessageSize int
	MaxRecvMessageSize int
}

// Provider is what generated code registers per service type: client stub
// construction, server dispatch, the per-callable return-type lookup, and
// optional per-callable MethodConfig entries.
type Provider struct {
	ServiceFqn string

	// NewClientStub builds the service's client-side stub, wired to invoke
	// through binder.
	NewClientStub func(binder *Binder) interface{}

	// Dispatcher is nil on a pure client-only provider.
	Dispatcher ServerDispatcher

	// ReturnTypeTag resolves the exact return type for a callableName, for
	// cases where the engine needs it to pick a contextual serializer for
	// a generic return.
	ReturnTypeTag func(callableName string) (string, bool)

	// ElementCodec resolves the wire Codec to use, independent of any
	// particular method; generated code may instead bake a fixed codec
	// choice into each ArgsCarrier.
	ElementCodec codec.Codec

	// MethodConfigs is looked up by callableName; missing entries mean "no
	// override, use engine defaults".
	MethodConfigs map[string]MethodConfig
}

var registry = map[string]*Provider{}

// Register adds p to the process-wide registry keyed by ServiceFqn. Like
// encoding.RegisterCodec, call during init(); the last registration for a
// given name wins.
func Register(p *Provider) {
	if p == nil || p.ServiceFqn == "" {
		panic("streamrpc/provider: Provider must have a non-empty ServiceFqn")
	}
	registry[p.ServiceFqn] = p
}

// Lookup returns the registered Provider for serviceFqn, or an error if
// none was registered. server.NewEngine calls it at construction and fails
// fast; the client engine is not bound to one service and calls it from
// Engine.Stub and from every Engine.Call instead.
func Lookup(serviceFqn string) (*Provider, error) {
	p, ok := registry[serviceFqn]
	if !ok {
		return nil, fmt.Errorf("streamrpc/provider: no provider registered for service %q", serviceFqn)
	}
	return p, nil
}
