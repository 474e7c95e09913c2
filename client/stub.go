package client

import (
	"context"

	"github.com/chalvern/streamrpc/provider"
)

// Stub resolves serviceFqn's registered Provider and builds its generated
// client stub bound to this Engine. The caller type-asserts the result to
// the service's stub interface.
func (e *Engine) Stub(serviceFqn string) (interface{}, error) {
	p, err := provider.Lookup(serviceFqn)
	if err != nil {
		return nil, err
	}
	binder := &provider.Binder{
		ServiceFqn: serviceFqn,
		Invoke: func(ctx context.Context, info provider.CallInfo, opts ...interface{}) (interface{}, error) {
			return e.Call(ctx, info, narrowCallOptions(opts)...)
		},
	}
	return p.NewClientStub(binder), nil
}

// narrowCallOptions converts the []interface{} a generated stub forwards
// through provider.Binder.Invoke back into []CallOption, the type Engine.Call
// actually wants. Entries that aren't a CallOption are dropped rather than
// causing Invoke to fail — they can only come from a stub bug, not from
// untrusted input.
func narrowCallOptions(opts []interface{}) []CallOption {
	out := make([]CallOption, 0, len(opts))
	for _, o := range opts {
		if co, ok := o.(CallOption); ok {
			out = append(out, co)
		}
	}
	return out
}
