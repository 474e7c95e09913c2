package client

import (
	"sync"

	"github.com/chalvern/streamrpc/streamctx"
)

type callResult struct {
	value interface{}
	err   error
}

// activeCall is the client-side per-call state: the stream context bound
// to this call, and the deferred that completes when
// CallSuccess/CallException arrives.
type activeCall struct {
	callID string
	sctx   *streamctx.Context

	once sync.Once
	done chan callResult
}

func newActiveCall(callID string, sctx *streamctx.Context) *activeCall {
	return &activeCall{callID: callID, sctx: sctx, done: make(chan callResult, 1)}
}

func (ac *activeCall) complete(value interface{}, err error) {
	ac.once.Do(func() {
		ac.done <- callResult{value: value, err: err}
	})
}
