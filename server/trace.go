package server

import "golang.org/x/net/trace"

// traceHandle mirrors client.traceHandle: a dispatched call, when
// EnableTracing is set, opens a golang.org/x/net/trace event tagged with
// serviceFqn/callableName and is finished (SetError on failure) as soon as
// the call's CallSuccess or CallException outcome is settled, before the
// dispatch goroutine waits for the call's streams to drain.
type traceHandle struct {
	tr trace.Trace
}

func newTraceHandle(serviceFqn, callableName string) traceHandle {
	return traceHandle{tr: trace.New("streamrpc.Call", serviceFqn+"/"+callableName)}
}

func (h traceHandle) finish(err error) {
	if h.tr == nil {
		return
	}
	if err != nil {
		h.tr.LazyPrintf("error: %v", err)
		h.tr.SetError()
	}
	h.tr.Finish()
}
