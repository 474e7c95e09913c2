// Copyright 2014 gRPC authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package client implements the client-side call engine: call id
// assignment, argument serialization, the inbound per-call state machine,
// and the outgoing-stream pump / incoming-hot-stream feeder.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/net/trace"

	"github.com/chalvern/streamrpc/codec"
	"github.com/chalvern/streamrpc/internal/keepalive"
	"github.com/chalvern/streamrpc/internal/pump"
	"github.com/chalvern/streamrpc/internal/rpclog"
	"github.com/chalvern/streamrpc/provider"
	"github.com/chalvern/streamrpc/status"
	"github.com/chalvern/streamrpc/streamctx"
	"github.com/chalvern/streamrpc/transport"
	"github.com/chalvern/streamrpc/wire"
)

const keepaliveServiceFqn = "streamrpc.internal.keepalive"

// Engine is the client-side call engine: one per transport. It assigns
// call ids of the form engineId:argTypeRepr:counter, multiplexes inbound
// messages to calls and streams, and tears every live call down when the
// transport fails.
type Engine struct {
	cfg      Config
	tr       transport.Transport
	engineID string
	counter  atomic.Int64
	logger   rpclog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	calls map[string]*activeCall

	keeper     *keepalive.Keeper
	touchUnsub func()
	closeOnce  sync.Once
}

// NewEngine constructs a client Engine bound to tr.
func NewEngine(tr transport.Transport, opts ...Option) *Engine {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:      cfg,
		tr:       tr,
		engineID: cfg.IDGenerator.NewEngineID(),
		logger:   cfg.Logger,
		ctx:      ctx,
		cancel:   cancel,
		calls:    make(map[string]*activeCall),
	}

	if cfg.Keepalive.Time > 0 {
		e.keeper = keeperOf(cfg)
		// Subscribed ahead of any per-call handler so it observes every
		// inbound message regardless of whether a call claims it.
		e.touchUnsub = tr.Subscribe(func(msg wire.Message) bool {
			e.keeper.Touch()
			return false
		})
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.keeper.Run(ctx, e.sendPing, func() { e.Close() })
		}()
	}

	go func() {
		<-tr.Done()
		e.Close()
	}()

	return e
}

func (e *Engine) sendPing(ctx context.Context) error {
	return e.tr.Send(ctx, wire.Message{Kind: wire.KindCallData, CallID: "keepalive", ServiceFqn: keepaliveServiceFqn, CallableName: "ping"})
}

// send records outbound traffic on the keepalive clock before handing msg
// to the transport; sendPing itself bypasses this so a ping can never
// mask a truly idle connection.
func (e *Engine) send(ctx context.Context, msg wire.Message) error {
	if e.keeper != nil {
		e.keeper.Touch()
	}
	return e.tr.Send(ctx, msg)
}

// Close cancels every in-flight call and tears the engine's scope down.
// Cancelling the engine's scope emits no wire message — the transport's
// own close/failure is authoritative.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.cancel()
		if e.touchUnsub != nil {
			e.touchUnsub()
		}
		e.mu.Lock()
		calls := e.calls
		e.calls = nil
		e.mu.Unlock()
		for _, ac := range calls {
			ac.sctx.Close()
			ac.complete(nil, e.ctx.Err())
		}
	})
}

func (e *Engine) registerCall(ac *activeCall) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.calls == nil {
		return false
	}
	e.calls[ac.callID] = ac
	return true
}

func (e *Engine) unregisterCall(callID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.calls != nil {
		delete(e.calls, callID)
	}
}

// Call runs one call end to end: mint a callId, serialize arguments under
// a per-call codec bound to a fresh stream context, subscribe to inbound
// messages for this call, send CallData, start the outgoing-stream pump
// and hot-flow feeder, then await the scalar completion.
func (e *Engine) Call(ctx context.Context, info provider.CallInfo, opts ...CallOption) (interface{}, error) {
	if e.ctx.Err() != nil {
		return nil, status.Errorf(status.Unavailable, "streamrpc: engine is closed")
	}

	var co callOptions
	for _, o := range opts {
		o(&co)
	}

	p, err := provider.Lookup(info.ServiceFqn)
	if err != nil {
		return nil, err
	}

	callID := fmt.Sprintf("%s:%s:%d", e.engineID, info.ArgTypeRepr, e.counter.Inc()-1)

	mc := p.MethodConfigs[info.CallableName]
	if mc.TimeoutMillis > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(mc.TimeoutMillis)*time.Millisecond)
		defer cancel()
	} else if e.cfg.DefaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.DefaultTimeout)
		defer cancel()
	}

	sctx := streamctx.New(callID, e.cfg.hotConfig())
	bridge := &codec.Bridge{Base: e.cfg.codec(), Resolver: sctx}

	payload, err := bridge.Marshal(info.Argument)
	if err != nil {
		sctx.Close()
		return nil, fmt.Errorf("streamrpc/client: encoding arguments for %s: %w", info.CallableName, err)
	}
	if mc.MaxSendMessageSize > 0 && len(payload) > mc.MaxSendMessageSize {
		sctx.Close()
		return nil, status.Errorf(status.ResourceExhausted,
			"streamrpc/client: argument payload for %s is %d bytes, limit %d", info.CallableName, len(payload), mc.MaxSendMessageSize)
	}

	ac := newActiveCall(callID, sctx)
	if !e.registerCall(ac) {
		sctx.Close()
		return nil, status.Errorf(status.Unavailable, "streamrpc: engine is closed")
	}

	unsubscribe := e.tr.Subscribe(e.callHandler(ac, p, bridge, info))

	// Pumps are started only after CallData has been handed to the
	// transport: streams embedded in the arguments are already registered by
	// the Marshal above, and letting the pump race the CallData send could
	// put a StreamMessage on the wire before the frame that opens its call,
	// which the server treats as a late frame and drops.
	pumpCtx, pumpCancel := context.WithCancel(e.ctx)
	var pumpWG sync.WaitGroup
	startPumps := func() {
		pumpWG.Add(2)
		go func() { defer pumpWG.Done(); pump.RunOutgoing(pumpCtx, sctx, info.ServiceFqn, callID, mc.MaxSendMessageSize, e.send, e.logger) }()
		go func() { defer pumpWG.Done(); pump.RunHotFeeders(pumpCtx, sctx) }()
	}

	// teardown releases the call's resources. After a successful scalar it
	// first waits for every stream the call opened to drain — which may long
	// outlive the Call invocation itself, e.g. a result carrying a
	// long-lived stream handle the caller goes on to consume separately. On
	// failure or cancellation the stream context closes immediately.
	teardown := func(drain bool) {
		if drain {
			sctx.AwaitDrained(e.ctx)
		}
		sctx.Close()
		pumpCancel()
		pumpWG.Wait()
		unsubscribe()
		e.unregisterCall(callID)
	}

	var tr traceHandle
	if e.cfg.EnableTracing {
		tr = newTraceHandle(info.ServiceFqn, info.CallableName, true)
	}

	callData := wire.NewCallData(callID, info.ServiceFqn, info.CallableName, payload, wireCallKind(info.Kind))
	if co.credentials != nil {
		creds, err := co.credentials.GetCallCredentials(ctx, callID)
		if err != nil {
			go teardown(false)
			tr.finish(err)
			return nil, fmt.Errorf("streamrpc/client: per-call credentials: %w", err)
		}
		callData.Credentials = creds
	}

	if err := e.send(ctx, callData); err != nil {
		go teardown(false)
		tr.finish(err)
		return nil, err
	}
	startPumps()

	select {
	case res := <-ac.done:
		go teardown(res.err == nil)
		tr.finish(res.err)
		return res.value, res.err
	case <-ctx.Done():
		go teardown(false)
		tr.finish(ctx.Err())
		return nil, ctx.Err()
	case <-e.ctx.Done():
		go teardown(false)
		tr.finish(e.ctx.Err())
		return nil, e.ctx.Err()
	}
}

func wireCallKind(k provider.CallKind) wire.CallKind {
	if k == provider.Field {
		return wire.CallKindField
	}
	return wire.CallKindMethod
}

type traceHandle struct {
	tr trace.Trace
}

func newTraceHandle(serviceFqn, callableName string, client bool) traceHandle {
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
