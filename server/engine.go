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

// Package server implements the server-side call engine: a single service
// instance bound to one transport, dispatching CallData by callKind and
// routing stream frames to the matching call's stream context.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/chalvern/streamrpc/codec"
	"github.com/chalvern/streamrpc/internal/keepalive"
	"github.com/chalvern/streamrpc/internal/pump"
	"github.com/chalvern/streamrpc/provider"
	"github.com/chalvern/streamrpc/status"
	"github.com/chalvern/streamrpc/streamctx"
	"github.com/chalvern/streamrpc/transport"
	"github.com/chalvern/streamrpc/wire"
)

const keepaliveServiceFqn = "streamrpc.internal.keepalive"

// Engine is the server-side call engine: one per (transport, service)
// pair. An engine is bound to exactly one service type — running several
// services over one transport means running several Engines, each
// subscribed to its own serviceFqn.
type Engine struct {
	cfg Config
	tr  transport.Transport
	p   *provider.Provider

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	calls map[string]*inFlightCall

	keeper      *keepalive.Keeper
	unsubscribe func()
	touchUnsub  func()
	closeOnce   sync.Once
}

// NewEngine constructs a server Engine dispatching serviceFqn's calls over
// tr. It fails fast if no Provider is registered for serviceFqn.
func NewEngine(tr transport.Transport, serviceFqn string, opts ...Option) (*Engine, error) {
	p, err := provider.Lookup(serviceFqn)
	if err != nil {
		return nil, err
	}
	if p.Dispatcher == nil {
		return nil, status.Errorf(status.Internal, "streamrpc/server: provider for %q has no Dispatcher", serviceFqn)
	}

	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:    cfg,
		tr:     tr,
		p:      p,
		ctx:    ctx,
		cancel: cancel,
		calls:  make(map[string]*inFlightCall),
	}
	// Subscribed ahead of dispatch so it observes every inbound message
	// regardless of whether dispatch goes on to claim it.
	if cfg.Keepalive.Time > 0 {
		e.keeper = keeperOf(cfg)
		e.touchUnsub = tr.Subscribe(func(msg wire.Message) bool {
			e.keeper.Touch()
			return false
		})
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.keeper.Run(ctx, e.sendPing, e.Close)
		}()
	}

	e.unsubscribe = tr.Subscribe(e.dispatch)

	go func() {
		<-tr.Done()
		e.Close()
	}()

	return e, nil
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

// Close cancels every in-flight dispatched call and unsubscribes from the
// transport. It does not close the transport itself — the engine doesn't
// own it.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.cancel()
		if e.unsubscribe != nil {
			e.unsubscribe()
		}
		if e.touchUnsub != nil {
			e.touchUnsub()
		}
		e.mu.Lock()
		calls := e.calls
		e.calls = nil
		e.mu.Unlock()
		for _, c := range calls {
			c.cancel()
			c.sctx.Close()
		}
		e.wg.Wait()
	})
}

func (e *Engine) registerCall(c *inFlightCall) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.calls == nil {
		return false
	}
	e.calls[c.callID] = c
	return true
}

func (e *Engine) unregisterCall(callID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.calls != nil {
		delete(e.calls, callID)
	}
}

func (e *Engine) lookupCall(callID string) (*inFlightCall, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.calls == nil {
		return nil, false
	}
	c, ok := e.calls[callID]
	return c, ok
}

// dispatch is the transport.Handler claiming every message for this
// engine's serviceFqn; messages for other services are left for the next
// subscriber.
func (e *Engine) dispatch(msg wire.Message) bool {
	if msg.ServiceFqn != e.p.ServiceFqn {
		return false
	}

	switch msg.Kind {
	case wire.KindCallData:
		e.handleCallData(msg)
	case wire.KindStreamMessage, wire.KindStreamFinished, wire.KindStreamCancel:
		e.handleStreamFrame(msg)
	case wire.KindCallSuccess, wire.KindCallException:
		e.cfg.Logger.Warnw("streamrpc/server: protocol violation: client sent a call-terminal frame",
			"callId", msg.CallID, "kind", msg.Kind)
	}
	return true
}

func (e *Engine) handleStreamFrame(msg wire.Message) {
	c, ok := e.lookupCall(msg.CallID)
	if !ok {
		e.cfg.Logger.Debugw("streamrpc/server: stream frame for unknown/finished call",
			"callId", msg.CallID, "streamId", msg.StreamID, "kind", msg.Kind)
		return
	}

	var err error
	switch msg.Kind {
	case wire.KindStreamMessage:
		err = c.sctx.Deliver(msg.StreamID, msg.Payload)
	case wire.KindStreamFinished:
		err = c.sctx.Finish(msg.StreamID)
	case wire.KindStreamCancel:
		err = c.sctx.Cancel(msg.StreamID, status.FromSerializedException(msg.Cause))
	}
	if err != nil {
		e.cfg.Logger.Debugw("streamrpc/server: dropping stream frame",
			"callId", msg.CallID, "streamId", msg.StreamID, "err", err)
	}
}

func (e *Engine) handleCallData(msg wire.Message) {
	var args interface{}
	if msg.CallKind == wire.CallKindMethod {
		a, ok := e.p.Dispatcher.NewArgs(msg.CallableName)
		if !ok {
			e.sendException(msg.CallID, status.Errorf(status.Unimplemented,
				"streamrpc/server: %s has no callable %q", e.p.ServiceFqn, msg.CallableName))
			return
		}
		args = a
	}

	mc := e.p.MethodConfigs[msg.CallableName]
	if mc.MaxRecvMessageSize > 0 && len(msg.Payload) > mc.MaxRecvMessageSize {
		e.sendException(msg.CallID, status.Errorf(status.ResourceExhausted,
			"streamrpc/server: argument payload for %s is %d bytes, limit %d", msg.CallableName, len(msg.Payload), mc.MaxRecvMessageSize))
		return
	}

	callCtx := withCredentials(e.ctx, msg.Credentials)
	var cancel context.CancelFunc
	if mc.TimeoutMillis > 0 {
		callCtx, cancel = context.WithTimeout(callCtx, time.Duration(mc.TimeoutMillis)*time.Millisecond)
	} else {
		callCtx, cancel = context.WithCancel(callCtx)
	}

	sctx := streamctx.New(msg.CallID, e.cfg.hotConfig())
	bridge := &codec.Bridge{Base: e.cfg.codec(), Resolver: sctx}

	if args != nil {
		if err := bridge.Unmarshal(msg.Payload, args); err != nil {
			cancel()
			sctx.Close()
			e.sendException(msg.CallID, status.Errorf(status.InvalidArgument,
				"streamrpc/server: decoding arguments for %s: %v", msg.CallableName, err))
			return
		}
	}

	fc := &inFlightCall{callID: msg.CallID, sctx: sctx, cancel: cancel}
	if !e.registerCall(fc) {
		cancel()
		sctx.Close()
		return
	}

	// The hot-flow feeder starts now: args-embedded hot streams need their
	// feeders running while Invoke consumes them. The outgoing pump waits
	// until CallSuccess is on the wire — result-embedded streams are only
	// registered by the Marshal below, and racing the pump against the
	// CallSuccess send could deliver a StreamMessage to the client before
	// the frame that introduces its streamId.
	pumpCtx, pumpCancel := context.WithCancel(e.ctx)
	var pumpWG sync.WaitGroup
	pumpWG.Add(1)
	go func() { defer pumpWG.Done(); pump.RunHotFeeders(pumpCtx, sctx) }()

	var tr traceHandle
	if e.cfg.EnableTracing {
		tr = newTraceHandle(e.p.ServiceFqn, msg.CallableName)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer pumpCancel()
		defer pumpWG.Wait()
		defer e.unregisterCall(msg.CallID)
		defer cancel()

		result, err := e.p.Dispatcher.Invoke(callCtx, msg.CallableName, args)
		if err != nil {
			if status.CodeOf(err) == status.Canceled || callCtx.Err() != nil {
				sctx.Close()
				tr.finish(err)
				return
			}
			e.sendException(msg.CallID, err)
			sctx.Close()
			tr.finish(err)
			return
		}

		payload, err := bridge.Marshal(result)
		if err != nil {
			e.sendException(msg.CallID, err)
			sctx.Close()
			tr.finish(err)
			return
		}
		if mc.MaxSendMessageSize > 0 && len(payload) > mc.MaxSendMessageSize {
			err := status.Errorf(status.ResourceExhausted,
				"streamrpc/server: result payload for %s is %d bytes, limit %d", msg.CallableName, len(payload), mc.MaxSendMessageSize)
			e.sendException(msg.CallID, err)
			sctx.Close()
			tr.finish(err)
			return
		}
		if err := e.send(callCtx, wire.NewCallSuccess(msg.CallID, e.p.ServiceFqn, payload)); err != nil {
			e.cfg.Logger.Warnw("streamrpc/server: failed to send CallSuccess", "callId", msg.CallID, "err", err)
			sctx.Close()
			tr.finish(err)
			return
		}
		tr.finish(nil)

		pumpWG.Add(1)
		go func() { defer pumpWG.Done(); pump.RunOutgoing(pumpCtx, sctx, e.p.ServiceFqn, msg.CallID, mc.MaxSendMessageSize, e.send, e.cfg.Logger) }()

		// Await drain against the engine's lifetime, not callCtx: a
		// MethodConfig timeout bounds the dispatched Invoke, not how long a
		// long-lived stream the call returned may keep flowing afterward.
		sctx.AwaitDrained(e.ctx)
		sctx.Close()
	}()
}

func (e *Engine) sendException(callID string, err error) {
	cause := status.ToSerializedException(err)
	if sendErr := e.send(e.ctx, wire.NewCallException(callID, e.p.ServiceFqn, cause)); sendErr != nil {
		e.cfg.Logger.Warnw("streamrpc/server: failed to send CallException", "callId", callID, "err", sendErr)
	}
}
