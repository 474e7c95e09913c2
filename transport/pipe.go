package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/chalvern/streamrpc/wire"
)

// ErrClosed is returned by Send once a Pipe side has been closed.
var ErrClosed = errors.New("streamrpc/transport: pipe closed")

// NewPipe returns two Transports directly wired to each other: messages sent
// on one are delivered to the other's subscribers, in send order. It is the
// reference transport used by this repo's own tests in place of a real
// WebSocket, the way yarpc's transporttest.MessagePipe or grpc's in-process
// bufconn stand in for a socket in unit tests.
func NewPipe() (a, b Transport) {
	ab := make(chan wire.Message, 64)
	ba := make(chan wire.Message, 64)
	doneA := make(chan struct{})
	doneB := make(chan struct{})

	pa := &pipeEnd{out: ab, in: ba, done: doneA, peerDone: doneB}
	pb := &pipeEnd{out: ba, in: ab, done: doneB, peerDone: doneA}
	pa.peer = pb
	pb.peer = pa

	go pa.pump()
	go pb.pump()

	return pa, pb
}

type pipeEnd struct {
	out chan wire.Message
	in  chan wire.Message

	mu         sync.Mutex
	handlers   []Handler
	closed     bool
	err        error
	done       chan struct{}
	peerDone   chan struct{}
	peer       *pipeEnd
	closeOnce  sync.Once
}

func (p *pipeEnd) Send(ctx context.Context, msg wire.Message) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}
	select {
	case p.out <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrClosed
	}
}

func (p *pipeEnd) Subscribe(h Handler) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := len(p.handlers)
	p.handlers = append(p.handlers, h)
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if idx < len(p.handlers) {
			p.handlers[idx] = nil
		}
	}
}

func (p *pipeEnd) Done() <-chan struct{} { return p.done }

func (p *pipeEnd) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *pipeEnd) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.err = ErrClosed
		p.mu.Unlock()
		close(p.done)
	})
	return nil
}

func (p *pipeEnd) pump() {
	for {
		select {
		case msg := <-p.in:
			p.dispatch(msg)
		case <-p.done:
			return
		}
	}
}

func (p *pipeEnd) dispatch(msg wire.Message) {
	p.mu.Lock()
	handlers := make([]Handler, len(p.handlers))
	copy(handlers, p.handlers)
	p.mu.Unlock()

	for _, h := range handlers {
		if h == nil {
			continue
		}
		if h(msg) {
			return
		}
	}
}
