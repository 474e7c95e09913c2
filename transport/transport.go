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

// Package transport defines the abstract full-duplex message channel the
// client and server engines run on. The byte framing, TLS, and WebSocket
// concerns of a real transport are deliberately out of scope here; this
// package only specifies the contract the engines rely on and ships an
// in-memory Pipe implementation for tests.
package transport

import (
	"context"

	"github.com/chalvern/streamrpc/wire"
)

// Handler is offered every inbound message in subscription order. It
// returns true to claim the message ("this one was mine; stop offering"),
// false to let the next handler see it.
type Handler func(msg wire.Message) bool

// Transport is the abstract bidirectional message channel engines run on.
// Implementations must deliver messages exactly once, in send order, per
// direction, and must report a terminal failure by closing the channel
// returned from Done.
type Transport interface {
	// Send hands msg off for delivery to the peer. It blocks until the
	// message is accepted by the transport, giving outgoing pumps natural
	// backpressure.
	Send(ctx context.Context, msg wire.Message) error

	// Subscribe registers handler to be offered every inbound message, in
	// registration order relative to other subscribers. It returns an
	// unsubscribe function.
	Subscribe(handler Handler) (unsubscribe func())

	// Done returns a channel closed when the transport has failed or been
	// closed; engines cancel their root scope when it closes.
	Done() <-chan struct{}

	// Err returns the reason Done closed, or nil if it hasn't.
	Err() error

	// Close tears the transport down from this side.
	Close() error
}
