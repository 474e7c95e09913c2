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

// Package keepalive implements a heartbeat for a transport with no
// built-in ping: a loop that sends an idle-only ping message and tears the
// engine down if no traffic crosses the transport at all within Timeout
// after one.
package keepalive

import (
	"context"
	"time"

	"go.uber.org/atomic"
)

// Params carries the two heartbeat durations. Time is how long the
// connection can be idle before a keepalive ping is sent; Timeout is how
// long to wait for any further traffic after that before considering the
// peer gone. Run does not read PermitWithoutStream: an idle connection is
// pinged whether or not any call is active.
type Params struct {
	Time                time.Duration
	Timeout             time.Duration
	PermitWithoutStream bool
}

// Keeper tracks last-activity time and drives the heartbeat loop.
type Keeper struct {
	params Params
	last   atomic.Int64
}

// New creates a Keeper, seeding last-activity to now.
func New(p Params) *Keeper {
	k := &Keeper{params: p}
	k.Touch()
	return k
}

// Touch records that traffic (inbound or outbound) just crossed the
// transport, resetting the idle clock.
func (k *Keeper) Touch() {
	k.last.Store(time.Now().UnixNano())
}

// Run drives the heartbeat loop until ctx is done. It is a no-op if
// Params.Time is non-positive (keepalive disabled, the default). ping is
// called when the connection has been idle for Time; onDead is called
// (once, then Run returns) if no traffic at all follows within Timeout
// after that.
func (k *Keeper) Run(ctx context.Context, ping func(ctx context.Context) error, onDead func()) {
	if k.params.Time <= 0 {
		return
	}
	ticker := time.NewTicker(k.params.Time)
	defer ticker.Stop()

	pinged := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			idle := time.Duration(time.Now().UnixNano() - k.last.Load())
			if idle < k.params.Time {
				pinged = false
				continue
			}
			if !pinged {
				_ = ping(ctx)
				pinged = true
				continue
			}
			if k.params.Timeout > 0 && idle >= k.params.Time+k.params.Timeout {
				onDead()
				return
			}
		}
	}
}
