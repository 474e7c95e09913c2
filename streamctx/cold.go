package streamctx

import "context"

// ColdStream is the receive-side endpoint for a Cold stream: a
// single-consumer, on-demand drain of the underlying channel. A fresh
// Collect restarts collection from whatever is currently in the channel —
// it does not replay already-consumed elements.
type ColdStream struct {
	ch *queue[item]
}

func newColdStream(ch *queue[item]) *ColdStream {
	return &ColdStream{ch: ch}
}

// Recv returns the next element, or ok=false with err=nil at normal stream
// end (StreamFinished), or ok=false with a non-nil err if the stream was
// cancelled (StreamCancel) or ctx was cancelled first.
func (c *ColdStream) Recv(ctx context.Context) (v interface{}, ok bool, err error) {
	it, got := c.ch.pop(ctx)
	if !got {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	switch it.kind {
	case itemElement:
		return it.value, true, nil
	case itemEnd:
		return nil, false, nil
	case itemCancel:
		return nil, false, it.cause
	default:
		return nil, false, nil
	}
}

// Collect drains every remaining element through fn until end, cancel, or
// ctx done, returning the stream's terminal error (nil on normal end).
func (c *ColdStream) Collect(ctx context.Context, fn func(v interface{}) error) error {
	for {
		v, ok, err := c.Recv(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := fn(v); err != nil {
			return err
		}
	}
}
