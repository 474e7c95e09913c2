package streamctx

import "context"

// Producer is the local side of an outgoing stream: something the pump can
// drain element-by-element. Generated client/server stubs wrap whatever
// local stream type they hold (typically a Go channel) into a Producer via
// FromChannel.
type Producer interface {
	// Collect drains the producer, invoking onElement for each value in
	// order, until the producer is exhausted (returns nil) or onElement
	// errors (collection stops and the error is returned) or ctx is done.
	Collect(ctx context.Context, onElement func(v interface{}) error) error
}

type chanProducer[T any] struct{ ch <-chan T }

func (p chanProducer[T]) Collect(ctx context.Context, onElement func(v interface{}) error) error {
	for {
		select {
		case v, ok := <-p.ch:
			if !ok {
				return nil
			}
			if err := onElement(v); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// FromChannel adapts a receive-only Go channel into a Producer, the
// idiomatic Go stand-in for the source runtime's cold Flow<T> producer
// argument.
func FromChannel[T any](ch <-chan T) Producer {
	return chanProducer[T]{ch: ch}
}

// SliceProducer is a convenience Producer over a fixed slice, used by
// tests and examples that stream a known handful of elements.
func SliceProducer[T any](elems []T) Producer {
	ch := make(chan T, len(elems))
	for _, e := range elems {
		ch <- e
	}
	close(ch)
	return FromChannel[T](ch)
}
