package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chalvern/streamrpc/wire"
)

func TestPipeDeliversInSendOrder(t *testing.T) {
	a, b := NewPipe()
	defer a.Close()
	defer b.Close()

	got := make(chan wire.Message, 3)
	b.Subscribe(func(msg wire.Message) bool {
		got <- msg
		return true
	})

	ctx := context.Background()
	for _, id := range []string{"c1", "c2", "c3"} {
		require.NoError(t, a.Send(ctx, wire.Message{Kind: wire.KindCallData, CallID: id}))
	}

	for _, want := range []string{"c1", "c2", "c3"} {
		select {
		case msg := <-got:
			require.Equal(t, want, msg.CallID)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestPipeFirstClaimantStopsOffering(t *testing.T) {
	a, b := NewPipe()
	defer a.Close()
	defer b.Close()

	first := make(chan wire.Message, 1)
	second := make(chan wire.Message, 1)
	b.Subscribe(func(msg wire.Message) bool {
		first <- msg
		return true
	})
	b.Subscribe(func(msg wire.Message) bool {
		second <- msg
		return true
	})

	require.NoError(t, a.Send(context.Background(), wire.Message{Kind: wire.KindCallData, CallID: "c1"}))

	select {
	case <-first:
	case <-time.After(2 * time.Second):
		t.Fatal("first subscriber never offered the message")
	}
	select {
	case <-second:
		t.Fatal("second subscriber saw a message the first already claimed")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPipeUnsubscribedHandlerSkipped(t *testing.T) {
	a, b := NewPipe()
	defer a.Close()
	defer b.Close()

	claimed := make(chan wire.Message, 1)
	unsub := b.Subscribe(func(msg wire.Message) bool {
		t.Error("unsubscribed handler invoked")
		return true
	})
	b.Subscribe(func(msg wire.Message) bool {
		claimed <- msg
		return true
	})
	unsub()

	require.NoError(t, a.Send(context.Background(), wire.Message{Kind: wire.KindCallData, CallID: "c1"}))
	select {
	case <-claimed:
	case <-time.After(2 * time.Second):
		t.Fatal("remaining subscriber never saw the message")
	}
}

func TestPipeSendAfterCloseFails(t *testing.T) {
	a, b := NewPipe()
	defer b.Close()

	require.NoError(t, a.Close())
	err := a.Send(context.Background(), wire.Message{Kind: wire.KindCallData, CallID: "c1"})
	require.ErrorIs(t, err, ErrClosed)

	select {
	case <-a.Done():
	default:
		t.Fatal("Done not closed after Close")
	}
	require.ErrorIs(t, a.Err(), ErrClosed)
}
