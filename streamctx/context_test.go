package streamctx

import (
	"context"
	"testing"
	"time"

	"github.com/chalvern/streamrpc/codec"
	"github.com/stretchr/testify/require"
)

func TestRegisterOutgoingAssignsSequentialIDs(t *testing.T) {
	c := New("call-1", HotConfig{})
	id0 := c.RegisterOutgoing(nil, Cold, codec.JSONCodec{}, nil)
	id1 := c.RegisterOutgoing(nil, Cold, codec.JSONCodec{}, nil)
	require.Equal(t, "stream:0", id0)
	require.Equal(t, "stream:1", id1)

	info0, ok := c.NextOutgoing(context.Background())
	require.True(t, ok)
	require.Equal(t, id0, info0.StreamID)
	info1, ok := c.NextOutgoing(context.Background())
	require.True(t, ok)
	require.Equal(t, id1, info1.StreamID)
}

func TestColdStreamDeliverAndFinish(t *testing.T) {
	c := New("call-1", HotConfig{})
	cold := PrepareIncomingCold[string](c, "stream:0", codec.JSONCodec{})

	require.NoError(t, c.Deliver("stream:0", `"test1"`))
	require.NoError(t, c.Deliver("stream:0", `"test2"`))
	require.NoError(t, c.Finish("stream:0"))

	ctx := context.Background()
	v, ok, err := cold.Recv(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "test1", v)

	v, ok, err = cold.Recv(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "test2", v)

	_, ok, err = cold.Recv(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestColdStreamCancelRaisesFromCollection(t *testing.T) {
	c := New("call-1", HotConfig{})
	cold := PrepareIncomingCold[string](c, "stream:0", codec.JSONCodec{})
	cause := errBoom
	require.NoError(t, c.Cancel("stream:0", cause))

	_, ok, err := cold.Recv(context.Background())
	require.False(t, ok)
	require.ErrorIs(t, err, errBoom)
}

func TestDeliverUnknownStreamIsProtocolViolation(t *testing.T) {
	c := New("call-1", HotConfig{})
	err := c.Deliver("stream:99", `"x"`)
	var unk *ErrUnknownStream
	require.ErrorAs(t, err, &unk)
}

func TestHotBroadcasterFansOutToMultipleSubscribers(t *testing.T) {
	c := New("call-1", HotConfig{Buffer: 4})
	hot := PrepareIncomingHot[int](c, "stream:0", codec.JSONCodec{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handle, ok := c.NextHotFlow(ctx)
	require.True(t, ok)
	go handle.Run(ctx)

	ch1, _, unsub1 := hot.Subscribe(ctx)
	defer unsub1()
	ch2, _, unsub2 := hot.Subscribe(ctx)
	defer unsub2()

	require.NoError(t, c.Deliver("stream:0", "1"))
	require.NoError(t, c.Deliver("stream:0", "2"))
	require.NoError(t, c.Finish("stream:0"))

	var got1, got2 []interface{}
	timeout := time.After(2 * time.Second)
	for len(got1) < 2 {
		select {
		case v, ok := <-ch1:
			if !ok {
				t.Fatalf("ch1 closed early with %d elements", len(got1))
			}
			got1 = append(got1, v)
		case <-timeout:
			t.Fatal("timed out waiting for ch1")
		}
	}
	for len(got2) < 2 {
		select {
		case v, ok := <-ch2:
			if !ok {
				t.Fatalf("ch2 closed early with %d elements", len(got2))
			}
			got2 = append(got2, v)
		case <-timeout:
			t.Fatal("timed out waiting for ch2")
		}
	}
	require.Equal(t, []interface{}{1, 2}, got1)
	require.Equal(t, []interface{}{1, 2}, got2)
}

func TestStateStreamConflatesToLatest(t *testing.T) {
	c := New("call-1", HotConfig{})
	st := PrepareIncomingState[int](c, "stream:0", codec.JSONCodec{}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handle, ok := c.NextHotFlow(ctx)
	require.True(t, ok)
	go handle.Run(ctx)

	require.NoError(t, c.Deliver("stream:0", "1"))
	require.NoError(t, c.Deliver("stream:0", "2"))
	require.NoError(t, c.Deliver("stream:0", "3"))

	require.Eventually(t, func() bool {
		v, ok := st.Value().(int)
		return ok && v == 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestContextCloseUnblocksEverything(t *testing.T) {
	c := New("call-1", HotConfig{})
	cold := PrepareIncomingCold[string](c, "stream:0", codec.JSONCodec{})
	c.Close()

	_, ok, err := cold.Recv(context.Background())
	require.False(t, ok)
	require.NoError(t, err)

	_, ok = c.NextOutgoing(context.Background())
	require.False(t, ok)
	_, ok = c.NextHotFlow(context.Background())
	require.False(t, ok)
}

var errBoom = &boomError{}

type boomError struct{}

func (*boomError) Error() string { return "boom" }
