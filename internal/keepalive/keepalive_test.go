package keepalive

import (
	"context"
	"testing"
	"time"
)

func TestKeeperPingsThenDeclaresDeadWhenIdle(t *testing.T) {
	k := New(Params{Time: 20 * time.Millisecond, Timeout: 40 * time.Millisecond})

	pinged := make(chan struct{}, 4)
	dead := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go k.Run(ctx,
		func(context.Context) error {
			pinged <- struct{}{}
			return nil
		},
		func() { close(dead) })

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("keeper never pinged an idle connection")
	}
	select {
	case <-dead:
	case <-time.After(2 * time.Second):
		t.Fatal("keeper never declared the idle connection dead")
	}
}

func TestKeeperStaysQuietWithTraffic(t *testing.T) {
	k := New(Params{Time: 30 * time.Millisecond, Timeout: 30 * time.Millisecond})

	pinged := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				k.Touch()
			case <-stop:
				return
			}
		}
	}()
	defer close(stop)

	go k.Run(ctx,
		func(context.Context) error {
			select {
			case pinged <- struct{}{}:
			default:
			}
			return nil
		},
		func() { t.Error("keeper declared a live connection dead") })

	select {
	case <-pinged:
		t.Fatal("keeper pinged despite continuous traffic")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestKeeperDisabledWithoutTime(t *testing.T) {
	k := New(Params{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		k.Run(context.Background(),
			func(context.Context) error { t.Error("ping from disabled keeper"); return nil },
			func() { t.Error("onDead from disabled keeper") })
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("disabled keeper did not return immediately")
	}
}
