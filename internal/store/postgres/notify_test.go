package postgres

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func recv(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("no payload")
		return ""
	}
}

func TestPoolNotifier_SharesOneSession(t *testing.T) {
	var sessions atomic.Int32
	feed := make(chan string)
	n := newNotifier(func(ctx context.Context, _ string, emit func(string)) error {
		sessions.Add(1)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case p := <-feed:
				emit(p)
			}
		}
	}, zaptest.NewLogger(t))

	ctx1, cancel1 := context.WithCancel(context.Background())
	ctx2, cancel2 := context.WithCancel(context.Background())
	a, err := n.Listen(ctx1, Channel)
	require.NoError(t, err)
	b, err := n.Listen(ctx2, Channel)
	require.NoError(t, err)
	require.Equal(t, 2, n.Listeners(Channel))

	feed <- "tours"
	require.Equal(t, "tours", recv(t, a))
	require.Equal(t, "tours", recv(t, b))
	require.EqualValues(t, 1, sessions.Load())

	cancel1()
	_, ok := <-a
	require.False(t, ok)
	require.Eventually(t, func() bool { return n.Listeners(Channel) == 1 }, time.Second, 5*time.Millisecond)

	cancel2()
	require.Eventually(t, func() bool { return n.Listeners(Channel) == 0 }, time.Second, 5*time.Millisecond)
}

func TestPoolNotifier_ResyncAfterReconnect(t *testing.T) {
	var calls atomic.Int32
	n := newNotifier(func(ctx context.Context, _ string, emit func(string)) error {
		if calls.Add(1) == 1 {
			emit("blogs")
			return errors.New("connection reset")
		}
		<-ctx.Done()
		return ctx.Err()
	}, zaptest.NewLogger(t))
	n.backoff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := n.Listen(ctx, Channel)
	require.NoError(t, err)

	// The first payload may race the subscription; the resync may not.
	for v := recv(t, ch); v != Resync; v = recv(t, ch) {
		require.Equal(t, "blogs", v)
	}
	require.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestPoolNotifier_SlowListenerGetsResync(t *testing.T) {
	n := newNotifier(func(ctx context.Context, _ string, _ func(string)) error {
		<-ctx.Done()
		return ctx.Err()
	}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := n.Listen(ctx, Channel)
	require.NoError(t, err)

	for i := 0; i < 40; i++ {
		n.broadcast(Channel, "tours")
	}
	var last string
	for len(ch) > 0 {
		last = <-ch
	}
	require.Equal(t, Resync, last)
}
