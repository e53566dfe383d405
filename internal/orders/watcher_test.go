package orders

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/pickup-checkout/pkg/logger"
)

func newDetachedNotifier() *PGNotifier {
	return &PGNotifier{
		logg: logger.Nop(),
		subs: map[string]map[*signalSubscription]struct{}{},
		done: make(chan struct{}),
	}
}

func TestNotifierRoutesByOrderID(t *testing.T) {
	t.Parallel()
	n := newDetachedNotifier()
	a, b := uuid.New(), uuid.New()

	subA, err := n.Watch(context.Background(), a)
	require.NoError(t, err)
	subB, err := n.Watch(context.Background(), b)
	require.NoError(t, err)

	n.dispatch(a.String())
	n.dispatch(a.String())

	select {
	case <-subA.Changes():
	default:
		t.Fatal("expected a change for the watched order")
	}
	select {
	case <-subA.Changes():
		t.Fatal("changes should coalesce")
	default:
	}
	select {
	case <-subB.Changes():
		t.Fatal("other orders must not be signalled")
	default:
	}
}

func TestNotifierBroadcastAndClose(t *testing.T) {
	t.Parallel()
	n := newDetachedNotifier()
	id := uuid.New()
	sub, err := n.Watch(context.Background(), id)
	require.NoError(t, err)

	n.broadcast(errors.New("disconnected"))
	require.EqualError(t, <-sub.Errors(), "disconnected")

	n.broadcast(nil)
	<-sub.Changes()

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	n.mu.Lock()
	require.Empty(t, n.subs)
	n.mu.Unlock()

	close(n.done)
	_, err = n.Watch(context.Background(), id)
	require.Error(t, err)
}

func TestNotifierLogsFailedKeepalive(t *testing.T) {
	t.Parallel()
	buf := &bytes.Buffer{}
	n := newDetachedNotifier()
	n.logg = logger.New(logger.Options{ServiceName: "test", Level: logger.ParseLevel("info"), Output: buf})
	n.ping = func() error { return errors.New("connection reset") }

	n.keepalive()
	require.Contains(t, buf.String(), "order change listener keepalive failed")
	require.Contains(t, buf.String(), "connection reset")

	buf.Reset()
	n.ping = func() error { return nil }
	n.keepalive()
	require.Empty(t, buf.String())
}

func TestPollWatcherSignalsUntilClosed(t *testing.T) {
	t.Parallel()
	sub, err := PollWatcher{Interval: 5 * time.Millisecond}.Watch(context.Background(), uuid.New())
	require.NoError(t, err)

	select {
	case <-sub.Changes():
	case <-time.After(time.Second):
		t.Fatal("poll watcher never signalled")
	}
	require.NoError(t, sub.Close())
}
