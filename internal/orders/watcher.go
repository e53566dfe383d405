package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/multierr"

	"github.com/angelmondragon/pickup-checkout/pkg/config"
	"github.com/angelmondragon/pickup-checkout/pkg/logger"
)

// Subscription signals that an order may have changed. Changes coalesce:
// several notifications between two reads arrive as one signal.
type Subscription interface {
	Changes() <-chan struct{}
	Errors() <-chan error
	Close() error
}

// Watcher opens change subscriptions for single orders.
type Watcher interface {
	Watch(ctx context.Context, orderID uuid.UUID) (Subscription, error)
}

type signalSubscription struct {
	changes chan struct{}
	errs    chan error
	once    sync.Once
	onClose func()
}

func newSignalSubscription(onClose func()) *signalSubscription {
	return &signalSubscription{
		changes: make(chan struct{}, 1),
		errs:    make(chan error, 1),
		onClose: onClose,
	}
}

func (s *signalSubscription) Changes() <-chan struct{} { return s.changes }
func (s *signalSubscription) Errors() <-chan error     { return s.errs }

func (s *signalSubscription) Close() error {
	s.once.Do(func() {
		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}

func (s *signalSubscription) signal() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func (s *signalSubscription) fail(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

// PGNotifier fans out Postgres NOTIFY payloads (order ids) from the
// orders trigger to per-order subscriptions over one LISTEN connection.
type PGNotifier struct {
	listener *pq.Listener
	ping     func() error
	logg     *logger.Logger

	mu   sync.Mutex
	subs map[string]map[*signalSubscription]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

func NewPGNotifier(dsn string, cfg config.TrackingConfig, logg *logger.Logger) (*PGNotifier, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn required")
	}
	if cfg.Channel == "" {
		return nil, fmt.Errorf("notify channel required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	minReconnect, maxReconnect := cfg.MinReconnect, cfg.MaxReconnect
	if minReconnect <= 0 {
		minReconnect = time.Second
	}
	if maxReconnect < minReconnect {
		maxReconnect = minReconnect
	}

	n := &PGNotifier{
		logg: logg,
		subs: map[string]map[*signalSubscription]struct{}{},
		done: make(chan struct{}),
	}
	n.listener = pq.NewListener(dsn, minReconnect, maxReconnect, n.onEvent)
	n.ping = n.listener.Ping
	if err := n.listener.Listen(cfg.Channel); err != nil {
		return nil, multierr.Append(fmt.Errorf("listen %s: %w", cfg.Channel, err), n.listener.Close())
	}
	go n.run()

	logg.Info(logg.WithField(context.Background(), "channel", cfg.Channel), "order change listener started")
	return n, nil
}

func (n *PGNotifier) Watch(ctx context.Context, orderID uuid.UUID) (Subscription, error) {
	select {
	case <-n.done:
		return nil, errors.New("order change listener closed")
	default:
	}

	key := orderID.String()
	var sub *signalSubscription
	sub = newSignalSubscription(func() { n.remove(key, sub) })

	n.mu.Lock()
	if n.subs[key] == nil {
		n.subs[key] = map[*signalSubscription]struct{}{}
	}
	n.subs[key][sub] = struct{}{}
	n.mu.Unlock()
	return sub, nil
}

func (n *PGNotifier) remove(key string, sub *signalSubscription) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.subs[key], sub)
	if len(n.subs[key]) == 0 {
		delete(n.subs, key)
	}
}

func (n *PGNotifier) run() {
	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-n.done:
			return
		case note, ok := <-n.listener.Notify:
			if !ok {
				return
			}
			if note == nil {
				// Reconnected; notifications may have been missed.
				n.broadcast(nil)
				continue
			}
			n.dispatch(note.Extra)
		case <-ping.C:
			go n.keepalive()
		}
	}
}

// keepalive pings the LISTEN connection. A failure is only logged; pq
// reconnects on its own and reports that through onEvent.
func (n *PGNotifier) keepalive() {
	if n.ping == nil {
		return
	}
	if err := n.ping(); err != nil {
		n.logg.Warn(n.logg.WithField(context.Background(), "reason", err.Error()), "order change listener keepalive failed")
	}
}

func (n *PGNotifier) onEvent(event pq.ListenerEventType, err error) {
	switch event {
	case pq.ListenerEventDisconnected, pq.ListenerEventConnectionAttemptFailed:
		if err == nil {
			err = errors.New("order change listener disconnected")
		}
		n.logg.Warn(n.logg.WithField(context.Background(), "reason", err.Error()), "order change listener unavailable")
		n.broadcast(err)
	case pq.ListenerEventReconnected:
		n.logg.Info(context.Background(), "order change listener reconnected")
	}
}

func (n *PGNotifier) dispatch(orderID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for sub := range n.subs[orderID] {
		sub.signal()
	}
}

func (n *PGNotifier) broadcast(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, set := range n.subs {
		for sub := range set {
			if err != nil {
				sub.fail(err)
			} else {
				sub.signal()
			}
		}
	}
}

func (n *PGNotifier) Close() error {
	var err error
	n.closeOnce.Do(func() {
		close(n.done)
		err = multierr.Combine(n.listener.UnlistenAll(), n.listener.Close())
	})
	return err
}

// PollWatcher signals on a fixed interval. It serves stores without change
// notifications, such as the embedded sqlite driver.
type PollWatcher struct {
	Interval time.Duration
}

func (w PollWatcher) Watch(ctx context.Context, _ uuid.UUID) (Subscription, error) {
	interval := w.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	stop := make(chan struct{})
	sub := newSignalSubscription(func() { close(stop) })
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				sub.signal()
			}
		}
	}()
	return sub, nil
}
