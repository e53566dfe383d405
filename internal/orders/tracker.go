package orders

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/pickup-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/pickup-checkout/pkg/errors"
)

// StatusUpdate is one frame of the tracking view.
type StatusUpdate struct {
	Status          enums.OrderStatus
	Progress        int
	PickupAvailable bool
	Terminal        bool
	// Degraded means the latest refresh failed and Status is the last known value.
	Degraded bool
	Err      error
}

func newStatusUpdate(status enums.OrderStatus) StatusUpdate {
	return StatusUpdate{
		Status:          status,
		Progress:        status.Progress(),
		PickupAvailable: status == enums.OrderStatusCompleted,
		Terminal:        status.IsTerminal(),
	}
}

// Tracker streams status updates for one order until it reaches a terminal
// status or Close is called. Updates is closed when tracking stops.
//
// A status that cannot follow the last delivered one is dropped, except
// cancelled, which is always delivered so the pickup affordance disappears.
type Tracker struct {
	orderID uuid.UUID
	updates chan StatusUpdate
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
	err     error
}

func (t *Tracker) OrderID() uuid.UUID { return t.orderID }

func (t *Tracker) Updates() <-chan StatusUpdate { return t.updates }

// Close stops tracking and releases the subscription. It blocks until the
// tracking goroutine has exited and is safe to call more than once.
func (t *Tracker) Close() error {
	t.once.Do(t.cancel)
	<-t.done
	return t.err
}

// Track opens a live subscription to one order. The first update carries the
// current status.
func (s *service) Track(ctx context.Context, id uuid.UUID) (*Tracker, error) {
	order, err := s.load(ctx, s.repo, id)
	if err != nil {
		return nil, err
	}

	trackCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub, err := s.watcher.Watch(trackCtx, id)
	if err != nil {
		cancel()
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "status temporarily unavailable")
	}

	t := &Tracker{
		orderID: id,
		updates: make(chan StatusUpdate, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.metrics.SubscriptionOpened()
	logCtx := s.logg.WithOrderID(trackCtx, id.String())
	s.logg.Info(logCtx, "order tracking started")

	go func() {
		defer close(t.done)
		defer close(t.updates)
		defer func() {
			t.err = multierr.Append(t.err, sub.Close())
			s.metrics.SubscriptionClosed()
			s.logg.Info(logCtx, "order tracking stopped")
		}()
		s.trackLoop(trackCtx, t, sub, order.Status)
	}()

	// Closing the caller's context also ends tracking.
	go func() {
		select {
		case <-ctx.Done():
			t.once.Do(cancel)
		case <-t.done:
		}
	}()
	return t, nil
}

func (s *service) trackLoop(ctx context.Context, t *Tracker, sub Subscription, initial enums.OrderStatus) {
	last := newStatusUpdate(initial)
	if !s.deliver(ctx, t, last) || last.Terminal {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-sub.Errors():
			if last.Degraded {
				continue
			}
			last.Degraded = true
			last.Err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "status temporarily unavailable")
			if !s.deliver(ctx, t, last) {
				return
			}
		case <-sub.Changes():
			order, err := s.repo.FindByID(ctx, t.orderID)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if last.Degraded {
					continue
				}
				last.Degraded = true
				last.Err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "status temporarily unavailable")
				if !s.deliver(ctx, t, last) {
					return
				}
				continue
			}

			next := newStatusUpdate(order.Status)
			switch {
			case next.Status == last.Status:
				if !last.Degraded {
					continue
				}
			case !last.Status.CanReach(next.Status) && next.Status != enums.OrderStatusCancelled:
				s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
					"order_id": t.orderID.String(),
					"from":     last.Status.String(),
					"to":       next.Status.String(),
				}), "ignoring unreachable order status")
				continue
			}
			last = next
			if !s.deliver(ctx, t, last) || last.Terminal {
				return
			}
		}
	}
}

func (s *service) deliver(ctx context.Context, t *Tracker, update StatusUpdate) bool {
	select {
	case t.updates <- update:
		return true
	case <-ctx.Done():
		return false
	}
}
