package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/pickup-checkout/pkg/db"
	"github.com/angelmondragon/pickup-checkout/pkg/db/models"
	"github.com/angelmondragon/pickup-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/pickup-checkout/pkg/errors"
	"github.com/angelmondragon/pickup-checkout/pkg/logger"
	"github.com/angelmondragon/pickup-checkout/pkg/metrics"
	"github.com/angelmondragon/pickup-checkout/pkg/outbox"
	"github.com/angelmondragon/pickup-checkout/pkg/pagination"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Minute)
	return c.now
}

type fakeWatcher struct {
	mu     sync.Mutex
	subs   []*signalSubscription
	closed int
	err    error
}

func (f *fakeWatcher) Watch(context.Context, uuid.UUID) (Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := newSignalSubscription(func() {
		f.mu.Lock()
		f.closed++
		f.mu.Unlock()
	})
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *fakeWatcher) signal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		sub.signal()
	}
}

func (f *fakeWatcher) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		sub.fail(err)
	}
}

func (f *fakeWatcher) closedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type harness struct {
	svc     Service
	conn    *gorm.DB
	watcher *fakeWatcher
	reg     *prometheus.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, conn.AutoMigrate(&models.Order{}, &models.OutboxEvent{}))

	clock := &stepClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	watcher := &fakeWatcher{}
	reg := prometheus.NewRegistry()
	svc, err := NewService(ServiceParams{
		Repo:    NewRepository(conn),
		Tx:      db.Wrap(conn),
		Outbox:  outbox.NewService(outbox.NewRepository(conn), logger.Nop()),
		Watcher: watcher,
		Metrics: metrics.NewCheckoutMetrics(reg),
		Clock:   clock.Now,
	})
	require.NoError(t, err)
	return &harness{svc: svc, conn: conn, watcher: watcher, reg: reg}
}

func sampleInput(txnID, customerID string) CreateInput {
	return CreateInput{
		TransactionID: txnID,
		CustomerID:    customerID,
		CustomerEmail: customerID + "@example.com",
		MerchantID:    "canteen-1",
		MerchantName:  "Main Canteen",
		Lines: []models.OrderLine{{
			ItemID:     "dosa",
			Name:       "Masala Dosa",
			UnitPrice:  decimal.NewFromInt(100),
			Quantity:   2,
			MerchantID: "canteen-1",
		}},
		Subtotal:       decimal.NewFromInt(200),
		DiscountAmount: decimal.NewFromInt(15),
		TotalAmount:    decimal.NewFromInt(185),
		CouponCode:     "SAVE10",
	}
}

func (h *harness) outboxEvents(t *testing.T, orderID uuid.UUID) []models.OutboxEvent {
	t.Helper()
	events, err := outbox.NewRepository(h.conn).ListByAggregate(orderID.String())
	require.NoError(t, err)
	return events
}

func (h *harness) completed(t *testing.T, txnID string) *models.Order {
	t.Helper()
	ctx := context.Background()
	order, err := h.svc.Create(ctx, sampleInput(txnID, "cust-1"))
	require.NoError(t, err)
	_, err = h.svc.Advance(ctx, order.ID, enums.OrderStatusProcessing)
	require.NoError(t, err)
	order, err = h.svc.Advance(ctx, order.ID, enums.OrderStatusCompleted)
	require.NoError(t, err)
	return order
}

func TestCreateRecordsPendingOrder(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	order, err := h.svc.Create(context.Background(), sampleInput("TXNA", "cust-1"))
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusPending, order.Status)
	require.False(t, order.PickedUp)

	stored, err := h.svc.Get(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, stored.Lines, 1)
	require.True(t, stored.Lines[0].IsActive)
	require.Equal(t, enums.DietTypeNonVeg, stored.Lines[0].DietType)
	require.True(t, stored.TotalAmount.Equal(decimal.NewFromInt(185)))
	require.NotNil(t, stored.CouponCode)
	require.Equal(t, "SAVE10", *stored.CouponCode)

	events := h.outboxEvents(t, order.ID)
	require.Len(t, events, 1)
	require.Equal(t, enums.EventOrderCreated, events[0].EventType)
}

func TestCreateIsIdempotentOnTransactionID(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.svc.Create(ctx, sampleInput("TXNB", "cust-1"))
	require.NoError(t, err)
	second, err := h.svc.Create(ctx, sampleInput("TXNB", "cust-1"))
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, h.conn.Model(&models.Order{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
	require.Len(t, h.outboxEvents(t, first.ID), 1)
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	mixed := sampleInput("TXNC", "cust-1")
	mixed.Lines = append(mixed.Lines, models.OrderLine{ItemID: "tea", Name: "Tea", Quantity: 1, MerchantID: "canteen-2"})
	_, err := h.svc.Create(context.Background(), mixed)
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
	require.Equal(t, "orders can only contain items from one shop", pkgerrors.UserMessage(err))

	empty := sampleInput("TXND", "cust-1")
	empty.Lines = nil
	_, err = h.svc.Create(context.Background(), empty)
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestAdvanceFollowsTransitionTable(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	order, err := h.svc.Create(ctx, sampleInput("TXNE", "cust-1"))
	require.NoError(t, err)

	_, err = h.svc.Advance(ctx, order.ID, enums.OrderStatusCompleted)
	require.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))

	cancelled, err := h.svc.Advance(ctx, order.ID, enums.OrderStatusCancelled)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusCancelled, cancelled.Status)

	again, err := h.svc.Advance(ctx, order.ID, enums.OrderStatusCancelled)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusCancelled, again.Status)

	_, err = h.svc.Advance(ctx, order.ID, enums.OrderStatusProcessing)
	require.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))
	_, err = h.svc.Advance(ctx, order.ID, enums.OrderStatusPickedUp)
	require.ErrorIs(t, err, ErrPickupUnavailable)

	events := h.outboxEvents(t, order.ID)
	require.Len(t, events, 2, "created plus one status change")

	_, err = h.svc.Advance(ctx, uuid.New(), enums.OrderStatusProcessing)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestConfirmPickupTwiceIsNoOp(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	order := h.completed(t, "TXNF")

	first, err := h.svc.ConfirmPickup(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusPickedUp, first.Status)
	require.True(t, first.PickedUp)

	second, err := h.svc.ConfirmPickup(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusPickedUp, second.Status)
	require.True(t, second.PickedUp)

	var pickups int
	for _, event := range h.outboxEvents(t, order.ID) {
		if event.EventType == enums.EventOrderPickedUp {
			pickups++
		}
	}
	require.Equal(t, 1, pickups)
}

func TestConfirmPickupRequiresCompletedOrder(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	order, err := h.svc.Create(ctx, sampleInput("TXNG", "cust-1"))
	require.NoError(t, err)
	_, err = h.svc.ConfirmPickup(ctx, order.ID)
	require.ErrorIs(t, err, ErrPickupUnavailable)
	require.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))

	_, err = h.svc.Advance(ctx, order.ID, enums.OrderStatusCancelled)
	require.NoError(t, err)
	_, err = h.svc.ConfirmPickup(ctx, order.ID)
	require.ErrorIs(t, err, ErrPickupUnavailable)

	stored, err := h.svc.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusCancelled, stored.Status)
	require.False(t, stored.PickedUp)
}

func TestPickupTokenRoundTrip(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	pending, err := h.svc.Create(ctx, sampleInput("TXNH", "cust-1"))
	require.NoError(t, err)
	_, err = h.svc.PickupToken(pending)
	require.ErrorIs(t, err, ErrPickupUnavailable)

	order := h.completed(t, "TXNI")
	token, err := h.svc.PickupToken(order)
	require.NoError(t, err)
	require.Equal(t, "order-pickup:"+order.ID.String(), token)

	picked, err := h.svc.ConfirmPickupToken(ctx, token)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusPickedUp, picked.Status)

	_, err = h.svc.ConfirmPickupToken(ctx, "https://example.com/menu")
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
	_, err = h.svc.ConfirmPickupToken(ctx, "order-pickup:not-a-uuid")
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestListActiveAndPrevious(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	var picked []uuid.UUID
	for _, txn := range []string{"TXN1", "TXN2", "TXN3"} {
		order := h.completed(t, txn)
		_, err := h.svc.ConfirmPickup(ctx, order.ID)
		require.NoError(t, err)
		picked = append(picked, order.ID)
	}
	active, err := h.svc.Create(ctx, sampleInput("TXN4", "cust-1"))
	require.NoError(t, err)
	_, err = h.svc.Create(ctx, sampleInput("TXN5", "cust-2"))
	require.NoError(t, err)

	current, err := h.svc.ListActive(ctx, "cust-1")
	require.NoError(t, err)
	require.Len(t, current, 1)
	require.Equal(t, active.ID, current[0].ID)

	page, err := h.svc.ListPrevious(ctx, "cust-1", pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Orders, 2)
	require.Equal(t, picked[2], page.Orders[0].ID)
	require.Equal(t, picked[1], page.Orders[1].ID)
	require.NotEmpty(t, page.Cursor)

	rest, err := h.svc.ListPrevious(ctx, "cust-1", pagination.Params{Limit: 2, Cursor: page.Cursor})
	require.NoError(t, err)
	require.Len(t, rest.Orders, 1)
	require.Equal(t, picked[0], rest.Orders[0].ID)
	require.Empty(t, rest.Cursor)

	_, err = h.svc.ListPrevious(ctx, "cust-1", pagination.Params{Cursor: "%%%"})
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func nextUpdate(t *testing.T, tr *Tracker) StatusUpdate {
	t.Helper()
	select {
	case u, ok := <-tr.Updates():
		require.True(t, ok, "updates closed early")
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for status update")
	}
	return StatusUpdate{}
}

func TestTrackStreamsUntilTerminal(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	order, err := h.svc.Create(ctx, sampleInput("TXNT", "cust-1"))
	require.NoError(t, err)
	tr, err := h.svc.Track(ctx, order.ID)
	require.NoError(t, err)

	u := nextUpdate(t, tr)
	require.Equal(t, enums.OrderStatusPending, u.Status)
	require.Equal(t, 30, u.Progress)
	require.False(t, u.PickupAvailable)

	_, err = h.svc.Advance(ctx, order.ID, enums.OrderStatusProcessing)
	require.NoError(t, err)
	h.watcher.signal()
	u = nextUpdate(t, tr)
	require.Equal(t, enums.OrderStatusProcessing, u.Status)
	require.Equal(t, 70, u.Progress)

	// Duplicate delivery produces no frame.
	h.watcher.signal()

	// A status that cannot follow processing is ignored.
	require.NoError(t, h.conn.Model(&models.Order{}).Where("id = ?", order.ID).
		UpdateColumn("status", enums.OrderStatusPending).Error)
	h.watcher.signal()

	require.NoError(t, h.conn.Model(&models.Order{}).Where("id = ?", order.ID).
		UpdateColumn("status", enums.OrderStatusCompleted).Error)
	h.watcher.signal()
	u = nextUpdate(t, tr)
	require.Equal(t, enums.OrderStatusCompleted, u.Status)
	require.True(t, u.PickupAvailable)

	_, err = h.svc.ConfirmPickup(ctx, order.ID)
	require.NoError(t, err)
	h.watcher.signal()
	u = nextUpdate(t, tr)
	require.Equal(t, enums.OrderStatusPickedUp, u.Status)
	require.True(t, u.Terminal)
	require.False(t, u.PickupAvailable)

	_, open := <-tr.Updates()
	require.False(t, open)
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	require.Equal(t, 1, h.watcher.closedCount())
}

func TestTrackCancelledHidesPickup(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	order := h.completed(t, "TXNX")

	tr, err := h.svc.Track(ctx, order.ID)
	require.NoError(t, err)
	defer tr.Close()
	require.True(t, nextUpdate(t, tr).PickupAvailable)

	require.NoError(t, h.conn.Model(&models.Order{}).Where("id = ?", order.ID).
		UpdateColumn("status", enums.OrderStatusCancelled).Error)
	h.watcher.signal()
	u := nextUpdate(t, tr)
	require.Equal(t, enums.OrderStatusCancelled, u.Status)
	require.False(t, u.PickupAvailable)
	require.True(t, u.Terminal)
	require.Equal(t, 0, u.Progress)

	_, err = h.svc.ConfirmPickup(ctx, order.ID)
	require.ErrorIs(t, err, ErrPickupUnavailable)
}

func TestTrackDegradesOnListenerFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	order, err := h.svc.Create(ctx, sampleInput("TXNY", "cust-1"))
	require.NoError(t, err)
	tr, err := h.svc.Track(ctx, order.ID)
	require.NoError(t, err)
	defer tr.Close()
	nextUpdate(t, tr)

	h.watcher.fail(errors.New("connection reset"))
	u := nextUpdate(t, tr)
	require.True(t, u.Degraded)
	require.Equal(t, enums.OrderStatusPending, u.Status)
	require.Equal(t, pkgerrors.CodeDependency, pkgerrors.CodeOf(u.Err))

	// A refresh with the same status clears the degraded flag.
	h.watcher.signal()
	u = nextUpdate(t, tr)
	require.False(t, u.Degraded)
	require.Equal(t, enums.OrderStatusPending, u.Status)
}

func TestTrackCloseReleasesSubscription(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	order, err := h.svc.Create(ctx, sampleInput("TXNZ", "cust-1"))
	require.NoError(t, err)
	tr, err := h.svc.Track(ctx, order.ID)
	require.NoError(t, err)
	nextUpdate(t, tr)
	require.Equal(t, float64(1), gaugeValue(t, h.reg, "order_subscriptions_active"))

	cancel()
	require.NoError(t, tr.Close())
	require.Equal(t, 1, h.watcher.closedCount())
	require.Equal(t, float64(0), gaugeValue(t, h.reg, "order_subscriptions_active"))
}

func TestTrackUnknownOrder(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	_, err := h.svc.Track(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNotFound)

	h.watcher.err = errors.New("listener down")
	order, err := h.svc.Create(context.Background(), sampleInput("TXNW", "cust-1"))
	require.NoError(t, err)
	_, err = h.svc.Track(context.Background(), order.ID)
	require.Equal(t, pkgerrors.CodeDependency, pkgerrors.CodeOf(err))
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}
