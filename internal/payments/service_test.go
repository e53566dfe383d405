package payments

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/pickup-checkout/pkg/db"
	"github.com/angelmondragon/pickup-checkout/pkg/db/models"
	"github.com/angelmondragon/pickup-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/pickup-checkout/pkg/errors"
	"github.com/angelmondragon/pickup-checkout/pkg/logger"
	"github.com/angelmondragon/pickup-checkout/pkg/outbox"
	"github.com/angelmondragon/pickup-checkout/pkg/outbox/payloads"
	"github.com/angelmondragon/pickup-checkout/pkg/payu"
)

var merchant = payu.Merchant{
	Key:        "merchant-key",
	Salt:       "merchant-salt",
	SuccessURL: "https://relay.example.com/payments/success",
	FailureURL: "https://relay.example.com/payments/failure",
}

type memoryStore struct {
	mu   sync.Mutex
	keys map[string]bool
	err  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{keys: map[string]bool{}}
}

func (m *memoryStore) ClaimCallback(_ context.Context, outcome, txnID string, _ time.Duration) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := m.CallbackKey(outcome, txnID)
	if m.keys[key] {
		return false, nil
	}
	m.keys[key] = true
	return true, nil
}

func (m *memoryStore) CallbackKey(outcome, txnID string) string {
	return "callback:" + outcome + ":" + txnID
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.keys, k)
	}
	return nil
}

type failingOutbox struct{}

func (failingOutbox) Emit(context.Context, *gorm.DB, outbox.DomainEvent) error {
	return errors.New("outbox insert failed")
}

type harness struct {
	svc   Service
	repo  *outbox.Repository
	store *memoryStore
}

func newHarness(t *testing.T, publisher outboxPublisher) *harness {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, conn.AutoMigrate(&models.OutboxEvent{}))

	repo := outbox.NewRepository(conn)
	if publisher == nil {
		publisher = outbox.NewService(repo, logger.Nop())
	}
	store := newMemoryStore()
	guard, err := NewCallbackGuard(store, time.Hour)
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Merchant: merchant,
		Guard:    guard,
		Tx:       db.Wrap(conn),
		Outbox:   publisher,
		Clock:    func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return &harness{svc: svc, repo: repo, store: store}
}

func signed(status, txnID string) payu.Response {
	resp := payu.Response{
		Status:      status,
		TxnID:       txnID,
		Amount:      "185.00",
		ProductInfo: "Food Order",
		FirstName:   "Customer",
		Email:       "asha@example.com",
	}
	resp.Hash = resp.ExpectedHash(merchant.Key, merchant.Salt)
	return resp
}

func TestHandleCallbackRecordsConfirmedPayment(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	res, err := h.svc.HandleCallback(context.Background(), Callback{
		Outcome:  enums.PaymentOutcomeSuccess,
		Response: signed("success", "TXN1"),
	})
	require.NoError(t, err)
	require.False(t, res.Duplicate)

	rows, err := h.repo.ListByAggregate("TXN1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, enums.EventPaymentConfirmed, rows[0].EventType)
	require.Equal(t, enums.AggregatePayment, rows[0].AggregateType)

	var envelope outbox.PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	var event payloads.PaymentCallbackEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &event))
	require.Equal(t, "185.00", event.Amount)
	require.Equal(t, enums.PaymentOutcomeSuccess, event.Outcome)
	require.Equal(t, "success", event.GatewayStatus)
}

func TestHandleCallbackIgnoresRedelivery(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	cb := Callback{Outcome: enums.PaymentOutcomeFailure, Response: signed("failure", "TXN2")}

	_, err := h.svc.HandleCallback(context.Background(), cb)
	require.NoError(t, err)
	res, err := h.svc.HandleCallback(context.Background(), cb)
	require.NoError(t, err)
	require.True(t, res.Duplicate)

	rows, err := h.repo.ListByAggregate("TXN2")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, enums.EventPaymentFailed, rows[0].EventType)
}

func TestHandleCallbackRejectsTamperedHash(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	resp := signed("success", "TXN3")
	resp.Amount = "1.00"

	_, err := h.svc.HandleCallback(context.Background(), Callback{Outcome: enums.PaymentOutcomeSuccess, Response: resp})
	require.ErrorIs(t, err, ErrInvalidSignature)
	require.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.CodeOf(err))

	rows, err := h.repo.ListByAggregate("TXN3")
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestHandleCallbackRejectsStatusOnWrongEndpoint(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	_, err := h.svc.HandleCallback(context.Background(), Callback{
		Outcome:  enums.PaymentOutcomeSuccess,
		Response: signed("failure", "TXN4"),
	})
	require.ErrorIs(t, err, ErrStatusMismatch)

	_, err = h.svc.HandleCallback(context.Background(), Callback{
		Outcome:  enums.PaymentOutcomeIndeterminate,
		Response: signed("success", "TXN4"),
	})
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestHandleCallbackReleasesClaimWhenRecordingFails(t *testing.T) {
	t.Parallel()
	h := newHarness(t, failingOutbox{})

	_, err := h.svc.HandleCallback(context.Background(), Callback{
		Outcome:  enums.PaymentOutcomeSuccess,
		Response: signed("success", "TXN5"),
	})
	require.Equal(t, pkgerrors.CodeDependency, pkgerrors.CodeOf(err))
	require.Empty(t, h.store.keys)
}

func TestHandleCallbackGuardUnavailable(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.store.err = errors.New("redis down")

	_, err := h.svc.HandleCallback(context.Background(), Callback{
		Outcome:  enums.PaymentOutcomeSuccess,
		Response: signed("success", "TXN6"),
	})
	require.Equal(t, pkgerrors.CodeDependency, pkgerrors.CodeOf(err))
}

func TestNewCallbackGuardValidates(t *testing.T) {
	t.Parallel()
	_, err := NewCallbackGuard(nil, time.Hour)
	require.Error(t, err)
	_, err = NewCallbackGuard(newMemoryStore(), -time.Second)
	require.Error(t, err)

	guard, err := NewCallbackGuard(newMemoryStore(), time.Hour)
	require.NoError(t, err)
	_, err = guard.Claim(context.Background(), "success", "")
	require.Error(t, err)
}
