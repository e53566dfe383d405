package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/pickup-checkout/pkg/db"
	"github.com/angelmondragon/pickup-checkout/pkg/db/models"
	"github.com/angelmondragon/pickup-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/pickup-checkout/pkg/errors"
	"github.com/angelmondragon/pickup-checkout/pkg/logger"
	"github.com/angelmondragon/pickup-checkout/pkg/metrics"
	"github.com/angelmondragon/pickup-checkout/pkg/outbox"
	"github.com/angelmondragon/pickup-checkout/pkg/outbox/payloads"
	"github.com/angelmondragon/pickup-checkout/pkg/pagination"
)

var (
	ErrNotFound          = pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	ErrPickupUnavailable = pkgerrors.New(pkgerrors.CodeStateConflict, "order is not ready for pickup")
)

const pickupTokenPrefix = "order-pickup:"

// CreateInput is the validated checkout state captured when payment succeeds.
type CreateInput struct {
	TransactionID  string
	CustomerID     string
	CustomerEmail  string
	MerchantID     string
	MerchantName   string
	Lines          []models.OrderLine
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	TotalAmount    decimal.Decimal
	CouponCode     string
	ConfirmedAt    time.Time
}

// ListResult is one page of a customer's order history.
type ListResult struct {
	Orders []models.Order
	Cursor string
}

// Service manages an order from creation to pickup.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Order, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByTransactionID(ctx context.Context, transactionID string) (*models.Order, error)
	Track(ctx context.Context, id uuid.UUID) (*Tracker, error)
	Advance(ctx context.Context, id uuid.UUID, to enums.OrderStatus) (*models.Order, error)
	ConfirmPickup(ctx context.Context, id uuid.UUID) (*models.Order, error)
	PickupToken(order *models.Order) (string, error)
	ConfirmPickupToken(ctx context.Context, token string) (*models.Order, error)
	ListActive(ctx context.Context, customerID string) ([]models.Order, error)
	ListPrevious(ctx context.Context, customerID string, params pagination.Params) (*ListResult, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type ServiceParams struct {
	Repo    Repository
	Tx      txRunner
	Outbox  outboxPublisher
	Watcher Watcher
	Metrics *metrics.CheckoutMetrics
	Logger  *logger.Logger
	Clock   func() time.Time
}

type service struct {
	repo    Repository
	tx      txRunner
	outbox  outboxPublisher
	watcher Watcher
	metrics *metrics.CheckoutMetrics
	logg    *logger.Logger
	now     func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox required")
	}
	if params.Watcher == nil {
		return nil, fmt.Errorf("order watcher required")
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	if params.Clock == nil {
		params.Clock = time.Now
	}
	return &service{
		repo:    params.Repo,
		tx:      params.Tx,
		outbox:  params.Outbox,
		watcher: params.Watcher,
		metrics: params.Metrics,
		logg:    params.Logger,
		now:     func() time.Time { return params.Clock().UTC() },
	}, nil
}

// Create records a paid order in pending status. A second call with the same
// transaction id returns the order created by the first.
func (s *service) Create(ctx context.Context, input CreateInput) (*models.Order, error) {
	if err := validateCreate(input); err != nil {
		return nil, err
	}
	ctx = s.logg.WithTransactionID(ctx, input.TransactionID)

	now := s.now()
	confirmedAt := input.ConfirmedAt.UTC()
	if input.ConfirmedAt.IsZero() {
		confirmedAt = now
	}
	lines := make(models.OrderLines, len(input.Lines))
	for i, line := range input.Lines {
		line.IsActive = true
		line.DietType = line.DietType.OrDefault()
		lines[i] = line
	}
	order := &models.Order{
		TransactionID:  input.TransactionID,
		CustomerID:     input.CustomerID,
		CustomerEmail:  input.CustomerEmail,
		MerchantID:     input.MerchantID,
		MerchantName:   input.MerchantName,
		Lines:          lines,
		Subtotal:       input.Subtotal,
		DiscountAmount: input.DiscountAmount,
		TotalAmount:    input.TotalAmount,
		Status:         enums.OrderStatusPending,
		CreatedAt:      now,
		ConfirmedAt:    confirmedAt,
	}
	if code := strings.TrimSpace(input.CouponCode); code != "" {
		order.CouponCode = &code
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID.String(),
			Actor:         &outbox.ActorRef{CustomerID: order.CustomerID, Role: "customer"},
			Data: payloads.OrderCreatedEvent{
				OrderID:        order.ID.String(),
				TransactionID:  order.TransactionID,
				CustomerID:     order.CustomerID,
				MerchantID:     order.MerchantID,
				ItemCount:      itemCount(order.Lines),
				Subtotal:       order.Subtotal,
				DiscountAmount: order.DiscountAmount,
				TotalAmount:    order.TotalAmount,
				CouponCode:     input.CouponCode,
			},
			OccurredAt: now,
		})
	})
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			existing, findErr := s.repo.FindByTransactionID(ctx, input.TransactionID)
			if findErr == nil {
				s.logg.Info(s.logg.WithOrderID(ctx, existing.ID.String()), "order already recorded for transaction")
				return existing, nil
			}
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"order_id":    order.ID.String(),
		"merchant_id": order.MerchantID,
		"total":       order.TotalAmount.StringFixed(2),
	}), "order created")
	return order, nil
}

func validateCreate(input CreateInput) error {
	switch {
	case strings.TrimSpace(input.TransactionID) == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "transaction id required")
	case strings.TrimSpace(input.CustomerID) == "" || strings.TrimSpace(input.CustomerEmail) == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "customer identity required")
	case strings.TrimSpace(input.MerchantID) == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "merchant id required")
	case len(input.Lines) == 0:
		return pkgerrors.New(pkgerrors.CodeValidation, "order has no items")
	case input.TotalAmount.IsNegative():
		return pkgerrors.New(pkgerrors.CodeValidation, "order total cannot be negative")
	}
	for _, line := range input.Lines {
		if line.MerchantID != input.MerchantID {
			return pkgerrors.New(pkgerrors.CodeValidation, "orders can only contain items from one shop")
		}
		if line.Quantity < 1 {
			return pkgerrors.New(pkgerrors.CodeValidation, "line quantity must be at least 1")
		}
	}
	return nil
}

func itemCount(lines models.OrderLines) int {
	n := 0
	for _, line := range lines {
		n += line.Quantity
	}
	return n
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return s.load(ctx, s.repo, id)
}

func (s *service) FindByTransactionID(ctx context.Context, transactionID string) (*models.Order, error) {
	order, err := s.repo.FindByTransactionID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) load(ctx context.Context, repo Repository, id uuid.UUID) (*models.Order, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

// Advance applies a merchant-side status change. Moving to the current
// status is a no-op; picked_up goes through ConfirmPickup.
func (s *service) Advance(ctx context.Context, id uuid.UUID, to enums.OrderStatus) (*models.Order, error) {
	if !to.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown order status %q", to))
	}
	if to == enums.OrderStatusPickedUp {
		return s.ConfirmPickup(ctx, id)
	}

	var result *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.load(ctx, repo, id)
		if err != nil {
			return err
		}
		if order.Status == to {
			result = order
			return nil
		}
		from := order.Status
		if !from.CanTransitionTo(to) {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("cannot move order from %s to %s", from, to)).
				WithDetails(map[string]string{"from": from.String(), "to": to.String()})
		}

		now := s.now()
		updated, err := repo.UpdateStatus(ctx, order.ID, from, to, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}
		if !updated {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order changed concurrently")
		}
		order.Status = to
		order.UpdatedAt = now

		result = order
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderStatusChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID.String(),
			Actor:         &outbox.ActorRef{MerchantID: order.MerchantID, Role: "merchant"},
			Data: payloads.OrderStatusChangedEvent{
				OrderID:    order.ID.String(),
				MerchantID: order.MerchantID,
				From:       from,
				To:         to,
			},
			OccurredAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"order_id": result.ID.String(),
		"status":   result.Status.String(),
	}), "order status advanced")
	return result, nil
}

// ConfirmPickup applies completed -> picked_up. Repeating it on a picked up
// order returns the order unchanged.
func (s *service) ConfirmPickup(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var (
		result  *models.Order
		applied bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.load(ctx, repo, id)
		if err != nil {
			return err
		}
		switch order.Status {
		case enums.OrderStatusPickedUp:
			result = order
			return nil
		case enums.OrderStatusCompleted:
		default:
			return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrPickupUnavailable, ErrPickupUnavailable.Message()).
				WithDetails(map[string]string{"status": order.Status.String()})
		}

		now := s.now()
		updated, err := repo.MarkPickedUp(ctx, order.ID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to update order pickup status")
		}
		if !updated {
			current, err := s.load(ctx, repo, id)
			if err != nil {
				return err
			}
			if current.Status == enums.OrderStatusPickedUp {
				result = current
				return nil
			}
			return ErrPickupUnavailable
		}

		order.Status = enums.OrderStatusPickedUp
		order.PickedUp = true
		order.PickedUpAt = &now
		order.UpdatedAt = now
		result = order
		applied = true

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPickedUp,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID.String(),
			Actor:         &outbox.ActorRef{CustomerID: order.CustomerID, Role: "customer"},
			Data: payloads.OrderPickedUpEvent{
				OrderID:    order.ID.String(),
				CustomerID: order.CustomerID,
				MerchantID: order.MerchantID,
				PickedUpAt: now,
			},
			OccurredAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	if applied {
		s.logg.Info(s.logg.WithOrderID(ctx, result.ID.String()), "order picked up")
	}
	return result, nil
}

// PickupToken returns the scannable token for a completed order.
func (s *service) PickupToken(order *models.Order) (string, error) {
	if order == nil || order.ID == uuid.Nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "order required")
	}
	if order.Status != enums.OrderStatusCompleted {
		return "", ErrPickupUnavailable
	}
	return pickupTokenPrefix + order.ID.String(), nil
}

// ParsePickupToken extracts the order id from a scanned pickup token.
func ParsePickupToken(token string) (uuid.UUID, error) {
	raw, ok := strings.CutPrefix(strings.TrimSpace(token), pickupTokenPrefix)
	if !ok {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "not a pickup code")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "not a pickup code")
	}
	return id, nil
}

func (s *service) ConfirmPickupToken(ctx context.Context, token string) (*models.Order, error) {
	id, err := ParsePickupToken(token)
	if err != nil {
		return nil, err
	}
	return s.ConfirmPickup(ctx, id)
}

// ListActive returns the customer's orders that are still in progress, newest first.
func (s *service) ListActive(ctx context.Context, customerID string) ([]models.Order, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}
	rows, err := s.repo.ListByCustomer(ctx, listQuery{
		customerID: customerID,
		statuses:   enums.ActiveOrderStatuses,
		limit:      pagination.MaxLimit,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list active orders")
	}
	return rows, nil
}

// ListPrevious pages through collected orders, newest first.
func (s *service) ListPrevious(ctx context.Context, customerID string, params pagination.Params) (*ListResult, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}
	query := listQuery{
		customerID: customerID,
		statuses:   []enums.OrderStatus{enums.OrderStatusPickedUp},
		limit:      pagination.LimitWithBuffer(params.Limit),
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.cursor = cursor
	}

	rows, err := s.repo.ListByCustomer(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list previous orders")
	}
	page, next := pagination.Trim(rows, params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	return &ListResult{Orders: page, Cursor: next}, nil
}
