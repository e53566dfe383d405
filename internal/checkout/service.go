package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/pickup-checkout/internal/cart"
	"github.com/angelmondragon/pickup-checkout/internal/coupons"
	"github.com/angelmondragon/pickup-checkout/internal/gateway"
	"github.com/angelmondragon/pickup-checkout/internal/identity"
	"github.com/angelmondragon/pickup-checkout/internal/orders"
	"github.com/angelmondragon/pickup-checkout/pkg/db/models"
	"github.com/angelmondragon/pickup-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/pickup-checkout/pkg/errors"
	"github.com/angelmondragon/pickup-checkout/pkg/logger"
	"github.com/angelmondragon/pickup-checkout/pkg/metrics"
	"github.com/angelmondragon/pickup-checkout/pkg/payu"
)

var (
	ErrNoSession      = identity.ErrNoSession
	ErrEmptyCart      = pkgerrors.New(pkgerrors.CodeValidation, "your cart is empty")
	ErrPaymentFailed  = pkgerrors.New(pkgerrors.CodeGateway, "payment failed, please try again")
	ErrAbandoned      = pkgerrors.New(pkgerrors.CodeGateway, "payment was not completed")
	ErrReconciliation = pkgerrors.New(pkgerrors.CodeReconciliation, "payment received but the order was not recorded; do not pay again, contact support")
)

const defaultPayerName = "Customer"

// PaymentSurface shows the signed gateway form and reports every navigation
// it observes. The channel is closed when the surface is dismissed.
type PaymentSurface interface {
	Present(ctx context.Context, form payu.Form) (<-chan gateway.NavigationEvent, error)
}

// Quote is the priced cart shown before payment.
type Quote struct {
	Lines       []cart.Line
	MerchantID  string
	Subtotal    decimal.Decimal
	Discount    decimal.Decimal
	Total       decimal.Decimal
	Coupon      *models.Coupon
	CouponLabel string
}

type Request struct {
	CouponCode string
}

type Result struct {
	Order         *models.Order
	TransactionID string
	Quote         Quote
	Stages        []enums.CheckoutStage
}

// Service runs checkout attempts from the local cart to a recorded order.
type Service interface {
	Quote(ctx context.Context, couponCode string) (*Quote, error)
	Checkout(ctx context.Context, req Request) (*Result, error)
	Pending(ctx context.Context) ([]PendingTransaction, error)
	Reconcile(ctx context.Context) ([]PendingTransaction, error)
	Discard(ctx context.Context, transactionID string) error
}

type cartReader interface {
	Snapshot() cart.Snapshot
	Clear(ctx context.Context) error
}

type orderRecorder interface {
	Create(ctx context.Context, input orders.CreateInput) (*models.Order, error)
	FindByTransactionID(ctx context.Context, transactionID string) (*models.Order, error)
}

type ServiceParams struct {
	Identity       identity.Provider
	Cart           cartReader
	Coupons        coupons.Engine
	Orders         orderRecorder
	Merchant       payu.Merchant
	ProductInfo    string
	Interpreter    *gateway.Interpreter
	Surface        PaymentSurface
	Journal        *Journal
	GatewayTimeout time.Duration
	OnStage        StageHook
	Metrics        *metrics.CheckoutMetrics
	Logger         *logger.Logger
	Clock          func() time.Time
	NewTransaction func() string
}

type service struct {
	identity       identity.Provider
	cart           cartReader
	coupons        coupons.Engine
	orders         orderRecorder
	merchant       payu.Merchant
	productInfo    string
	interpreter    *gateway.Interpreter
	surface        PaymentSurface
	journal        *Journal
	gatewayTimeout time.Duration
	onStage        StageHook
	metrics        *metrics.CheckoutMetrics
	logg           *logger.Logger
	now            func() time.Time
	newTxnID       func() string

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Identity == nil:
		return nil, fmt.Errorf("identity provider required")
	case params.Cart == nil:
		return nil, fmt.Errorf("cart required")
	case params.Coupons == nil:
		return nil, fmt.Errorf("coupon engine required")
	case params.Orders == nil:
		return nil, fmt.Errorf("orders service required")
	case params.Interpreter == nil:
		return nil, fmt.Errorf("outcome interpreter required")
	case params.Surface == nil:
		return nil, fmt.Errorf("payment surface required")
	case params.Journal == nil:
		return nil, fmt.Errorf("checkout journal required")
	}
	if params.ProductInfo == "" {
		params.ProductInfo = "Food Order"
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	if params.Clock == nil {
		params.Clock = time.Now
	}
	if params.NewTransaction == nil {
		params.NewTransaction = payu.NewTransactionID
	}
	return &service{
		identity:       params.Identity,
		cart:           params.Cart,
		coupons:        params.Coupons,
		orders:         params.Orders,
		merchant:       params.Merchant,
		productInfo:    params.ProductInfo,
		interpreter:    params.Interpreter,
		surface:        params.Surface,
		journal:        params.Journal,
		gatewayTimeout: params.GatewayTimeout,
		onStage:        params.OnStage,
		metrics:        params.Metrics,
		logg:           params.Logger,
		now:            func() time.Time { return params.Clock().UTC() },
		newTxnID:       params.NewTransaction,
		inFlight:       map[string]struct{}{},
	}, nil
}

// Quote prices the current cart, applying couponCode when it is not blank.
func (s *service) Quote(ctx context.Context, couponCode string) (*Quote, error) {
	snap := s.cart.Snapshot()
	if err := validateCart(snap); err != nil {
		return nil, err
	}
	return s.price(ctx, snap, couponCode)
}

func (s *service) price(ctx context.Context, snap cart.Snapshot, couponCode string) (*Quote, error) {
	subtotal := decimal.Zero
	for _, line := range snap.Lines {
		subtotal = subtotal.Add(line.Total())
	}
	quote := &Quote{
		Lines:      snap.Lines,
		MerchantID: snap.Lines[0].MerchantID,
		Subtotal:   subtotal,
		Discount:   decimal.Zero,
		Total:      subtotal,
	}
	if strings.TrimSpace(couponCode) == "" {
		return quote, nil
	}

	applied, err := s.coupons.Validate(ctx, couponCode, subtotal, s.now())
	if err != nil {
		return nil, err
	}
	coupon := applied.Coupon
	quote.Coupon = &coupon
	quote.CouponLabel = coupons.Describe(coupon)
	quote.Discount = applied.Discount
	quote.Total = subtotal.Sub(applied.Discount)
	return quote, nil
}

func validateCart(snap cart.Snapshot) error {
	if snap.IsEmpty() {
		return ErrEmptyCart
	}
	merchant := snap.Lines[0].MerchantID
	for _, line := range snap.Lines[1:] {
		if line.MerchantID != merchant {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, cart.ErrCrossMerchant, "orders can only contain items from one shop")
		}
	}
	return nil
}

// Checkout runs one attempt. It blocks while the payment surface is on
// screen and returns once the gateway reaches the success or failure URL, the
// surface is dismissed, or ctx ends. An order exists only when the returned
// error is nil.
func (s *service) Checkout(ctx context.Context, req Request) (*Result, error) {
	attempt := newAttempt(s.onStage)
	fail := func(ctx context.Context, result string, err error) (*Result, error) {
		from := attempt.fail()
		s.metrics.IncStageFailure(from.String())
		s.metrics.IncAttempt(result)
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"stage":  from.String(),
			"result": result,
			"reason": err.Error(),
		}), "checkout stopped")
		return nil, err
	}

	session, err := s.identity.CurrentSession(ctx)
	if err == nil && (session == nil || strings.TrimSpace(session.UID) == "" || strings.TrimSpace(session.Email) == "") {
		err = ErrNoSession
	}
	if err != nil {
		return fail(ctx, "rejected", err)
	}
	if err := s.step(ctx, attempt, enums.CheckoutStageSessionChecked); err != nil {
		return fail(ctx, "rejected", err)
	}
	ctx = s.logg.WithCustomerID(ctx, session.UID)

	snap := s.cart.Snapshot()
	if err := validateCart(snap); err != nil {
		return fail(ctx, "rejected", err)
	}
	if err := s.step(ctx, attempt, enums.CheckoutStageCartValidated); err != nil {
		return fail(ctx, "rejected", err)
	}

	quote, err := s.price(ctx, snap, req.CouponCode)
	if err != nil {
		return fail(ctx, "rejected", err)
	}
	if quote.Coupon != nil {
		if err := s.step(ctx, attempt, enums.CheckoutStageDiscountApplied); err != nil {
			return fail(ctx, "rejected", err)
		}
	}

	txnID := s.newTxnID()
	ctx = s.logg.WithTransactionID(ctx, txnID)
	form, err := s.merchant.BuildForm(payu.Fields{
		TxnID:       txnID,
		Amount:      payu.FormatAmount(quote.Total),
		ProductInfo: s.productInfo,
		FirstName:   payerName(session),
		Email:       session.Email,
	}, session.PhoneNumber)
	if err != nil {
		return fail(ctx, "rejected", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build payment request"))
	}
	if err := s.step(ctx, attempt, enums.CheckoutStagePaymentDataBuilt); err != nil {
		return fail(ctx, "rejected", err)
	}

	entry := s.journalEntry(txnID, session, snap, quote)
	if err := s.journal.Put(ctx, entry); err != nil {
		return fail(ctx, "rejected", err)
	}
	s.track(txnID, true)
	defer s.track(txnID, false)

	if err := s.step(ctx, attempt, enums.CheckoutStageAwaitingGateway); err != nil {
		s.forget(ctx, txnID)
		return fail(ctx, "rejected", err)
	}

	waitCtx, cancelWait := s.gatewayContext(ctx)
	defer cancelWait()
	events, err := s.surface.Present(waitCtx, form)
	if err != nil {
		s.forget(ctx, txnID)
		return fail(ctx, "gateway_error", pkgerrors.Wrap(pkgerrors.CodeGateway, err, "payment gateway unavailable"))
	}

	started := time.Now()
	outcome, navErr := s.await(waitCtx, events)
	s.metrics.ObserveGatewayWait(time.Since(started))
	s.metrics.IncOutcome(outcome.String())

	// Past this point the customer may have paid; persistence must not be cut
	// short by the caller leaving.
	durable := context.WithoutCancel(ctx)

	switch {
	case outcome == enums.PaymentOutcomeFailure:
		s.forget(durable, txnID)
		return fail(ctx, "payment_failed", ErrPaymentFailed)
	case outcome != enums.PaymentOutcomeSuccess:
		entry.State = enums.JournalStateAbandoned
		entry.UpdatedAt = s.now()
		if navErr != nil {
			entry.LastError = navErr.Error()
		}
		if err := s.journal.Put(durable, entry); err != nil {
			s.logg.Error(durable, "failed to mark pending checkout abandoned", err)
		}
		if navErr != nil {
			return fail(ctx, "gateway_error", navErr)
		}
		return fail(ctx, "abandoned", ErrAbandoned)
	}

	s.logg.Info(durable, "payment success observed")
	order, err := s.orders.Create(durable, orders.CreateInput{
		TransactionID:  txnID,
		CustomerID:     session.UID,
		CustomerEmail:  session.Email,
		MerchantID:     quote.MerchantID,
		MerchantName:   snap.Lines[0].MerchantName,
		Lines:          orderLines(snap.Lines),
		Subtotal:       quote.Subtotal,
		DiscountAmount: quote.Discount,
		TotalAmount:    quote.Total,
		CouponCode:     couponCode(quote),
		ConfirmedAt:    s.now(),
	})
	if err != nil {
		return fail(ctx, "reconciliation_required", s.escalate(durable, entry, err))
	}

	if err := s.step(durable, attempt, enums.CheckoutStageSucceeded); err != nil {
		s.logg.Error(durable, "checkout stage machine rejected success", err)
	}
	s.forget(durable, txnID)
	if err := s.cart.Clear(durable); err != nil {
		s.logg.Error(durable, "failed to clear cart after order", err)
	}
	s.metrics.IncAttempt("succeeded")
	s.logg.Info(s.logg.WithOrderID(durable, order.ID.String()), "checkout succeeded")

	return &Result{
		Order:         order,
		TransactionID: txnID,
		Quote:         *quote,
		Stages:        attempt.History(),
	}, nil
}

func (s *service) gatewayContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.gatewayTimeout > 0 {
		return context.WithTimeout(ctx, s.gatewayTimeout)
	}
	return context.WithCancel(ctx)
}

// await blocks until a terminal outcome. It returns Indeterminate with a
// gateway error when a page fails to load, and Indeterminate with a nil
// error when the surface is dismissed or ctx ends.
func (s *service) await(ctx context.Context, events <-chan gateway.NavigationEvent) (enums.PaymentOutcome, error) {
	for {
		select {
		case <-ctx.Done():
			return enums.PaymentOutcomeIndeterminate, nil
		case event, ok := <-events:
			if !ok {
				return enums.PaymentOutcomeIndeterminate, nil
			}
			if event.Failed() {
				return enums.PaymentOutcomeIndeterminate, gatewayLoadError(event)
			}
			if outcome := s.interpreter.Interpret(event); outcome.IsTerminal() {
				return outcome, nil
			}
		}
	}
}

func gatewayLoadError(event gateway.NavigationEvent) error {
	if event.HTTPStatus >= 400 {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, event.Err, fmt.Sprintf("payment gateway error: %d", event.HTTPStatus))
	}
	return pkgerrors.Wrap(pkgerrors.CodeGateway, event.Err, "payment gateway unreachable")
}

// escalate records a paid attempt whose order could not be created.
func (s *service) escalate(ctx context.Context, entry PendingTransaction, cause error) error {
	s.metrics.IncReconciliation()
	s.logg.Error(ctx, "payment succeeded but order was not recorded", cause)

	entry.State = enums.JournalStateReconciliationRequired
	entry.LastError = cause.Error()
	entry.UpdatedAt = s.now()
	if err := s.journal.Put(ctx, entry); err != nil {
		s.logg.Error(ctx, "failed to persist reconciliation entry", err)
	}
	return pkgerrors.Wrap(pkgerrors.CodeReconciliation, ErrReconciliation, ErrReconciliation.Message()).
		WithDetails(map[string]string{
			"transaction_id": entry.TransactionID,
			"amount":         payu.FormatAmount(entry.Amount),
		})
}

func (s *service) step(ctx context.Context, attempt *Attempt, next enums.CheckoutStage) error {
	if err := attempt.advance(next); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checkout out of sequence")
	}
	s.logg.Info(s.logg.WithField(ctx, "stage", next.String()), "checkout stage")
	return nil
}

func (s *service) forget(ctx context.Context, txnID string) {
	if _, err := s.journal.Remove(ctx, txnID); err != nil {
		s.logg.Error(ctx, "failed to clear pending checkout", err)
	}
}

func (s *service) track(txnID string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if active {
		s.inFlight[txnID] = struct{}{}
	} else {
		delete(s.inFlight, txnID)
	}
}

func (s *service) isInFlight(txnID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[txnID]
	return ok
}

func (s *service) journalEntry(txnID string, session *identity.Session, snap cart.Snapshot, quote *Quote) PendingTransaction {
	now := s.now()
	return PendingTransaction{
		TransactionID: txnID,
		State:         enums.JournalStateAwaitingGateway,
		CustomerID:    session.UID,
		CustomerEmail: session.Email,
		MerchantID:    quote.MerchantID,
		MerchantName:  snap.Lines[0].MerchantName,
		Lines:         snap.Lines,
		Subtotal:      quote.Subtotal,
		Discount:      quote.Discount,
		Amount:        quote.Total,
		CouponCode:    couponCode(quote),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func payerName(session *identity.Session) string {
	if name := strings.TrimSpace(session.DisplayName); name != "" {
		return name
	}
	return defaultPayerName
}

func couponCode(quote *Quote) string {
	if quote.Coupon == nil {
		return ""
	}
	return quote.Coupon.Code
}

func orderLines(lines []cart.Line) []models.OrderLine {
	out := make([]models.OrderLine, len(lines))
	for i, line := range lines {
		out[i] = models.OrderLine{
			ItemID:       line.ItemID,
			Name:         line.Name,
			Description:  line.Description,
			UnitPrice:    line.UnitPrice,
			Quantity:     line.Quantity,
			MerchantID:   line.MerchantID,
			MerchantName: line.MerchantName,
			DietType:     line.DietType,
			Category:     line.Category,
			ImageRef:     line.ImageRef,
			IsActive:     true,
		}
	}
	return out
}

func (s *service) Pending(ctx context.Context) ([]PendingTransaction, error) {
	return s.journal.List(ctx)
}

// Reconcile settles journal entries left by earlier attempts. Entries whose
// order exists are cleared. Paid entries without an order are recorded
// again from their snapshot; a snapshot the order store rejects as invalid
// is parked as needs_support and not retried. Everything still unresolved
// is returned.
func (s *service) Reconcile(ctx context.Context) ([]PendingTransaction, error) {
	entries, err := s.journal.List(ctx)
	if err != nil {
		return nil, err
	}

	unresolved := make([]PendingTransaction, 0, len(entries))
	for _, entry := range entries {
		if s.isInFlight(entry.TransactionID) {
			continue
		}
		entryCtx := s.logg.WithTransactionID(ctx, entry.TransactionID)

		_, err := s.orders.FindByTransactionID(entryCtx, entry.TransactionID)
		switch {
		case err == nil:
			s.forget(entryCtx, entry.TransactionID)
			s.logg.Info(entryCtx, "pending checkout already has an order")
			continue
		case !errors.Is(err, orders.ErrNotFound):
			return nil, err
		}

		if entry.State == enums.JournalStateReconciliationRequired {
			order, err := s.orders.Create(entryCtx, orders.CreateInput{
				TransactionID:  entry.TransactionID,
				CustomerID:     entry.CustomerID,
				CustomerEmail:  entry.CustomerEmail,
				MerchantID:     entry.MerchantID,
				MerchantName:   entry.MerchantName,
				Lines:          orderLines(entry.Lines),
				Subtotal:       entry.Subtotal,
				DiscountAmount: entry.Discount,
				TotalAmount:    entry.Amount,
				CouponCode:     entry.CouponCode,
				ConfirmedAt:    entry.UpdatedAt,
			})
			if err == nil {
				s.forget(entryCtx, entry.TransactionID)
				s.logg.Info(s.logg.WithOrderID(entryCtx, order.ID.String()), "reconciled paid checkout")
				continue
			}
			s.logg.Error(entryCtx, "reconciliation retry failed", err)
			if pkgerrors.CodeOf(err) == pkgerrors.CodeValidation {
				entry.State = enums.JournalStateNeedsSupport
				entry.LastError = err.Error()
				entry.UpdatedAt = s.now()
				if err := s.journal.Put(entryCtx, entry); err != nil {
					return nil, err
				}
				s.logg.Warn(entryCtx, "paid checkout needs support")
			}
		}
		unresolved = append(unresolved, entry)
	}
	return unresolved, nil
}

// Discard drops a journal entry after it has been settled by support.
func (s *service) Discard(ctx context.Context, transactionID string) error {
	if s.isInFlight(transactionID) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "checkout still in progress")
	}
	removed, err := s.journal.Remove(ctx, transactionID)
	if err != nil {
		return err
	}
	if !removed {
		return pkgerrors.New(pkgerrors.CodeNotFound, "pending checkout not found")
	}
	s.logg.Info(s.logg.WithTransactionID(ctx, transactionID), "pending checkout discarded")
	return nil
}
