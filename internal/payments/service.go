// Package payments records the gateway's server-side redirects. The relay is
// an audit and confirmation channel only: orders are still created by the
// client that observed the success redirect.
package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/pickup-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/pickup-checkout/pkg/errors"
	"github.com/angelmondragon/pickup-checkout/pkg/logger"
	"github.com/angelmondragon/pickup-checkout/pkg/metrics"
	"github.com/angelmondragon/pickup-checkout/pkg/outbox"
	"github.com/angelmondragon/pickup-checkout/pkg/outbox/payloads"
	"github.com/angelmondragon/pickup-checkout/pkg/payu"
)

var (
	ErrInvalidSignature = pkgerrors.New(pkgerrors.CodeUnauthorized, "callback signature mismatch")
	ErrStatusMismatch   = pkgerrors.New(pkgerrors.CodeValidation, "callback status does not match endpoint")
)

const gatewayStatusSuccess = "success"

type Callback struct {
	Outcome  enums.PaymentOutcome
	Response payu.Response
}

type Result struct {
	TransactionID string
	Outcome       enums.PaymentOutcome
	Duplicate     bool
}

type Service interface {
	HandleCallback(ctx context.Context, cb Callback) (*Result, error)
}

type claimGuard interface {
	Claim(ctx context.Context, outcome, txnID string) (bool, error)
	Release(ctx context.Context, outcome, txnID string) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type ServiceParams struct {
	Merchant payu.Merchant
	Guard    claimGuard
	Tx       txRunner
	Outbox   outboxPublisher
	Metrics  *metrics.RelayMetrics
	Logger   *logger.Logger
	Clock    func() time.Time
}

type service struct {
	merchant payu.Merchant
	guard    claimGuard
	tx       txRunner
	outbox   outboxPublisher
	metrics  *metrics.RelayMetrics
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Merchant.Key == "" || params.Merchant.Salt == "":
		return nil, fmt.Errorf("merchant credentials required")
	case params.Guard == nil:
		return nil, fmt.Errorf("callback guard required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	if params.Clock == nil {
		params.Clock = time.Now
	}
	return &service{
		merchant: params.Merchant,
		guard:    params.Guard,
		tx:       params.Tx,
		outbox:   params.Outbox,
		metrics:  params.Metrics,
		logg:     params.Logger,
		now:      func() time.Time { return params.Clock().UTC() },
	}, nil
}

// HandleCallback verifies the response hash, drops redeliveries and queues a
// payment event for the verified callback.
func (s *service) HandleCallback(ctx context.Context, cb Callback) (*Result, error) {
	if !cb.Outcome.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown callback outcome")
	}
	resp := cb.Response
	ctx = s.logg.WithFields(s.logg.WithTransactionID(ctx, resp.TxnID), map[string]any{
		"outcome":        cb.Outcome.String(),
		"gateway_status": resp.Status,
	})

	if !payu.VerifyResponse(resp, s.merchant.Key, s.merchant.Salt) {
		s.metrics.IncCallback(cb.Outcome.String(), false)
		s.logg.Warn(ctx, "rejected unsigned gateway callback")
		return nil, ErrInvalidSignature
	}
	s.metrics.IncCallback(cb.Outcome.String(), true)

	succeeded := strings.EqualFold(resp.Status, gatewayStatusSuccess)
	if succeeded != (cb.Outcome == enums.PaymentOutcomeSuccess) {
		s.logg.Warn(ctx, "gateway status disagrees with callback endpoint")
		return nil, ErrStatusMismatch
	}

	result := &Result{TransactionID: resp.TxnID, Outcome: cb.Outcome}
	claimed, err := s.guard.Claim(ctx, cb.Outcome.String(), resp.TxnID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check callback idempotency")
	}
	if !claimed {
		s.logg.Info(ctx, "duplicate gateway callback ignored")
		result.Duplicate = true
		return result, nil
	}

	eventType := enums.EventPaymentFailed
	if cb.Outcome == enums.PaymentOutcomeSuccess {
		eventType = enums.EventPaymentConfirmed
	}
	receivedAt := s.now()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     eventType,
			AggregateType: enums.AggregatePayment,
			AggregateID:   resp.TxnID,
			OccurredAt:    receivedAt,
			Data: payloads.PaymentCallbackEvent{
				TransactionID: resp.TxnID,
				Outcome:       cb.Outcome,
				GatewayStatus: resp.Status,
				Amount:        resp.Amount,
				Email:         resp.Email,
				ReceivedAt:    receivedAt,
			},
		})
	})
	if err != nil {
		if relErr := s.guard.Release(ctx, cb.Outcome.String(), resp.TxnID); relErr != nil {
			s.logg.Error(ctx, "failed to release callback claim", relErr)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment callback")
	}

	s.logg.Info(ctx, "gateway callback recorded")
	return result, nil
}
