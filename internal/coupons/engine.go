package coupons

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/pickup-checkout/pkg/db/models"
	"github.com/angelmondragon/pickup-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/pickup-checkout/pkg/errors"
	"github.com/angelmondragon/pickup-checkout/pkg/logger"
	"github.com/angelmondragon/pickup-checkout/pkg/metrics"
)

var (
	ErrCodeRequired  = pkgerrors.New(pkgerrors.CodeCoupon, "please enter a coupon code")
	ErrNotFound      = pkgerrors.New(pkgerrors.CodeCoupon, "invalid coupon code")
	ErrNotYetValid   = pkgerrors.New(pkgerrors.CodeCoupon, "coupon is not yet valid")
	ErrExpired       = pkgerrors.New(pkgerrors.CodeCoupon, "coupon has expired")
	ErrUsageExceeded = pkgerrors.New(pkgerrors.CodeCoupon, "coupon usage limit exceeded")
	ErrUnapplicable  = pkgerrors.New(pkgerrors.CodeCoupon, "unable to apply discount")
	// ErrBelowMinimum is the sentinel matched by errors.Is; the returned error
	// wraps it with a message naming the minimum.
	ErrBelowMinimum = pkgerrors.New(pkgerrors.CodeCoupon, "order is below the coupon minimum")
)

// Result is a validated discount ready to apply to the cart total.
type Result struct {
	Discount decimal.Decimal
	Coupon   models.Coupon
}

// Engine validates promotional codes against a cart total.
type Engine interface {
	Validate(ctx context.Context, code string, cartTotal decimal.Decimal, now time.Time) (*Result, error)
}

type engine struct {
	repo    Repository
	metrics *metrics.CheckoutMetrics
	logg    *logger.Logger
}

// NewEngine builds a discount engine over the coupon repository.
func NewEngine(repo Repository, m *metrics.CheckoutMetrics, logg *logger.Logger) (Engine, error) {
	if repo == nil {
		return nil, fmt.Errorf("coupon repository required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &engine{repo: repo, metrics: m, logg: logg}, nil
}

// Validate runs the checks in order and stops at the first failure.
func (e *engine) Validate(ctx context.Context, code string, cartTotal decimal.Decimal, now time.Time) (*Result, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, e.reject(ctx, "code_required", ErrCodeRequired)
	}

	coupon, err := e.repo.FindActiveByCode(ctx, code)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to validate coupon, please try again")
	}
	if coupon == nil || !coupon.IsActive {
		return nil, e.reject(ctx, "not_found", ErrNotFound)
	}

	switch {
	case now.Before(coupon.ValidFrom):
		return nil, e.reject(ctx, "not_yet_valid", ErrNotYetValid)
	case now.After(coupon.ValidUntil):
		return nil, e.reject(ctx, "expired", ErrExpired)
	case coupon.UsageCount >= coupon.UsageLimit:
		return nil, e.reject(ctx, "usage_exceeded", ErrUsageExceeded)
	case cartTotal.LessThan(coupon.MinimumOrderAmount):
		minimum := coupon.MinimumOrderAmount.StringFixed(2)
		err := pkgerrors.Wrap(pkgerrors.CodeCoupon, ErrBelowMinimum,
			fmt.Sprintf("minimum order amount should be ₹%s", coupon.MinimumOrderAmount.String())).
			WithDetails(map[string]string{"minimum": minimum})
		return nil, e.reject(ctx, "below_minimum", err)
	}

	discount := Compute(*coupon, cartTotal)
	if !discount.IsPositive() {
		return nil, e.reject(ctx, "unapplicable", ErrUnapplicable)
	}

	e.logg.Info(e.logg.WithFields(ctx, map[string]any{
		"coupon_code": coupon.Code,
		"discount":    discount.StringFixed(2),
	}), "coupon applied")
	return &Result{Discount: discount, Coupon: *coupon}, nil
}

// Compute applies the coupon's value to cartTotal. Percentage discounts are
// capped at MaxDiscount when it is set, and no discount exceeds the total.
func Compute(coupon models.Coupon, cartTotal decimal.Decimal) decimal.Decimal {
	var discount decimal.Decimal
	switch coupon.DiscountType {
	case enums.DiscountTypePercentage:
		discount = cartTotal.Mul(coupon.DiscountValue).Div(decimal.NewFromInt(100))
		if coupon.MaxDiscount.Valid && coupon.MaxDiscount.Decimal.IsPositive() && discount.GreaterThan(coupon.MaxDiscount.Decimal) {
			discount = coupon.MaxDiscount.Decimal
		}
	case enums.DiscountTypeFixed:
		discount = coupon.DiscountValue
	default:
		return decimal.Zero
	}
	discount = discount.Round(2)
	if discount.GreaterThan(cartTotal) {
		discount = cartTotal
	}
	return discount
}

// Describe renders a short label such as "10% off up to ₹15" or "₹50 off".
func Describe(coupon models.Coupon) string {
	if coupon.DiscountType == enums.DiscountTypePercentage {
		label := coupon.DiscountValue.String() + "% off"
		if coupon.MaxDiscount.Valid && coupon.MaxDiscount.Decimal.IsPositive() {
			label += " up to ₹" + coupon.MaxDiscount.Decimal.String()
		}
		return label
	}
	return "₹" + coupon.DiscountValue.String() + " off"
}

func (e *engine) reject(ctx context.Context, reason string, err error) error {
	e.metrics.IncCouponRejection(reason)
	e.logg.Info(e.logg.WithField(ctx, "reason", reason), "coupon rejected")
	return err
}
