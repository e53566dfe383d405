package payloads

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/pickup-checkout/pkg/enums"
)

// OrderCreatedEvent is emitted when a paid checkout becomes an order.
type OrderCreatedEvent struct {
	OrderID        string          `json:"order_id"`
	TransactionID  string          `json:"transaction_id"`
	CustomerID     string          `json:"customer_id"`
	MerchantID     string          `json:"merchant_id"`
	ItemCount      int             `json:"item_count"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	CouponCode     string          `json:"coupon_code,omitempty"`
}

// OrderStatusChangedEvent is emitted when the merchant advances an order.
type OrderStatusChangedEvent struct {
	OrderID    string            `json:"order_id"`
	MerchantID string            `json:"merchant_id"`
	From       enums.OrderStatus `json:"from"`
	To         enums.OrderStatus `json:"to"`
}

// OrderPickedUpEvent is emitted once per order when the customer collects it.
type OrderPickedUpEvent struct {
	OrderID    string    `json:"order_id"`
	CustomerID string    `json:"customer_id"`
	MerchantID string    `json:"merchant_id"`
	PickedUpAt time.Time `json:"picked_up_at"`
}

// PaymentCallbackEvent carries a verified gateway redirect.
type PaymentCallbackEvent struct {
	TransactionID string               `json:"transaction_id"`
	Outcome       enums.PaymentOutcome `json:"outcome"`
	GatewayStatus string               `json:"gateway_status"`
	Amount        string               `json:"amount"`
	Email         string               `json:"email,omitempty"`
	ReceivedAt    time.Time            `json:"received_at"`
}
