package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/pickup-checkout/pkg/enums"
)

// Order is the durable receipt created once payment success is observed.
type Order struct {
	ID             uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	TransactionID  string            `gorm:"column:transaction_id;not null;uniqueIndex:ux_orders_transaction_id"`
	CustomerID     string            `gorm:"column:customer_id;not null;index"`
	CustomerEmail  string            `gorm:"column:customer_email;not null"`
	MerchantID     string            `gorm:"column:merchant_id;not null;index"`
	MerchantName   string            `gorm:"column:merchant_name"`
	Lines          OrderLines        `gorm:"column:lines;type:jsonb;not null"`
	Subtotal       decimal.Decimal   `gorm:"column:subtotal;type:numeric(12,2);not null"`
	DiscountAmount decimal.Decimal   `gorm:"column:discount_amount;type:numeric(12,2);not null;default:0"`
	TotalAmount    decimal.Decimal   `gorm:"column:total_amount;type:numeric(12,2);not null"`
	CouponCode     *string           `gorm:"column:coupon_code"`
	Status         enums.OrderStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	PickedUp       bool              `gorm:"column:picked_up;not null;default:false"`
	CreatedAt      time.Time         `gorm:"column:created_at;not null"`
	ConfirmedAt    time.Time         `gorm:"column:confirmed_at;not null"`
	PickedUpAt     *time.Time        `gorm:"column:picked_up_at"`
	UpdatedAt      time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// OrderLine is the snapshot of a cart line taken when the order is confirmed.
type OrderLine struct {
	ItemID       string          `json:"itemId"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	Quantity     int             `json:"quantity"`
	MerchantID   string          `json:"merchantId"`
	MerchantName string          `json:"merchantName,omitempty"`
	DietType     enums.DietType  `json:"dietType"`
	Category     string          `json:"category,omitempty"`
	ImageRef     string          `json:"imageRef,omitempty"`
	IsActive     bool            `json:"isActive"`
}

// OrderLines is stored as a JSON array column.
type OrderLines []OrderLine

func (l *OrderLines) Scan(src any) error {
	if src == nil {
		*l = OrderLines{}
		return nil
	}

	var raw []byte
	switch v := src.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("OrderLines: unsupported Scan type %T", src)
	}
	if len(raw) == 0 {
		*l = OrderLines{}
		return nil
	}
	return json.Unmarshal(raw, l)
}

func (l OrderLines) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
