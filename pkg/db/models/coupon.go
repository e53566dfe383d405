package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/pickup-checkout/pkg/enums"
)

// Coupon is a promotional code owned by the backend catalog. The engine only
// reads it; usage_count is advanced server-side.
type Coupon struct {
	ID                 uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	Code               string              `gorm:"column:code;not null;uniqueIndex:ux_coupons_code"`
	DiscountType       enums.DiscountType  `gorm:"column:discount_type;type:text;not null"`
	DiscountValue      decimal.Decimal     `gorm:"column:discount_value;type:numeric(12,2);not null"`
	MinimumOrderAmount decimal.Decimal     `gorm:"column:minimum_order_amount;type:numeric(12,2);not null;default:0"`
	MaxDiscount        decimal.NullDecimal `gorm:"column:max_discount;type:numeric(12,2)"`
	UsageLimit         int                 `gorm:"column:usage_limit;not null"`
	UsageCount         int                 `gorm:"column:usage_count;not null;default:0"`
	ValidFrom          time.Time           `gorm:"column:valid_from;not null"`
	ValidUntil         time.Time           `gorm:"column:valid_until;not null"`
	IsActive           bool                `gorm:"column:is_active;not null;default:true"`
	CreatedAt          time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *Coupon) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
