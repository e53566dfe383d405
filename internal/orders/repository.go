package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pickup-checkout/pkg/db/models"
	"github.com/angelmondragon/pickup-checkout/pkg/enums"
	"github.com/angelmondragon/pickup-checkout/pkg/pagination"
)

// Repository defines persistence operations for the orders table.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByTransactionID(ctx context.Context, transactionID string) (*models.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus, at time.Time) (bool, error)
	MarkPickedUp(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	ListByCustomer(ctx context.Context, query listQuery) ([]models.Order, error)
}

type listQuery struct {
	customerID string
	statuses   []enums.OrderStatus
	cursor     *pagination.Cursor
	limit      int
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByTransactionID(ctx context.Context, transactionID string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateStatus moves the order only while it is still in from. It reports
// whether a row changed.
func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", id, from).
		UpdateColumns(map[string]any{
			"status":     to,
			"updated_at": at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkPickedUp applies completed -> picked_up with the pickedUp flag.
func (r *repository) MarkPickedUp(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", id, enums.OrderStatusCompleted).
		UpdateColumns(map[string]any{
			"status":       enums.OrderStatusPickedUp,
			"picked_up":    true,
			"picked_up_at": at,
			"updated_at":   at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) ListByCustomer(ctx context.Context, query listQuery) ([]models.Order, error) {
	q := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("customer_id = ?", query.customerID)
	if len(query.statuses) > 0 {
		q = q.Where("status IN ?", query.statuses)
	}
	if query.cursor != nil {
		q = q.Where("(created_at, id) < (?, ?)", query.cursor.CreatedAt, query.cursor.ID)
	}

	var rows []models.Order
	if err := q.Order("created_at DESC, id DESC").Limit(query.limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
