package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/safmarket/saf-backend/pkg/db/models"
	"github.com/safmarket/saf-backend/pkg/enums"
)

// Columns fixed at creation. Update paths refuse to write them.
var immutableColumns = map[string]struct{}{
	"id":                  {},
	"owner_id":            {},
	"saf_volume_liters":   {},
	"total_price":         {},
	"platform_fee":        {},
	"flight_emissions_kg": {},
	"carbon_reduction_kg": {},
	"status":              {},
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
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus, updates map[string]any) (bool, error) {
	values := map[string]any{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	for column, value := range updates {
		if _, locked := immutableColumns[column]; locked {
			return false, fmt.Errorf("column %s cannot be updated", column)
		}
		values[column] = value
	}

	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) List(ctx context.Context, filters ListFilters) ([]models.Order, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Order{})
	if filters.OwnerID != nil {
		query = query.Where("owner_id = ?", *filters.OwnerID)
	}
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.FlightPrefix != "" {
		query = query.Where("UPPER(flight_number) LIKE ?", strings.ToUpper(filters.FlightPrefix)+"%")
	}
	if filters.DateFrom != nil {
		query = query.Where("flight_date >= ?", *filters.DateFrom)
	}
	if filters.DateTo != nil {
		query = query.Where("flight_date <= ?", *filters.DateTo)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := filters.Page.Normalize()
	var orders []models.Order
	err := query.
		Order(orderClause(filters.Sort, filters.Desc)).
		Offset(page.Offset()).
		Limit(page.Size).
		Find(&orders).Error
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func orderClause(sort SortField, desc bool) string {
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	switch sort {
	case SortByDate:
		return fmt.Sprintf("flight_date %s, created_at %s, id ASC", dir, dir)
	case SortByAmount:
		return fmt.Sprintf("total_price %s, id ASC", dir)
	case SortByStatus:
		return fmt.Sprintf("%s %s, created_at DESC, id ASC", statusRankExpr(), dir)
	default:
		return fmt.Sprintf("created_at %s, id ASC", dir)
	}
}

// statusRankExpr ranks statuses in lifecycle order rather than alphabetically.
func statusRankExpr() string {
	var b strings.Builder
	b.WriteString("CASE status")
	for i, status := range enums.OrderStatuses() {
		fmt.Fprintf(&b, " WHEN '%s' THEN %d", status, i)
	}
	b.WriteString(" END")
	return b.String()
}

func (r *repository) Stats(ctx context.Context, ownerID *string) ([]StatusAggregate, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Select(`status,
			COUNT(*) AS order_count,
			COALESCE(SUM(saf_volume_liters), 0) AS saf_volume,
			COALESCE(SUM(total_price), 0) AS revenue,
			COALESCE(SUM(platform_fee), 0) AS platform_fees`).
		Group("status")
	if ownerID != nil {
		query = query.Where("owner_id = ?", *ownerID)
	}

	var rows []StatusAggregate
	if err := query.Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) FindPaidWithoutCertificate(ctx context.Context, updatedBefore time.Time, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND certificate_id IS NULL AND updated_at < ?", enums.OrderStatusPaid, updatedBefore).
		Order("updated_at ASC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}
