package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	domain "github.com/maherkar/api/internal/domain"
	"github.com/maherkar/api/internal/platform/pagination"
	"github.com/maherkar/api/internal/repositories"
)

const maxOrderPageSize = 100

type orderRepository struct {
	db *gorm.DB
}

var _ repositories.OrderRepository = (*orderRepository)(nil)

// NewOrderRepository returns the Postgres backed order store.
func NewOrderRepository(db *gorm.DB) (repositories.OrderRepository, error) {
	if db == nil {
		return nil, errors.New("order repository: db is required")
	}
	return &orderRepository{db: db}, nil
}

func (r *orderRepository) Insert(ctx context.Context, order domain.SubscriptionOrder) error {
	if strings.TrimSpace(order.ID) == "" {
		return WrapError("orders.insert", errors.New("order id is required"))
	}
	row, err := orderToRow(order)
	if err != nil {
		return WrapError("orders.insert", err)
	}
	if err := conn(ctx, r.db).Create(&row).Error; err != nil {
		return WrapError("orders.insert", err)
	}
	return nil
}

func (r *orderRepository) FindByID(ctx context.Context, orderID string) (domain.SubscriptionOrder, error) {
	var row orderRow
	if err := conn(ctx, r.db).Where("id = ?", orderID).Take(&row).Error; err != nil {
		return domain.SubscriptionOrder{}, WrapError("orders.find", err)
	}
	order, err := row.toDomain()
	if err != nil {
		return domain.SubscriptionOrder{}, WrapError("orders.find", err)
	}
	return order, nil
}

func (r *orderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.SubscriptionOrder], error) {
	scope := filter.Scope()
	cursor, err := pagination.DecodeScopedToken(filter.Pagination.PageToken, scope)
	if err != nil {
		return domain.CursorPage[domain.SubscriptionOrder]{}, err
	}
	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}
	pageSize = min(pageSize, maxOrderPageSize)

	query := conn(ctx, r.db).Model(&orderRow{})
	if owner := strings.TrimSpace(filter.OwnerID); owner != "" {
		query = query.Where("owner_id = ?", owner)
	}
	if len(filter.Statuses) > 0 {
		query = query.Where("payment_status IN ?", filter.Statuses)
	}
	if len(filter.FailureReasons) > 0 {
		query = query.Where("failure_reason IN ?", filter.FailureReasons)
	}
	if !cursor.IsZero() {
		query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt.UTC(), cursor.ID)
	}

	var rows []orderRow
	if err := query.Order("created_at DESC").Order("id DESC").Limit(pageSize + 1).Find(&rows).Error; err != nil {
		return domain.CursorPage[domain.SubscriptionOrder]{}, WrapError("orders.list", err)
	}

	page := domain.CursorPage[domain.SubscriptionOrder]{}
	if len(rows) > pageSize {
		rows = rows[:pageSize]
		last := rows[len(rows)-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID, Scope: scope})
		if err != nil {
			return domain.CursorPage[domain.SubscriptionOrder]{}, err
		}
		page.NextPageToken = token
	}
	page.Items = make([]domain.SubscriptionOrder, 0, len(rows))
	for _, row := range rows {
		order, err := row.toDomain()
		if err != nil {
			return domain.CursorPage[domain.SubscriptionOrder]{}, WrapError("orders.list", err)
		}
		page.Items = append(page.Items, order)
	}
	return page, nil
}

const supersedeAuthoritySQL = `CASE
	WHEN authority = '' OR authority = ? OR COALESCE(prior_authorities, '[]'::jsonb) @> jsonb_build_array(authority) THEN COALESCE(prior_authorities, '[]'::jsonb)
	ELSE COALESCE(prior_authorities, '[]'::jsonb) || jsonb_build_array(authority)
END`

func (r *orderRepository) RecordAuthority(ctx context.Context, orderID string, authority string, at time.Time) error {
	db := conn(ctx, r.db)
	result := db.Model(&orderRow{}).
		Where("id = ? AND payment_status = ?", orderID, domain.PaymentStatusPending).
		Updates(map[string]any{
			// SET expressions read the pre-update row, so the superseded authority is the one appended.
			"prior_authorities": gorm.Expr(supersedeAuthoritySQL, authority),
			"authority":         authority,
			"updated_at":        at.UTC(),
		})
	if result.Error != nil {
		return WrapError("orders.recordAuthority", result.Error)
	}
	if result.RowsAffected == 0 {
		return r.explainMiss(ctx, "orders.recordAuthority", orderID, domain.PaymentStatusPending)
	}
	return nil
}

// UpdateStatus relies on the conditional UPDATE so concurrent writers serialise on the row lock and
// only the first one observing expected succeeds.
func (r *orderRepository) UpdateStatus(ctx context.Context, orderID string, expected domain.PaymentStatus, update repositories.OrderStatusUpdate) (domain.SubscriptionOrder, error) {
	changes := map[string]any{
		"payment_status": update.Status,
		"updated_at":     update.At.UTC(),
	}
	if update.AdvertisementID != nil {
		changes["advertisement_id"] = *update.AdvertisementID
	}
	if update.SubscriptionID != nil {
		changes["subscription_id"] = *update.SubscriptionID
	}
	if update.ClearPendingPayload {
		changes["pending_payload"] = gorm.Expr("NULL")
	}
	if update.Payment != nil {
		receipt, err := encodeReceipt(update.Payment)
		if err != nil {
			return domain.SubscriptionOrder{}, WrapError("orders.updateStatus", err)
		}
		changes["payment"] = receipt
	}
	if update.FailureReason != "" {
		changes["failure_reason"] = string(update.FailureReason)
		changes["failure_detail"] = update.FailureDetail
	}
	switch update.Status {
	case domain.PaymentStatusPaid:
		changes["paid_at"] = update.At.UTC()
	case domain.PaymentStatusFailed:
		changes["failed_at"] = update.At.UTC()
	case domain.PaymentStatusCanceled:
		changes["canceled_at"] = update.At.UTC()
	}

	result := conn(ctx, r.db).Model(&orderRow{}).
		Where("id = ? AND payment_status = ?", orderID, expected).
		Updates(changes)
	if result.Error != nil {
		return domain.SubscriptionOrder{}, WrapError("orders.updateStatus", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.SubscriptionOrder{}, r.explainMiss(ctx, "orders.updateStatus", orderID, expected)
	}
	return r.FindByID(ctx, orderID)
}

// explainMiss tells apart a missing order from one whose status moved on.
func (r *orderRepository) explainMiss(ctx context.Context, op, orderID string, expected domain.PaymentStatus) error {
	var row orderRow
	err := conn(ctx, r.db).Select("id", "payment_status").Where("id = ?", orderID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound(op, "order %s not found", orderID)
	}
	if err != nil {
		return WrapError(op, err)
	}
	return conflict(op, "order %s is %s, expected %s", orderID, row.PaymentStatus, expected)
}
