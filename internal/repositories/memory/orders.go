package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	domain "github.com/maherkar/api/internal/domain"
	"github.com/maherkar/api/internal/platform/pagination"
	"github.com/maherkar/api/internal/repositories"
)

type orderRepository struct{ s *Store }

func (r orderRepository) Insert(ctx context.Context, order domain.SubscriptionOrder) error {
	return r.s.write(ctx, func(data *state) error {
		if _, exists := data.orders[order.ID]; exists {
			return conflict("orders.insert", "order %s already exists", order.ID)
		}
		data.orders[order.ID] = cloneOrder(order)
		return nil
	})
}

func (r orderRepository) FindByID(ctx context.Context, orderID string) (domain.SubscriptionOrder, error) {
	var order domain.SubscriptionOrder
	err := r.s.read(ctx, func(data *state) error {
		stored, ok := data.orders[orderID]
		if !ok {
			return notFound("orders.find", "order %s not found", orderID)
		}
		order = cloneOrder(stored)
		return nil
	})
	return order, err
}

func (r orderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.SubscriptionOrder], error) {
	scope := filter.Scope()
	cursor, err := pagination.DecodeScopedToken(filter.Pagination.PageToken, scope)
	if err != nil {
		return domain.CursorPage[domain.SubscriptionOrder]{}, err
	}
	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}

	var matched []domain.SubscriptionOrder
	err = r.s.read(ctx, func(data *state) error {
		owner := strings.TrimSpace(filter.OwnerID)
		for _, order := range data.orders {
			if owner != "" && order.OwnerID != owner {
				continue
			}
			if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, order.PaymentStatus) {
				continue
			}
			if len(filter.FailureReasons) > 0 && !slices.Contains(filter.FailureReasons, order.FailureReason) {
				continue
			}
			if !cursor.Beyond(order.CreatedAt, order.ID) {
				continue
			}
			matched = append(matched, cloneOrder(order))
		}
		return nil
	})
	if err != nil {
		return domain.CursorPage[domain.SubscriptionOrder]{}, err
	}

	slices.SortFunc(matched, func(a, b domain.SubscriptionOrder) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	page := domain.CursorPage[domain.SubscriptionOrder]{Items: matched}
	if len(matched) > pageSize {
		page.Items = matched[:pageSize]
		last := page.Items[pageSize-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID, Scope: scope})
		if err != nil {
			return domain.CursorPage[domain.SubscriptionOrder]{}, err
		}
		page.NextPageToken = token
	}
	if page.Items == nil {
		page.Items = []domain.SubscriptionOrder{}
	}
	return page, nil
}

func (r orderRepository) RecordAuthority(ctx context.Context, orderID string, authority string, at time.Time) error {
	return r.s.write(ctx, func(data *state) error {
		order, ok := data.orders[orderID]
		if !ok {
			return notFound("orders.recordAuthority", "order %s not found", orderID)
		}
		if order.PaymentStatus != domain.PaymentStatusPending {
			return conflict("orders.recordAuthority", "order %s is %s", orderID, order.PaymentStatus)
		}
		if order.Authority != "" && order.Authority != authority && !slices.Contains(order.PriorAuthorities, order.Authority) {
			order.PriorAuthorities = append(slices.Clone(order.PriorAuthorities), order.Authority)
		}
		order.Authority = authority
		order.UpdatedAt = at
		data.orders[orderID] = order
		return nil
	})
}

func (r orderRepository) UpdateStatus(ctx context.Context, orderID string, expected domain.PaymentStatus, update repositories.OrderStatusUpdate) (domain.SubscriptionOrder, error) {
	var result domain.SubscriptionOrder
	err := r.s.write(ctx, func(data *state) error {
		order, ok := data.orders[orderID]
		if !ok {
			return notFound("orders.updateStatus", "order %s not found", orderID)
		}
		if order.PaymentStatus != expected {
			return conflict("orders.updateStatus", "order %s is %s, expected %s", orderID, order.PaymentStatus, expected)
		}

		order.PaymentStatus = update.Status
		order.UpdatedAt = update.At
		if update.AdvertisementID != nil {
			order.AdvertisementID = stringPtr(*update.AdvertisementID)
		}
		if update.SubscriptionID != nil {
			order.SubscriptionID = stringPtr(*update.SubscriptionID)
		}
		if update.ClearPendingPayload {
			order.PendingPayload = nil
		}
		if update.Payment != nil {
			receipt := *update.Payment
			order.Payment = &receipt
		}
		if update.FailureReason != "" {
			order.FailureReason = update.FailureReason
			order.FailureDetail = update.FailureDetail
		}
		at := update.At
		switch update.Status {
		case domain.PaymentStatusPaid:
			order.PaidAt = &at
		case domain.PaymentStatusFailed:
			order.FailedAt = &at
		case domain.PaymentStatusCanceled:
			order.CanceledAt = &at
		}
		data.orders[orderID] = order
		result = cloneOrder(order)
		return nil
	})
	return result, err
}

func cloneOrder(order domain.SubscriptionOrder) domain.SubscriptionOrder {
	clone := order
	if order.AdvertisementID != nil {
		clone.AdvertisementID = stringPtr(*order.AdvertisementID)
	}
	if order.SubscriptionID != nil {
		clone.SubscriptionID = stringPtr(*order.SubscriptionID)
	}
	if order.PendingPayload != nil {
		payload := *order.PendingPayload
		if payload.Job != nil {
			job := *payload.Job
			payload.Job = &job
		}
		if payload.Resume != nil {
			resume := *payload.Resume
			payload.Resume = &resume
		}
		clone.PendingPayload = &payload
	}
	clone.PriorAuthorities = slices.Clone(order.PriorAuthorities)
	if order.Payment != nil {
		receipt := *order.Payment
		clone.Payment = &receipt
	}
	return clone
}

func stringPtr(v string) *string {
	return &v
}
