package services

import (
	"context"

	domain "github.com/maherkar/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination                = domain.Pagination
	SubscriptionPlan          = domain.SubscriptionPlan
	SubscriptionOrder         = domain.SubscriptionOrder
	OrderPricing              = domain.OrderPricing
	PaymentStatus             = domain.PaymentStatus
	FailureReason             = domain.FailureReason
	PendingPayload            = domain.PendingPayload
	JobPostingPayload         = domain.JobPostingPayload
	ResumePayload             = domain.ResumePayload
	PaymentReceipt            = domain.PaymentReceipt
	AdvertisementSubscription = domain.AdvertisementSubscription
	SystemHealthReport        = domain.SystemHealthReport
)

// Actor identifies the caller on whose behalf a command runs.
type Actor struct {
	ID string
	// Staff is set for staff and administrator accounts; they may act on orders they do not own.
	Staff bool
	// Mobile is forwarded to the gateway as payer metadata when known.
	Mobile string
}

// OrderService orchestrates the subscription order lifecycle from creation to provisioning.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (SubscriptionOrder, error)
	CreateDeferredJobOrder(ctx context.Context, cmd CreateDeferredJobOrderCommand) (SubscriptionOrder, error)
	CreateDeferredResumeOrder(ctx context.Context, cmd CreateDeferredResumeOrderCommand) (SubscriptionOrder, error)
	InitiatePayment(ctx context.Context, cmd InitiatePaymentCommand) (PaymentInitiation, error)
	// VerifyPayment settles a pending order. When the order ends up failed or canceled the returned
	// error wraps ErrOrderPaymentFailed and the result still describes the stored order.
	VerifyPayment(ctx context.Context, cmd VerifyPaymentCommand) (VerifyPaymentResult, error)
	GetOrder(ctx context.Context, orderID string, actor Actor) (SubscriptionOrder, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[SubscriptionOrder], error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (SubscriptionOrder, error)
	ListReconciliation(ctx context.Context, pager Pagination) (domain.CursorPage[SubscriptionOrder], error)
}

// PlanService exposes the subscription plan catalogue.
type PlanService interface {
	ListPlans(ctx context.Context) ([]SubscriptionPlan, error)
	UpsertPlan(ctx context.Context, cmd UpsertPlanCommand) (SubscriptionPlan, error)
}

// ProvisioningEngine turns a confirmed payment into advertisement state.
type ProvisioningEngine interface {
	Provision(ctx context.Context, order SubscriptionOrder) (ProvisioningResult, error)
}

// SystemService aggregates utility endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

type CreateOrderCommand struct {
	Actor           Actor
	PlanID          string
	Durations       int
	AdvertisementID string
}

type CreateDeferredJobOrderCommand struct {
	Actor     Actor
	PlanID    string
	Durations int
	Payload   JobPostingPayload
}

type CreateDeferredResumeOrderCommand struct {
	Actor     Actor
	PlanID    string
	Durations int
	Payload   ResumePayload
}

type InitiatePaymentCommand struct {
	OrderID string
	Actor   Actor
}

// PaymentInitiation carries the gateway redirect for a pending order.
type PaymentInitiation struct {
	Order      SubscriptionOrder
	PaymentURL string
	Authority  string
}

type VerifyPaymentCommand struct {
	OrderID   string
	Authority string
}

// VerifyPaymentResult describes the settled order.
type VerifyPaymentResult struct {
	Order SubscriptionOrder
	// AlreadyProcessed is set when the order had been settled by an earlier call.
	AlreadyProcessed bool
}

type OrderListFilter struct {
	Actor          Actor
	Statuses       []PaymentStatus
	FailureReasons []FailureReason
	Pagination     Pagination
}

type CancelOrderCommand struct {
	OrderID string
	Actor   Actor
	Reason  string
}

type UpsertPlanCommand struct {
	ID          string
	Name        string
	Description string
	PricePerDay int64
	Active      bool
	Free        bool
}

// ProvisioningResult links a paid order to the advertisement it funded.
type ProvisioningResult struct {
	AdvertisementID string
	SubscriptionID  string
	Subscription    AdvertisementSubscription
}
