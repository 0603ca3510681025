package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/singleflight"

	domain "github.com/maherkar/api/internal/domain"
	"github.com/maherkar/api/internal/payments"
	"github.com/maherkar/api/internal/platform/pagination"
	"github.com/maherkar/api/internal/repositories"
)

const (
	orderEventCreated                = "order.created"
	orderEventPaymentInitiated       = "order.payment.initiated"
	orderEventPaid                   = "order.paid"
	orderEventFailed                 = "order.failed"
	orderEventCanceled               = "order.canceled"
	orderEventReconciliationRequired = "order.reconciliation.required"

	orderIDPrefix = "ord_"

	// CallbackOrderIDParam is the query parameter carrying the order id on the gateway callback.
	CallbackOrderIDParam = "order_id"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden indicates the actor may not act on the order or advertisement.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderPaymentUnavailable indicates the gateway could not start a payment; the order stays pending.
	ErrOrderPaymentUnavailable = errors.New("order: payment gateway unavailable")
	// ErrOrderPaymentFailed indicates the order settled as failed or canceled.
	ErrOrderPaymentFailed = errors.New("order: payment failed")
)

var orderStateTransitions = map[domain.PaymentStatus][]domain.PaymentStatus{
	domain.PaymentStatusPending: {domain.PaymentStatusPaid, domain.PaymentStatusFailed, domain.PaymentStatusCanceled},
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	PreviousStatus PaymentStatus
	CurrentStatus  PaymentStatus
	FailureReason  FailureReason
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders         repositories.OrderRepository
	Plans          repositories.PlanRepository
	Advertisements repositories.AdvertisementRepository
	UnitOfWork     repositories.UnitOfWork
	Gateway        payments.Gateway
	Provisioner    ProvisioningEngine
	Clock          func() time.Time
	IDGenerator    func() string
	Events         OrderEventPublisher
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders      repositories.OrderRepository
	plans       repositories.PlanRepository
	ads         repositories.AdvertisementRepository
	unitOfWork  repositories.UnitOfWork
	gateway     payments.Gateway
	provisioner ProvisioningEngine
	clock       func() time.Time
	newID       func() string
	events      OrderEventPublisher
	logger      func(context.Context, string, map[string]any)

	verifyGroup singleflight.Group
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Plans == nil {
		return nil, errors.New("order service: plan repository is required")
	}
	if deps.Advertisements == nil {
		return nil, errors.New("order service: advertisement repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("order service: payment gateway is required")
	}
	if deps.Provisioner == nil {
		return nil, errors.New("order service: provisioning engine is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:      deps.Orders,
		plans:       deps.Plans,
		ads:         deps.Advertisements,
		unitOfWork:  unit,
		gateway:     deps.Gateway,
		provisioner: deps.Provisioner,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (SubscriptionOrder, error) {
	actor, err := requireActor(cmd.Actor)
	if err != nil {
		return SubscriptionOrder{}, err
	}
	adID := strings.TrimSpace(cmd.AdvertisementID)
	if adID == "" {
		return SubscriptionOrder{}, fmt.Errorf("%w: advertisement id is required", ErrOrderInvalidInput)
	}

	pricing, err := s.priceOrder(ctx, cmd.PlanID, cmd.Durations)
	if err != nil {
		return SubscriptionOrder{}, err
	}

	ownership, err := s.ads.FindOwnership(ctx, adID)
	if err != nil {
		if isRepoNotFound(err) {
			return SubscriptionOrder{}, fmt.Errorf("%w: advertisement %s not found", ErrOrderInvalidInput, adID)
		}
		return SubscriptionOrder{}, s.mapRepositoryError(err)
	}
	if ownership.Owner() != actor.ID && !actor.Staff {
		return SubscriptionOrder{}, fmt.Errorf("%w: advertisement %s is not owned by the caller", ErrOrderForbidden, adID)
	}
	subscriptionID := strings.TrimSpace(ownership.Advertisement.SubscriptionID)
	if subscriptionID == "" {
		return SubscriptionOrder{}, fmt.Errorf("%w: advertisement %s has no subscription", ErrOrderInvalidInput, adID)
	}

	order := s.newOrder(actor, strings.TrimSpace(cmd.PlanID), ownership.Advertisement.AdType, pricing)
	order.AdvertisementID = &adID
	order.SubscriptionID = &subscriptionID
	return s.persistNewOrder(ctx, order, actor)
}

func (s *orderService) CreateDeferredJobOrder(ctx context.Context, cmd CreateDeferredJobOrderCommand) (SubscriptionOrder, error) {
	actor, err := requireActor(cmd.Actor)
	if err != nil {
		return SubscriptionOrder{}, err
	}
	payload, err := normalizeJobPayload(cmd.Payload)
	if err != nil {
		return SubscriptionOrder{}, err
	}
	pricing, err := s.priceOrder(ctx, cmd.PlanID, cmd.Durations)
	if err != nil {
		return SubscriptionOrder{}, err
	}

	order := s.newOrder(actor, strings.TrimSpace(cmd.PlanID), domain.AdTypeJob, pricing)
	order.PendingPayload = domain.NewJobPendingPayload(payload)
	return s.persistNewOrder(ctx, order, actor)
}

func (s *orderService) CreateDeferredResumeOrder(ctx context.Context, cmd CreateDeferredResumeOrderCommand) (SubscriptionOrder, error) {
	actor, err := requireActor(cmd.Actor)
	if err != nil {
		return SubscriptionOrder{}, err
	}
	payload, err := normalizeResumePayload(cmd.Payload)
	if err != nil {
		return SubscriptionOrder{}, err
	}
	pricing, err := s.priceOrder(ctx, cmd.PlanID, cmd.Durations)
	if err != nil {
		return SubscriptionOrder{}, err
	}

	order := s.newOrder(actor, strings.TrimSpace(cmd.PlanID), domain.AdTypeResume, pricing)
	order.PendingPayload = domain.NewResumePendingPayload(payload)
	return s.persistNewOrder(ctx, order, actor)
}

func (s *orderService) InitiatePayment(ctx context.Context, cmd InitiatePaymentCommand) (PaymentInitiation, error) {
	actor, err := requireActor(cmd.Actor)
	if err != nil {
		return PaymentInitiation{}, err
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return PaymentInitiation{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return PaymentInitiation{}, s.mapRepositoryError(err)
	}
	if order.OwnerID != actor.ID && !actor.Staff {
		return PaymentInitiation{}, fmt.Errorf("%w: order %s belongs to another account", ErrOrderForbidden, orderID)
	}
	if order.PaymentStatus != domain.PaymentStatusPending {
		return PaymentInitiation{}, fmt.Errorf("%w: order status %q cannot be paid", ErrOrderInvalidState, order.PaymentStatus)
	}

	metadata := map[string]string{"order_id": order.ID}
	if mobile := strings.TrimSpace(actor.Mobile); mobile != "" {
		metadata["mobile"] = mobile
	}
	redirect, err := s.gateway.RequestPayment(ctx, payments.PaymentRequest{
		Amount:        order.TotalPrice,
		Description:   fmt.Sprintf("subscription order %s", order.ID),
		CallbackQuery: url.Values{CallbackOrderIDParam: {order.ID}},
		Metadata:      metadata,
	})
	if err != nil {
		s.logger(ctx, "order.payment.request.failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return PaymentInitiation{}, fmt.Errorf("%w: %v", ErrOrderPaymentUnavailable, err)
	}

	now := s.now()
	if err := s.orders.RecordAuthority(ctx, order.ID, redirect.Authority, now); err != nil {
		mapped := s.mapRepositoryError(err)
		if errors.Is(mapped, ErrOrderConflict) {
			return PaymentInitiation{}, fmt.Errorf("%w: order %s settled while requesting payment", ErrOrderInvalidState, order.ID)
		}
		return PaymentInitiation{}, mapped
	}
	order.Authority = redirect.Authority
	order.UpdatedAt = now

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventPaymentInitiated,
		OrderID:        order.ID,
		PreviousStatus: order.PaymentStatus,
		CurrentStatus:  order.PaymentStatus,
		ActorID:        actor.ID,
		OccurredAt:     now,
		Metadata:       map[string]any{"authority": redirect.Authority, "amount": order.TotalPrice},
	})

	return PaymentInitiation{
		Order:      order,
		PaymentURL: redirect.RedirectURL,
		Authority:  redirect.Authority,
	}, nil
}

func (s *orderService) VerifyPayment(ctx context.Context, cmd VerifyPaymentCommand) (VerifyPaymentResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return VerifyPaymentResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	authority := strings.TrimSpace(cmd.Authority)
	if authority == "" {
		return VerifyPaymentResult{}, fmt.Errorf("%w: authority is required", ErrOrderInvalidInput)
	}

	// Callers collapsed onto one flight must not be cut short by the first caller going away.
	flightCtx := context.WithoutCancel(ctx)
	value, err, _ := s.verifyGroup.Do(orderID+"|"+authority, func() (any, error) {
		return s.verify(flightCtx, orderID, authority)
	})
	result, _ := value.(VerifyPaymentResult)
	return result, err
}

func (s *orderService) verify(ctx context.Context, orderID, authority string) (VerifyPaymentResult, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return VerifyPaymentResult{}, s.mapRepositoryError(err)
	}
	if order.PaymentStatus.IsTerminal() {
		return settledResult(order)
	}
	if order.Authority == "" {
		return VerifyPaymentResult{}, fmt.Errorf("%w: payment for order %s was never initiated", ErrOrderInvalidState, order.ID)
	}
	if !order.IssuedAuthority(authority) {
		return VerifyPaymentResult{}, fmt.Errorf("%w: authority was not issued for order %s", ErrOrderInvalidInput, order.ID)
	}

	verification, err := s.gateway.VerifyPayment(ctx, payments.PaymentVerification{
		Amount:    order.TotalPrice,
		Authority: authority,
	})
	if err != nil {
		return s.failOrder(ctx, order, gatewayFailureReason(err), err.Error(), nil)
	}
	if !verification.Confirmed {
		detail := fmt.Sprintf("gateway code %d", verification.Code)
		if verification.Message != "" {
			detail += ": " + verification.Message
		}
		return s.failOrder(ctx, order, domain.FailureReasonPaymentNotConfirmed, detail, nil)
	}
	return s.commitPaid(ctx, order, verification)
}

// commitPaid provisions and flips the order to paid inside one transaction guarded by the pending CAS.
func (s *orderService) commitPaid(ctx context.Context, order SubscriptionOrder, verification payments.VerificationResult) (VerifyPaymentResult, error) {
	now := s.now()
	receipt := &domain.PaymentReceipt{
		RefID:      verification.RefID,
		CardPAN:    verification.CardPAN,
		CardHash:   verification.CardHash,
		FeeType:    verification.FeeType,
		Fee:        verification.Fee,
		VerifiedAt: now,
	}

	var (
		paid        SubscriptionOrder
		provisioned ProvisioningResult
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		result, err := s.provisioner.Provision(txCtx, order)
		if err != nil {
			return err
		}
		updated, err := s.orders.UpdateStatus(txCtx, order.ID, domain.PaymentStatusPending, repositories.OrderStatusUpdate{
			Status:              domain.PaymentStatusPaid,
			AdvertisementID:     &result.AdvertisementID,
			SubscriptionID:      &result.SubscriptionID,
			ClearPendingPayload: true,
			Payment:             receipt,
			At:                  now,
		})
		if err != nil {
			return s.mapRepositoryError(err)
		}
		paid, provisioned = updated, result
		return nil
	})

	var provErr *ProvisioningError
	switch {
	case err == nil:
	case errors.As(err, &provErr):
		return s.failOrder(ctx, order, provErr.Reason, provErr.Error(), receipt)
	case errors.Is(err, ErrOrderConflict):
		return s.reloadSettled(ctx, order.ID)
	default:
		s.logger(ctx, "order.payment.commit.failed", map[string]any{
			"orderId": order.ID,
			"refId":   receipt.RefID,
			"error":   err.Error(),
		})
		return VerifyPaymentResult{}, err
	}

	s.logger(ctx, "order.payment.paid", map[string]any{
		"orderId":         paid.ID,
		"refId":           receipt.RefID,
		"advertisementId": provisioned.AdvertisementID,
	})
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventPaid,
		OrderID:        paid.ID,
		PreviousStatus: domain.PaymentStatusPending,
		CurrentStatus:  paid.PaymentStatus,
		ActorID:        paid.OwnerID,
		OccurredAt:     now,
		Metadata: map[string]any{
			"advertisementId": provisioned.AdvertisementID,
			"subscriptionId":  provisioned.SubscriptionID,
			"refId":           receipt.RefID,
			"amount":          paid.TotalPrice,
		},
	})
	return VerifyPaymentResult{Order: paid}, nil
}

func (s *orderService) failOrder(ctx context.Context, order SubscriptionOrder, reason FailureReason, detail string, receipt *PaymentReceipt) (VerifyPaymentResult, error) {
	now := s.now()
	updated, err := s.orders.UpdateStatus(ctx, order.ID, domain.PaymentStatusPending, repositories.OrderStatusUpdate{
		Status:        domain.PaymentStatusFailed,
		Payment:       receipt,
		FailureReason: reason,
		FailureDetail: detail,
		At:            now,
	})
	if err != nil {
		mapped := s.mapRepositoryError(err)
		if errors.Is(mapped, ErrOrderConflict) {
			return s.reloadSettled(ctx, order.ID)
		}
		s.logger(ctx, "order.payment.fail.persist_failed", map[string]any{
			"orderId": order.ID,
			"reason":  string(reason),
			"error":   err.Error(),
		})
		return VerifyPaymentResult{}, mapped
	}

	fields := map[string]any{
		"orderId": updated.ID,
		"reason":  string(reason),
		"detail":  detail,
	}
	if receipt != nil {
		fields["refId"] = receipt.RefID
	}
	s.logger(ctx, "order.payment.failed", fields)

	metadata := map[string]any{"detail": detail}
	if receipt != nil {
		metadata["refId"] = receipt.RefID
		metadata["amount"] = updated.TotalPrice
	}
	event := OrderEvent{
		Type:           orderEventFailed,
		OrderID:        updated.ID,
		PreviousStatus: domain.PaymentStatusPending,
		CurrentStatus:  updated.PaymentStatus,
		FailureReason:  reason,
		ActorID:        updated.OwnerID,
		OccurredAt:     now,
		Metadata:       metadata,
	}
	s.publishEvent(ctx, event)
	if reason.RequiresReconciliation() {
		event.Type = orderEventReconciliationRequired
		s.publishEvent(ctx, event)
	}

	return VerifyPaymentResult{Order: updated}, fmt.Errorf("%w: %s", ErrOrderPaymentFailed, reason)
}

func (s *orderService) reloadSettled(ctx context.Context, orderID string) (VerifyPaymentResult, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return VerifyPaymentResult{}, s.mapRepositoryError(err)
	}
	if !order.PaymentStatus.IsTerminal() {
		return VerifyPaymentResult{}, fmt.Errorf("%w: order %s is still pending", ErrOrderConflict, orderID)
	}
	return settledResult(order)
}

func settledResult(order SubscriptionOrder) (VerifyPaymentResult, error) {
	result := VerifyPaymentResult{Order: order, AlreadyProcessed: true}
	if order.PaymentStatus == domain.PaymentStatusPaid {
		return result, nil
	}
	return result, fmt.Errorf("%w: order is %s", ErrOrderPaymentFailed, order.PaymentStatus)
}

func gatewayFailureReason(err error) FailureReason {
	switch {
	case payments.IsTimeout(err):
		return domain.FailureReasonGatewayTimeout
	case payments.IsConnectionFailure(err):
		return domain.FailureReasonGatewayUnreachable
	default:
		return domain.FailureReasonGatewayRejected
	}
}

func (s *orderService) GetOrder(ctx context.Context, orderID string, actor Actor) (SubscriptionOrder, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return SubscriptionOrder{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	actor, err := requireActor(actor)
	if err != nil {
		return SubscriptionOrder{}, err
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return SubscriptionOrder{}, s.mapRepositoryError(err)
	}
	if order.OwnerID != actor.ID && !actor.Staff {
		return SubscriptionOrder{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[SubscriptionOrder], error) {
	actor, err := requireActor(filter.Actor)
	if err != nil {
		return domain.CursorPage[SubscriptionOrder]{}, err
	}
	repoFilter := repositories.OrderListFilter{
		Statuses:       filter.Statuses,
		FailureReasons: filter.FailureReasons,
		Pagination:     filter.Pagination,
	}
	if !actor.Staff {
		repoFilter.OwnerID = actor.ID
	}
	page, err := s.orders.List(ctx, repoFilter)
	if err != nil {
		return domain.CursorPage[SubscriptionOrder]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (SubscriptionOrder, error) {
	actor, err := requireActor(cmd.Actor)
	if err != nil {
		return SubscriptionOrder{}, err
	}
	if !actor.Staff {
		return SubscriptionOrder{}, fmt.Errorf("%w: only staff may cancel orders", ErrOrderForbidden)
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return SubscriptionOrder{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return SubscriptionOrder{}, s.mapRepositoryError(err)
	}
	if !canTransition(order.PaymentStatus, domain.PaymentStatusCanceled) {
		return SubscriptionOrder{}, fmt.Errorf("%w: order status %q cannot be canceled", ErrOrderInvalidState, order.PaymentStatus)
	}

	now := s.now()
	reason := strings.TrimSpace(cmd.Reason)
	updated, err := s.orders.UpdateStatus(ctx, order.ID, domain.PaymentStatusPending, repositories.OrderStatusUpdate{
		Status:        domain.PaymentStatusCanceled,
		FailureReason: domain.FailureReasonCanceledByAdmin,
		FailureDetail: reason,
		At:            now,
	})
	if err != nil {
		return SubscriptionOrder{}, s.mapRepositoryError(err)
	}

	metadata := map[string]any{}
	if reason != "" {
		metadata["reason"] = reason
	}
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventCanceled,
		OrderID:        updated.ID,
		PreviousStatus: order.PaymentStatus,
		CurrentStatus:  updated.PaymentStatus,
		FailureReason:  domain.FailureReasonCanceledByAdmin,
		ActorID:        actor.ID,
		OccurredAt:     now,
		Metadata:       metadata,
	})
	return updated, nil
}

func (s *orderService) ListReconciliation(ctx context.Context, pager Pagination) (domain.CursorPage[SubscriptionOrder], error) {
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		Statuses:       []domain.PaymentStatus{domain.PaymentStatusFailed},
		FailureReasons: slices.Clone(domain.ProvisioningFailureReasons),
		Pagination:     pager,
	})
	if err != nil {
		return domain.CursorPage[SubscriptionOrder]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) priceOrder(ctx context.Context, planID string, durations int) (OrderPricing, error) {
	planID = strings.TrimSpace(planID)
	if planID == "" {
		return OrderPricing{}, fmt.Errorf("%w: plan id is required", ErrOrderInvalidInput)
	}
	if durations < 1 {
		return OrderPricing{}, fmt.Errorf("%w: durations must be at least one day", ErrOrderInvalidInput)
	}
	plan, err := s.plans.FindByID(ctx, planID)
	if err != nil {
		if isRepoNotFound(err) {
			return OrderPricing{}, fmt.Errorf("%w: plan %s not found", ErrOrderInvalidInput, planID)
		}
		return OrderPricing{}, s.mapRepositoryError(err)
	}
	if !plan.Active {
		return OrderPricing{}, fmt.Errorf("%w: plan %s is not available", ErrOrderInvalidInput, planID)
	}
	pricing, err := PriceSubscription(plan, durations)
	if err != nil {
		return OrderPricing{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	if pricing.Total <= 0 {
		return OrderPricing{}, fmt.Errorf("%w: plan %s has nothing to pay", ErrOrderInvalidInput, planID)
	}
	return pricing, nil
}

func (s *orderService) newOrder(actor Actor, planID string, adType domain.AdType, pricing OrderPricing) SubscriptionOrder {
	now := s.now()
	return SubscriptionOrder{
		ID:            s.nextOrderID(),
		OwnerID:       actor.ID,
		PlanID:        planID,
		AdType:        adType,
		Durations:     pricing.Durations,
		Price:         pricing.Price,
		Tax:           pricing.Tax,
		TotalPrice:    pricing.Total,
		PaymentStatus: domain.PaymentStatusPending,
		StaffOverride: actor.Staff,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (s *orderService) persistNewOrder(ctx context.Context, order SubscriptionOrder, actor Actor) (SubscriptionOrder, error) {
	if err := s.orders.Insert(ctx, order); err != nil {
		return SubscriptionOrder{}, s.mapRepositoryError(err)
	}

	metadata := map[string]any{
		"planId":     order.PlanID,
		"adType":     string(order.AdType),
		"durations":  order.Durations,
		"totalPrice": order.TotalPrice,
		"deferred":   order.IsDeferred(),
	}
	if order.AdvertisementID != nil {
		metadata["advertisementId"] = *order.AdvertisementID
	}
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		CurrentStatus: order.PaymentStatus,
		ActorID:       actor.ID,
		OccurredAt:    order.CreatedAt,
		Metadata:      metadata,
	})
	return order, nil
}

func requireActor(actor Actor) (Actor, error) {
	actor.ID = strings.TrimSpace(actor.ID)
	if actor.ID == "" {
		return Actor{}, fmt.Errorf("%w: actor id is required", ErrOrderInvalidInput)
	}
	return actor, nil
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pagination.ErrInvalidPageToken) {
		return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": string(event.CurrentStatus),
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func canTransition(current, target domain.PaymentStatus) bool {
	return slices.Contains(orderStateTransitions[current], target)
}
