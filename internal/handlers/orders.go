package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/maherkar/api/internal/domain"
	"github.com/maherkar/api/internal/platform/auth"
	"github.com/maherkar/api/internal/platform/httpx"
	"github.com/maherkar/api/internal/platform/requestctx"
	"github.com/maherkar/api/internal/services"
)

type createOrderRequest struct {
	PlanID          string `json:"plan_id"`
	Durations       int    `json:"durations"`
	AdvertisementID string `json:"advertisement_id"`
}

type createJobOrderRequest struct {
	PlanID    string `json:"plan_id"`
	Durations int    `json:"durations"`
	services.JobPostingPayload
}

type createResumeOrderRequest struct {
	PlanID    string `json:"plan_id"`
	Durations int    `json:"durations"`
	services.ResumePayload
}

type createOrderResponse struct {
	OrderID       string `json:"order_id"`
	Price         int64  `json:"price"`
	Tax           int64  `json:"tax"`
	TotalPrice    int64  `json:"total_price"`
	PaymentStatus string `json:"payment_status"`
}

type paymentInitiationResponse struct {
	OrderID    string `json:"order_id"`
	PaymentURL string `json:"payment_url"`
	Authority  string `json:"authority"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type orderPayload struct {
	ID              string          `json:"id"`
	OwnerID         string          `json:"owner_id"`
	PlanID          string          `json:"plan_id"`
	AdType          string          `json:"ad_type"`
	Durations       int             `json:"durations"`
	Price           int64           `json:"price"`
	Tax             int64           `json:"tax"`
	TotalPrice      int64           `json:"total_price"`
	PaymentStatus   string          `json:"payment_status"`
	AdvertisementID string          `json:"advertisement_id,omitempty"`
	SubscriptionID  string          `json:"subscription_id,omitempty"`
	Deferred        bool            `json:"deferred"`
	FailureReason   string          `json:"failure_reason,omitempty"`
	Payment         *receiptPayload `json:"payment,omitempty"`
	CreatedAt       string          `json:"created_at"`
	UpdatedAt       string          `json:"updated_at"`
	PaidAt          string          `json:"paid_at,omitempty"`
	FailedAt        string          `json:"failed_at,omitempty"`
	CanceledAt      string          `json:"canceled_at,omitempty"`
}

type receiptPayload struct {
	RefID      string `json:"ref_id"`
	CardPAN    string `json:"card_pan,omitempty"`
	VerifiedAt string `json:"verified_at"`
}

// OrderHandlers exposes the subscription order endpoints for authenticated callers.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	middlewares []func(http.Handler) http.Handler
	payLimiter  rateLimiter
}

// OrderHandlerOption customises OrderHandlers.
type OrderHandlerOption func(*OrderHandlers)

// WithOrderMiddlewares adds middleware that runs after authentication, such as idempotency.
func WithOrderMiddlewares(mw ...func(http.Handler) http.Handler) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.middlewares = append(h.middlewares, mw...)
	}
}

// WithPaymentRateLimit throttles payment initiation per caller. perMinute <= 0 disables it.
func WithPaymentRateLimit(perMinute, burst int, clock func() time.Time) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.payLimiter = newRateLimiter(perMinute, burst, clock)
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlerOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	for _, mw := range h.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.Get("/", h.listOrders)
	r.Post("/", h.createOrder)
	r.Post("/job-postings", h.createJobOrder)
	r.Post("/resume-postings", h.createResumeOrder)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/payments", h.initiatePayment)
}

func (h *OrderHandlers) available(w http.ResponseWriter, r *http.Request) bool {
	if h.orders == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req createOrderRequest
	if !decodeCommand(ctx, w, r, &req) {
		return
	}
	order, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		Actor:           actorFromIdentity(identity),
		PlanID:          strings.TrimSpace(req.PlanID),
		Durations:       req.Durations,
		AdvertisementID: strings.TrimSpace(req.AdvertisementID),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	annotateOrder(ctx, order.ID)
	writeJSONResponse(w, http.StatusCreated, buildCreateOrderResponse(order))
}

func (h *OrderHandlers) createJobOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if !identity.HasAnyRole(auth.RoleEmployer, auth.RoleAdmin) {
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_role", "only employers can order job postings", http.StatusForbidden))
		return
	}

	var req createJobOrderRequest
	if !decodeCommand(ctx, w, r, &req) {
		return
	}
	order, err := h.orders.CreateDeferredJobOrder(ctx, services.CreateDeferredJobOrderCommand{
		Actor:     actorFromIdentity(identity),
		PlanID:    strings.TrimSpace(req.PlanID),
		Durations: req.Durations,
		Payload:   req.JobPostingPayload,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	annotateOrder(ctx, order.ID)
	writeJSONResponse(w, http.StatusCreated, buildCreateOrderResponse(order))
}

func (h *OrderHandlers) createResumeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if !identity.HasAnyRole(auth.RoleJobSeeker, auth.RoleAdmin) {
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_role", "only job seekers can order resume postings", http.StatusForbidden))
		return
	}

	var req createResumeOrderRequest
	if !decodeCommand(ctx, w, r, &req) {
		return
	}
	order, err := h.orders.CreateDeferredResumeOrder(ctx, services.CreateDeferredResumeOrderCommand{
		Actor:     actorFromIdentity(identity),
		PlanID:    strings.TrimSpace(req.PlanID),
		Durations: req.Durations,
		Payload:   req.ResumePayload,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	annotateOrder(ctx, order.ID)
	writeJSONResponse(w, http.StatusCreated, buildCreateOrderResponse(order))
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	params, err := parseListParams(r.URL.Query())
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	var statuses []services.PaymentStatus
	for _, raw := range params.Filters["status"] {
		statuses = append(statuses, domain.PaymentStatus(raw))
	}
	var reasons []services.FailureReason
	for _, raw := range params.Filters["failure_reason"] {
		reasons = append(reasons, domain.FailureReason(raw))
	}

	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		Actor:          actorFromIdentity(identity),
		Statuses:       statuses,
		FailureReasons: reasons,
		Pagination:     pagerFrom(params),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderListResponse(page))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}
	annotateOrder(ctx, orderID)

	order, err := h.orders.GetOrder(ctx, orderID, actorFromIdentity(identity))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) initiatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}
	annotateOrder(ctx, orderID)
	if h.payLimiter != nil && !h.payLimiter.Allow(identity.UID) {
		requestctx.Logger(ctx).Info("payment initiation throttled", zap.String("orderId", orderID))
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many payment attempts, try again shortly", http.StatusTooManyRequests))
		return
	}

	initiation, err := h.orders.InitiatePayment(ctx, services.InitiatePaymentCommand{
		OrderID: orderID,
		Actor:   actorFromIdentity(identity),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, paymentInitiationResponse{
		OrderID:    initiation.Order.ID,
		PaymentURL: initiation.PaymentURL,
		Authority:  initiation.Authority,
	})
}

func buildCreateOrderResponse(order services.SubscriptionOrder) createOrderResponse {
	return createOrderResponse{
		OrderID:       order.ID,
		Price:         order.Price,
		Tax:           order.Tax,
		TotalPrice:    order.TotalPrice,
		PaymentStatus: string(order.PaymentStatus),
	}
}

func buildOrderListResponse(page domain.CursorPage[services.SubscriptionOrder]) orderListResponse {
	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	return orderListResponse{Items: items, NextPageToken: page.NextPageToken}
}

func buildOrderPayload(order services.SubscriptionOrder) orderPayload {
	payload := orderPayload{
		ID:            order.ID,
		OwnerID:       order.OwnerID,
		PlanID:        order.PlanID,
		AdType:        string(order.AdType),
		Durations:     order.Durations,
		Price:         order.Price,
		Tax:           order.Tax,
		TotalPrice:    order.TotalPrice,
		PaymentStatus: string(order.PaymentStatus),
		Deferred:      order.IsDeferred(),
		FailureReason: string(order.FailureReason),
		CreatedAt:     formatTime(order.CreatedAt),
		UpdatedAt:     formatTime(order.UpdatedAt),
		PaidAt:        formatTimePtr(order.PaidAt),
		FailedAt:      formatTimePtr(order.FailedAt),
		CanceledAt:    formatTimePtr(order.CanceledAt),
	}
	if order.AdvertisementID != nil {
		payload.AdvertisementID = *order.AdvertisementID
	}
	if order.SubscriptionID != nil {
		payload.SubscriptionID = *order.SubscriptionID
	}
	if order.Payment != nil {
		payload.Payment = &receiptPayload{
			RefID:      order.Payment.RefID,
			CardPAN:    order.Payment.CardPAN,
			VerifiedAt: formatTime(order.Payment.VerifiedAt),
		}
	}
	return payload
}
