package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/maherkar/api/internal/platform/auth"
	"github.com/maherkar/api/internal/platform/httpx"
	"github.com/maherkar/api/internal/platform/requestctx"
	"github.com/maherkar/api/internal/services"
)

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type upsertPlanRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	PricePerDay int64  `json:"price_per_day"`
	Active      bool   `json:"active"`
	Free        bool   `json:"free"`
}

// AdminHandlers exposes administrator operations on orders and plans.
type AdminHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	plans       services.PlanService
	middlewares []func(http.Handler) http.Handler
}

// AdminHandlerOption customises AdminHandlers.
type AdminHandlerOption func(*AdminHandlers)

// WithAdminMiddlewares adds middleware that runs after authentication.
func WithAdminMiddlewares(mw ...func(http.Handler) http.Handler) AdminHandlerOption {
	return func(h *AdminHandlers) {
		h.middlewares = append(h.middlewares, mw...)
	}
}

// NewAdminHandlers constructs AdminHandlers.
func NewAdminHandlers(authn *auth.Authenticator, orders services.OrderService, plans services.PlanService, opts ...AdminHandlerOption) *AdminHandlers {
	h := &AdminHandlers{authn: authn, orders: orders, plans: plans}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /admin endpoints. Every route requires the admin role.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
	}
	for _, mw := range h.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.Post("/orders/{orderID}:cancel", h.cancelOrder)
	r.Put("/plans/{planID}", h.upsertPlan)
}

func (h *AdminHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if !identity.HasRole(auth.RoleAdmin) {
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_role", "administrator role required", http.StatusForbidden))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}
	annotateOrder(ctx, orderID)

	var req cancelOrderRequest
	if r.ContentLength != 0 {
		if !decodeCommand(ctx, w, r, &req) {
			return
		}
	}

	order, err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		Actor:   actorFromIdentity(identity),
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	requestctx.Logger(ctx).Info("order canceled by admin",
		zap.String("orderId", order.ID),
		zap.String("actorId", identity.UID),
	)
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) upsertPlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.plans == nil {
		httpx.WriteError(ctx, w, httpx.NewError("plan_service_unavailable", "plan service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if !identity.HasRole(auth.RoleAdmin) {
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_role", "administrator role required", http.StatusForbidden))
		return
	}

	var req upsertPlanRequest
	if !decodeCommand(ctx, w, r, &req) {
		return
	}
	plan, err := h.plans.UpsertPlan(ctx, services.UpsertPlanCommand{
		ID:          strings.TrimSpace(chi.URLParam(r, "planID")),
		Name:        req.Name,
		Description: req.Description,
		PricePerDay: req.PricePerDay,
		Active:      req.Active,
		Free:        req.Free,
	})
	if err != nil {
		if errors.Is(err, services.ErrPlanInvalidInput) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("plan_error", "failed to save plan", http.StatusInternalServerError))
		return
	}
	writeJSONResponse(w, http.StatusOK, planPayload{
		ID:          plan.ID,
		Name:        plan.Name,
		Description: plan.Description,
		PricePerDay: plan.PricePerDay,
		Free:        plan.Free,
	})
}
