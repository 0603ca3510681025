package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/maherkar/api/internal/platform/auth"
	"github.com/maherkar/api/internal/platform/httpx"
	"github.com/maherkar/api/internal/platform/requestctx"
	"github.com/maherkar/api/internal/services"
)

type reconciliationPayload struct {
	orderPayload
	FailureDetail    string   `json:"failure_detail,omitempty"`
	Authority        string   `json:"authority,omitempty"`
	PriorAuthorities []string `json:"prior_authorities,omitempty"`
}

type reconciliationResponse struct {
	Items         []reconciliationPayload `json:"items"`
	NextPageToken string                  `json:"next_page_token,omitempty"`
}

// InternalHandlers serves endpoints for scheduled jobs and operators. Authentication is applied
// by the router's internal middleware group.
type InternalHandlers struct {
	orders services.OrderService
}

// NewInternalHandlers constructs InternalHandlers.
func NewInternalHandlers(orders services.OrderService) *InternalHandlers {
	return &InternalHandlers{orders: orders}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/orders/reconciliation", h.listReconciliation)
}

func (h *InternalHandlers) listReconciliation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	caller, ok := auth.ServiceIdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "service authentication required", http.StatusUnauthorized))
		return
	}

	params, err := parseListParams(r.URL.Query())
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	page, err := h.orders.ListReconciliation(ctx, pagerFrom(params))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]reconciliationPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, reconciliationPayload{
			orderPayload:     buildOrderPayload(order),
			FailureDetail:    order.FailureDetail,
			Authority:        order.Authority,
			PriorAuthorities: order.PriorAuthorities,
		})
	}
	requestctx.Logger(ctx).Info("reconciliation listed",
		zap.String("caller", caller.Email),
		zap.Int("count", len(items)),
	)
	writeJSONResponse(w, http.StatusOK, reconciliationResponse{Items: items, NextPageToken: page.NextPageToken})
}
