package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/maherkar/api/internal/platform/httpx"
	"github.com/maherkar/api/internal/platform/requestctx"
	"github.com/maherkar/api/internal/services"
)

type verifyPaymentResponse struct {
	Status           string `json:"status"`
	OrderID          string `json:"order_id"`
	AdvertisementID  string `json:"advertisement_id,omitempty"`
	RefID            string `json:"ref_id,omitempty"`
	AlreadyProcessed bool   `json:"already_processed"`
}

// PaymentHandlers serves the gateway callback. The payer's browser lands here without an API
// token, so the order id and authority are the only inputs.
type PaymentHandlers struct {
	orders services.OrderService
}

// NewPaymentHandlers constructs PaymentHandlers.
func NewPaymentHandlers(orders services.OrderService) *PaymentHandlers {
	return &PaymentHandlers{orders: orders}
}

// Routes registers the /payments endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/verify", h.verifyPayment)
}

func (h *PaymentHandlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	authority := strings.TrimSpace(query.Get("Authority"))
	if authority == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "Authority parameter is required", http.StatusBadRequest))
		return
	}
	orderID := strings.TrimSpace(query.Get(services.CallbackOrderIDParam))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order_id parameter is required", http.StatusBadRequest))
		return
	}
	annotateOrder(ctx, orderID)

	result, err := h.orders.VerifyPayment(ctx, services.VerifyPaymentCommand{
		OrderID:   orderID,
		Authority: authority,
	})
	if err != nil {
		if errors.Is(err, services.ErrOrderPaymentFailed) {
			// The failure reason stays server side; the payer only learns the payment did not go through.
			requestctx.Logger(ctx).Info("payment verification failed",
				zap.String("orderId", orderID),
				zap.String("status", string(result.Order.PaymentStatus)),
				zap.String("reason", string(result.Order.FailureReason)),
				zap.Bool("alreadyProcessed", result.AlreadyProcessed),
			)
		}
		writeOrderError(ctx, w, err)
		return
	}

	resp := verifyPaymentResponse{
		Status:           "success",
		OrderID:          result.Order.ID,
		AlreadyProcessed: result.AlreadyProcessed,
	}
	if result.Order.AdvertisementID != nil {
		resp.AdvertisementID = *result.Order.AdvertisementID
	}
	if result.Order.Payment != nil {
		resp.RefID = result.Order.Payment.RefID
	}
	writeJSONResponse(w, http.StatusOK, resp)
}
