package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/maherkar/api/internal/domain"
	"github.com/maherkar/api/internal/services"
)

func newPaymentRouter(svc services.OrderService) chi.Router {
	router := chi.NewRouter()
	router.Route("/payments", NewPaymentHandlers(svc).Routes)
	return router
}

func TestPaymentHandlersVerifySuccess(t *testing.T) {
	var captured services.VerifyPaymentCommand
	svc := &stubOrderService{
		verifyFn: func(_ context.Context, cmd services.VerifyPaymentCommand) (services.VerifyPaymentResult, error) {
			captured = cmd
			order := pendingOrder(cmd.OrderID, "user-1")
			order.PaymentStatus = domain.PaymentStatusPaid
			order.Payment = &domain.PaymentReceipt{RefID: "12345"}
			return services.VerifyPaymentResult{Order: order}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/payments/verify?order_id=ord_1&Authority=A00000000000000000000000000000000001&Status=OK", nil)
	rr := httptest.NewRecorder()
	newPaymentRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.Authority != "A00000000000000000000000000000000001" {
		t.Fatalf("unexpected command %+v", captured)
	}
	body := decodeBody(t, rr)
	if body["status"] != "success" || body["ref_id"] != "12345" || body["advertisement_id"] != "ad-1" || body["already_processed"] != false {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestPaymentHandlersVerifyReplayReportsAlreadyProcessed(t *testing.T) {
	svc := &stubOrderService{
		verifyFn: func(_ context.Context, cmd services.VerifyPaymentCommand) (services.VerifyPaymentResult, error) {
			order := pendingOrder(cmd.OrderID, "user-1")
			order.PaymentStatus = domain.PaymentStatusPaid
			return services.VerifyPaymentResult{Order: order, AlreadyProcessed: true}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/payments/verify?order_id=ord_1&Authority=A1", nil)
	rr := httptest.NewRecorder()
	newPaymentRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["already_processed"] != true {
		t.Fatalf("expected already_processed, got %v", body)
	}
}

func TestPaymentHandlersVerifyFailureIsGeneric(t *testing.T) {
	svc := &stubOrderService{
		verifyFn: func(_ context.Context, cmd services.VerifyPaymentCommand) (services.VerifyPaymentResult, error) {
			order := pendingOrder(cmd.OrderID, "user-1")
			order.PaymentStatus = domain.PaymentStatusFailed
			order.FailureReason = domain.FailureReasonProvisioningUnauthorized
			order.FailureDetail = "advertisement ad-1 is owned by user-9"
			return services.VerifyPaymentResult{Order: order}, fmt.Errorf("%w: %s", services.ErrOrderPaymentFailed, order.FailureReason)
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/payments/verify?order_id=ord_1&Authority=A1", nil)
	rr := httptest.NewRecorder()
	newPaymentRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["error"] != "payment_failed" || body["message"] != "payment failed" {
		t.Fatalf("unexpected body %v", body)
	}
	if strings.Contains(rr.Body.String(), "provisioning") || strings.Contains(rr.Body.String(), "user-9") {
		t.Fatalf("failure details leaked to payer: %s", rr.Body.String())
	}
}

func TestPaymentHandlersVerifyRequiresParameters(t *testing.T) {
	called := false
	svc := &stubOrderService{
		verifyFn: func(context.Context, services.VerifyPaymentCommand) (services.VerifyPaymentResult, error) {
			called = true
			return services.VerifyPaymentResult{}, nil
		},
	}
	router := newPaymentRouter(svc)

	for _, target := range []string{"/payments/verify?order_id=ord_1", "/payments/verify?Authority=A1"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, rr.Code)
		}
	}
	if called {
		t.Fatalf("service must not be called without both parameters")
	}
}

func TestPaymentHandlersVerifyGatewayErrorsBeforeSettlement(t *testing.T) {
	svc := &stubOrderService{
		verifyFn: func(context.Context, services.VerifyPaymentCommand) (services.VerifyPaymentResult, error) {
			return services.VerifyPaymentResult{}, fmt.Errorf("%w: authority does not match", services.ErrOrderInvalidInput)
		},
	}
	rr := httptest.NewRecorder()
	newPaymentRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/payments/verify?order_id=ord_1&Authority=A2", nil))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
