package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/maherkar/api/internal/domain"
	"github.com/maherkar/api/internal/platform/auth"
	"github.com/maherkar/api/internal/platform/pagination"
	"github.com/maherkar/api/internal/services"
)

type stubOrderService struct {
	createFn       func(context.Context, services.CreateOrderCommand) (services.SubscriptionOrder, error)
	createJobFn    func(context.Context, services.CreateDeferredJobOrderCommand) (services.SubscriptionOrder, error)
	createResumeFn func(context.Context, services.CreateDeferredResumeOrderCommand) (services.SubscriptionOrder, error)
	initiateFn     func(context.Context, services.InitiatePaymentCommand) (services.PaymentInitiation, error)
	verifyFn       func(context.Context, services.VerifyPaymentCommand) (services.VerifyPaymentResult, error)
	getFn          func(context.Context, string, services.Actor) (services.SubscriptionOrder, error)
	listFn         func(context.Context, services.OrderListFilter) (domain.CursorPage[services.SubscriptionOrder], error)
	cancelFn       func(context.Context, services.CancelOrderCommand) (services.SubscriptionOrder, error)
	reconcileFn    func(context.Context, services.Pagination) (domain.CursorPage[services.SubscriptionOrder], error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.SubscriptionOrder, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.SubscriptionOrder{}, errors.New("not implemented")
}

func (s *stubOrderService) CreateDeferredJobOrder(ctx context.Context, cmd services.CreateDeferredJobOrderCommand) (services.SubscriptionOrder, error) {
	if s.createJobFn != nil {
		return s.createJobFn(ctx, cmd)
	}
	return services.SubscriptionOrder{}, errors.New("not implemented")
}

func (s *stubOrderService) CreateDeferredResumeOrder(ctx context.Context, cmd services.CreateDeferredResumeOrderCommand) (services.SubscriptionOrder, error) {
	if s.createResumeFn != nil {
		return s.createResumeFn(ctx, cmd)
	}
	return services.SubscriptionOrder{}, errors.New("not implemented")
}

func (s *stubOrderService) InitiatePayment(ctx context.Context, cmd services.InitiatePaymentCommand) (services.PaymentInitiation, error) {
	if s.initiateFn != nil {
		return s.initiateFn(ctx, cmd)
	}
	return services.PaymentInitiation{}, errors.New("not implemented")
}

func (s *stubOrderService) VerifyPayment(ctx context.Context, cmd services.VerifyPaymentCommand) (services.VerifyPaymentResult, error) {
	if s.verifyFn != nil {
		return s.verifyFn(ctx, cmd)
	}
	return services.VerifyPaymentResult{}, errors.New("not implemented")
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string, actor services.Actor) (services.SubscriptionOrder, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID, actor)
	}
	return services.SubscriptionOrder{}, errors.New("not implemented")
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.SubscriptionOrder], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.SubscriptionOrder]{}, nil
}

func (s *stubOrderService) CancelOrder(ctx context.Context, cmd services.CancelOrderCommand) (services.SubscriptionOrder, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.SubscriptionOrder{}, errors.New("not implemented")
}

func (s *stubOrderService) ListReconciliation(ctx context.Context, pager services.Pagination) (domain.CursorPage[services.SubscriptionOrder], error) {
	if s.reconcileFn != nil {
		return s.reconcileFn(ctx, pager)
	}
	return domain.CursorPage[services.SubscriptionOrder]{}, nil
}

var _ services.OrderService = (*stubOrderService)(nil)

var testNow = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

func pendingOrder(id, owner string) services.SubscriptionOrder {
	adID := "ad-1"
	subID := "sub-1"
	return services.SubscriptionOrder{
		ID:              id,
		OwnerID:         owner,
		PlanID:          "plan_gold",
		AdType:          domain.AdTypeJob,
		Durations:       10,
		Price:           200000,
		Tax:             20000,
		TotalPrice:      220000,
		PaymentStatus:   domain.PaymentStatusPending,
		AdvertisementID: &adID,
		SubscriptionID:  &subID,
		CreatedAt:       testNow,
		UpdatedAt:       testNow,
	}
}

func newOrderRouter(handler *OrderHandlers) chi.Router {
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)
	return router
}

func withIdentity(req *http.Request, uid string, roles ...string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Phone: "+989120000000", Roles: roles}))
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body %q: %v", rr.Body.String(), err)
	}
	return body
}

func TestOrderHandlersCreateOrder(t *testing.T) {
	var captured services.CreateOrderCommand
	svc := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.SubscriptionOrder, error) {
			captured = cmd
			return pendingOrder("ord_1", cmd.Actor.ID), nil
		},
	}
	router := newOrderRouter(NewOrderHandlers(nil, svc))

	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"plan_id":" plan_gold ","durations":10,"advertisement_id":"ad-1"}`))
	req = withIdentity(req, "user-1", auth.RoleEmployer)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.PlanID != "plan_gold" || captured.Durations != 10 || captured.AdvertisementID != "ad-1" {
		t.Fatalf("unexpected command %+v", captured)
	}
	if captured.Actor.ID != "user-1" || captured.Actor.Staff || captured.Actor.Mobile != "09120000000" {
		t.Fatalf("unexpected actor %+v", captured.Actor)
	}
	body := decodeBody(t, rr)
	if body["order_id"] != "ord_1" || body["total_price"] != float64(220000) || body["tax"] != float64(20000) || body["payment_status"] != "pending" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestOrderHandlersCreateOrderRequiresIdentity(t *testing.T) {
	router := newOrderRouter(NewOrderHandlers(nil, &stubOrderService{}))

	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestOrderHandlersCreateOrderRejectsUnknownFields(t *testing.T) {
	called := false
	svc := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.SubscriptionOrder, error) {
			called = true
			return services.SubscriptionOrder{}, nil
		},
	}
	router := newOrderRouter(NewOrderHandlers(nil, svc))

	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"plan_id":"plan_gold","price":1}`))
	req = withIdentity(req, "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if called {
		t.Fatalf("service must not be called for an invalid body")
	}
}

func TestOrderHandlersErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &services.ValidationError{Fields: map[string]string{"job_title": "is required"}}, http.StatusBadRequest, "invalid_request"},
		{"invalid", fmt.Errorf("%w: plan missing", services.ErrOrderInvalidInput), http.StatusBadRequest, "invalid_request"},
		{"forbidden", fmt.Errorf("%w: not yours", services.ErrOrderForbidden), http.StatusForbidden, "forbidden"},
		{"not found", services.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
		{"state", services.ErrOrderInvalidState, http.StatusConflict, "order_invalid_state"},
		{"gateway", fmt.Errorf("%w: timeout", services.ErrOrderPaymentUnavailable), http.StatusServiceUnavailable, "payment_unavailable"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "order_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubOrderService{
				createFn: func(context.Context, services.CreateOrderCommand) (services.SubscriptionOrder, error) {
					return services.SubscriptionOrder{}, tc.err
				},
			}
			router := newOrderRouter(NewOrderHandlers(nil, svc))
			req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"plan_id":"plan_gold","durations":1,"advertisement_id":"ad-1"}`))
			req = withIdentity(req, "user-1")
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			body := decodeBody(t, rr)
			if body["error"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, body["error"])
			}
			if tc.name == "validation" {
				fields, ok := body["fields"].(map[string]any)
				if !ok || fields["job_title"] != "is required" {
					t.Fatalf("expected field details, got %v", body["fields"])
				}
			}
		})
	}
}

func TestOrderHandlersCreateJobOrderRequiresEmployer(t *testing.T) {
	var captured services.CreateDeferredJobOrderCommand
	svc := &stubOrderService{
		createJobFn: func(_ context.Context, cmd services.CreateDeferredJobOrderCommand) (services.SubscriptionOrder, error) {
			captured = cmd
			order := pendingOrder("ord_job", cmd.Actor.ID)
			order.AdvertisementID = nil
			order.SubscriptionID = nil
			order.PendingPayload = domain.NewJobPendingPayload(cmd.Payload)
			return order, nil
		},
	}
	router := newOrderRouter(NewOrderHandlers(nil, svc))
	body := `{"plan_id":"plan_gold","durations":5,"job_title":"Backend engineer","company_id":"co-1","industry_id":"ind-1","salary":"10 to 15"}`

	req := withIdentity(httptest.NewRequest(http.MethodPost, "/orders/job-postings", strings.NewReader(body)), "seeker-1", auth.RoleJobSeeker)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for job seeker, got %d", rr.Code)
	}

	req = withIdentity(httptest.NewRequest(http.MethodPost, "/orders/job-postings", strings.NewReader(body)), "employer-1", auth.RoleEmployer)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Payload.Title != "Backend engineer" || captured.Payload.CompanyID != "co-1" || captured.Durations != 5 {
		t.Fatalf("unexpected command %+v", captured)
	}
}

func TestOrderHandlersCreateResumeOrderAllowsAdmin(t *testing.T) {
	var captured services.CreateDeferredResumeOrderCommand
	svc := &stubOrderService{
		createResumeFn: func(_ context.Context, cmd services.CreateDeferredResumeOrderCommand) (services.SubscriptionOrder, error) {
			captured = cmd
			return pendingOrder("ord_resume", cmd.Actor.ID), nil
		},
	}
	router := newOrderRouter(NewOrderHandlers(nil, svc))
	body := `{"plan_id":"plan_gold","durations":3,"title":"Designer","resume_id":"res-1","industry_id":"ind-1","location_id":"loc-1"}`

	req := withIdentity(httptest.NewRequest(http.MethodPost, "/orders/resume-postings", strings.NewReader(body)), "admin-1", auth.RoleAdmin)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if !captured.Actor.Staff || captured.Payload.ResumeID != "res-1" {
		t.Fatalf("unexpected command %+v", captured)
	}

	req = withIdentity(httptest.NewRequest(http.MethodPost, "/orders/resume-postings", strings.NewReader(body)), "employer-1", auth.RoleEmployer)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for employer, got %d", rr.Code)
	}
}

func TestOrderHandlersListOrders(t *testing.T) {
	var captured services.OrderListFilter
	svc := &stubOrderService{
		listFn: func(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.SubscriptionOrder], error) {
			captured = filter
			return domain.CursorPage[services.SubscriptionOrder]{
				Items:         []services.SubscriptionOrder{pendingOrder("ord_1", "user-1")},
				NextPageToken: "next",
			}, nil
		},
	}
	router := newOrderRouter(NewOrderHandlers(nil, svc))

	token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: testNow, ID: "ord_0"})
	if err != nil {
		t.Fatalf("encode token: %v", err)
	}
	req := withIdentity(httptest.NewRequest(http.MethodGet, "/orders?status=pending,PAID&page_size=500&page_token="+token, nil), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Pagination.PageSize != pagination.DefaultMaxPageSize || captured.Pagination.PageToken != token {
		t.Fatalf("unexpected pagination %+v", captured.Pagination)
	}
	if len(captured.Statuses) != 2 || captured.Statuses[1] != domain.PaymentStatusPaid {
		t.Fatalf("unexpected statuses %v", captured.Statuses)
	}

	var resp orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].AdvertisementID != "ad-1" || resp.NextPageToken != "next" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestOrderHandlersListOrdersRejectsUnknownStatus(t *testing.T) {
	router := newOrderRouter(NewOrderHandlers(nil, &stubOrderService{}))

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/orders?status=shipped", nil), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestOrderHandlersGetOrderPassesActor(t *testing.T) {
	svc := &stubOrderService{
		getFn: func(_ context.Context, orderID string, actor services.Actor) (services.SubscriptionOrder, error) {
			if !actor.Staff {
				return services.SubscriptionOrder{}, services.ErrOrderNotFound
			}
			order := pendingOrder(orderID, "someone-else")
			paidAt := testNow.Add(time.Minute)
			order.PaymentStatus = domain.PaymentStatusPaid
			order.PaidAt = &paidAt
			order.Payment = &domain.PaymentReceipt{RefID: "201", VerifiedAt: paidAt}
			return order, nil
		},
	}
	router := newOrderRouter(NewOrderHandlers(nil, svc))

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/orders/ord_9", nil), "staff-1", auth.RoleStaff)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Order.ID != "ord_9" || resp.Order.Payment == nil || resp.Order.Payment.RefID != "201" || resp.Order.PaidAt == "" {
		t.Fatalf("unexpected order %+v", resp.Order)
	}

	req = withIdentity(httptest.NewRequest(http.MethodGet, "/orders/ord_9", nil), "user-2")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for non-owner, got %d", rr.Code)
	}
}

func TestOrderHandlersInitiatePayment(t *testing.T) {
	svc := &stubOrderService{
		initiateFn: func(_ context.Context, cmd services.InitiatePaymentCommand) (services.PaymentInitiation, error) {
			if cmd.OrderID != "ord_1" || cmd.Actor.ID != "user-1" {
				t.Fatalf("unexpected command %+v", cmd)
			}
			return services.PaymentInitiation{
				Order:      pendingOrder("ord_1", "user-1"),
				PaymentURL: "https://sandbox.zarinpal.com/pg/StartPay/A000000000000000000000000000000abcd",
				Authority:  "A000000000000000000000000000000abcd",
			}, nil
		},
	}
	router := newOrderRouter(NewOrderHandlers(nil, svc))

	req := withIdentity(httptest.NewRequest(http.MethodPost, "/orders/ord_1/payments", nil), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["authority"] != "A000000000000000000000000000000abcd" || !strings.HasSuffix(body["payment_url"].(string), "abcd") {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestOrderHandlersInitiatePaymentRateLimited(t *testing.T) {
	calls := 0
	svc := &stubOrderService{
		initiateFn: func(context.Context, services.InitiatePaymentCommand) (services.PaymentInitiation, error) {
			calls++
			return services.PaymentInitiation{Order: pendingOrder("ord_1", "user-1")}, nil
		},
	}
	now := testNow
	router := newOrderRouter(NewOrderHandlers(nil, svc, WithPaymentRateLimit(1, 1, func() time.Time { return now })))

	send := func(uid string) int {
		req := withIdentity(httptest.NewRequest(http.MethodPost, "/orders/ord_1/payments", nil), uid)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := send("user-1"); code != http.StatusOK {
		t.Fatalf("expected first attempt to pass, got %d", code)
	}
	if code := send("user-1"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on second attempt, got %d", code)
	}
	if code := send("user-2"); code != http.StatusOK {
		t.Fatalf("expected other caller to pass, got %d", code)
	}
	now = now.Add(time.Minute)
	if code := send("user-1"); code != http.StatusOK {
		t.Fatalf("expected attempt after refill to pass, got %d", code)
	}
	if calls != 3 {
		t.Fatalf("expected 3 service calls, got %d", calls)
	}
}

func TestOrderHandlersMiddlewaresRunAfterAuthentication(t *testing.T) {
	var seen string
	probe := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if identity, ok := auth.IdentityFromContext(r.Context()); ok {
				seen = identity.UID
			}
			next.ServeHTTP(w, r)
		})
	}
	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, withIdentity(r, "user-7"))
		})
	})
	router.Route("/orders", NewOrderHandlers(nil, &stubOrderService{}, WithOrderMiddlewares(probe)).Routes)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders", nil))
	if seen != "user-7" {
		t.Fatalf("expected middleware to observe identity, got %q", seen)
	}
}
