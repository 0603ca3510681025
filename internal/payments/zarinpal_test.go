package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc, mutate ...func(*ZarinpalConfig)) *ZarinpalGateway {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := ZarinpalConfig{
		MerchantID:  "merchant-1",
		CallbackURL: "https://app.example.com/payment/callback/",
		BaseURL:     server.URL,
		HTTPClient:  server.Client(),
		Meter:       noop.NewMeterProvider().Meter("test"),
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	gateway, err := NewZarinpalGateway(cfg)
	require.NoError(t, err)
	return gateway
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, body string) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err := w.Write([]byte(body))
	require.NoError(t, err)
}

func TestZarinpalRequestPaymentBuildsRedirect(t *testing.T) {
	var got zarinpalRequestBody
	gateway := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, zarinpalRequestPath, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(t, w, http.StatusOK, `{"data":{"code":100,"message":"Success","authority":"A0000000000000000000000000000wwOGYpd","fee_type":"Merchant","fee":100},"errors":[]}`)
	})

	redirect, err := gateway.RequestPayment(context.Background(), PaymentRequest{
		Amount:        55000,
		Description:   "subscription order ord_1",
		CallbackQuery: url.Values{"order_id": {"ord_1"}},
		Metadata:      map[string]string{"order_id": "ord_1", "mobile": "09120000000"},
	})
	require.NoError(t, err)

	assert.Equal(t, "merchant-1", got.MerchantID)
	assert.EqualValues(t, 550000, got.Amount, "amount is converted to rial")
	assert.Equal(t, "https://app.example.com/payment/callback/?order_id=ord_1", got.CallbackURL)
	assert.Equal(t, "ord_1", got.Metadata["order_id"])
	assert.Equal(t, "A0000000000000000000000000000wwOGYpd", redirect.Authority)
	assert.Contains(t, redirect.RedirectURL, "/pg/StartPay/A0000000000000000000000000000wwOGYpd")
}

func TestZarinpalRequestPaymentRejected(t *testing.T) {
	gateway := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusUnprocessableEntity, `{"data":[],"errors":{"code":-9,"message":"The input params invalid, validation error.","validations":[]}}`)
	})

	_, err := gateway.RequestPayment(context.Background(), PaymentRequest{Amount: 1000})
	require.Error(t, err)
	assert.True(t, IsBadResponse(err))

	var gwErr *GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, "-9", gwErr.Code)
}

func TestZarinpalRequestPaymentServerError(t *testing.T) {
	gateway := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusBadGateway, `oops`)
	})

	_, err := gateway.RequestPayment(context.Background(), PaymentRequest{Amount: 1000})
	var gwErr *GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, GatewayErrorBadResponse, gwErr.Kind)
	assert.Equal(t, "502", gwErr.Code)
}

func TestZarinpalRequestPaymentTimeout(t *testing.T) {
	release := make(chan struct{})
	gateway := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, func(cfg *ZarinpalConfig) {
		cfg.Timeout = 20 * time.Millisecond
	})
	t.Cleanup(func() { close(release) })

	_, err := gateway.RequestPayment(context.Background(), PaymentRequest{Amount: 1000})
	require.Error(t, err)
	assert.True(t, IsTimeout(err), "expected timeout, got %v", err)
}

func TestZarinpalRequestPaymentUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	gateway, err := NewZarinpalGateway(ZarinpalConfig{
		MerchantID:  "merchant-1",
		CallbackURL: "https://app.example.com/cb",
		BaseURL:     baseURL,
		Meter:       noop.NewMeterProvider().Meter("test"),
	})
	require.NoError(t, err)

	_, err = gateway.RequestPayment(context.Background(), PaymentRequest{Amount: 1000})
	assert.True(t, IsConnectionFailure(err), "expected connection failure, got %v", err)
}

func TestZarinpalVerifyPayment(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		confirmed bool
		code      int
		refID     string
		wantErr   func(error) bool
	}{
		{
			name:      "success",
			status:    http.StatusOK,
			body:      `{"data":{"code":100,"message":"Verified","card_hash":"1EBE3EBEBE35C7EC0F8D6EE4F2F859107A87822CA179BC9528767EA7B5489B69","card_pan":"502229******5995","ref_id":201,"fee_type":"Merchant","fee":0},"errors":[]}`,
			confirmed: true,
			code:      100,
			refID:     "201",
		},
		{
			name:      "already verified",
			status:    http.StatusOK,
			body:      `{"data":{"code":101,"message":"Verified","ref_id":201},"errors":[]}`,
			confirmed: true,
			code:      101,
			refID:     "201",
		},
		{
			name:   "not paid",
			status: http.StatusUnprocessableEntity,
			body:   `{"data":[],"errors":{"code":-51,"message":"Session is not valid, session is not active paid try.","validations":[]}}`,
			code:   -51,
		},
		{
			name:    "server error",
			status:  http.StatusInternalServerError,
			body:    `{}`,
			wantErr: IsBadResponse,
		},
		{
			name:    "malformed body",
			status:  http.StatusOK,
			body:    `not-json`,
			wantErr: IsBadResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got zarinpalVerifyBody
			gateway := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, zarinpalVerifyPath, r.URL.Path)
				_ = json.NewDecoder(r.Body).Decode(&got)
				writeJSON(t, w, tt.status, tt.body)
			})

			result, err := gateway.VerifyPayment(context.Background(), PaymentVerification{Amount: 55000, Authority: "A1"})
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, tt.wantErr(err), "unexpected error kind: %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.confirmed, result.Confirmed)
			assert.Equal(t, tt.code, result.Code)
			assert.Equal(t, tt.refID, result.RefID)
			assert.EqualValues(t, 550000, got.Amount)
			assert.Equal(t, "A1", got.Authority)
		})
	}
}

func TestZarinpalVerifyRequiresAuthority(t *testing.T) {
	var calls atomic.Int32
	gateway := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})
	_, err := gateway.VerifyPayment(context.Background(), PaymentVerification{Amount: 1})
	require.Error(t, err)
	assert.Zero(t, calls.Load())
}

func TestNewZarinpalGatewayDefaults(t *testing.T) {
	_, err := NewZarinpalGateway(ZarinpalConfig{})
	require.Error(t, err, "merchant id is required")

	gateway, err := NewZarinpalGateway(ZarinpalConfig{MerchantID: "m", Sandbox: true, Meter: noop.NewMeterProvider().Meter("test")})
	require.NoError(t, err)
	assert.Equal(t, zarinpalSandboxBaseURL, gateway.baseURL)
	assert.EqualValues(t, defaultConversionFactor, gateway.factor)
	assert.Equal(t, defaultZarinpalTimeout, gateway.timeout)

	gateway, err = NewZarinpalGateway(ZarinpalConfig{MerchantID: "m", Meter: noop.NewMeterProvider().Meter("test")})
	require.NoError(t, err)
	assert.Equal(t, zarinpalProductionBaseURL, gateway.baseURL)

	_, err = gateway.RequestPayment(context.Background(), PaymentRequest{Amount: 1})
	require.Error(t, err, "callback url is required when none is configured")
}
