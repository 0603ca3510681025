package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/maherkar/api/internal/platform/textutil"
)

const (
	zarinpalSandboxBaseURL    = "https://sandbox.zarinpal.com"
	zarinpalProductionBaseURL = "https://payment.zarinpal.com"

	zarinpalRequestPath  = "/pg/v4/payment/request.json"
	zarinpalVerifyPath   = "/pg/v4/payment/verify.json"
	zarinpalStartPayPath = "/pg/StartPay/"

	zarinpalCodeSuccess         = 100
	zarinpalCodeAlreadyVerified = 101

	defaultZarinpalTimeout   = 10 * time.Second
	defaultConversionFactor  = 10
	maxZarinpalResponseBytes = 1 << 20
	zarinpalMetricNamespace  = "github.com/maherkar/api/internal/payments"
	zarinpalOperationRequest = "request"
	zarinpalOperationVerify  = "verify"
)

// zarinpalMetadataKeys are the metadata fields the v4 request endpoint accepts.
var zarinpalMetadataKeys = []string{"mobile", "email", "order_id"}

// GatewayLogger defines the logging contract for gateway operations.
type GatewayLogger func(ctx context.Context, event string, fields map[string]any)

// ZarinpalConfig configures the Zarinpal v4 adapter. It is read once at construction.
type ZarinpalConfig struct {
	Sandbox    bool
	MerchantID string
	// CallbackURL is where the payer returns after paying; per-request query values are appended.
	CallbackURL string
	// ConversionFactor converts order amounts (toman) to gateway amounts (rial).
	ConversionFactor int64
	Timeout          time.Duration
	// BaseURL overrides the sandbox/production host, mainly for tests.
	BaseURL string

	HTTPClient *http.Client
	Logger     GatewayLogger
	Meter      metric.Meter
}

// ZarinpalGateway implements Gateway against the Zarinpal v4 REST API.
type ZarinpalGateway struct {
	client      *http.Client
	merchantID  string
	callbackURL string
	factor      int64
	timeout     time.Duration
	baseURL     string
	logger      GatewayLogger

	latency metric.Float64Histogram
	calls   metric.Int64Counter
}

var _ Gateway = (*ZarinpalGateway)(nil)

// NewZarinpalGateway validates cfg and builds the adapter.
func NewZarinpalGateway(cfg ZarinpalConfig) (*ZarinpalGateway, error) {
	merchant := strings.TrimSpace(cfg.MerchantID)
	if merchant == "" {
		return nil, errors.New("zarinpal: merchant id is required")
	}
	callback := strings.TrimSpace(cfg.CallbackURL)
	if callback != "" {
		if _, err := url.ParseRequestURI(callback); err != nil {
			return nil, fmt.Errorf("zarinpal: invalid callback url: %w", err)
		}
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = zarinpalProductionBaseURL
		if cfg.Sandbox {
			baseURL = zarinpalSandboxBaseURL
		}
	}

	factor := cfg.ConversionFactor
	if factor <= 0 {
		factor = defaultConversionFactor
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultZarinpalTimeout
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	meter := cfg.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(zarinpalMetricNamespace)
	}
	latency, err := meter.Float64Histogram(
		"payments.gateway.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds of payment gateway calls"),
	)
	if err != nil {
		return nil, fmt.Errorf("zarinpal: register latency metric: %w", err)
	}
	calls, err := meter.Int64Counter(
		"payments.gateway.calls",
		metric.WithDescription("Count of payment gateway calls by operation and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("zarinpal: register call metric: %w", err)
	}

	return &ZarinpalGateway{
		client:      client,
		merchantID:  merchant,
		callbackURL: callback,
		factor:      factor,
		timeout:     timeout,
		baseURL:     baseURL,
		logger:      logger,
		latency:     latency,
		calls:       calls,
	}, nil
}

type zarinpalRequestBody struct {
	MerchantID  string            `json:"merchant_id"`
	Amount      int64             `json:"amount"`
	Description string            `json:"description"`
	CallbackURL string            `json:"callback_url"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type zarinpalVerifyBody struct {
	MerchantID string `json:"merchant_id"`
	Amount     int64  `json:"amount"`
	Authority  string `json:"authority"`
}

// The gateway returns data as an object on success and as an empty array on failure; errors
// behaves the other way round.
type zarinpalEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors json.RawMessage `json:"errors"`
}

type zarinpalData struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	Authority string      `json:"authority"`
	RefID     json.Number `json:"ref_id"`
	CardPAN   string      `json:"card_pan"`
	CardHash  string      `json:"card_hash"`
	FeeType   string      `json:"fee_type"`
	Fee       int64       `json:"fee"`
}

type zarinpalErrors struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RequestPayment opens a payment session and returns the StartPay redirect.
func (g *ZarinpalGateway) RequestPayment(ctx context.Context, req PaymentRequest) (PaymentRedirect, error) {
	amount, err := g.convert(req.Amount)
	if err != nil {
		return PaymentRedirect{}, err
	}
	callback, err := g.resolveCallback(req.CallbackURL, req.CallbackQuery)
	if err != nil {
		return PaymentRedirect{}, err
	}

	body := zarinpalRequestBody{
		MerchantID:  g.merchantID,
		Amount:      amount,
		Description: req.Description,
		CallbackURL: callback,
		Metadata:    textutil.CompactFields(req.Metadata, zarinpalMetadataKeys...),
	}
	data, gateErr := g.call(ctx, zarinpalOperationRequest, zarinpalRequestPath, body)
	if gateErr != nil {
		return PaymentRedirect{}, gateErr
	}
	if data.Code != zarinpalCodeSuccess || strings.TrimSpace(data.Authority) == "" {
		return PaymentRedirect{}, &GatewayError{
			Kind:    GatewayErrorBadResponse,
			Code:    strconv.Itoa(data.Code),
			Message: data.Message,
		}
	}

	g.logger(ctx, "payments.zarinpal.request.created", map[string]any{
		"authority": data.Authority,
		"amount":    amount,
	})
	return PaymentRedirect{
		RedirectURL: g.baseURL + zarinpalStartPayPath + url.PathEscape(data.Authority),
		Authority:   data.Authority,
	}, nil
}

// VerifyPayment asks the gateway whether the authority settled. Codes 100 and 101 are confirmed;
// any other gateway code is reported as an unconfirmed result rather than an error.
func (g *ZarinpalGateway) VerifyPayment(ctx context.Context, req PaymentVerification) (VerificationResult, error) {
	if strings.TrimSpace(req.Authority) == "" {
		return VerificationResult{}, errors.New("zarinpal: authority is required")
	}
	amount, err := g.convert(req.Amount)
	if err != nil {
		return VerificationResult{}, err
	}

	body := zarinpalVerifyBody{
		MerchantID: g.merchantID,
		Amount:     amount,
		Authority:  req.Authority,
	}
	data, gateErr := g.call(ctx, zarinpalOperationVerify, zarinpalVerifyPath, body)
	if gateErr != nil {
		if code, ok := gatewayCode(gateErr); ok {
			return VerificationResult{Code: code, Message: gateErr.Message}, nil
		}
		return VerificationResult{}, gateErr
	}

	result := VerificationResult{
		Confirmed: data.Code == zarinpalCodeSuccess || data.Code == zarinpalCodeAlreadyVerified,
		Code:      data.Code,
		Message:   data.Message,
		RefID:     data.RefID.String(),
		CardPAN:   data.CardPAN,
		CardHash:  data.CardHash,
		FeeType:   data.FeeType,
		Fee:       data.Fee,
	}
	g.logger(ctx, "payments.zarinpal.verify.completed", map[string]any{
		"authority": req.Authority,
		"code":      data.Code,
		"confirmed": result.Confirmed,
	})
	return result, nil
}

// call posts body and decodes the data object. Gateway-level failures come back as *GatewayError.
func (g *ZarinpalGateway) call(ctx context.Context, operation, path string, body any) (zarinpalData, *GatewayError) {
	payload, err := json.Marshal(body)
	if err != nil {
		return zarinpalData{}, &GatewayError{Kind: GatewayErrorBadResponse, Message: "encode request", Err: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return zarinpalData{}, &GatewayError{Kind: GatewayErrorConnection, Message: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	data, gateErr := g.do(httpReq)
	g.record(ctx, operation, time.Since(start), gateErr)
	if gateErr != nil {
		g.logger(ctx, "payments.zarinpal.call.failed", map[string]any{
			"operation": operation,
			"kind":      string(gateErr.Kind),
			"code":      gateErr.Code,
			"error":     gateErr.Error(),
		})
	}
	return data, gateErr
}

func (g *ZarinpalGateway) do(req *http.Request) (zarinpalData, *GatewayError) {
	resp, err := g.client.Do(req)
	if err != nil {
		return zarinpalData{}, classifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxZarinpalResponseBytes))
	if err != nil {
		return zarinpalData{}, classifyTransportError(err)
	}

	var env zarinpalEnvelope
	decodeErr := json.Unmarshal(raw, &env)

	var gwErrors zarinpalErrors
	hasErrors := decodeErr == nil && decodeObject(env.Errors, &gwErrors) && gwErrors.Code != 0

	if resp.StatusCode != http.StatusOK {
		gateErr := &GatewayError{
			Kind:    GatewayErrorBadResponse,
			Code:    strconv.Itoa(resp.StatusCode),
			Message: http.StatusText(resp.StatusCode),
		}
		if hasErrors && resp.StatusCode < http.StatusInternalServerError {
			gateErr.Code = strconv.Itoa(gwErrors.Code)
			gateErr.Message = gwErrors.Message
		}
		return zarinpalData{}, gateErr
	}
	if decodeErr != nil {
		return zarinpalData{}, &GatewayError{Kind: GatewayErrorBadResponse, Message: "decode response", Err: decodeErr}
	}

	var data zarinpalData
	if !decodeObject(env.Data, &data) {
		if hasErrors {
			return zarinpalData{}, &GatewayError{
				Kind:    GatewayErrorBadResponse,
				Code:    strconv.Itoa(gwErrors.Code),
				Message: gwErrors.Message,
			}
		}
		return zarinpalData{}, &GatewayError{Kind: GatewayErrorBadResponse, Message: "response has no data"}
	}
	return data, nil
}

func decodeObject(raw json.RawMessage, target any) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	return json.Unmarshal(trimmed, target) == nil
}

// gatewayCode extracts a negative Zarinpal status code from a bad response, which means the gateway
// processed the call and refused the payment.
func gatewayCode(err *GatewayError) (int, bool) {
	if err == nil || err.Kind != GatewayErrorBadResponse {
		return 0, false
	}
	code, convErr := strconv.Atoi(err.Code)
	if convErr != nil || code >= 0 {
		return 0, false
	}
	return code, true
}

func classifyTransportError(err error) *GatewayError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &GatewayError{Kind: GatewayErrorTimeout, Message: "gateway did not respond in time", Err: err}
	}
	return &GatewayError{Kind: GatewayErrorConnection, Message: "gateway unreachable", Err: err}
}

func (g *ZarinpalGateway) convert(amount int64) (int64, error) {
	if amount < 0 {
		return 0, errors.New("zarinpal: amount must not be negative")
	}
	if amount > math.MaxInt64/g.factor {
		return 0, fmt.Errorf("zarinpal: amount %d overflows after conversion", amount)
	}
	return amount * g.factor, nil
}

func (g *ZarinpalGateway) resolveCallback(override string, query url.Values) (string, error) {
	base := strings.TrimSpace(override)
	if base == "" {
		base = g.callbackURL
	}
	if base == "" {
		return "", errors.New("zarinpal: callback url is required")
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("zarinpal: invalid callback url: %w", err)
	}
	if len(query) > 0 {
		values := parsed.Query()
		for key, vals := range query {
			for _, v := range vals {
				values.Add(key, v)
			}
		}
		parsed.RawQuery = values.Encode()
	}
	return parsed.String(), nil
}

func (g *ZarinpalGateway) record(ctx context.Context, operation string, d time.Duration, err *GatewayError) {
	outcome := "ok"
	if err != nil {
		outcome = string(err.Kind)
	}
	attrs := metric.WithAttributes(
		attribute.String("gateway", "zarinpal"),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	)
	g.latency.Record(ctx, float64(d)/float64(time.Millisecond), attrs)
	g.calls.Add(ctx, 1, attrs)
}
