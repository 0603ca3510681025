package payments

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// GatewayErrorKind classifies gateway failures.
type GatewayErrorKind string

const (
	// GatewayErrorTimeout indicates the gateway did not answer within the call deadline.
	GatewayErrorTimeout GatewayErrorKind = "timeout"
	// GatewayErrorConnection indicates the gateway could not be reached.
	GatewayErrorConnection GatewayErrorKind = "connection_failure"
	// GatewayErrorBadResponse indicates a non-success HTTP status or an unexpected body.
	GatewayErrorBadResponse GatewayErrorKind = "bad_response"
)

// GatewayError is returned by Gateway implementations for every failed call.
type GatewayError struct {
	Kind GatewayErrorKind
	// Code is the gateway status code for bad responses (HTTP status or gateway code).
	Code    string
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("payments: gateway %s", e.Kind)
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GatewayError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func isKind(err error, kind GatewayErrorKind) bool {
	var gwErr *GatewayError
	return errors.As(err, &gwErr) && gwErr.Kind == kind
}

// IsTimeout reports whether err is a gateway timeout.
func IsTimeout(err error) bool { return isKind(err, GatewayErrorTimeout) }

// IsConnectionFailure reports whether err means the gateway was unreachable.
func IsConnectionFailure(err error) bool { return isKind(err, GatewayErrorConnection) }

// IsBadResponse reports whether the gateway answered with an error.
func IsBadResponse(err error) bool { return isKind(err, GatewayErrorBadResponse) }

// PaymentRequest asks the gateway to open a payment session. Amount is in the order currency unit.
type PaymentRequest struct {
	Amount      int64
	Description string
	// CallbackURL overrides the configured callback. CallbackQuery is appended to it.
	CallbackURL   string
	CallbackQuery url.Values
	Metadata      map[string]string
}

// PaymentRedirect is where the payer is sent to complete the payment.
type PaymentRedirect struct {
	RedirectURL string
	Authority   string
}

// PaymentVerification asks the gateway whether the payment behind Authority settled for Amount.
type PaymentVerification struct {
	Amount    int64
	Authority string
}

// VerificationResult is the normalised verify outcome. Confirmed is false when the gateway
// answered but did not settle the payment.
type VerificationResult struct {
	Confirmed bool
	Code      int
	Message   string
	RefID     string
	CardPAN   string
	CardHash  string
	FeeType   string
	Fee       int64
}

// Gateway is the contract the order orchestrator needs from a payment service provider.
type Gateway interface {
	RequestPayment(ctx context.Context, req PaymentRequest) (PaymentRedirect, error)
	VerifyPayment(ctx context.Context, req PaymentVerification) (VerificationResult, error)
}
