package idempotency

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrStoreFull is returned by MemoryStore when it holds its maximum number of live keys.
var ErrStoreFull = errors.New("idempotency: store at capacity")

// StoreError reports a failed store operation. Transient failures make the middleware answer
// 503 so clients retry the same key instead of minting a new one.
type StoreError struct {
	Op        string
	Err       error
	Transient bool
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsUnavailable reports whether retrying the request later may succeed.
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Transient }

// wrapStoreError leaves nil, cancellation and fingerprint mismatches untouched and classifies
// gRPC failures from Firestore.
func wrapStoreError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrFingerprintMismatch), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, ErrStoreFull):
		return &StoreError{Op: op, Err: err, Transient: true}
	}

	switch status.Code(err) {
	case codes.Canceled:
		return context.Canceled
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted, codes.Internal:
		return &StoreError{Op: op, Err: err, Transient: true}
	default:
		return &StoreError{Op: op, Err: err}
	}
}

func isTransient(err error) bool {
	var storeErr *StoreError
	return errors.As(err, &storeErr) && storeErr.IsUnavailable()
}
