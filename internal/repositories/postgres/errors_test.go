package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/maherkar/api/internal/repositories"
)

func assertAs(err error, target *repositories.RepositoryError) bool {
	return errors.As(err, target)
}

func TestWrapErrorClassification(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{name: "record not found", err: gorm.ErrRecordNotFound, notFound: true},
		{name: "duplicated key", err: gorm.ErrDuplicatedKey, conflict: true},
		{name: "unique violation", err: &pgconn.PgError{Code: pgUniqueViolation}, conflict: true},
		{name: "serialization failure", err: fmt.Errorf("commit: %w", &pgconn.PgError{Code: pgSerializationFailure}), conflict: true},
		{name: "too many connections", err: &pgconn.PgError{Code: pgTooManyConnections}, unavailable: true},
		{name: "other", err: errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := WrapError("op", tt.err)
			var repoErr repositories.RepositoryError
			if !assertAs(wrapped, &repoErr) {
				t.Fatalf("expected repository error, got %T", wrapped)
			}
			if repoErr.IsNotFound() != tt.notFound || repoErr.IsConflict() != tt.conflict || repoErr.IsUnavailable() != tt.unavailable {
				t.Fatalf("unexpected classification for %v: notFound=%v conflict=%v unavailable=%v",
					tt.err, repoErr.IsNotFound(), repoErr.IsConflict(), repoErr.IsUnavailable())
			}
			if !errors.Is(wrapped, tt.err) {
				t.Fatalf("expected wrapped error to unwrap to original")
			}
		})
	}
}

func TestWrapErrorPassesContextErrors(t *testing.T) {
	if err := WrapError("op", context.Canceled); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := WrapError("op", fmt.Errorf("query: %w", context.DeadlineExceeded)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if WrapError("op", nil) != nil {
		t.Fatal("expected nil for nil error")
	}
}

func TestWrapErrorKeepsExistingRepositoryError(t *testing.T) {
	original := conflict("", "order %s moved", "ord_1")
	wrapped := WrapError("orders.updateStatus", original)
	if wrapped != original {
		t.Fatalf("expected same error instance")
	}
	if original.op != "orders.updateStatus" {
		t.Fatalf("expected op to be filled, got %q", original.op)
	}
}
