package pagination

import (
	"errors"
	"testing"
	"time"
)

func TestScopedTokenRejectsOtherFilters(t *testing.T) {
	failed := Scope("owner-1", "failed")
	paid := Scope("owner-1", "paid")
	if failed == paid || failed != Scope("owner-1", "failed") {
		t.Fatalf("scopes must be stable and distinct: %q %q", failed, paid)
	}

	token, err := EncodeToken(Cursor{CreatedAt: time.Date(2025, time.March, 3, 10, 0, 0, 123, time.UTC), ID: "ord_9", Scope: failed})
	if err != nil {
		t.Fatalf("EncodeToken: %v", err)
	}

	cursor, err := DecodeScopedToken(token, failed)
	if err != nil {
		t.Fatalf("DecodeScopedToken: %v", err)
	}
	if cursor.ID != "ord_9" || cursor.CreatedAt.Nanosecond() != 123 {
		t.Fatalf("unexpected cursor %+v", cursor)
	}
	if _, err := DecodeScopedToken(token, paid); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected scope mismatch to be rejected, got %v", err)
	}
	if cursor, err := DecodeScopedToken("", paid); err != nil || !cursor.IsZero() {
		t.Fatalf("expected empty token to start from the first page, got %+v %v", cursor, err)
	}
}

func TestCursorBeyond(t *testing.T) {
	at := time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC)
	cursor := Cursor{CreatedAt: at, ID: "ord_5"}

	cases := []struct {
		name      string
		createdAt time.Time
		id        string
		want      bool
	}{
		{name: "older row", createdAt: at.Add(-time.Second), id: "ord_9", want: true},
		{name: "newer row", createdAt: at.Add(time.Second), id: "ord_1", want: false},
		{name: "tie with lower id", createdAt: at, id: "ord_4", want: true},
		{name: "tie with higher id", createdAt: at, id: "ord_6", want: false},
		{name: "cursor row itself", createdAt: at, id: "ord_5", want: false},
	}
	for _, tc := range cases {
		if got := cursor.Beyond(tc.createdAt, tc.id); got != tc.want {
			t.Fatalf("%s: Beyond = %v, want %v", tc.name, got, tc.want)
		}
	}
	if !(Cursor{}).Beyond(at, "any") {
		t.Fatal("zero cursor must admit every row")
	}
}
