package pagination

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Cursor is a keyset position over (created_at DESC, id DESC) listings. Scope fingerprints the
// filters the listing was issued for, so a token only resumes the listing that produced it.
type Cursor struct {
	CreatedAt time.Time
	ID        string
	Scope     string
}

type wireCursor struct {
	T int64  `json:"t"`
	I string `json:"i"`
	S string `json:"s,omitempty"`
}

// IsZero reports whether the cursor points at the first page.
func (c Cursor) IsZero() bool {
	return c.ID == "" && c.CreatedAt.IsZero()
}

// Beyond reports whether a row at (createdAt, id) comes after the cursor in listing order.
func (c Cursor) Beyond(createdAt time.Time, id string) bool {
	if c.IsZero() {
		return true
	}
	if createdAt.Equal(c.CreatedAt) {
		return id < c.ID
	}
	return createdAt.Before(c.CreatedAt)
}

// Scope derives a short fingerprint for a set of listing filters. Callers should pass the
// filters in a stable order.
func Scope(parts ...string) string {
	if len(parts) == 0 {
		return ""
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:6])
}

// EncodeToken serialises the cursor into a URL-safe page token.
func EncodeToken(cursor Cursor) (string, error) {
	if cursor.IsZero() {
		return "", nil
	}
	data, err := json.Marshal(wireCursor{T: cursor.CreatedAt.UnixNano(), I: cursor.ID, S: cursor.Scope})
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken parses a token produced by EncodeToken without checking its scope.
func DecodeToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var wire wireCursor
	if err := json.Unmarshal(decoded, &wire); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	if wire.I == "" || wire.T == 0 {
		return Cursor{}, fmt.Errorf("%w: missing position", ErrInvalidPageToken)
	}
	return Cursor{CreatedAt: time.Unix(0, wire.T).UTC(), ID: wire.I, Scope: wire.S}, nil
}

// DecodeScopedToken parses token and rejects it when it was issued for a different scope.
func DecodeScopedToken(token, scope string) (Cursor, error) {
	cursor, err := DecodeToken(token)
	if err != nil || cursor.IsZero() {
		return cursor, err
	}
	if cursor.Scope != scope {
		return Cursor{}, fmt.Errorf("%w: token issued for different filters", ErrInvalidPageToken)
	}
	return cursor, nil
}
