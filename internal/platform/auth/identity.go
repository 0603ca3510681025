package auth

import (
	"context"
	"slices"
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"
)

// Roles carried in the Firebase "role" custom claim.
const (
	RoleUser      = "user"
	RoleEmployer  = "employer"
	RoleJobSeeker = "jobseeker"
	RoleStaff     = "staff"
	RoleAdmin     = "admin"
)

// Identity is the authenticated caller extracted from a Firebase ID token.
type Identity struct {
	UID   string
	Email string
	// Phone is the verified phone number claim, forwarded to the payment gateway as payer metadata.
	Phone string
	Roles []string

	token *firebaseauth.Token
}

// Token exposes the decoded Firebase ID token associated with this identity.
func (i *Identity) Token() *firebaseauth.Token {
	if i == nil {
		return nil
	}
	return i.token
}

// HasRole reports whether the identity includes the requested role (case-insensitive).
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	return role != "" && slices.Contains(i.Roles, role)
}

// HasAnyRole reports whether the identity includes any of the provided roles.
func (i *Identity) HasAnyRole(roles ...string) bool {
	return slices.ContainsFunc(roles, i.HasRole)
}

// Mobile returns Phone in the domestic 09xxxxxxxxx form the payment gateway expects. Numbers
// that are not Iranian mobiles are returned unchanged.
func (i *Identity) Mobile() string {
	if i == nil {
		return ""
	}
	return DomesticMobile(i.Phone)
}

// DomesticMobile rewrites +98 / 0098 / 98 prefixed mobile numbers to the 09 form.
func DomesticMobile(phone string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	for _, prefix := range []string{"0098", "98", "0"} {
		if rest, ok := strings.CutPrefix(digits, prefix); ok && len(rest) == 10 && rest[0] == '9' {
			return "0" + rest
		}
	}
	if len(digits) == 10 && digits[0] == '9' {
		return "0" + digits
	}
	return strings.TrimSpace(phone)
}

// IsStaff reports whether the caller may act on orders owned by other accounts.
func (i *Identity) IsStaff() bool {
	return i.HasAnyRole(RoleStaff, RoleAdmin)
}

type identityContextKey struct{}

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
