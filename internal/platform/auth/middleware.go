package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	"go.uber.org/zap"

	"github.com/maherkar/api/internal/platform/httpx"
	"github.com/maherkar/api/internal/platform/requestctx"
)

const (
	defaultRoleClaim     = "role"
	defaultFallbackRole  = RoleUser
	defaultVerifyTimeout = 5 * time.Second
)

var (
	// ErrTokenExpired signals that the provided Firebase ID token has expired.
	ErrTokenExpired = errors.New("auth: firebase id token expired")
	// ErrTokenInvalid signals that the provided Firebase ID token is invalid for other reasons.
	ErrTokenInvalid = errors.New("auth: firebase id token invalid")
	// ErrTokenRevoked signals that the session was revoked after the token was issued.
	ErrTokenRevoked = errors.New("auth: firebase id token revoked")
	// ErrAccountDisabled signals that the Firebase account behind the token is disabled.
	ErrAccountDisabled = errors.New("auth: firebase account disabled")
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator wires Firebase token verification into HTTP middleware.
type Authenticator struct {
	verifier     TokenVerifier
	roleClaim    string
	fallbackRole string
	timeout      time.Duration
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithRoleClaim overrides the custom claim used for role extraction.
func WithRoleClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim = strings.TrimSpace(claim); claim != "" {
			a.roleClaim = claim
		}
	}
}

// WithFallbackRole sets the role assumed when the token carries none.
func WithFallbackRole(role string) Option {
	return func(a *Authenticator) {
		if role = normaliseRole(role); role != "" {
			a.fallbackRole = role
		}
	}
}

// WithVerificationTimeout bounds each token verification.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAuthenticator constructs a Firebase Authenticator for middleware composition.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier:     verifier,
		roleClaim:    defaultRoleClaim,
		fallbackRole: defaultFallbackRole,
		timeout:      defaultVerifyTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireFirebaseAuth verifies the bearer token and, when roles are given, requires one of them.
func (a *Authenticator) RequireFirebaseAuth(allowedRoles ...string) func(http.Handler) http.Handler {
	var allowed []string
	for _, role := range allowedRoles {
		if role = normaliseRole(role); role != "" {
			allowed = append(allowed, role)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			raw, ok := extractBearerToken(r.Header.Get("Authorization"))
			switch {
			case !ok:
				rejectFirebase(ctx, w, httpx.NewError("unauthenticated", "authorization header missing or invalid", http.StatusUnauthorized))
				return
			case a == nil || a.verifier == nil:
				rejectFirebase(ctx, w, httpx.NewError("unauthenticated", "authorization service unavailable", http.StatusUnauthorized))
				return
			}

			identity, err := a.authenticate(ctx, raw)
			if err != nil {
				rejectFirebase(ctx, w, verificationError(err))
				return
			}
			if len(allowed) > 0 && !identity.HasAnyRole(allowed...) {
				rejectFirebase(ctx, w, httpx.NewError("insufficient_role", "identity does not have required role", http.StatusForbidden))
				return
			}

			requestctx.Annotate(ctx, zap.String("uid", identity.UID))
			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}

func (a *Authenticator) authenticate(ctx context.Context, raw string) (*Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	token, err := a.verifier.VerifyIDToken(ctx, raw)
	if err != nil {
		return nil, err
	}

	identity := &Identity{
		UID:   token.UID,
		Email: claimAsString(token.Claims, "email"),
		Phone: claimAsString(token.Claims, "phone_number"),
		Roles: rolesFromClaim(token.Claims[a.roleClaim]),
		token: token,
	}
	if len(identity.Roles) == 0 {
		identity.Roles = []string{a.fallbackRole}
	}
	return identity, nil
}

// rolesFromClaim accepts a single role, a list of roles, or a {role: true} map.
func rolesFromClaim(raw any) []string {
	var candidates []string
	switch v := raw.(type) {
	case string:
		candidates = []string{v}
	case []string:
		candidates = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				candidates = append(candidates, s)
			}
		}
	case map[string]any:
		for key, value := range v {
			if enabled, ok := value.(bool); ok && enabled {
				candidates = append(candidates, key)
			}
		}
	}

	roles := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		role := normaliseRole(candidate)
		if role != "" && !slices.Contains(roles, role) {
			roles = append(roles, role)
		}
	}
	slices.Sort(roles)
	return roles
}

func claimAsString(claims map[string]any, key string) string {
	value, _ := claims[key].(string)
	return strings.TrimSpace(value)
}

func extractBearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// rejectFirebase writes the shared error envelope, advertising the bearer scheme on 401s.
func rejectFirebase(ctx context.Context, w http.ResponseWriter, e httpx.Error) {
	if e.Status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer error=%q`, e.Code))
	}
	httpx.WriteError(ctx, w, e)
}

var verificationFailures = []struct {
	match   func(error) bool
	code    string
	message string
	status  int
}{
	{func(err error) bool { return errors.Is(err, ErrAccountDisabled) }, "account_disabled", "account disabled", http.StatusForbidden},
	{func(err error) bool { return errors.Is(err, ErrTokenRevoked) }, "token_revoked", "firebase id token revoked", http.StatusUnauthorized},
	{func(err error) bool { return errors.Is(err, ErrTokenExpired) || firebaseauth.IsIDTokenExpired(err) }, "token_expired", "firebase id token expired", http.StatusUnauthorized},
	{func(err error) bool { return errors.Is(err, ErrTokenInvalid) || firebaseauth.IsIDTokenInvalid(err) }, "invalid_token", "firebase id token invalid", http.StatusUnauthorized},
}

func verificationError(err error) httpx.Error {
	for _, failure := range verificationFailures {
		if failure.match(err) {
			return httpx.NewError(failure.code, failure.message, failure.status)
		}
	}
	return httpx.NewError("invalid_token", "firebase id token verification failed", http.StatusUnauthorized)
}
