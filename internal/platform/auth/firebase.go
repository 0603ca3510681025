package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/maherkar/api/internal/platform/config"
)

// FirebaseVerifierConfig tunes Admin SDK verification.
type FirebaseVerifierConfig struct {
	Timeout time.Duration
	// CheckRevoked costs one Admin API round trip per request and rejects revoked sessions and
	// disabled accounts, so a banned employer cannot keep paying for listings on a live token.
	CheckRevoked bool
}

// FirebaseVerifier verifies ID tokens through the Firebase Admin SDK.
type FirebaseVerifier struct {
	verify  func(context.Context, string) (*firebaseauth.Token, error)
	timeout time.Duration
}

var _ TokenVerifier = (*FirebaseVerifier)(nil)

// NewFirebaseVerifier initialises the Admin SDK for the configured project.
func NewFirebaseVerifier(ctx context.Context, cfg config.FirebaseConfig, vc FirebaseVerifierConfig) (*FirebaseVerifier, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firebase project id is required")
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase auth client: %w", err)
	}

	verify := client.VerifyIDToken
	if vc.CheckRevoked {
		verify = client.VerifyIDTokenAndCheckRevoked
	}
	return newFirebaseVerifier(verify, vc.Timeout), nil
}

func newFirebaseVerifier(verify func(context.Context, string) (*firebaseauth.Token, error), timeout time.Duration) *FirebaseVerifier {
	if timeout <= 0 {
		timeout = defaultVerifyTimeout
	}
	return &FirebaseVerifier{verify: verify, timeout: timeout}
}

// VerifyIDToken checks the token within the timeout and translates Admin SDK failures into the
// package's sentinel errors.
func (v *FirebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	if v == nil || v.verify == nil {
		return nil, errors.New("firebase verifier not initialised")
	}
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	token, err := v.verify(ctx, idToken)
	if err != nil {
		return nil, classifyFirebaseError(err)
	}
	return token, nil
}

func classifyFirebaseError(err error) error {
	switch {
	case firebaseauth.IsIDTokenRevoked(err):
		return fmt.Errorf("%w: %v", ErrTokenRevoked, err)
	case firebaseauth.IsUserDisabled(err):
		return fmt.Errorf("%w: %v", ErrAccountDisabled, err)
	case firebaseauth.IsIDTokenExpired(err):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case firebaseauth.IsIDTokenInvalid(err):
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	default:
		return err
	}
}
