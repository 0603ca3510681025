package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/maherkar/api/internal/platform/config"
)

const defaultDialTimeout = 10 * time.Second

// ErrProviderClosed is returned by Client after Close.
var ErrProviderClosed = errors.New("firestore: provider is closed")

// Target describes where the provider connects.
type Target struct {
	ProjectID    string
	EmulatorHost string
}

// Emulated reports whether the target is a local emulator.
func (t Target) Emulated() bool { return t.EmulatorHost != "" }

func (t Target) String() string {
	if t.Emulated() {
		return fmt.Sprintf("%s@%s (emulator)", t.ProjectID, t.EmulatorHost)
	}
	return t.ProjectID
}

// ResolveTarget fills blanks in cfg from GOOGLE_CLOUD_PROJECT and FIRESTORE_EMULATOR_HOST.
func ResolveTarget(cfg config.FirestoreConfig, lookup func(string) string) Target {
	if lookup == nil {
		lookup = os.Getenv
	}
	pick := func(value, env string) string {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
		return strings.TrimSpace(lookup(env))
	}
	return Target{
		ProjectID:    pick(cfg.ProjectID, "GOOGLE_CLOUD_PROJECT"),
		EmulatorHost: pick(cfg.EmulatorHost, "FIRESTORE_EMULATOR_HOST"),
	}
}

// Provider owns the Firestore client backing idempotency keys. The client is created on first
// use; a failed creation is retried by the next caller.
type Provider struct {
	target      Target
	dialTimeout time.Duration
	clientOpts  []option.ClientOption

	mu     sync.Mutex
	client *firestore.Client
	closed bool
}

// ProviderOption customises the Provider behaviour.
type ProviderOption func(*Provider)

// WithDialTimeout overrides the timeout used when creating the client.
func WithDialTimeout(timeout time.Duration) ProviderOption {
	return func(p *Provider) {
		if timeout > 0 {
			p.dialTimeout = timeout
		}
	}
}

// WithClientOptions appends client options applied during initialisation.
func WithClientOptions(opts ...option.ClientOption) ProviderOption {
	return func(p *Provider) {
		p.clientOpts = append(p.clientOpts, opts...)
	}
}

// NewProvider constructs a Provider for the target resolved from cfg and the environment.
func NewProvider(cfg config.FirestoreConfig, opts ...ProviderOption) *Provider {
	p := &Provider{target: ResolveTarget(cfg, nil), dialTimeout: defaultDialTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Target reports where the provider connects.
func (p *Provider) Target() Target { return p.target }

// Client returns the shared client, creating it on first use.
func (p *Provider) Client(ctx context.Context) (*firestore.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		return nil, ErrProviderClosed
	case p.client != nil:
		return p.client, nil
	case p.target.ProjectID == "":
		return nil, errors.New("firestore: project id is required")
	}

	opts := append([]option.ClientOption(nil), p.clientOpts...)
	if p.target.Emulated() {
		opts = append(opts,
			option.WithoutAuthentication(),
			option.WithEndpoint(p.target.EmulatorHost),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.dialTimeout)
	defer cancel()
	client, err := firestore.NewClient(dialCtx, p.target.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: create client for %s: %w", p.target, err)
	}
	p.client = client
	return client, nil
}

// Ping reads at most one document from collection to prove the backend answers.
func (p *Provider) Ping(ctx context.Context, collection string) error {
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	iter := client.Collection(collection).Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return fmt.Errorf("firestore: ping %s: %w", collection, err)
	}
	return nil
}

// Close releases the underlying client. The Provider cannot be reused afterwards.
func (p *Provider) Close(ctx context.Context) error {
	p.mu.Lock()
	client := p.client
	p.client, p.closed = nil, true
	p.mu.Unlock()

	if client == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- client.Close() }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
