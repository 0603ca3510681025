package firestore

import (
	"context"
	"errors"
	"testing"

	"github.com/maherkar/api/internal/platform/config"
)

func TestResolveTarget(t *testing.T) {
	env := map[string]string{
		"GOOGLE_CLOUD_PROJECT":    "maherkar-prod",
		"FIRESTORE_EMULATOR_HOST": "localhost:8080",
	}
	lookup := func(key string) string { return env[key] }

	target := ResolveTarget(config.FirestoreConfig{}, lookup)
	if target.ProjectID != "maherkar-prod" || !target.Emulated() {
		t.Fatalf("expected environment fallback, got %+v", target)
	}
	if target.String() != "maherkar-prod@localhost:8080 (emulator)" {
		t.Fatalf("unexpected description %q", target.String())
	}

	explicit := ResolveTarget(config.FirestoreConfig{ProjectID: " maherkar-staging ", EmulatorHost: ""}, func(string) string { return "" })
	if explicit.ProjectID != "maherkar-staging" || explicit.Emulated() || explicit.String() != "maherkar-staging" {
		t.Fatalf("unexpected explicit target %+v", explicit)
	}
}

func TestProviderClosedRejectsClient(t *testing.T) {
	p := &Provider{target: Target{ProjectID: "maherkar-test"}}
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := p.Client(context.Background()); !errors.Is(err, ErrProviderClosed) {
		t.Fatalf("expected ErrProviderClosed, got %v", err)
	}
}

func TestProviderRequiresProject(t *testing.T) {
	p := &Provider{}
	if _, err := p.Client(context.Background()); err == nil {
		t.Fatal("expected missing project error")
	}
}
