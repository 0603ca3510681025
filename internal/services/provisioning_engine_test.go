package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/maherkar/api/internal/domain"
	"github.com/maherkar/api/internal/repositories"
	"github.com/maherkar/api/internal/repositories/memory"
)

type unavailableErr struct{}

func (unavailableErr) Error() string       { return "connection reset" }
func (unavailableErr) IsNotFound() bool    { return false }
func (unavailableErr) IsConflict() bool    { return false }
func (unavailableErr) IsUnavailable() bool { return true }

type stubCatalog struct {
	repositories.CatalogRepository
	findResume func(ctx context.Context, id string) (domain.Resume, error)
}

func (s stubCatalog) FindResume(ctx context.Context, id string) (domain.Resume, error) {
	return s.findResume(ctx, id)
}

func newTestProvisioner(t *testing.T, store *memory.Store, catalog repositories.CatalogRepository) ProvisioningEngine {
	t.Helper()
	seq := 0
	engine, err := NewProvisioningEngine(ProvisioningEngineDeps{
		Advertisements: store.Advertisements(),
		Catalog:        catalog,
		Clock:          func() time.Time { return fixedNow },
		IDGenerator: func() string {
			seq++
			return "id-" + string(rune('a'+seq-1))
		},
	})
	if err != nil {
		t.Fatalf("NewProvisioningEngine: %v", err)
	}
	return engine
}

func resumeOrder(owner string, staff bool) domain.SubscriptionOrder {
	return domain.SubscriptionOrder{
		ID:            "ord_resume",
		OwnerID:       owner,
		PlanID:        "plan_basic",
		AdType:        domain.AdTypeResume,
		Durations:     30,
		PaymentStatus: domain.PaymentStatusPending,
		StaffOverride: staff,
		PendingPayload: domain.NewResumePendingPayload(domain.ResumePayload{
			Title:      "Data analyst",
			ResumeID:   "res_1",
			IndustryID: "ind_it",
			LocationID: "loc_shiraz",
			Degree:     "MA",
		}),
	}
}

func seededStore() *memory.Store {
	store := memory.NewStore(nil)
	store.SeedResume(domain.Resume{ID: "res_1", JobSeekerID: jobSeekerID})
	store.SeedIndustry(domain.Industry{ID: "ind_it", Name: "IT"})
	store.SeedLocation(domain.Location{ID: "loc_shiraz", Name: "Shiraz"})
	return store
}

func TestProvisionResumeCreatesPostingAndActivates(t *testing.T) {
	store := seededStore()
	engine := newTestProvisioner(t, store, store.Catalog())

	result, err := engine.Provision(context.Background(), resumeOrder(jobSeekerID, false))
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if result.SubscriptionID != "id-a" || result.AdvertisementID != "id-b" {
		t.Fatalf("unexpected ids %+v", result)
	}
	posting, ok := store.ResumeAdvertisementFor(result.AdvertisementID)
	if !ok {
		t.Fatalf("expected resume posting")
	}
	if posting.JobSeekerID != jobSeekerID || posting.LocationID != "loc_shiraz" || posting.Status != domain.AdReviewStatusPending || posting.Attributes.Degree != "MA" {
		t.Fatalf("unexpected posting %+v", posting)
	}
	if result.Subscription.Status != domain.SubscriptionStatusSpecial || result.Subscription.Duration != 30 {
		t.Fatalf("expected activated subscription, got %+v", result.Subscription)
	}
	if !result.Subscription.EndDate.Equal(fixedNow.AddDate(0, 0, 30)) {
		t.Fatalf("unexpected end date %v", result.Subscription.EndDate)
	}
}

func TestProvisionResumeOwnership(t *testing.T) {
	store := seededStore()
	engine := newTestProvisioner(t, store, store.Catalog())

	_, err := engine.Provision(context.Background(), resumeOrder(strangerID, false))
	var provErr *ProvisioningError
	if !errors.As(err, &provErr) || provErr.Reason != domain.FailureReasonProvisioningUnauthorized {
		t.Fatalf("expected unauthorized provisioning error, got %v", err)
	}
	if !errors.Is(err, ErrProvisioningUnauthorized) {
		t.Fatalf("expected ErrProvisioningUnauthorized in chain, got %v", err)
	}
	if ads, subs := store.Counts(); ads != 0 || subs != 0 {
		t.Fatalf("expected nothing written, got %d ads %d subs", ads, subs)
	}

	if _, err := engine.Provision(context.Background(), resumeOrder("usr_admin", true)); err != nil {
		t.Fatalf("expected staff override to provision, got %v", err)
	}
}

func TestProvisionMissingLocation(t *testing.T) {
	store := memory.NewStore(nil)
	store.SeedResume(domain.Resume{ID: "res_1", JobSeekerID: jobSeekerID})
	store.SeedIndustry(domain.Industry{ID: "ind_it", Name: "IT"})
	engine := newTestProvisioner(t, store, store.Catalog())

	_, err := engine.Provision(context.Background(), resumeOrder(jobSeekerID, false))
	if !errors.Is(err, ErrProvisioningResourceNotFound) {
		t.Fatalf("expected ErrProvisioningResourceNotFound, got %v", err)
	}
}

func TestProvisionUnavailableStorageIsNotAProvisioningFailure(t *testing.T) {
	store := seededStore()
	engine := newTestProvisioner(t, store, stubCatalog{
		CatalogRepository: store.Catalog(),
		findResume: func(context.Context, string) (domain.Resume, error) {
			return domain.Resume{}, unavailableErr{}
		},
	})

	_, err := engine.Provision(context.Background(), resumeOrder(jobSeekerID, false))
	if err == nil {
		t.Fatal("expected error")
	}
	var provErr *ProvisioningError
	if errors.As(err, &provErr) {
		t.Fatalf("expected a transient error, got provisioning error %v", provErr)
	}
}

func TestProvisionRejectsMalformedPayload(t *testing.T) {
	store := seededStore()
	engine := newTestProvisioner(t, store, store.Catalog())

	order := resumeOrder(jobSeekerID, false)
	order.PendingPayload = &domain.PendingPayload{Kind: domain.AdTypeJob}
	_, err := engine.Provision(context.Background(), order)
	var provErr *ProvisioningError
	if !errors.As(err, &provErr) || provErr.Reason != domain.FailureReasonProvisioningError {
		t.Fatalf("expected provisioning_error, got %v", err)
	}
}

func TestProvisionExistingAdvertisementWithoutSubscription(t *testing.T) {
	store := seededStore()
	engine := newTestProvisioner(t, store, store.Catalog())

	adID := "ad_orphan"
	subID := "sub_missing"
	_, err := engine.Provision(context.Background(), domain.SubscriptionOrder{ID: "ord_x", AdvertisementID: &adID, SubscriptionID: &subID, Durations: 3})
	if !errors.Is(err, ErrProvisioningResourceNotFound) {
		t.Fatalf("expected ErrProvisioningResourceNotFound, got %v", err)
	}
}
