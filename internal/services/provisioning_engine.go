package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	domain "github.com/maherkar/api/internal/domain"
	"github.com/maherkar/api/internal/repositories"
)

var (
	// ErrProvisioningResourceNotFound indicates a resource referenced by the order no longer exists.
	ErrProvisioningResourceNotFound = errors.New("provisioning: referenced resource not found")
	// ErrProvisioningUnauthorized indicates the order owner no longer owns the referenced resource.
	ErrProvisioningUnauthorized = errors.New("provisioning: owner mismatch")
	// ErrProvisioningFailed covers storage failures while writing provisioned state.
	ErrProvisioningFailed = errors.New("provisioning: failed")
)

// ProvisioningError carries the failure reason recorded on the order.
type ProvisioningError struct {
	Reason domain.FailureReason
	Err    error
}

func (e *ProvisioningError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("provisioning %s: %v", e.Reason, e.Err)
}

func (e *ProvisioningError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ProvisioningEngineDeps bundles collaborators required by the provisioning engine.
type ProvisioningEngineDeps struct {
	Advertisements repositories.AdvertisementRepository
	Catalog        repositories.CatalogRepository
	Clock          func() time.Time
	IDGenerator    func() string
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type provisioningEngine struct {
	ads     repositories.AdvertisementRepository
	catalog repositories.CatalogRepository
	clock   func() time.Time
	newID   func() string
	logger  func(context.Context, string, map[string]any)
}

// NewProvisioningEngine constructs the engine that materialises paid orders.
func NewProvisioningEngine(deps ProvisioningEngineDeps) (ProvisioningEngine, error) {
	if deps.Advertisements == nil {
		return nil, errors.New("provisioning engine: advertisement repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("provisioning engine: catalog repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = uuid.NewString
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &provisioningEngine{
		ads:     deps.Advertisements,
		catalog: deps.Catalog,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// Provision activates the subscription funded by order, creating the advertisement first for deferred
// orders. Callers run it inside the transaction that commits the paid status.
func (e *provisioningEngine) Provision(ctx context.Context, order domain.SubscriptionOrder) (ProvisioningResult, error) {
	now := e.clock()

	if order.AdvertisementID != nil {
		return e.activateExisting(ctx, order, now)
	}
	if err := order.PendingPayload.CheckVariant(); err != nil {
		return ProvisioningResult{}, &ProvisioningError{Reason: domain.FailureReasonProvisioningError, Err: err}
	}

	switch order.PendingPayload.Kind {
	case domain.AdTypeJob:
		return e.createJob(ctx, order, *order.PendingPayload.Job, now)
	default:
		return e.createResume(ctx, order, *order.PendingPayload.Resume, now)
	}
}

func (e *provisioningEngine) activateExisting(ctx context.Context, order domain.SubscriptionOrder, now time.Time) (ProvisioningResult, error) {
	if order.SubscriptionID == nil || strings.TrimSpace(*order.SubscriptionID) == "" {
		return ProvisioningResult{}, e.notFound(fmt.Errorf("order %s has no linked subscription", order.ID))
	}
	sub, err := e.ads.FindSubscription(ctx, *order.SubscriptionID)
	if err != nil {
		return ProvisioningResult{}, e.storageError("subscription lookup", err)
	}
	activated := activateSubscription(sub, order, now)
	if err := e.ads.UpdateSubscription(ctx, activated); err != nil {
		return ProvisioningResult{}, e.storageError("subscription activation", err)
	}
	e.logger(ctx, "provisioning.subscription.activated", map[string]any{
		"orderId":         order.ID,
		"advertisementId": *order.AdvertisementID,
		"subscriptionId":  activated.ID,
	})
	return ProvisioningResult{
		AdvertisementID: *order.AdvertisementID,
		SubscriptionID:  activated.ID,
		Subscription:    activated,
	}, nil
}

func (e *provisioningEngine) createJob(ctx context.Context, order domain.SubscriptionOrder, payload domain.JobPostingPayload, now time.Time) (ProvisioningResult, error) {
	company, err := e.catalog.FindCompany(ctx, payload.CompanyID)
	if err != nil {
		return ProvisioningResult{}, e.storageError("company lookup", err)
	}
	if _, err := e.catalog.FindIndustry(ctx, payload.IndustryID); err != nil {
		return ProvisioningResult{}, e.storageError("industry lookup", err)
	}
	if company.EmployerID != order.OwnerID && !order.StaffOverride {
		return ProvisioningResult{}, &ProvisioningError{
			Reason: domain.FailureReasonProvisioningUnauthorized,
			Err:    fmt.Errorf("%w: company %s is not owned by %s", ErrProvisioningUnauthorized, company.ID, order.OwnerID),
		}
	}

	sub, err := e.createSubscription(ctx, order, now)
	if err != nil {
		return ProvisioningResult{}, err
	}
	ad := domain.Advertisement{
		ID:             e.newID(),
		AdType:         domain.AdTypeJob,
		SubscriptionID: sub.ID,
		OwnerID:        company.EmployerID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	job := domain.JobAdvertisement{
		ID:              e.newID(),
		AdvertisementID: ad.ID,
		CompanyID:       company.ID,
		EmployerID:      company.EmployerID,
		IndustryID:      payload.IndustryID,
		LocationID:      company.LocationID,
		Title:           payload.Title,
		Description:     payload.Description,
		Status:          domain.AdReviewStatusPending,
		Attributes:      payload.Attributes(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.ads.CreateJobAdvertisement(ctx, ad, job); err != nil {
		return ProvisioningResult{}, e.storageError("job advertisement creation", err)
	}
	e.logger(ctx, "provisioning.advertisement.created", map[string]any{
		"orderId":         order.ID,
		"advertisementId": ad.ID,
		"subscriptionId":  sub.ID,
		"adType":          string(ad.AdType),
	})
	return ProvisioningResult{AdvertisementID: ad.ID, SubscriptionID: sub.ID, Subscription: sub}, nil
}

func (e *provisioningEngine) createResume(ctx context.Context, order domain.SubscriptionOrder, payload domain.ResumePayload, now time.Time) (ProvisioningResult, error) {
	resume, err := e.catalog.FindResume(ctx, payload.ResumeID)
	if err != nil {
		return ProvisioningResult{}, e.storageError("resume lookup", err)
	}
	if _, err := e.catalog.FindIndustry(ctx, payload.IndustryID); err != nil {
		return ProvisioningResult{}, e.storageError("industry lookup", err)
	}
	if _, err := e.catalog.FindLocation(ctx, payload.LocationID); err != nil {
		return ProvisioningResult{}, e.storageError("location lookup", err)
	}
	if resume.JobSeekerID != order.OwnerID && !order.StaffOverride {
		return ProvisioningResult{}, &ProvisioningError{
			Reason: domain.FailureReasonProvisioningUnauthorized,
			Err:    fmt.Errorf("%w: resume %s is not owned by %s", ErrProvisioningUnauthorized, resume.ID, order.OwnerID),
		}
	}

	sub, err := e.createSubscription(ctx, order, now)
	if err != nil {
		return ProvisioningResult{}, err
	}
	ad := domain.Advertisement{
		ID:             e.newID(),
		AdType:         domain.AdTypeResume,
		SubscriptionID: sub.ID,
		OwnerID:        resume.JobSeekerID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	posting := domain.ResumeAdvertisement{
		ID:              e.newID(),
		AdvertisementID: ad.ID,
		JobSeekerID:     resume.JobSeekerID,
		ResumeID:        resume.ID,
		IndustryID:      payload.IndustryID,
		LocationID:      payload.LocationID,
		Title:           payload.Title,
		Description:     payload.Description,
		Status:          domain.AdReviewStatusPending,
		Attributes:      payload.Attributes(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.ads.CreateResumeAdvertisement(ctx, ad, posting); err != nil {
		return ProvisioningResult{}, e.storageError("resume advertisement creation", err)
	}
	e.logger(ctx, "provisioning.advertisement.created", map[string]any{
		"orderId":         order.ID,
		"advertisementId": ad.ID,
		"subscriptionId":  sub.ID,
		"adType":          string(ad.AdType),
	})
	return ProvisioningResult{AdvertisementID: ad.ID, SubscriptionID: sub.ID, Subscription: sub}, nil
}

func (e *provisioningEngine) createSubscription(ctx context.Context, order domain.SubscriptionOrder, now time.Time) (domain.AdvertisementSubscription, error) {
	sub := activateSubscription(domain.AdvertisementSubscription{
		ID:        e.newID(),
		Status:    domain.SubscriptionStatusDefault,
		CreatedAt: now,
	}, order, now)
	if err := e.ads.CreateSubscription(ctx, sub); err != nil {
		return domain.AdvertisementSubscription{}, e.storageError("subscription creation", err)
	}
	return sub, nil
}

func activateSubscription(sub domain.AdvertisementSubscription, order domain.SubscriptionOrder, now time.Time) domain.AdvertisementSubscription {
	planID := order.PlanID
	start := now
	end := now.AddDate(0, 0, order.Durations)
	sub.Status = domain.SubscriptionStatusSpecial
	sub.PlanID = &planID
	sub.Duration = order.Durations
	sub.StartDate = &start
	sub.EndDate = &end
	sub.UpdatedAt = now
	return sub
}

func (e *provisioningEngine) notFound(err error) error {
	return &ProvisioningError{
		Reason: domain.FailureReasonProvisioningResourceNotFound,
		Err:    fmt.Errorf("%w: %v", ErrProvisioningResourceNotFound, err),
	}
}

func (e *provisioningEngine) storageError(step string, err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return e.notFound(fmt.Errorf("%s: %w", step, err))
		case repoErr.IsUnavailable():
			// Transient: the order stays pending and the next verify call retries.
			return fmt.Errorf("provisioning: %s: %w", step, err)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("provisioning: %s: %w", step, err)
	}
	return &ProvisioningError{
		Reason: domain.FailureReasonProvisioningError,
		Err:    fmt.Errorf("%w: %s: %w", ErrProvisioningFailed, step, err),
	}
}
