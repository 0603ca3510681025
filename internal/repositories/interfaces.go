package repositories

import (
	"context"
	"slices"
	"strings"
	"time"

	domain "github.com/maherkar/api/internal/domain"
	"github.com/maherkar/api/internal/platform/pagination"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Plans() PlanRepository
	Advertisements() AdvertisementRepository
	Catalog() CatalogRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
// Repositories called with the context passed to fn participate in the transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderListFilter narrows order listings. An empty OwnerID lists every owner.
type OrderListFilter struct {
	OwnerID        string
	Statuses       []domain.PaymentStatus
	FailureReasons []domain.FailureReason
	Pagination     domain.Pagination
}

// Scope fingerprints the filter so page tokens cannot be replayed against a different listing.
func (f OrderListFilter) Scope() string {
	statuses := make([]string, 0, len(f.Statuses))
	for _, status := range f.Statuses {
		statuses = append(statuses, string(status))
	}
	reasons := make([]string, 0, len(f.FailureReasons))
	for _, reason := range f.FailureReasons {
		reasons = append(reasons, string(reason))
	}
	slices.Sort(statuses)
	slices.Sort(reasons)
	return pagination.Scope(strings.TrimSpace(f.OwnerID), strings.Join(statuses, ","), strings.Join(reasons, ","))
}

// OrderStatusUpdate is applied atomically together with the status compare-and-set.
type OrderStatusUpdate struct {
	Status              domain.PaymentStatus
	AdvertisementID     *string
	SubscriptionID      *string
	ClearPendingPayload bool
	Payment             *domain.PaymentReceipt
	FailureReason       domain.FailureReason
	FailureDetail       string
	At                  time.Time
}

// OrderRepository persists subscription orders.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.SubscriptionOrder) error
	FindByID(ctx context.Context, orderID string) (domain.SubscriptionOrder, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.SubscriptionOrder], error)
	// RecordAuthority stores the latest gateway authority on a pending order, keeping the one it
	// replaces in PriorAuthorities.
	// Returns a conflict error when the order is no longer pending.
	RecordAuthority(ctx context.Context, orderID string, authority string, at time.Time) error
	// UpdateStatus moves the order from expected to update.Status in one write. Returns a conflict
	// error when the stored status differs from expected.
	UpdateStatus(ctx context.Context, orderID string, expected domain.PaymentStatus, update OrderStatusUpdate) (domain.SubscriptionOrder, error)
}

// PlanRepository reads and maintains subscription plans.
type PlanRepository interface {
	FindByID(ctx context.Context, planID string) (domain.SubscriptionPlan, error)
	ListActive(ctx context.Context) ([]domain.SubscriptionPlan, error)
	Upsert(ctx context.Context, plan domain.SubscriptionPlan) error
}

// AdvertisementRepository is the narrow write/read surface of the advertisement aggregate used by provisioning.
type AdvertisementRepository interface {
	FindOwnership(ctx context.Context, advertisementID string) (domain.AdvertisementOwnership, error)
	FindSubscription(ctx context.Context, subscriptionID string) (domain.AdvertisementSubscription, error)
	CreateSubscription(ctx context.Context, subscription domain.AdvertisementSubscription) error
	UpdateSubscription(ctx context.Context, subscription domain.AdvertisementSubscription) error
	CreateJobAdvertisement(ctx context.Context, ad domain.Advertisement, job domain.JobAdvertisement) error
	CreateResumeAdvertisement(ctx context.Context, ad domain.Advertisement, resume domain.ResumeAdvertisement) error
}

// CatalogRepository resolves the reference entities a pending payload points at.
type CatalogRepository interface {
	FindCompany(ctx context.Context, companyID string) (domain.Company, error)
	FindIndustry(ctx context.Context, industryID string) (domain.Industry, error)
	FindLocation(ctx context.Context, locationID string) (domain.Location, error)
	FindResume(ctx context.Context, resumeID string) (domain.Resume, error)
}

// HealthRepository reports dependency health.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
