package domain

import (
	"slices"
	"time"
)

// PaymentStatus enumerates the lifecycle of a subscription order.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusCanceled PaymentStatus = "canceled"
	PaymentStatusFailed   PaymentStatus = "failed"
)

// PaymentStatuses lists every order status in lifecycle order.
var PaymentStatuses = []PaymentStatus{PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusCanceled}

// IsTerminal reports whether no further transitions are allowed.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusPaid, PaymentStatusCanceled, PaymentStatusFailed:
		return true
	default:
		return false
	}
}

// AdType identifies the advertisement family an order funds.
type AdType string

const (
	AdTypeJob    AdType = "job"
	AdTypeResume AdType = "resume"
)

// FailureReason is the machine readable cause stored on failed orders.
type FailureReason string

const (
	FailureReasonPaymentNotConfirmed          FailureReason = "payment_not_confirmed"
	FailureReasonGatewayTimeout               FailureReason = "gateway_timeout"
	FailureReasonGatewayUnreachable           FailureReason = "gateway_unreachable"
	FailureReasonGatewayRejected              FailureReason = "gateway_rejected"
	FailureReasonProvisioningResourceNotFound FailureReason = "provisioning_resource_not_found"
	FailureReasonProvisioningUnauthorized     FailureReason = "provisioning_unauthorized"
	FailureReasonProvisioningError            FailureReason = "provisioning_error"
	FailureReasonCanceledByAdmin              FailureReason = "canceled_by_admin"
)

// FailureReasons lists every reason a failed or canceled order may carry.
var FailureReasons = []FailureReason{
	FailureReasonPaymentNotConfirmed,
	FailureReasonGatewayTimeout,
	FailureReasonGatewayUnreachable,
	FailureReasonGatewayRejected,
	FailureReasonProvisioningResourceNotFound,
	FailureReasonProvisioningUnauthorized,
	FailureReasonProvisioningError,
	FailureReasonCanceledByAdmin,
}

// ProvisioningFailureReasons lists the reasons where money was captured but no resource was created.
var ProvisioningFailureReasons = []FailureReason{
	FailureReasonProvisioningResourceNotFound,
	FailureReasonProvisioningUnauthorized,
	FailureReasonProvisioningError,
}

// RequiresReconciliation reports whether staff must follow up on the captured payment.
func (r FailureReason) RequiresReconciliation() bool {
	for _, reason := range ProvisioningFailureReasons {
		if r == reason {
			return true
		}
	}
	return false
}

// SubscriptionPlan prices a promotion window per day.
type SubscriptionPlan struct {
	ID          string
	Name        string
	Description string
	PricePerDay int64
	Active      bool
	Free        bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SubscriptionOrder is the aggregate root of the payment pipeline.
type SubscriptionOrder struct {
	ID               string
	OwnerID          string
	PlanID           string
	AdType           AdType
	Durations        int
	Price            int64
	Tax              int64
	TotalPrice       int64
	PaymentStatus    PaymentStatus
	AdvertisementID  *string
	SubscriptionID   *string
	PendingPayload   *PendingPayload
	// StaffOverride lets provisioning skip the owner comparison for orders placed by staff.
	StaffOverride    bool
	Authority        string
	// PriorAuthorities holds authorities superseded by a later payment request; payers may still
	// complete any of them.
	PriorAuthorities []string
	Payment          *PaymentReceipt
	FailureReason    FailureReason
	FailureDetail    string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	PaidAt           *time.Time
	FailedAt         *time.Time
	CanceledAt       *time.Time
}

// IssuedAuthority reports whether authority was handed out for this order by any payment request.
func (o SubscriptionOrder) IssuedAuthority(authority string) bool {
	if authority == "" {
		return false
	}
	return o.Authority == authority || slices.Contains(o.PriorAuthorities, authority)
}

// IsDeferred reports whether the order materialises its advertisement after payment.
func (o SubscriptionOrder) IsDeferred() bool {
	return o.AdvertisementID == nil && o.PendingPayload != nil
}

// PaymentReceipt stores the gateway confirmation details of a verified payment.
type PaymentReceipt struct {
	RefID      string
	CardPAN    string
	CardHash   string
	FeeType    string
	Fee        int64
	VerifiedAt time.Time
}

// SubscriptionStatus enumerates advertisement subscription tiers.
type SubscriptionStatus string

const (
	SubscriptionStatusDefault SubscriptionStatus = "default"
	SubscriptionStatusSpecial SubscriptionStatus = "special"
)

// AdvertisementSubscription is the promotion window owned 1:1 by an advertisement.
type AdvertisementSubscription struct {
	ID        string
	Status    SubscriptionStatus
	PlanID    *string
	Duration  int
	StartDate *time.Time
	EndDate   *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Advertisement is the common header shared by job and resume postings.
type Advertisement struct {
	ID             string
	AdType         AdType
	SubscriptionID string
	OwnerID        string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AdReviewStatus tracks moderation of a posting.
type AdReviewStatus string

const (
	AdReviewStatusPending  AdReviewStatus = "P"
	AdReviewStatusApproved AdReviewStatus = "A"
	AdReviewStatusRejected AdReviewStatus = "R"
)

// PostingAttributes holds the optional filters shared by job and resume postings.
type PostingAttributes struct {
	Gender        string
	SoldierStatus string
	Degree        string
	Salary        string
	JobType       string
}

// JobAdvertisement is the job posting subtype.
type JobAdvertisement struct {
	ID              string
	AdvertisementID string
	CompanyID       string
	EmployerID      string
	IndustryID      string
	LocationID      *string
	Title           string
	Description     string
	Status          AdReviewStatus
	Attributes      PostingAttributes
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ResumeAdvertisement is the resume posting subtype.
type ResumeAdvertisement struct {
	ID              string
	AdvertisementID string
	JobSeekerID     string
	ResumeID        string
	IndustryID      string
	LocationID      string
	Title           string
	Description     string
	Status          AdReviewStatus
	Attributes      PostingAttributes
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AdvertisementOwnership describes who may purchase promotion for an advertisement.
type AdvertisementOwnership struct {
	Advertisement Advertisement
	// EmployerID is populated for job postings.
	EmployerID string
	// JobSeekerID is populated for resume postings.
	JobSeekerID string
}

// Owner returns the account that owns the concrete posting.
func (o AdvertisementOwnership) Owner() string {
	switch o.Advertisement.AdType {
	case AdTypeJob:
		return o.EmployerID
	case AdTypeResume:
		return o.JobSeekerID
	default:
		return ""
	}
}

// Company is the employer-owned organisation referenced by job postings.
type Company struct {
	ID         string
	EmployerID string
	Name       string
	LocationID *string
}

// Industry is a taxonomy entry.
type Industry struct {
	ID   string
	Name string
}

// Location is a city taxonomy entry.
type Location struct {
	ID   string
	Name string
}

// Resume is the job seeker's resume referenced by resume postings.
type Resume struct {
	ID          string
	JobSeekerID string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Pagination carries page size and token for list queries.
type Pagination struct {
	PageSize  int
	PageToken string
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
	Error     string
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
