package postgres

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"gorm.io/datatypes"

	domain "github.com/maherkar/api/internal/domain"
)

type planRow struct {
	ID          string `gorm:"primaryKey;size:64"`
	Name        string `gorm:"size:255;not null"`
	Description string `gorm:"type:text"`
	PricePerDay int64  `gorm:"not null"`
	Active      bool   `gorm:"not null;default:true;index"`
	Free        bool   `gorm:"not null;default:false"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (planRow) TableName() string { return "subscription_plans" }

type companyRow struct {
	ID         string  `gorm:"primaryKey;size:64"`
	EmployerID string  `gorm:"size:128;not null;index"`
	Name       string  `gorm:"size:255;not null"`
	LocationID *string `gorm:"size:64"`
}

func (companyRow) TableName() string { return "companies" }

type industryRow struct {
	ID   string `gorm:"primaryKey;size:64"`
	Name string `gorm:"size:255;not null"`
}

func (industryRow) TableName() string { return "industries" }

type locationRow struct {
	ID   string `gorm:"primaryKey;size:64"`
	Name string `gorm:"size:255;not null"`
}

func (locationRow) TableName() string { return "locations" }

type resumeRow struct {
	ID          string `gorm:"primaryKey;size:64"`
	JobSeekerID string `gorm:"size:128;not null;index"`
}

func (resumeRow) TableName() string { return "resumes" }

type subscriptionRow struct {
	ID        string  `gorm:"primaryKey;size:64"`
	Status    string  `gorm:"size:16;not null"`
	PlanID    *string `gorm:"size:64"`
	Duration  int     `gorm:"not null;default:0"`
	StartDate *time.Time
	EndDate   *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (subscriptionRow) TableName() string { return "advertisement_subscriptions" }

type advertisementRow struct {
	ID             string `gorm:"primaryKey;size:64"`
	AdType         string `gorm:"size:16;not null"`
	SubscriptionID string `gorm:"size:64;not null;uniqueIndex"`
	OwnerID        string `gorm:"size:128;not null;index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (advertisementRow) TableName() string { return "advertisements" }

type postingColumns struct {
	Title         string `gorm:"size:255;not null"`
	Description   string `gorm:"type:text"`
	Status        string `gorm:"size:1;not null;default:P"`
	Gender        string `gorm:"size:1"`
	SoldierStatus string `gorm:"size:2"`
	Degree        string `gorm:"size:2"`
	Salary        string `gorm:"size:32"`
	JobType       string `gorm:"size:2"`
}

type jobAdvertisementRow struct {
	ID              string         `gorm:"primaryKey;size:64"`
	AdvertisementID string         `gorm:"size:64;not null;uniqueIndex"`
	CompanyID       string         `gorm:"size:64;not null;index"`
	EmployerID      string         `gorm:"size:128;not null;index"`
	IndustryID      string         `gorm:"size:64;not null"`
	LocationID      *string        `gorm:"size:64"`
	Posting         postingColumns `gorm:"embedded"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (jobAdvertisementRow) TableName() string { return "job_advertisements" }

type resumeAdvertisementRow struct {
	ID              string         `gorm:"primaryKey;size:64"`
	AdvertisementID string         `gorm:"size:64;not null;uniqueIndex"`
	JobSeekerID     string         `gorm:"size:128;not null;index"`
	ResumeID        string         `gorm:"size:64;not null;index"`
	IndustryID      string         `gorm:"size:64;not null"`
	LocationID      string         `gorm:"size:64;not null"`
	Posting         postingColumns `gorm:"embedded"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (resumeAdvertisementRow) TableName() string { return "resume_advertisements" }

type orderRow struct {
	ID               string                      `gorm:"primaryKey;size:40"`
	OwnerID          string                      `gorm:"size:128;not null;index:idx_orders_owner_created,priority:1"`
	PlanID           string                      `gorm:"size:64;not null"`
	AdType           string                      `gorm:"size:16;not null"`
	Durations        int                         `gorm:"not null"`
	Price            int64                       `gorm:"not null"`
	Tax              int64                       `gorm:"not null"`
	TotalPrice       int64                       `gorm:"not null"`
	PaymentStatus    string                      `gorm:"size:16;not null;index"`
	AdvertisementID  *string                     `gorm:"size:64;index"`
	SubscriptionID   *string                     `gorm:"size:64"`
	PendingPayload   datatypes.JSON              `gorm:"type:jsonb"`
	StaffOverride    bool                        `gorm:"not null;default:false"`
	Authority        string                      `gorm:"size:64;index"`
	// PriorAuthorities grows only through RecordAuthority.
	PriorAuthorities datatypes.JSONSlice[string] `gorm:"type:jsonb;not null;default:'[]'"`
	Payment          datatypes.JSON              `gorm:"type:jsonb"`
	FailureReason    string                      `gorm:"size:64;index"`
	FailureDetail    string                      `gorm:"type:text"`
	CreatedAt        time.Time                   `gorm:"not null;index:idx_orders_owner_created,priority:2"`
	UpdatedAt        time.Time
	PaidAt           *time.Time
	FailedAt         *time.Time
	CanceledAt       *time.Time
}

func (orderRow) TableName() string { return "subscription_orders" }

type paymentReceiptDoc struct {
	RefID      string    `json:"refId"`
	CardPAN    string    `json:"cardPan,omitempty"`
	CardHash   string    `json:"cardHash,omitempty"`
	FeeType    string    `json:"feeType,omitempty"`
	Fee        int64     `json:"fee"`
	VerifiedAt time.Time `json:"verifiedAt"`
}

func isNullJSON(raw datatypes.JSON) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func encodeReceipt(receipt *domain.PaymentReceipt) (datatypes.JSON, error) {
	if receipt == nil {
		return nil, nil
	}
	data, err := json.Marshal(paymentReceiptDoc{
		RefID:      receipt.RefID,
		CardPAN:    receipt.CardPAN,
		CardHash:   receipt.CardHash,
		FeeType:    receipt.FeeType,
		Fee:        receipt.Fee,
		VerifiedAt: receipt.VerifiedAt.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode payment receipt: %w", err)
	}
	return datatypes.JSON(data), nil
}

func encodePayload(payload *domain.PendingPayload) (datatypes.JSON, error) {
	if payload == nil {
		return nil, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode pending payload: %w", err)
	}
	return datatypes.JSON(data), nil
}

func orderToRow(order domain.SubscriptionOrder) (orderRow, error) {
	payload, err := encodePayload(order.PendingPayload)
	if err != nil {
		return orderRow{}, err
	}
	receipt, err := encodeReceipt(order.Payment)
	if err != nil {
		return orderRow{}, err
	}
	return orderRow{
		ID:               order.ID,
		OwnerID:          order.OwnerID,
		PlanID:           order.PlanID,
		AdType:           string(order.AdType),
		Durations:        order.Durations,
		Price:            order.Price,
		Tax:              order.Tax,
		TotalPrice:       order.TotalPrice,
		PaymentStatus:    string(order.PaymentStatus),
		AdvertisementID:  order.AdvertisementID,
		SubscriptionID:   order.SubscriptionID,
		PendingPayload:   payload,
		StaffOverride:    order.StaffOverride,
		Authority:        order.Authority,
		PriorAuthorities: datatypes.NewJSONSlice(nonNilStrings(order.PriorAuthorities)),
		Payment:          receipt,
		FailureReason:    string(order.FailureReason),
		FailureDetail:    order.FailureDetail,
		CreatedAt:        order.CreatedAt.UTC(),
		UpdatedAt:        order.UpdatedAt.UTC(),
		PaidAt:           order.PaidAt,
		FailedAt:         order.FailedAt,
		CanceledAt:       order.CanceledAt,
	}, nil
}

func (r orderRow) toDomain() (domain.SubscriptionOrder, error) {
	order := domain.SubscriptionOrder{
		ID:               r.ID,
		OwnerID:          r.OwnerID,
		PlanID:           r.PlanID,
		AdType:           domain.AdType(r.AdType),
		Durations:        r.Durations,
		Price:            r.Price,
		Tax:              r.Tax,
		TotalPrice:       r.TotalPrice,
		PaymentStatus:    domain.PaymentStatus(r.PaymentStatus),
		AdvertisementID:  r.AdvertisementID,
		SubscriptionID:   r.SubscriptionID,
		StaffOverride:    r.StaffOverride,
		Authority:        r.Authority,
		PriorAuthorities: slices.Clone([]string(r.PriorAuthorities)),
		FailureReason:    domain.FailureReason(r.FailureReason),
		FailureDetail:    r.FailureDetail,
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
		PaidAt:           utcPtr(r.PaidAt),
		FailedAt:         utcPtr(r.FailedAt),
		CanceledAt:       utcPtr(r.CanceledAt),
	}
	if !isNullJSON(r.PendingPayload) {
		var payload domain.PendingPayload
		if err := json.Unmarshal(r.PendingPayload, &payload); err != nil {
			return domain.SubscriptionOrder{}, fmt.Errorf("decode pending payload of %s: %w", r.ID, err)
		}
		order.PendingPayload = &payload
	}
	if !isNullJSON(r.Payment) {
		var doc paymentReceiptDoc
		if err := json.Unmarshal(r.Payment, &doc); err != nil {
			return domain.SubscriptionOrder{}, fmt.Errorf("decode payment receipt of %s: %w", r.ID, err)
		}
		order.Payment = &domain.PaymentReceipt{
			RefID:      doc.RefID,
			CardPAN:    doc.CardPAN,
			CardHash:   doc.CardHash,
			FeeType:    doc.FeeType,
			Fee:        doc.Fee,
			VerifiedAt: doc.VerifiedAt.UTC(),
		}
	}
	return order, nil
}

func planToRow(plan domain.SubscriptionPlan) planRow {
	return planRow{
		ID:          plan.ID,
		Name:        plan.Name,
		Description: plan.Description,
		PricePerDay: plan.PricePerDay,
		Active:      plan.Active,
		Free:        plan.Free,
		CreatedAt:   plan.CreatedAt.UTC(),
		UpdatedAt:   plan.UpdatedAt.UTC(),
	}
}

func (r planRow) toDomain() domain.SubscriptionPlan {
	return domain.SubscriptionPlan{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		PricePerDay: r.PricePerDay,
		Active:      r.Active,
		Free:        r.Free,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

func subscriptionToRow(sub domain.AdvertisementSubscription) subscriptionRow {
	return subscriptionRow{
		ID:        sub.ID,
		Status:    string(sub.Status),
		PlanID:    sub.PlanID,
		Duration:  sub.Duration,
		StartDate: sub.StartDate,
		EndDate:   sub.EndDate,
		CreatedAt: sub.CreatedAt.UTC(),
		UpdatedAt: sub.UpdatedAt.UTC(),
	}
}

func (r subscriptionRow) toDomain() domain.AdvertisementSubscription {
	return domain.AdvertisementSubscription{
		ID:        r.ID,
		Status:    domain.SubscriptionStatus(r.Status),
		PlanID:    r.PlanID,
		Duration:  r.Duration,
		StartDate: utcPtr(r.StartDate),
		EndDate:   utcPtr(r.EndDate),
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

func advertisementToRow(ad domain.Advertisement) advertisementRow {
	return advertisementRow{
		ID:             ad.ID,
		AdType:         string(ad.AdType),
		SubscriptionID: ad.SubscriptionID,
		OwnerID:        ad.OwnerID,
		CreatedAt:      ad.CreatedAt.UTC(),
		UpdatedAt:      ad.UpdatedAt.UTC(),
	}
}

func (r advertisementRow) toDomain() domain.Advertisement {
	return domain.Advertisement{
		ID:             r.ID,
		AdType:         domain.AdType(r.AdType),
		SubscriptionID: r.SubscriptionID,
		OwnerID:        r.OwnerID,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

func postingToColumns(title, description string, status domain.AdReviewStatus, attrs domain.PostingAttributes) postingColumns {
	return postingColumns{
		Title:         title,
		Description:   description,
		Status:        string(status),
		Gender:        attrs.Gender,
		SoldierStatus: attrs.SoldierStatus,
		Degree:        attrs.Degree,
		Salary:        attrs.Salary,
		JobType:       attrs.JobType,
	}
}

func jobToRow(job domain.JobAdvertisement) jobAdvertisementRow {
	return jobAdvertisementRow{
		ID:              job.ID,
		AdvertisementID: job.AdvertisementID,
		CompanyID:       job.CompanyID,
		EmployerID:      job.EmployerID,
		IndustryID:      job.IndustryID,
		LocationID:      job.LocationID,
		Posting:         postingToColumns(job.Title, job.Description, job.Status, job.Attributes),
		CreatedAt:       job.CreatedAt.UTC(),
		UpdatedAt:       job.UpdatedAt.UTC(),
	}
}

func resumeToRow(resume domain.ResumeAdvertisement) resumeAdvertisementRow {
	return resumeAdvertisementRow{
		ID:              resume.ID,
		AdvertisementID: resume.AdvertisementID,
		JobSeekerID:     resume.JobSeekerID,
		ResumeID:        resume.ResumeID,
		IndustryID:      resume.IndustryID,
		LocationID:      resume.LocationID,
		Posting:         postingToColumns(resume.Title, resume.Description, resume.Status, resume.Attributes),
		CreatedAt:       resume.CreatedAt.UTC(),
		UpdatedAt:       resume.UpdatedAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
