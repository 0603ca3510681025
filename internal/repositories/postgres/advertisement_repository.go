package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"

	domain "github.com/maherkar/api/internal/domain"
	"github.com/maherkar/api/internal/repositories"
)

type advertisementRepository struct {
	db *gorm.DB
}

var _ repositories.AdvertisementRepository = (*advertisementRepository)(nil)

// NewAdvertisementRepository returns the Postgres backed advertisement store.
func NewAdvertisementRepository(db *gorm.DB) (repositories.AdvertisementRepository, error) {
	if db == nil {
		return nil, errors.New("advertisement repository: db is required")
	}
	return &advertisementRepository{db: db}, nil
}

func (r *advertisementRepository) FindOwnership(ctx context.Context, advertisementID string) (domain.AdvertisementOwnership, error) {
	db := conn(ctx, r.db)

	var ad advertisementRow
	if err := db.Where("id = ?", advertisementID).Take(&ad).Error; err != nil {
		return domain.AdvertisementOwnership{}, WrapError("advertisements.ownership", err)
	}
	ownership := domain.AdvertisementOwnership{Advertisement: ad.toDomain()}

	switch domain.AdType(ad.AdType) {
	case domain.AdTypeJob:
		var job jobAdvertisementRow
		if err := db.Select("id", "employer_id").Where("advertisement_id = ?", ad.ID).Take(&job).Error; err != nil {
			return domain.AdvertisementOwnership{}, WrapError("advertisements.ownership", err)
		}
		ownership.EmployerID = job.EmployerID
	case domain.AdTypeResume:
		var resume resumeAdvertisementRow
		if err := db.Select("id", "job_seeker_id").Where("advertisement_id = ?", ad.ID).Take(&resume).Error; err != nil {
			return domain.AdvertisementOwnership{}, WrapError("advertisements.ownership", err)
		}
		ownership.JobSeekerID = resume.JobSeekerID
	default:
		return domain.AdvertisementOwnership{}, notFound("advertisements.ownership", "advertisement %s has no posting", ad.ID)
	}
	return ownership, nil
}

func (r *advertisementRepository) FindSubscription(ctx context.Context, subscriptionID string) (domain.AdvertisementSubscription, error) {
	var row subscriptionRow
	if err := conn(ctx, r.db).Where("id = ?", subscriptionID).Take(&row).Error; err != nil {
		return domain.AdvertisementSubscription{}, WrapError("subscriptions.find", err)
	}
	return row.toDomain(), nil
}

func (r *advertisementRepository) CreateSubscription(ctx context.Context, subscription domain.AdvertisementSubscription) error {
	row := subscriptionToRow(subscription)
	if err := conn(ctx, r.db).Create(&row).Error; err != nil {
		return WrapError("subscriptions.create", err)
	}
	return nil
}

func (r *advertisementRepository) UpdateSubscription(ctx context.Context, subscription domain.AdvertisementSubscription) error {
	result := conn(ctx, r.db).Model(&subscriptionRow{}).
		Where("id = ?", subscription.ID).
		Updates(map[string]any{
			"status":     string(subscription.Status),
			"plan_id":    subscription.PlanID,
			"duration":   subscription.Duration,
			"start_date": subscription.StartDate,
			"end_date":   subscription.EndDate,
			"updated_at": subscription.UpdatedAt.UTC(),
		})
	if result.Error != nil {
		return WrapError("subscriptions.update", result.Error)
	}
	if result.RowsAffected == 0 {
		return notFound("subscriptions.update", "subscription %s not found", subscription.ID)
	}
	return nil
}

func (r *advertisementRepository) CreateJobAdvertisement(ctx context.Context, ad domain.Advertisement, job domain.JobAdvertisement) error {
	adRow := advertisementToRow(ad)
	jobRow := jobToRow(job)
	err := conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&adRow).Error; err != nil {
			return err
		}
		return tx.Create(&jobRow).Error
	})
	if err != nil {
		return WrapError("advertisements.createJob", err)
	}
	return nil
}

func (r *advertisementRepository) CreateResumeAdvertisement(ctx context.Context, ad domain.Advertisement, resume domain.ResumeAdvertisement) error {
	adRow := advertisementToRow(ad)
	resumeRow := resumeToRow(resume)
	err := conn(ctx, r.db).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&adRow).Error; err != nil {
			return err
		}
		return tx.Create(&resumeRow).Error
	})
	if err != nil {
		return WrapError("advertisements.createResume", err)
	}
	return nil
}
