package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"

	domain "github.com/maherkar/api/internal/domain"
	"github.com/maherkar/api/internal/repositories"
)

type catalogRepository struct {
	db *gorm.DB
}

var _ repositories.CatalogRepository = (*catalogRepository)(nil)

// NewCatalogRepository returns read access to companies, taxonomies and resumes.
func NewCatalogRepository(db *gorm.DB) (repositories.CatalogRepository, error) {
	if db == nil {
		return nil, errors.New("catalog repository: db is required")
	}
	return &catalogRepository{db: db}, nil
}

func (r *catalogRepository) FindCompany(ctx context.Context, companyID string) (domain.Company, error) {
	var row companyRow
	if err := conn(ctx, r.db).Where("id = ?", companyID).Take(&row).Error; err != nil {
		return domain.Company{}, WrapError("catalog.company", err)
	}
	return domain.Company{ID: row.ID, EmployerID: row.EmployerID, Name: row.Name, LocationID: row.LocationID}, nil
}

func (r *catalogRepository) FindIndustry(ctx context.Context, industryID string) (domain.Industry, error) {
	var row industryRow
	if err := conn(ctx, r.db).Where("id = ?", industryID).Take(&row).Error; err != nil {
		return domain.Industry{}, WrapError("catalog.industry", err)
	}
	return domain.Industry{ID: row.ID, Name: row.Name}, nil
}

func (r *catalogRepository) FindLocation(ctx context.Context, locationID string) (domain.Location, error) {
	var row locationRow
	if err := conn(ctx, r.db).Where("id = ?", locationID).Take(&row).Error; err != nil {
		return domain.Location{}, WrapError("catalog.location", err)
	}
	return domain.Location{ID: row.ID, Name: row.Name}, nil
}

func (r *catalogRepository) FindResume(ctx context.Context, resumeID string) (domain.Resume, error) {
	var row resumeRow
	if err := conn(ctx, r.db).Where("id = ?", resumeID).Take(&row).Error; err != nil {
		return domain.Resume{}, WrapError("catalog.resume", err)
	}
	return domain.Resume{ID: row.ID, JobSeekerID: row.JobSeekerID}, nil
}
