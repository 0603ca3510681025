package postgres

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/maherkar/api/internal/domain"
	"github.com/maherkar/api/internal/repositories"
)

type planRepository struct {
	db *gorm.DB
}

var _ repositories.PlanRepository = (*planRepository)(nil)

// NewPlanRepository returns the Postgres backed plan catalogue.
func NewPlanRepository(db *gorm.DB) (repositories.PlanRepository, error) {
	if db == nil {
		return nil, errors.New("plan repository: db is required")
	}
	return &planRepository{db: db}, nil
}

func (r *planRepository) FindByID(ctx context.Context, planID string) (domain.SubscriptionPlan, error) {
	var row planRow
	if err := conn(ctx, r.db).Where("id = ?", planID).Take(&row).Error; err != nil {
		return domain.SubscriptionPlan{}, WrapError("plans.find", err)
	}
	return row.toDomain(), nil
}

func (r *planRepository) ListActive(ctx context.Context) ([]domain.SubscriptionPlan, error) {
	var rows []planRow
	err := conn(ctx, r.db).
		Where("active = ?", true).
		Order("price_per_day ASC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, WrapError("plans.listActive", err)
	}
	plans := make([]domain.SubscriptionPlan, 0, len(rows))
	for _, row := range rows {
		plans = append(plans, row.toDomain())
	}
	return plans, nil
}

func (r *planRepository) Upsert(ctx context.Context, plan domain.SubscriptionPlan) error {
	if strings.TrimSpace(plan.ID) == "" {
		return WrapError("plans.upsert", errors.New("plan id is required"))
	}
	row := planToRow(plan)
	err := conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "description", "price_per_day", "active", "free", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return WrapError("plans.upsert", err)
	}
	return nil
}
