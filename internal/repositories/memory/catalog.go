package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"

	domain "github.com/maherkar/api/internal/domain"
)

type catalogRepository struct{ s *Store }

func (r catalogRepository) FindCompany(ctx context.Context, companyID string) (domain.Company, error) {
	return lookup(ctx, r.s, "catalog.company", companyID, func(data *state) map[string]domain.Company { return data.companies })
}

func (r catalogRepository) FindIndustry(ctx context.Context, industryID string) (domain.Industry, error) {
	return lookup(ctx, r.s, "catalog.industry", industryID, func(data *state) map[string]domain.Industry { return data.industries })
}

func (r catalogRepository) FindLocation(ctx context.Context, locationID string) (domain.Location, error) {
	return lookup(ctx, r.s, "catalog.location", locationID, func(data *state) map[string]domain.Location { return data.locations })
}

func (r catalogRepository) FindResume(ctx context.Context, resumeID string) (domain.Resume, error) {
	return lookup(ctx, r.s, "catalog.resume", resumeID, func(data *state) map[string]domain.Resume { return data.resumes })
}

func lookup[T any](ctx context.Context, s *Store, op, id string, table func(*state) map[string]T) (T, error) {
	var out T
	err := s.read(ctx, func(data *state) error {
		value, ok := table(data)[id]
		if !ok {
			return notFound(op, "%s not found", id)
		}
		out = value
		return nil
	})
	return out, err
}

type planRepository struct{ s *Store }

func (r planRepository) FindByID(ctx context.Context, planID string) (domain.SubscriptionPlan, error) {
	return lookup(ctx, r.s, "plans.find", planID, func(data *state) map[string]domain.SubscriptionPlan { return data.plans })
}

func (r planRepository) ListActive(ctx context.Context) ([]domain.SubscriptionPlan, error) {
	var plans []domain.SubscriptionPlan
	err := r.s.read(ctx, func(data *state) error {
		for _, plan := range data.plans {
			if plan.Active {
				plans = append(plans, plan)
			}
		}
		return nil
	})
	slices.SortFunc(plans, func(a, b domain.SubscriptionPlan) int {
		if c := cmp.Compare(a.PricePerDay, b.PricePerDay); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return plans, err
}

func (r planRepository) Upsert(ctx context.Context, plan domain.SubscriptionPlan) error {
	return r.s.write(ctx, func(data *state) error {
		if existing, ok := data.plans[plan.ID]; ok && !existing.CreatedAt.IsZero() {
			plan.CreatedAt = existing.CreatedAt
		}
		data.plans[plan.ID] = plan
		return nil
	})
}
