package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/maherkar/api/internal/platform/textutil"
	"github.com/maherkar/api/internal/repositories"
)

var (
	// ErrPlanInvalidInput signals an invalid plan definition.
	ErrPlanInvalidInput = errors.New("plan: invalid input")
	// ErrPlanUnavailable wraps storage failures while reading or writing plans.
	ErrPlanUnavailable = errors.New("plan: repository unavailable")
)

// PlanServiceDeps bundles collaborators required by the plan service.
type PlanServiceDeps struct {
	Plans repositories.PlanRepository
	Clock func() time.Time
}

type planService struct {
	plans repositories.PlanRepository
	clock func() time.Time
}

// NewPlanService constructs the plan catalogue service.
func NewPlanService(deps PlanServiceDeps) (PlanService, error) {
	if deps.Plans == nil {
		return nil, errors.New("plan service: plan repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &planService{
		plans: deps.Plans,
		clock: func() time.Time { return clock().UTC() },
	}, nil
}

func (s *planService) ListPlans(ctx context.Context) ([]SubscriptionPlan, error) {
	plans, err := s.plans.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlanUnavailable, err)
	}
	return plans, nil
}

func (s *planService) UpsertPlan(ctx context.Context, cmd UpsertPlanCommand) (SubscriptionPlan, error) {
	plan := SubscriptionPlan{
		ID:          strings.TrimSpace(cmd.ID),
		Name:        textutil.SingleLine(cmd.Name),
		Description: textutil.PlainText(cmd.Description),
		PricePerDay: cmd.PricePerDay,
		Active:      cmd.Active,
		Free:        cmd.Free,
	}
	switch {
	case plan.ID == "":
		return SubscriptionPlan{}, fmt.Errorf("%w: id is required", ErrPlanInvalidInput)
	case plan.Name == "":
		return SubscriptionPlan{}, fmt.Errorf("%w: name is required", ErrPlanInvalidInput)
	case plan.PricePerDay < 0:
		return SubscriptionPlan{}, fmt.Errorf("%w: price per day must not be negative", ErrPlanInvalidInput)
	case plan.Free && plan.PricePerDay != 0:
		return SubscriptionPlan{}, fmt.Errorf("%w: free plans cannot carry a price", ErrPlanInvalidInput)
	}

	now := s.clock()
	plan.CreatedAt = now
	plan.UpdatedAt = now
	existing, err := s.plans.FindByID(ctx, plan.ID)
	switch {
	case err == nil:
		plan.CreatedAt = existing.CreatedAt
	case !isRepoNotFound(err):
		return SubscriptionPlan{}, fmt.Errorf("%w: %v", ErrPlanUnavailable, err)
	}

	if err := s.plans.Upsert(ctx, plan); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			return SubscriptionPlan{}, fmt.Errorf("%w: plan name %q already used", ErrPlanInvalidInput, plan.Name)
		}
		return SubscriptionPlan{}, fmt.Errorf("%w: %v", ErrPlanUnavailable, err)
	}
	return plan, nil
}
