package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/maherkar/api/internal/repositories"
	"github.com/maherkar/api/internal/repositories/postgres"
	"github.com/maherkar/api/internal/services"
)

type planSeedOptions struct {
	id          string
	name        string
	description string
	pricePerDay int64
	free        bool
	inactive    bool
}

func plansCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plans",
		Short: "Manage subscription plans",
	}
	cmd.AddCommand(plansSeedCmd(opts))
	return cmd
}

func plansSeedCmd(opts *rootOptions) *cobra.Command {
	seed := &planSeedOptions{}
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create or update a subscription plan",
		Long: `Create or update a subscription plan by id.

Examples:
  orderctl plans seed --id plan_gold --name Gold --price-per-day 25000
  orderctl plans seed --id plan_trial --name Trial --free`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, closeDB, err := openDatabase(ctx, opts)
			if err != nil {
				return err
			}
			defer closeDB()

			registry, err := postgres.NewRegistry(db, nil)
			if err != nil {
				return err
			}
			return seedPlan(ctx, registry.Plans(), *seed, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&seed.id, "id", "", "plan identifier")
	cmd.Flags().StringVar(&seed.name, "name", "", "display name")
	cmd.Flags().StringVar(&seed.description, "description", "", "plan description")
	cmd.Flags().Int64Var(&seed.pricePerDay, "price-per-day", 0, "daily price in toman")
	cmd.Flags().BoolVar(&seed.free, "free", false, "mark the plan as free")
	cmd.Flags().BoolVar(&seed.inactive, "inactive", false, "hide the plan from new orders")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func seedPlan(ctx context.Context, plans repositories.PlanRepository, seed planSeedOptions, out io.Writer) error {
	svc, err := services.NewPlanService(services.PlanServiceDeps{Plans: plans})
	if err != nil {
		return err
	}
	plan, err := svc.UpsertPlan(ctx, services.UpsertPlanCommand{
		ID:          seed.id,
		Name:        seed.name,
		Description: seed.description,
		PricePerDay: seed.pricePerDay,
		Active:      !seed.inactive,
		Free:        seed.free,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "plan %s saved (price_per_day=%d free=%t active=%t)\n", plan.ID, plan.PricePerDay, plan.Free, plan.Active)
	return nil
}
