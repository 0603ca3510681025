package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	domain "github.com/maherkar/api/internal/domain"
	"github.com/maherkar/api/internal/repositories"
	"github.com/maherkar/api/internal/repositories/postgres"
)

type reconciliationOptions struct {
	pageSize  int
	pageToken string
	json      bool
}

func reconciliationCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconciliation",
		Short: "Inspect paid orders whose provisioning failed",
	}
	list := &reconciliationOptions{}
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List orders that need manual reconciliation",
		Args:  cobra.NoArgs,
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
			return listReconciliation(ctx, registry.Orders(), *list, cmd.OutOrStdout())
		},
	}
	listCmd.Flags().IntVarP(&list.pageSize, "limit", "n", 50, "maximum orders to print")
	listCmd.Flags().StringVar(&list.pageToken, "page-token", "", "continue from a previous listing")
	listCmd.Flags().BoolVarP(&list.json, "json", "j", false, "print JSON instead of a table")
	cmd.AddCommand(listCmd)
	return cmd
}

func listReconciliation(ctx context.Context, orders repositories.OrderRepository, opts reconciliationOptions, out io.Writer) error {
	page, err := orders.List(ctx, repositories.OrderListFilter{
		Statuses:       []domain.PaymentStatus{domain.PaymentStatusFailed},
		FailureReasons: slices.Clone(domain.ProvisioningFailureReasons),
		Pagination:     domain.Pagination{PageSize: opts.pageSize, PageToken: opts.pageToken},
	})
	if err != nil {
		return fmt.Errorf("list orders: %w", err)
	}

	if opts.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(page)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDER\tOWNER\tREASON\tREF\tDETAIL")
	for _, order := range page.Items {
		ref := ""
		if order.Payment != nil {
			ref = order.Payment.RefID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", order.ID, order.OwnerID, order.FailureReason, ref, order.FailureDetail)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if page.NextPageToken != "" {
		fmt.Fprintf(out, "\nnext page: --page-token %s\n", page.NextPageToken)
	}
	return nil
}
