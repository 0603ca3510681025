package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/maherkar/api/internal/repositories/postgres"
)

func migrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the order store tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, closeDB, err := openDatabase(ctx, opts)
			if err != nil {
				return err
			}
			defer closeDB()

			if err := postgres.Migrate(ctx, db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migration complete")
			return nil
		},
	}
}
