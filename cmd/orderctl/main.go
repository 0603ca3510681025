package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/maherkar/api/internal/platform/config"
	"github.com/maherkar/api/internal/platform/observability"
	"github.com/maherkar/api/internal/platform/secrets"
	"github.com/maherkar/api/internal/repositories/postgres"
)

var Version = "dev"

type rootOptions struct {
	dsn     string
	envFile string
	verbose bool
}

func main() {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "orderctl",
		Short:         "Operate the subscription order store",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.dsn, "dsn", "", "postgres DSN or secret:// reference (defaults to API_DATABASE_DSN)")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file read before the process environment")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log SQL statements")

	rootCmd.AddCommand(migrateCmd(opts))
	rootCmd.AddCommand(plansCmd(opts))
	rootCmd.AddCommand(reconciliationCmd(opts))

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openDatabase resolves the DSN from flags or environment and connects to Postgres.
// The returned close func releases the pool.
func openDatabase(ctx context.Context, opts *rootOptions) (*gorm.DB, func(), error) {
	logger := zap.NewNop()
	if opts.verbose {
		built, err := observability.NewLogger()
		if err != nil {
			return nil, nil, fmt.Errorf("logger: %w", err)
		}
		logger = built
	}

	env, err := config.EnvironmentValues(config.WithEnvFile(opts.envFile))
	if err != nil {
		return nil, nil, fmt.Errorf("read environment: %w", err)
	}

	dbCfg := config.DatabaseConfig{
		DSN:      strings.TrimSpace(opts.dsn),
		LogLevel: "warn",
	}
	if dbCfg.DSN == "" {
		dbCfg.DSN = strings.TrimSpace(env["API_DATABASE_DSN"])
	}
	if opts.verbose {
		dbCfg.LogLevel = "info"
	}
	if dbCfg.DSN == "" {
		return nil, nil, fmt.Errorf("a DSN is required: pass --dsn or set API_DATABASE_DSN")
	}

	if strings.HasPrefix(dbCfg.DSN, "secret://") || strings.HasPrefix(dbCfg.DSN, "sm://") {
		fetcherOpts := []secrets.Option{secrets.WithLogger(logger.Named("secrets"))}
		if label := strings.TrimSpace(env["API_SECURITY_ENVIRONMENT"]); label != "" {
			fetcherOpts = append(fetcherOpts, secrets.WithEnvironment(strings.ToLower(label)))
		}
		if project := strings.TrimSpace(env["API_SECRET_DEFAULT_PROJECT_ID"]); project != "" {
			fetcherOpts = append(fetcherOpts, secrets.WithDefaultProject(project))
		}
		fetcher, err := secrets.NewFetcher(ctx, fetcherOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("secret fetcher: %w", err)
		}
		dsn, err := fetcher.Resolve(ctx, dbCfg.DSN)
		_ = fetcher.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("resolve dsn: %w", err)
		}
		dbCfg.DSN = dsn
	}

	db, err := postgres.Open(ctx, dbCfg, logger)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		_ = logger.Sync()
	}
	return db, closeFn, nil
}
