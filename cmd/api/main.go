package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"

	"github.com/maherkar/api/internal/di"
	domain "github.com/maherkar/api/internal/domain"
	"github.com/maherkar/api/internal/handlers"
	"github.com/maherkar/api/internal/payments"
	"github.com/maherkar/api/internal/platform/auth"
	"github.com/maherkar/api/internal/platform/config"
	pfirestore "github.com/maherkar/api/internal/platform/firestore"
	"github.com/maherkar/api/internal/platform/idempotency"
	"github.com/maherkar/api/internal/platform/jobs"
	"github.com/maherkar/api/internal/platform/observability"
	"github.com/maherkar/api/internal/platform/secrets"
	"github.com/maherkar/api/internal/repositories"
	"github.com/maherkar/api/internal/repositories/memory"
	"github.com/maherkar/api/internal/repositories/postgres"
	"github.com/maherkar/api/internal/services"
)

const meterName = "github.com/maherkar/api"

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	var firestoreProvider *pfirestore.Provider
	if cfg.Idempotency.Backend == config.IdempotencyBackendFirestore {
		firestoreProvider = pfirestore.NewProvider(cfg.Firestore)
		logger.Info("idempotency keys stored in firestore", zap.Stringer("target", firestoreProvider.Target()))
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := firestoreProvider.Close(closeCtx); err != nil {
				logger.Warn("firestore close error", zap.Error(err))
			}
		}()
	}

	registry, err := newRegistry(ctx, cfg, logger, fetcher, firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise order store", zap.Error(err))
	}

	gateway, err := payments.NewZarinpalGateway(payments.ZarinpalConfig{
		Sandbox:          cfg.Gateway.Sandbox,
		MerchantID:       cfg.Gateway.MerchantID,
		CallbackURL:      cfg.Gateway.CallbackURL,
		ConversionFactor: cfg.Gateway.ConversionFactor,
		Timeout:          cfg.Gateway.Timeout,
		BaseURL:          cfg.Gateway.BaseURL,
		Logger:           payments.GatewayLogger(observability.EventLogger(logger.Named("payments"))),
		Meter:            otel.Meter(meterName),
	})
	if err != nil {
		logger.Fatal("failed to initialise payment gateway", zap.Error(err))
	}

	events, closeEvents, err := newEventPublisher(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise order event publisher", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, registry,
		di.WithGateway(gateway),
		di.WithEventPublisher(events),
		di.WithLogger(logger.Named("orders")),
		di.WithBuildInfo(buildInfo),
		di.WithStaticCheck("gateway", gatewayConfigCheck(cfg)),
		di.WithCloser(closeEvents),
	)
	if err != nil {
		logger.Fatal("failed to assemble services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	idempotencyStore, err := newIdempotencyStore(ctx, cfg, firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	janitorDone := make(chan struct{})
	go func() {
		defer close(janitorDone)
		idempotency.NewJanitor(idempotencyStore, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency")).Run(janitorCtx)
	}()

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, auth.FirebaseVerifierConfig{
		Timeout:      5 * time.Second,
		CheckRevoked: cfg.Security.Environment == "production",
	})
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)
	oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg)

	svc := container.Services
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders,
		handlers.WithOrderMiddlewares(idempotencyMiddleware),
		handlers.WithPaymentRateLimit(cfg.RateLimits.PaymentInitiationPerMinute, cfg.RateLimits.PaymentInitiationBurst, time.Now),
	)
	paymentHandlers := handlers.NewPaymentHandlers(svc.Orders)
	planHandlers := handlers.NewPlanHandlers(svc.Plans)
	adminHandlers := handlers.NewAdminHandlers(authenticator, svc.Orders, svc.Plans,
		handlers.WithAdminMiddlewares(idempotencyMiddleware),
	)
	internalHandlers := handlers.NewInternalHandlers(svc.Orders)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
		handlers.RateLimitMiddleware(cfg.RateLimits.DefaultPerMinute, time.Now),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithPlanRoutes(planHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithPaymentRoutes(paymentHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
	}
	if oidcMiddleware != nil {
		opts = append(opts,
			handlers.WithInternalMiddlewares(oidcMiddleware),
			handlers.WithInternalRoutes(internalHandlers.Routes),
		)
	} else {
		logger.Warn("auth: OIDC not configured; internal routes disabled")
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("order api listening",
			zap.String("version", buildInfo.Version),
			zap.String("environment", buildInfo.Environment),
			zap.Bool("gatewaySandbox", cfg.Gateway.Sandbox),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	stopJanitor()
	<-janitorDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

// newRegistry opens the configured order store and attaches dependency checks for readiness.
func newRegistry(ctx context.Context, cfg config.Config, logger *zap.Logger, fetcher *secrets.Fetcher, firestoreProvider *pfirestore.Provider) (repositories.Registry, error) {
	var db *gorm.DB
	if cfg.Database.Driver == config.DatabaseDriverPostgres {
		opened, err := postgres.Open(ctx, cfg.Database, logger.Named("db"))
		if err != nil {
			return nil, err
		}
		if cfg.Database.AutoMigrate {
			if err := postgres.Migrate(ctx, opened); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		db = opened
	}

	health, err := newHealthRepository(db, fetcher, firestoreProvider)
	if err != nil {
		return nil, err
	}

	if db == nil {
		logger.Warn("order store: using in-memory driver; data is lost on restart")
		return memory.NewStore(health), nil
	}
	registry, err := postgres.NewRegistry(db, health)
	if err != nil {
		return nil, err
	}
	return registry, nil
}

func newHealthRepository(db *gorm.DB, fetcher *secrets.Fetcher, firestoreProvider *pfirestore.Provider) (repositories.HealthRepository, error) {
	checks := make([]repositories.DependencyCheck, 0, 3)
	if db != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "postgres",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				return postgres.Ping(ctx, db)
			},
		})
	}
	if firestoreProvider != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:     "firestore",
			Timeout:  1500 * time.Millisecond,
			Optional: true,
			Check: func(ctx context.Context) error {
				return firestoreProvider.Ping(ctx, "idempotency_keys")
			},
		})
	}
	if fetcher != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
			Name:     "secretManager",
			Timeout:  time.Second,
			Optional: true,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	if len(checks) == 0 {
		checks = append(checks, repositories.DependencyCheck{
			Name:  "memory",
			Check: func(context.Context) error { return nil },
		})
	}
	return repositories.NewDependencyHealthRepository(checks)
}

func gatewayConfigCheck(cfg config.Config) func() domain.SystemHealthCheck {
	return func() domain.SystemHealthCheck {
		check := domain.SystemHealthCheck{Status: domain.HealthStatusOK, Detail: "production"}
		if cfg.Gateway.Sandbox {
			check.Detail = "sandbox"
		}
		if strings.TrimSpace(cfg.Gateway.MerchantID) == "" || strings.TrimSpace(cfg.Gateway.CallbackURL) == "" {
			check.Status = domain.HealthStatusError
			check.Error = "merchant id and callback url are required"
		}
		return check
	}
}

func newEventPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (services.OrderEventPublisher, func(context.Context) error, error) {
	topicName := strings.TrimSpace(cfg.Events.Topic)
	projectID := strings.TrimSpace(cfg.Events.ProjectID)
	if projectID == "" {
		projectID = traceProjectID(cfg)
	}
	if topicName == "" || projectID == "" {
		logger.Info("order events: pubsub not configured; logging events instead")
		return jobs.NewLogOrderEventPublisher(logger.Named("events")), nil, nil
	}

	var clientOpts []option.ClientOption
	if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(file))
	}
	client, err := pubsub.NewClient(ctx, projectID, clientOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	publisher, err := jobs.NewPubSubOrderEventPublisher(client.Topic(topicName))
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	closer := func(context.Context) error {
		publisher.Stop()
		return client.Close()
	}
	return publisher, closer, nil
}

func newIdempotencyStore(ctx context.Context, cfg config.Config, provider *pfirestore.Provider) (idempotency.Store, error) {
	if cfg.Idempotency.Backend != config.IdempotencyBackendFirestore || provider == nil {
		return idempotency.NewMemoryStore(), nil
	}
	client, err := provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return idempotency.NewFirestoreStore(client), nil
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(logger))
	validator := auth.NewOIDCValidator(cache, auth.WithOIDCLogger(logger))

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	issuers := cfg.Security.OIDC.Issuers
	if len(issuers) == 0 {
		logger.Warn("auth: OIDC issuers not configured; internal routes will reject requests")
	}

	return validator.RequireOIDC(audience, issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE")

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
		secrets.WithMeter(otel.Meter(meterName)),
	}
	if projectMap := parseKeyValueList(lookup("API_SECRET_PROJECT_IDS")); len(projectMap) > 0 {
		lowered := make(map[string]string, len(projectMap))
		for label, project := range projectMap {
			lowered[strings.ToLower(label)] = project
		}
		opts = append(opts, secrets.WithProjectMap(lowered))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists config fields that must resolve from secret references. The database
// DSN only counts when the postgres driver is selected.
func requiredSecretNames(env map[string]string) []string {
	required := []string{"Gateway.MerchantID"}
	driver := strings.ToLower(strings.TrimSpace(env["API_DATABASE_DRIVER"]))
	if driver == "" || driver == config.DatabaseDriverPostgres {
		required = append(required, "Database.DSN")
	}
	sort.Strings(required)
	return required
}

func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return result
	}
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}
