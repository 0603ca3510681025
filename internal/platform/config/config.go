package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultShutdownTimeout      = 15 * time.Second
	defaultDatabaseDriver       = DatabaseDriverPostgres
	defaultDatabaseMaxOpen      = 20
	defaultDatabaseMaxIdle      = 10
	defaultDatabaseLifetime     = 30 * time.Minute
	defaultDatabaseSlowQuery    = 200 * time.Millisecond
	defaultDatabaseLogLevel     = "warn"
	defaultGatewayTimeout       = 10 * time.Second
	defaultGatewayConversion    = 10
	defaultEventsTopic          = "order-events"
	defaultRateLimitDefault     = 120
	defaultRateLimitPayments    = 6
	defaultRateLimitPayBurst    = 3
	defaultSecurityEnvironment  = "local"
	defaultOIDCJWKSURL          = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer       = "https://accounts.google.com"
	defaultSecurityIAPIssuer    = "https://cloud.google.com/iap"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyBackend   = IdempotencyBackendFirestore
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// Supported order store drivers.
const (
	DatabaseDriverPostgres = "postgres"
	DatabaseDriverMemory   = "memory"
)

// Supported idempotency key stores.
const (
	IdempotencyBackendFirestore = "firestore"
	IdempotencyBackendMemory    = "memory"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Database    DatabaseConfig
	Gateway     GatewayConfig
	Events      EventsConfig
	RateLimits  RateLimitConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig locates the Firestore database holding idempotency keys.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// DatabaseConfig configures the relational order store.
type DatabaseConfig struct {
	// Driver is "postgres" or "memory"; memory keeps everything in process and is meant for local runs.
	Driver             string
	DSN                string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetime    time.Duration
	SlowQueryThreshold time.Duration
	LogLevel           string
	AutoMigrate        bool
}

// GatewayConfig configures the Zarinpal payment gateway.
type GatewayConfig struct {
	Sandbox    bool
	MerchantID string
	// CallbackURL receives the payer after checkout; the order id is appended as a query value.
	CallbackURL      string
	ConversionFactor int64
	Timeout          time.Duration
	BaseURL          string
}

// EventsConfig controls order event publication. An empty topic disables publishing.
type EventsConfig struct {
	ProjectID string
	Topic     string
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	DefaultPerMinute           int
	PaymentInitiationPerMinute int
	PaymentInitiationBurst     int
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Backend          string
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}
	lookup := func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnvValues[key]
		return value, ok
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:     durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Database: DatabaseConfig{
			Driver:             strings.ToLower(stringWithDefault(lookup, "API_DATABASE_DRIVER", defaultDatabaseDriver)),
			DSN:                stringWithDefault(lookup, "API_DATABASE_DSN", ""),
			MaxOpenConns:       intWithDefault(lookup, "API_DATABASE_MAX_OPEN_CONNS", defaultDatabaseMaxOpen),
			MaxIdleConns:       intWithDefault(lookup, "API_DATABASE_MAX_IDLE_CONNS", defaultDatabaseMaxIdle),
			ConnMaxLifetime:    durationWithDefault(lookup, "API_DATABASE_CONN_MAX_LIFETIME", defaultDatabaseLifetime),
			SlowQueryThreshold: durationWithDefault(lookup, "API_DATABASE_SLOW_QUERY", defaultDatabaseSlowQuery),
			LogLevel:           stringWithDefault(lookup, "API_DATABASE_LOG_LEVEL", defaultDatabaseLogLevel),
			AutoMigrate:        boolWithDefault(lookup, "API_DATABASE_AUTO_MIGRATE", false),
		},
		Gateway: GatewayConfig{
			Sandbox:          boolWithDefault(lookup, "API_ZARINPAL_SANDBOX", true),
			MerchantID:       stringWithDefault(lookup, "API_ZARINPAL_MERCHANT_ID", ""),
			CallbackURL:      stringWithDefault(lookup, "API_ZARINPAL_CALLBACK_URL", ""),
			ConversionFactor: int64(intWithDefault(lookup, "API_ZARINPAL_CONVERSION_FACTOR", defaultGatewayConversion)),
			Timeout:          durationWithDefault(lookup, "API_ZARINPAL_TIMEOUT", defaultGatewayTimeout),
			BaseURL:          stringWithDefault(lookup, "API_ZARINPAL_BASE_URL", ""),
		},
		Events: EventsConfig{
			ProjectID: stringWithDefault(lookup, "API_EVENTS_PROJECT_ID", ""),
			Topic:     stringWithDefault(lookup, "API_EVENTS_TOPIC", defaultEventsTopic),
		},
		RateLimits: RateLimitConfig{
			DefaultPerMinute:           intWithDefault(lookup, "API_RATELIMIT_DEFAULT_PER_MIN", defaultRateLimitDefault),
			PaymentInitiationPerMinute: intWithDefault(lookup, "API_RATELIMIT_PAYMENTS_PER_MIN", defaultRateLimitPayments),
			PaymentInitiationBurst:     intWithDefault(lookup, "API_RATELIMIT_PAYMENTS_BURST", defaultRateLimitPayBurst),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:   stringWithDefault(lookup, "API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:  stringWithDefault(lookup, "API_SECURITY_OIDC_AUDIENCE", ""),
				Audiences: mapWithDefault(lookup, "API_SECURITY_OIDC_AUDIENCES"),
				Issuers:   csvWithDefault(lookup, "API_SECURITY_OIDC_ISSUERS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Backend:          strings.ToLower(stringWithDefault(lookup, "API_IDEMPOTENCY_BACKEND", defaultIdempotencyBackend)),
			Header:           stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Events.ProjectID == "" {
		cfg.Events.ProjectID = cfg.Firebase.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer, defaultSecurityIAPIssuer}
	}
	if cfg.Security.OIDC.Audience == "" {
		cfg.Security.OIDC.Audience = cfg.Security.OIDC.Audiences[cfg.Security.Environment]
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Gateway.MerchantID", &cfg.Gateway.MerchantID},
		{"Database.DSN", &cfg.Database.DSN},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	var invalid []string
	add := func(field string) { invalid = append(invalid, field) }

	if cfg.Server.Port == "" {
		add("Server.Port")
	}
	if cfg.Firebase.ProjectID == "" {
		add("Firebase.ProjectID")
	}

	switch cfg.Database.Driver {
	case DatabaseDriverPostgres:
		if strings.TrimSpace(cfg.Database.DSN) == "" {
			add("Database.DSN")
		}
	case DatabaseDriverMemory:
	default:
		add("Database.Driver")
	}

	if strings.TrimSpace(cfg.Gateway.MerchantID) == "" {
		add("Gateway.MerchantID")
	}
	if u, err := url.Parse(strings.TrimSpace(cfg.Gateway.CallbackURL)); err != nil || u.Scheme == "" || u.Host == "" {
		add("Gateway.CallbackURL")
	}
	if cfg.Gateway.ConversionFactor <= 0 {
		add("Gateway.ConversionFactor")
	}
	if cfg.Gateway.Timeout <= 0 {
		add("Gateway.Timeout")
	}

	if cfg.RateLimits.PaymentInitiationPerMinute < 0 {
		add("RateLimits.PaymentInitiationPerMinute")
	}

	switch cfg.Idempotency.Backend {
	case IdempotencyBackendFirestore:
		if cfg.Firestore.ProjectID == "" {
			add("Firestore.ProjectID")
		}
	case IdempotencyBackendMemory:
	default:
		add("Idempotency.Backend")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		add("Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		add("Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		add("Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		add("Idempotency.CleanupBatchSize")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}
