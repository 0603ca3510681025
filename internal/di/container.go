package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	domain "github.com/maherkar/api/internal/domain"
	"github.com/maherkar/api/internal/payments"
	"github.com/maherkar/api/internal/platform/config"
	"github.com/maherkar/api/internal/platform/observability"
	"github.com/maherkar/api/internal/repositories"
	"github.com/maherkar/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders      services.OrderService
	Plans       services.PlanService
	Provisioner services.ProvisioningEngine
	System      services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services

	closers []func(context.Context) error
}

// healthReportTTL bounds how often readiness probes reach postgres and firestore.
const healthReportTTL = 2 * time.Second

// Option customises container assembly.
type Option func(*options)

type options struct {
	gateway      payments.Gateway
	events       services.OrderEventPublisher
	logger       *zap.Logger
	clock        func() time.Time
	idGenerator  func() string
	build        services.BuildInfo
	staticChecks map[string]func() domain.SystemHealthCheck
	closers      []func(context.Context) error
}

// WithGateway supplies the payment gateway used by the order service.
func WithGateway(gateway payments.Gateway) Option {
	return func(o *options) {
		o.gateway = gateway
	}
}

// WithEventPublisher supplies the sink for order lifecycle events.
func WithEventPublisher(events services.OrderEventPublisher) Option {
	return func(o *options) {
		o.events = events
	}
}

// WithLogger sets the base logger services derive their event loggers from.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the time source shared by every service.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithIDGenerator overrides identifier generation for orders and provisioned records.
func WithIDGenerator(gen func() string) Option {
	return func(o *options) {
		if gen != nil {
			o.idGenerator = gen
		}
	}
}

// WithBuildInfo records build metadata surfaced by health endpoints.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *options) {
		o.build = build
	}
}

// WithStaticCheck registers a configuration check merged into every health report.
func WithStaticCheck(name string, check func() domain.SystemHealthCheck) Option {
	return func(o *options) {
		if name == "" || check == nil {
			return
		}
		if o.staticChecks == nil {
			o.staticChecks = make(map[string]func() domain.SystemHealthCheck)
		}
		o.staticChecks[name] = check
	}
}

// WithCloser registers a hook run on Close after the repositories are released.
func WithCloser(fn func(context.Context) error) Option {
	return func(o *options) {
		if fn != nil {
			o.closers = append(o.closers, fn)
		}
	}
}

// NewContainer constructs the runtime dependencies. Production wiring provides the postgres
// registry, while tests and local runs can supply the in-memory one.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	o := options{
		logger: zap.NewNop(),
		clock:  time.Now,
		idGenerator: func() string {
			return ulid.Make().String()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.build.Environment == "" {
		o.build.Environment = cfg.Security.Environment
	}
	if o.build.StartedAt.IsZero() {
		o.build.StartedAt = o.clock().UTC()
	}

	svc, err := buildServices(ctx, reg, o)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
		closers:      o.closers,
	}, nil
}

// Close releases resources such as repository clients and event publishers.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close repositories: %w", err))
		}
	}
	for _, fn := range c.closers {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildServices(_ context.Context, reg repositories.Registry, o options) (Services, error) {
	var svc Services
	eventLogger := observability.EventLogger(o.logger)

	if plansRepo := reg.Plans(); plansRepo != nil {
		planSvc, err := services.NewPlanService(services.PlanServiceDeps{
			Plans: plansRepo,
			Clock: o.clock,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build plan service: %w", err)
		}
		svc.Plans = planSvc
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            o.clock,
			Build:            o.build,
			StaticChecks:     o.staticChecks,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	adsRepo := reg.Advertisements()
	if adsRepo != nil && reg.Catalog() != nil {
		provisioner, err := services.NewProvisioningEngine(services.ProvisioningEngineDeps{
			Advertisements: adsRepo,
			Catalog:        reg.Catalog(),
			Clock:          o.clock,
			IDGenerator:    o.idGenerator,
			Logger:         eventLogger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build provisioning engine: %w", err)
		}
		svc.Provisioner = provisioner
	}

	if ordersRepo := reg.Orders(); ordersRepo != nil && o.gateway != nil && svc.Provisioner != nil {
		orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
			Orders:         ordersRepo,
			Plans:          reg.Plans(),
			Advertisements: adsRepo,
			UnitOfWork:     reg,
			Gateway:        o.gateway,
			Provisioner:    svc.Provisioner,
			Clock:          o.clock,
			IDGenerator:    o.idGenerator,
			Events:         o.events,
			Logger:         eventLogger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build order service: %w", err)
		}
		svc.Orders = orderSvc
	}

	return svc, nil
}
