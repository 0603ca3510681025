package services

import (
	"context"
	"errors"
	"maps"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	domain "github.com/maherkar/api/internal/domain"
	"github.com/maherkar/api/internal/repositories"
)

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
	// StaticChecks report configuration state that needs no I/O, merged into every report.
	StaticChecks map[string]func() domain.SystemHealthCheck
	// CacheTTL reuses a collected report for readiness probes arriving within the window.
	CacheTTL time.Duration
}

type systemService struct {
	healthRepo repositories.HealthRepository
	clock      func() time.Time
	build      BuildInfo
	static     map[string]func() domain.SystemHealthCheck
	ttl        time.Duration

	group    singleflight.Group
	mu       sync.Mutex
	cached   domain.SystemHealthReport
	cachedAt time.Time
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the service behind /healthz and /readyz.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	if deps.CacheTTL < 0 {
		return nil, errors.New("system service: cache ttl must not be negative")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}

	return &systemService{
		healthRepo: deps.HealthRepository,
		clock:      func() time.Time { return clock().UTC() },
		build:      build,
		static:     maps.Clone(deps.StaticChecks),
		ttl:        deps.CacheTTL,
	}, nil
}

func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	if ctx == nil {
		return SystemHealthReport{}, errors.New("system service: context is required")
	}

	now := s.clock()
	dependencies, err := s.collect(ctx, now)
	if err != nil {
		return SystemHealthReport{}, err
	}

	report := SystemHealthReport{
		Status:      dependencies.Status,
		Checks:      make(map[string]domain.SystemHealthCheck, len(dependencies.Checks)+len(s.static)),
		Version:     firstNonBlank(dependencies.Version, s.build.Version),
		CommitSHA:   firstNonBlank(dependencies.CommitSHA, s.build.CommitSHA),
		Environment: firstNonBlank(dependencies.Environment, s.build.Environment),
		Uptime:      now.Sub(s.build.StartedAt),
		GeneratedAt: now,
	}
	if !dependencies.GeneratedAt.IsZero() {
		report.GeneratedAt = dependencies.GeneratedAt.UTC()
	}
	maps.Copy(report.Checks, dependencies.Checks)

	for name, check := range s.static {
		if check == nil {
			continue
		}
		result := check()
		if result.CheckedAt.IsZero() {
			result.CheckedAt = now
		}
		report.Checks[name] = result
		report.Status = ""
	}

	if strings.TrimSpace(report.Status) == "" {
		report.Status = aggregateHealth(report.Checks)
	}
	return report, nil
}

// collect returns the repository report, sharing one in-flight collection between concurrent
// probes and reusing it until the cache window lapses. Failed collections are never cached.
func (s *systemService) collect(ctx context.Context, now time.Time) (domain.SystemHealthReport, error) {
	if s.ttl > 0 {
		s.mu.Lock()
		if !s.cachedAt.IsZero() && now.Sub(s.cachedAt) < s.ttl {
			report := s.cached
			s.mu.Unlock()
			return report, nil
		}
		s.mu.Unlock()
	}

	value, err, _ := s.group.Do("collect", func() (any, error) {
		report, err := s.healthRepo.Collect(ctx)
		if err != nil {
			return domain.SystemHealthReport{}, err
		}
		if s.ttl > 0 {
			s.mu.Lock()
			s.cached, s.cachedAt = report, now
			s.mu.Unlock()
		}
		return report, nil
	})
	if err != nil {
		return domain.SystemHealthReport{}, err
	}
	return value.(domain.SystemHealthReport), nil
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// aggregateHealth folds check states: any error wins, then any non-ok state degrades.
func aggregateHealth(checks map[string]domain.SystemHealthCheck) string {
	status := domain.HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case domain.HealthStatusOK, "":
		case domain.HealthStatusError:
			return domain.HealthStatusError
		default:
			status = domain.HealthStatusDegraded
		}
	}
	return status
}
