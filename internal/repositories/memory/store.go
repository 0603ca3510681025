// Package memory provides an in-process repositories.Registry used by tests and local development.
package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	domain "github.com/maherkar/api/internal/domain"
	"github.com/maherkar/api/internal/repositories"
)

// Error implements repositories.RepositoryError.
type Error struct {
	op       string
	err      error
	notFound bool
	conflict bool
}

func (e *Error) Error() string       { return fmt.Sprintf("%s: %v", e.op, e.err) }
func (e *Error) Unwrap() error       { return e.err }
func (e *Error) IsNotFound() bool    { return e != nil && e.notFound }
func (e *Error) IsConflict() bool    { return e != nil && e.conflict }
func (e *Error) IsUnavailable() bool { return false }

func notFound(op, format string, args ...any) error {
	return &Error{op: op, err: fmt.Errorf(format, args...), notFound: true}
}

func conflict(op, format string, args ...any) error {
	return &Error{op: op, err: fmt.Errorf(format, args...), conflict: true}
}

type txKey struct{}

type state struct {
	orders         map[string]domain.SubscriptionOrder
	plans          map[string]domain.SubscriptionPlan
	subscriptions  map[string]domain.AdvertisementSubscription
	advertisements map[string]domain.Advertisement
	jobs           map[string]domain.JobAdvertisement
	resumeAds      map[string]domain.ResumeAdvertisement
	companies      map[string]domain.Company
	industries     map[string]domain.Industry
	locations      map[string]domain.Location
	resumes        map[string]domain.Resume
}

func newState() state {
	return state{
		orders:         map[string]domain.SubscriptionOrder{},
		plans:          map[string]domain.SubscriptionPlan{},
		subscriptions:  map[string]domain.AdvertisementSubscription{},
		advertisements: map[string]domain.Advertisement{},
		jobs:           map[string]domain.JobAdvertisement{},
		resumeAds:      map[string]domain.ResumeAdvertisement{},
		companies:      map[string]domain.Company{},
		industries:     map[string]domain.Industry{},
		locations:      map[string]domain.Location{},
		resumes:        map[string]domain.Resume{},
	}
}

func (s state) clone() state {
	return state{
		orders:         maps.Clone(s.orders),
		plans:          maps.Clone(s.plans),
		subscriptions:  maps.Clone(s.subscriptions),
		advertisements: maps.Clone(s.advertisements),
		jobs:           maps.Clone(s.jobs),
		resumeAds:      maps.Clone(s.resumeAds),
		companies:      maps.Clone(s.companies),
		industries:     maps.Clone(s.industries),
		locations:      maps.Clone(s.locations),
		resumes:        maps.Clone(s.resumes),
	}
}

// Store keeps every aggregate in memory. Writes outside RunInTx and whole transactions are
// serialised on a single writer lock, so a transaction observes no interleaved writes and is
// rolled back by restoring the snapshot taken when it started.
type Store struct {
	writer sync.Mutex
	mu     sync.RWMutex
	data   state
	health repositories.HealthRepository
}

var _ repositories.Registry = (*Store)(nil)

// NewStore returns an empty store. health may be nil.
func NewStore(health repositories.HealthRepository) *Store {
	return &Store{data: newState(), health: health}
}

// RunInTx executes fn atomically with respect to other writers. Nested calls join the outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("memory: transaction function is nil")
	}
	if inTx(ctx) {
		return fn(ctx)
	}

	s.writer.Lock()
	defer s.writer.Unlock()

	s.mu.RLock()
	snapshot := s.data.clone()
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func inTx(ctx context.Context) bool {
	active, _ := ctx.Value(txKey{}).(bool)
	return active
}

// write runs fn under the data lock, taking the writer lock when ctx carries no transaction.
func (s *Store) write(ctx context.Context, fn func(data *state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !inTx(ctx) {
		s.writer.Lock()
		defer s.writer.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&s.data)
}

func (s *Store) read(ctx context.Context, fn func(data *state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&s.data)
}

func (s *Store) Orders() repositories.OrderRepository                 { return orderRepository{s} }
func (s *Store) Plans() repositories.PlanRepository                   { return planRepository{s} }
func (s *Store) Advertisements() repositories.AdvertisementRepository { return advertisementRepository{s} }
func (s *Store) Catalog() repositories.CatalogRepository              { return catalogRepository{s} }
func (s *Store) Health() repositories.HealthRepository                { return s.health }

// Close is a no-op.
func (s *Store) Close(context.Context) error { return nil }

// SeedCompany registers a company.
func (s *Store) SeedCompany(company domain.Company) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.companies[company.ID] = company
}

// SeedIndustry registers an industry.
func (s *Store) SeedIndustry(industry domain.Industry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.industries[industry.ID] = industry
}

// SeedLocation registers a location.
func (s *Store) SeedLocation(location domain.Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.locations[location.ID] = location
}

// SeedResume registers a resume.
func (s *Store) SeedResume(resume domain.Resume) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.resumes[resume.ID] = resume
}

// Counts reports the number of stored advertisements and subscriptions.
func (s *Store) Counts() (advertisements, subscriptions int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data.advertisements), len(s.data.subscriptions)
}

// JobAdvertisementFor returns the job posting attached to an advertisement.
func (s *Store) JobAdvertisementFor(advertisementID string) (domain.JobAdvertisement, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, job := range s.data.jobs {
		if job.AdvertisementID == advertisementID {
			return job, true
		}
	}
	return domain.JobAdvertisement{}, false
}

// ResumeAdvertisementFor returns the resume posting attached to an advertisement.
func (s *Store) ResumeAdvertisementFor(advertisementID string) (domain.ResumeAdvertisement, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, resume := range s.data.resumeAds {
		if resume.AdvertisementID == advertisementID {
			return resume, true
		}
	}
	return domain.ResumeAdvertisement{}, false
}
