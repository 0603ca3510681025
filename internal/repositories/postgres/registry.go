package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/maherkar/api/internal/repositories"
)

// Registry wires the Postgres repositories behind repositories.Registry.
type Registry struct {
	db             *gorm.DB
	orders         repositories.OrderRepository
	plans          repositories.PlanRepository
	advertisements repositories.AdvertisementRepository
	catalog        repositories.CatalogRepository
	health         repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds every repository on top of the shared pool. health may be nil when readiness
// probes are not needed, e.g. in CLI tooling.
func NewRegistry(db *gorm.DB, health repositories.HealthRepository) (*Registry, error) {
	if db == nil {
		return nil, errors.New("postgres registry: db is required")
	}
	orders, err := NewOrderRepository(db)
	if err != nil {
		return nil, err
	}
	plans, err := NewPlanRepository(db)
	if err != nil {
		return nil, err
	}
	ads, err := NewAdvertisementRepository(db)
	if err != nil {
		return nil, err
	}
	catalog, err := NewCatalogRepository(db)
	if err != nil {
		return nil, err
	}
	return &Registry{
		db:             db,
		orders:         orders,
		plans:          plans,
		advertisements: ads,
		catalog:        catalog,
		health:         health,
	}, nil
}

func (r *Registry) Orders() repositories.OrderRepository                 { return r.orders }
func (r *Registry) Plans() repositories.PlanRepository                   { return r.plans }
func (r *Registry) Advertisements() repositories.AdvertisementRepository { return r.advertisements }
func (r *Registry) Catalog() repositories.CatalogRepository              { return r.catalog }
func (r *Registry) Health() repositories.HealthRepository                { return r.health }

// Close releases the connection pool.
func (r *Registry) Close(context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
