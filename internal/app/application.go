// Package app wires the bookstore services together and manages their
// lifecycle.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/bookmart/bookstore/internal/app/domain/order"
	"github.com/bookmart/bookstore/internal/app/events"
	catalogsvc "github.com/bookmart/bookstore/internal/app/services/catalog"
	orderssvc "github.com/bookmart/bookstore/internal/app/services/orders"
	userssvc "github.com/bookmart/bookstore/internal/app/services/users"
	"github.com/bookmart/bookstore/internal/app/storage"
	"github.com/bookmart/bookstore/internal/app/storage/memory"
	"github.com/bookmart/bookstore/internal/app/system"
	"github.com/bookmart/bookstore/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Users   storage.UserStore
	Catalog storage.CatalogStore
	Orders  storage.OrderStore
}

// Options carries the tunables the application cannot derive itself.
type Options struct {
	TokenSecret   string
	TokenLifetime time.Duration
	Publisher     events.Publisher
	Transitions   order.TransitionTable
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Users   *userssvc.Service
	Catalog *catalogsvc.Service
	Orders  *orderssvc.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if opts.TokenSecret == "" {
		return nil, fmt.Errorf("token secret is required")
	}

	mem := memory.New()
	if stores.Users == nil {
		stores.Users = mem
	}
	if stores.Catalog == nil {
		stores.Catalog = mem
	}
	if stores.Orders == nil {
		stores.Orders = mem
	}

	manager := system.NewManager()

	var userOpts []userssvc.Option
	if opts.TokenLifetime > 0 {
		userOpts = append(userOpts, userssvc.WithTokenLifetime(opts.TokenLifetime))
	}
	usersService := userssvc.New(stores.Users, opts.TokenSecret, log, userOpts...)
	catalogService := catalogsvc.New(stores.Catalog, stores.Users, log)
	ordersService := orderssvc.New(stores.Orders, stores.Catalog, stores.Users,
		usersService, opts.Publisher, opts.Transitions, log)

	for _, name := range []string{"users", "catalog", "orders"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}

	return &Application{
		manager: manager,
		log:     log,
		Users:   usersService,
		Catalog: catalogService,
		Orders:  ordersService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
