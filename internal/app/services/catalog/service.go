// Package catalog manages seller stores and the book listings they carry.
package catalog

import (
	"context"
	"fmt"

	domain "github.com/bookmart/bookstore/internal/app/domain/catalog"
	"github.com/bookmart/bookstore/internal/app/storage"
	"github.com/bookmart/bookstore/pkg/logger"
)

// Service provides store and inventory management for sellers.
type Service struct {
	catalog storage.CatalogStore
	users   storage.UserStore
	log     *logger.Logger
}

// New constructs a catalog service.
func New(catalog storage.CatalogStore, users storage.UserStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("catalog")
	}
	return &Service{catalog: catalog, users: users, log: log}
}

// CreateStore opens a new store owned by the seller.
func (s *Service) CreateStore(ctx context.Context, sellerID, storeID string) (domain.Store, error) {
	if storeID == "" {
		return domain.Store{}, fmt.Errorf("%w: store id is required", domain.ErrInvalidArgument)
	}
	if _, err := s.users.GetUser(ctx, sellerID); err != nil {
		return domain.Store{}, err
	}

	st, err := s.catalog.CreateStore(ctx, domain.Store{ID: storeID, OwnerID: sellerID})
	if err != nil {
		return domain.Store{}, err
	}
	s.log.WithField("store_id", storeID).Info("store created")
	return st, nil
}

// AddBook lists a new book in the store with its initial price and stock.
func (s *Service) AddBook(ctx context.Context, sellerID string, listing domain.Listing) (domain.Listing, error) {
	if listing.BookID == "" {
		return domain.Listing{}, fmt.Errorf("%w: book id is required", domain.ErrInvalidArgument)
	}
	if listing.Price < 0 || listing.Stock < 0 {
		return domain.Listing{}, fmt.Errorf("%w: price and stock must not be negative", domain.ErrInvalidArgument)
	}
	if _, err := s.users.GetUser(ctx, sellerID); err != nil {
		return domain.Listing{}, err
	}
	if _, err := s.catalog.GetStore(ctx, listing.StoreID); err != nil {
		return domain.Listing{}, err
	}
	return s.catalog.CreateListing(ctx, listing)
}

// AddStock increases the stock level of an existing listing.
func (s *Service) AddStock(ctx context.Context, sellerID, storeID, bookID string, count int) error {
	if count <= 0 {
		return fmt.Errorf("%w: count must be positive", domain.ErrInvalidArgument)
	}
	if _, err := s.users.GetUser(ctx, sellerID); err != nil {
		return err
	}
	if _, err := s.catalog.GetStore(ctx, storeID); err != nil {
		return err
	}
	return s.catalog.AddStock(ctx, storeID, bookID, count)
}

// SetPrice changes the sale price of an existing listing.
func (s *Service) SetPrice(ctx context.Context, sellerID, storeID, bookID string, price int64) error {
	if price < 0 {
		return fmt.Errorf("%w: price must not be negative", domain.ErrInvalidArgument)
	}
	if _, err := s.users.GetUser(ctx, sellerID); err != nil {
		return err
	}
	if _, err := s.catalog.GetStore(ctx, storeID); err != nil {
		return err
	}
	return s.catalog.SetPrice(ctx, storeID, bookID, price)
}

// Stores lists the stores owned by a seller.
func (s *Service) Stores(ctx context.Context, sellerID string) ([]domain.Store, error) {
	if _, err := s.users.GetUser(ctx, sellerID); err != nil {
		return nil, err
	}
	return s.catalog.ListStores(ctx, sellerID)
}

// Listings returns the books carried by a store.
func (s *Service) Listings(ctx context.Context, storeID string) ([]domain.Listing, error) {
	if _, err := s.catalog.GetStore(ctx, storeID); err != nil {
		return nil, err
	}
	return s.catalog.ListListings(ctx, storeID)
}
