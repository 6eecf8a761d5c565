package catalog

import (
	"errors"
	"time"
)

// Store is a seller's inventory namespace containing book listings.
type Store struct {
	ID        string
	OwnerID   string
	CreatedAt time.Time
}

// Listing is the (store, book) inventory line: current stock plus the book
// metadata captured when the seller added the book.
type Listing struct {
	StoreID   string
	BookID    string
	Title     string
	Author    string
	Price     int64
	Stock     int
	CreatedAt time.Time
	UpdatedAt time.Time
}

var (
	// ErrStoreNotFound indicates the store does not exist.
	ErrStoreNotFound = errors.New("store not found")
	// ErrStoreExists indicates the store id is already taken.
	ErrStoreExists = errors.New("store already exists")
	// ErrBookNotFound indicates the book is not listed in the store.
	ErrBookNotFound = errors.New("book not found in store")
	// ErrBookExists indicates the (store, book) listing already exists.
	ErrBookExists = errors.New("book already listed in store")
	// ErrInsufficientStock indicates the requested quantity exceeds stock.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidArgument indicates a malformed request value.
	ErrInvalidArgument = errors.New("invalid argument")
)
