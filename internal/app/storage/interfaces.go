package storage

import (
	"context"

	"github.com/bookmart/bookstore/internal/app/domain/catalog"
	"github.com/bookmart/bookstore/internal/app/domain/order"
	"github.com/bookmart/bookstore/internal/app/domain/user"
)

// UserStore persists user accounts and their ledger balances. Balance
// mutations are expressed as atomic conditional updates so concurrent
// debits can never drive a balance negative.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id string) (user.User, error)
	UpdateSession(ctx context.Context, id, token, terminal string) error
	UpdatePassword(ctx context.Context, id, passwordHash, token, terminal string) error
	DeleteUser(ctx context.Context, id string) error

	// Deposit adds amount to the user's balance as a single atomic update.
	Deposit(ctx context.Context, id string, amount int64) error
}

// CatalogStore persists stores and their inventory listings.
type CatalogStore interface {
	CreateStore(ctx context.Context, st catalog.Store) (catalog.Store, error)
	GetStore(ctx context.Context, id string) (catalog.Store, error)
	ListStores(ctx context.Context, ownerID string) ([]catalog.Store, error)

	CreateListing(ctx context.Context, l catalog.Listing) (catalog.Listing, error)
	GetListing(ctx context.Context, storeID, bookID string) (catalog.Listing, error)
	ListListings(ctx context.Context, storeID string) ([]catalog.Listing, error)

	// AddStock increments the listing's stock level as a single atomic update.
	AddStock(ctx context.Context, storeID, bookID string, delta int) error
	// SetPrice changes the listed price. Lines of already-created orders keep
	// the price captured at order time.
	SetPrice(ctx context.Context, storeID, bookID string, price int64) error
}

// OrderStore persists orders and runs the multi-statement order operations.
// Every method here is one transaction: it commits fully or leaves no trace.
type OrderStore interface {
	// PlaceOrder inserts the order, captures the current unit price for each
	// item, decrements stock with a conditional update per line, and writes
	// the computed total. Any failing line aborts the whole order.
	PlaceOrder(ctx context.Context, ord order.Order, items []order.Item) (order.Order, error)

	// SettlePayment atomically debits the buyer, credits the store's seller
	// and flips the order from unpaid to pending. A concurrent settlement of
	// the same order sees the conditional status flip match zero rows and
	// aborts without transferring anything.
	SettlePayment(ctx context.Context, orderID, buyerID string) error

	// Transition moves the order to the target status, guarded by the given
	// source set. An empty source set only requires the order to exist.
	Transition(ctx context.Context, orderID string, from []order.Status, to order.Status) error

	// CancelOrder deletes the order and its lines, restores the reserved
	// stock, and refunds the buyer when the order had already been paid.
	CancelOrder(ctx context.Context, orderID string, from []order.Status) error

	GetOrder(ctx context.Context, id string) (order.Order, error)
	ListOrders(ctx context.Context, buyerID string) ([]order.Order, error)
	ListLines(ctx context.Context, orderID string) ([]order.Line, error)
}
