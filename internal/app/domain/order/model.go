package order

import (
	"errors"
	"time"
)

// Status is the order lifecycle state.
type Status string

const (
	StatusUnpaid    Status = "unpaid"
	StatusPending   Status = "pending"
	StatusShipped   Status = "shipped"
	StatusCompleted Status = "completed"
)

// Order is a buyer's reservation of inventory in one store, progressing
// through the status lifecycle until completion or cancellation.
type Order struct {
	ID         string
	BuyerID    string
	StoreID    string
	Status     Status
	TotalPrice int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Line is one (order, book) position. Price is the unit price captured when
// the order was created; later catalog price changes never affect it.
type Line struct {
	OrderID  string
	BookID   string
	Quantity int
	Price    int64
}

// Item is a requested (book, quantity) pair at order creation.
type Item struct {
	BookID   string
	Quantity int
}

var (
	// ErrNotFound indicates the order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrNotOwner indicates the caller is not the order's buyer.
	ErrNotOwner = errors.New("caller does not own order")
	// ErrInvalidState indicates a transition not permitted from the order's
	// current status. This is a client policy rejection, not a server fault.
	ErrInvalidState = errors.New("invalid order state for operation")
	// ErrInvalidArgument indicates a malformed request value.
	ErrInvalidArgument = errors.New("invalid argument")
)

// TransitionTable declares, per target status, the set of source statuses a
// transition may leave from. An empty source set means the transition is
// unconditional for any existing order.
type TransitionTable map[Status][]Status

// DefaultTransitions preserves the shipped behavior of the system: payment
// strictly requires an unpaid order, while shipping and receipt confirmation
// only require that the order exists. Deployments wanting a stricter
// lifecycle can supply their own table.
func DefaultTransitions() TransitionTable {
	return TransitionTable{
		StatusPending:   {StatusUnpaid},
		StatusShipped:   {},
		StatusCompleted: {},
	}
}

// StrictTransitions enforces the full linear lifecycle.
func StrictTransitions() TransitionTable {
	return TransitionTable{
		StatusPending:   {StatusUnpaid},
		StatusShipped:   {StatusPending},
		StatusCompleted: {StatusShipped},
	}
}

// CancellableFrom lists the statuses an order may be cancelled from.
func CancellableFrom() []Status {
	return []Status{StatusUnpaid, StatusPending}
}

// Sources returns the allowed source statuses for a transition to target.
// The second return reports whether the transition is known at all.
func (t TransitionTable) Sources(target Status) ([]Status, bool) {
	src, ok := t[target]
	return src, ok
}
