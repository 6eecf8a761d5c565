package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bookmart/bookstore/internal/app/domain/catalog"
	"github.com/bookmart/bookstore/internal/app/domain/order"
	"github.com/bookmart/bookstore/internal/app/domain/user"
	"github.com/bookmart/bookstore/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local
// development. A single mutex gives every multi-statement operation the same
// all-or-nothing behavior the PostgreSQL store gets from transactions.
type Store struct {
	mu       sync.RWMutex
	users    map[string]user.User
	stores   map[string]catalog.Store
	listings map[string]map[string]catalog.Listing // storeID -> bookID -> listing
	orders   map[string]order.Order
	lines    map[string][]order.Line // orderID -> lines
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.CatalogStore = (*Store)(nil)
var _ storage.OrderStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		users:    make(map[string]user.User),
		stores:   make(map[string]catalog.Store),
		listings: make(map[string]map[string]catalog.Listing),
		orders:   make(map[string]order.Order),
		lines:    make(map[string][]order.Line),
	}
}

// UserStore implementation ----------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[u.ID]; exists {
		return user.User{}, user.ErrExists
	}

	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return u, nil
}

func (s *Store) UpdateSession(_ context.Context, id, token, terminal string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return user.ErrNotFound
	}
	u.Token = token
	u.Terminal = terminal
	u.UpdatedAt = time.Now().UTC()
	s.users[id] = u
	return nil
}

func (s *Store) UpdatePassword(_ context.Context, id, passwordHash, token, terminal string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return user.ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.Token = token
	u.Terminal = terminal
	u.UpdatedAt = time.Now().UTC()
	s.users[id] = u
	return nil
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return user.ErrNotFound
	}
	delete(s.users, id)
	return nil
}

func (s *Store) Deposit(_ context.Context, id string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return user.ErrNotFound
	}
	u.Balance += amount
	u.UpdatedAt = time.Now().UTC()
	s.users[id] = u
	return nil
}

// CatalogStore implementation -------------------------------------------------

func (s *Store) CreateStore(_ context.Context, st catalog.Store) (catalog.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.stores[st.ID]; exists {
		return catalog.Store{}, catalog.ErrStoreExists
	}
	st.CreatedAt = time.Now().UTC()
	s.stores[st.ID] = st
	s.listings[st.ID] = make(map[string]catalog.Listing)
	return st, nil
}

func (s *Store) GetStore(_ context.Context, id string) (catalog.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stores[id]
	if !ok {
		return catalog.Store{}, catalog.ErrStoreNotFound
	}
	return st, nil
}

func (s *Store) ListStores(_ context.Context, ownerID string) ([]catalog.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []catalog.Store
	for _, st := range s.stores {
		if ownerID == "" || st.OwnerID == ownerID {
			result = append(result, st)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) CreateListing(_ context.Context, l catalog.Listing) (catalog.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byBook, ok := s.listings[l.StoreID]
	if !ok {
		return catalog.Listing{}, catalog.ErrStoreNotFound
	}
	if _, exists := byBook[l.BookID]; exists {
		return catalog.Listing{}, catalog.ErrBookExists
	}

	now := time.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now
	byBook[l.BookID] = l
	return l, nil
}

func (s *Store) GetListing(_ context.Context, storeID, bookID string) (catalog.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.listings[storeID][bookID]
	if !ok {
		return catalog.Listing{}, catalog.ErrBookNotFound
	}
	return l, nil
}

func (s *Store) ListListings(_ context.Context, storeID string) ([]catalog.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byBook, ok := s.listings[storeID]
	if !ok {
		return nil, catalog.ErrStoreNotFound
	}
	result := make([]catalog.Listing, 0, len(byBook))
	for _, l := range byBook {
		result = append(result, l)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].BookID < result[j].BookID })
	return result, nil
}

func (s *Store) AddStock(_ context.Context, storeID, bookID string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.listings[storeID][bookID]
	if !ok {
		return catalog.ErrBookNotFound
	}
	l.Stock += delta
	l.UpdatedAt = time.Now().UTC()
	s.listings[storeID][bookID] = l
	return nil
}

func (s *Store) SetPrice(_ context.Context, storeID, bookID string, price int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.listings[storeID][bookID]
	if !ok {
		return catalog.ErrBookNotFound
	}
	l.Price = price
	l.UpdatedAt = time.Now().UTC()
	s.listings[storeID][bookID] = l
	return nil
}

// OrderStore implementation ---------------------------------------------------

func (s *Store) PlaceOrder(_ context.Context, ord order.Order, items []order.Item) (order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byBook, ok := s.listings[ord.StoreID]
	if !ok {
		return order.Order{}, catalog.ErrStoreNotFound
	}

	// Stage the decrements so a failing line leaves the listings untouched.
	staged := make(map[string]catalog.Listing)
	var total int64
	var lines []order.Line
	for _, item := range items {
		l, ok := staged[item.BookID]
		if !ok {
			l, ok = byBook[item.BookID]
			if !ok {
				return order.Order{}, catalog.ErrBookNotFound
			}
		}
		if l.Stock < item.Quantity {
			return order.Order{}, catalog.ErrInsufficientStock
		}
		l.Stock -= item.Quantity
		l.UpdatedAt = time.Now().UTC()
		staged[item.BookID] = l

		total += l.Price * int64(item.Quantity)
		lines = append(lines, order.Line{
			OrderID:  ord.ID,
			BookID:   item.BookID,
			Quantity: item.Quantity,
			Price:    l.Price,
		})
	}

	for bookID, l := range staged {
		byBook[bookID] = l
	}

	now := time.Now().UTC()
	ord.Status = order.StatusUnpaid
	ord.TotalPrice = total
	ord.CreatedAt = now
	ord.UpdatedAt = now
	s.orders[ord.ID] = ord
	s.lines[ord.ID] = lines
	return ord, nil
}

func (s *Store) SettlePayment(_ context.Context, orderID, buyerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ord, ok := s.orders[orderID]
	if !ok {
		return order.ErrNotFound
	}
	if ord.BuyerID != buyerID {
		return order.ErrNotOwner
	}
	if ord.Status != order.StatusUnpaid {
		return order.ErrInvalidState
	}

	buyer, ok := s.users[ord.BuyerID]
	if !ok {
		return user.ErrNotFound
	}
	st, ok := s.stores[ord.StoreID]
	if !ok {
		return catalog.ErrStoreNotFound
	}
	seller, ok := s.users[st.OwnerID]
	if !ok {
		return user.ErrNotFound
	}
	if buyer.Balance < ord.TotalPrice {
		return user.ErrInsufficientFunds
	}

	now := time.Now().UTC()
	buyer.Balance -= ord.TotalPrice
	buyer.UpdatedAt = now
	seller.Balance += ord.TotalPrice
	seller.UpdatedAt = now
	ord.Status = order.StatusPending
	ord.UpdatedAt = now

	s.users[buyer.ID] = buyer
	s.users[seller.ID] = seller
	s.orders[orderID] = ord
	return nil
}

func (s *Store) Transition(_ context.Context, orderID string, from []order.Status, to order.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ord, ok := s.orders[orderID]
	if !ok {
		return order.ErrNotFound
	}
	if !statusAllowed(ord.Status, from) {
		return order.ErrInvalidState
	}
	ord.Status = to
	ord.UpdatedAt = time.Now().UTC()
	s.orders[orderID] = ord
	return nil
}

func (s *Store) CancelOrder(_ context.Context, orderID string, from []order.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ord, ok := s.orders[orderID]
	if !ok {
		return order.ErrNotFound
	}
	if !statusAllowed(ord.Status, from) {
		return order.ErrInvalidState
	}

	if ord.Status == order.StatusPending {
		// Paid but not shipped: the transfer is reversed with the same
		// conditional-debit rule payment uses, now against the seller.
		st, ok := s.stores[ord.StoreID]
		if !ok {
			return catalog.ErrStoreNotFound
		}
		seller, ok := s.users[st.OwnerID]
		if !ok {
			return user.ErrNotFound
		}
		buyer, ok := s.users[ord.BuyerID]
		if !ok {
			return user.ErrNotFound
		}
		if seller.Balance < ord.TotalPrice {
			return user.ErrInsufficientFunds
		}
		now := time.Now().UTC()
		seller.Balance -= ord.TotalPrice
		seller.UpdatedAt = now
		buyer.Balance += ord.TotalPrice
		buyer.UpdatedAt = now
		s.users[seller.ID] = seller
		s.users[buyer.ID] = buyer
	}

	for _, line := range s.lines[orderID] {
		if l, ok := s.listings[ord.StoreID][line.BookID]; ok {
			l.Stock += line.Quantity
			l.UpdatedAt = time.Now().UTC()
			s.listings[ord.StoreID][line.BookID] = l
		}
	}

	delete(s.lines, orderID)
	delete(s.orders, orderID)
	return nil
}

func (s *Store) GetOrder(_ context.Context, id string) (order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ord, ok := s.orders[id]
	if !ok {
		return order.Order{}, order.ErrNotFound
	}
	return ord, nil
}

func (s *Store) ListOrders(_ context.Context, buyerID string) ([]order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []order.Order
	for _, ord := range s.orders {
		if buyerID == "" || ord.BuyerID == buyerID {
			result = append(result, ord)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) ListLines(_ context.Context, orderID string) ([]order.Line, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lines, ok := s.lines[orderID]
	if !ok {
		if _, exists := s.orders[orderID]; !exists {
			return nil, order.ErrNotFound
		}
		return nil, nil
	}
	out := make([]order.Line, len(lines))
	copy(out, lines)
	return out, nil
}

func statusAllowed(current order.Status, from []order.Status) bool {
	if len(from) == 0 {
		return true
	}
	for _, st := range from {
		if st == current {
			return true
		}
	}
	return false
}
