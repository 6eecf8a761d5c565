// Package orders drives the order lifecycle: creation with stock
// reservation, payment settlement, shipping, receipt, and cancellation.
package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bookmart/bookstore/internal/app/domain/order"
	"github.com/bookmart/bookstore/internal/app/events"
	"github.com/bookmart/bookstore/internal/app/metrics"
	"github.com/bookmart/bookstore/internal/app/storage"
	"github.com/bookmart/bookstore/pkg/logger"
)

// OrderEventsTopic is the broker topic carrying order lifecycle events.
const OrderEventsTopic = "bookstore.orders"

// CredentialChecker re-verifies a buyer's password at payment time.
type CredentialChecker interface {
	CheckPassword(ctx context.Context, userID, password string) error
}

// Service coordinates order state across buyers, sellers, and inventory.
type Service struct {
	orders      storage.OrderStore
	catalog     storage.CatalogStore
	users       storage.UserStore
	credentials CredentialChecker
	publisher   events.Publisher
	transitions order.TransitionTable
	log         *logger.Logger
}

// New constructs an orders service. A nil publisher disables event
// emission; a nil table falls back to the default transition rules.
func New(ordersStore storage.OrderStore, catalogStore storage.CatalogStore, userStore storage.UserStore,
	credentials CredentialChecker, publisher events.Publisher, transitions order.TransitionTable, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("orders")
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if transitions == nil {
		transitions = order.DefaultTransitions()
	}
	return &Service{
		orders:      ordersStore,
		catalog:     catalogStore,
		users:       userStore,
		credentials: credentials,
		publisher:   publisher,
		transitions: transitions,
		log:         log,
	}
}

// Create places a new unpaid order, atomically reserving stock for every
// line. Duplicate book ids in the request are merged before reservation.
func (s *Service) Create(ctx context.Context, buyerID, storeID string, items []order.Item) (ord order.Order, err error) {
	defer func() { metrics.RecordOrderTransition(events.OrderCreated, err) }()

	if len(items) == 0 {
		return order.Order{}, fmt.Errorf("%w: order must contain at least one item", order.ErrInvalidArgument)
	}
	merged, err := mergeItems(items)
	if err != nil {
		return order.Order{}, err
	}
	if _, err = s.users.GetUser(ctx, buyerID); err != nil {
		return order.Order{}, err
	}
	if _, err = s.catalog.GetStore(ctx, storeID); err != nil {
		return order.Order{}, err
	}

	ord, err = s.orders.PlaceOrder(ctx, order.Order{
		ID:      uuid.NewString(),
		BuyerID: buyerID,
		StoreID: storeID,
		Status:  order.StatusUnpaid,
	}, merged)
	if err != nil {
		return order.Order{}, err
	}

	s.publish(ctx, events.OrderCreated, ord)
	s.log.WithField("order_id", ord.ID).Info("order created")
	return ord, nil
}

// Pay settles an unpaid order: the buyer's password is re-verified, the
// total moves from buyer to seller, and the order becomes pending.
func (s *Service) Pay(ctx context.Context, buyerID, password, orderID string) (err error) {
	defer func() { metrics.RecordOrderTransition(events.OrderPaid, err) }()

	ord, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if ord.BuyerID != buyerID {
		return order.ErrNotOwner
	}
	if err = s.credentials.CheckPassword(ctx, buyerID, password); err != nil {
		return err
	}
	if err = s.orders.SettlePayment(ctx, orderID, buyerID); err != nil {
		return err
	}

	ord.Status = order.StatusPending
	s.publish(ctx, events.OrderPaid, ord)
	metrics.RecordSettlement(ord.TotalPrice)
	s.log.WithField("order_id", orderID).Info("order paid")
	return nil
}

// ConfirmShipping marks an order as shipped by the seller.
func (s *Service) ConfirmShipping(ctx context.Context, sellerID, orderID string) (err error) {
	defer func() { metrics.RecordOrderTransition(events.OrderShipped, err) }()

	if _, err = s.users.GetUser(ctx, sellerID); err != nil {
		return err
	}
	from, ok := s.transitions.Sources(order.StatusShipped)
	if !ok {
		return order.ErrInvalidState
	}
	if err = s.orders.Transition(ctx, orderID, from, order.StatusShipped); err != nil {
		return err
	}

	ord, getErr := s.orders.GetOrder(ctx, orderID)
	if getErr != nil {
		ord = order.Order{ID: orderID, Status: order.StatusShipped}
	}
	s.publish(ctx, events.OrderShipped, ord)
	return nil
}

// ConfirmReceipt marks an order as completed by the buyer.
func (s *Service) ConfirmReceipt(ctx context.Context, buyerID, orderID string) (err error) {
	defer func() { metrics.RecordOrderTransition(events.OrderCompleted, err) }()

	if _, err = s.users.GetUser(ctx, buyerID); err != nil {
		return err
	}
	from, ok := s.transitions.Sources(order.StatusCompleted)
	if !ok {
		return order.ErrInvalidState
	}
	if err = s.orders.Transition(ctx, orderID, from, order.StatusCompleted); err != nil {
		return err
	}

	ord, getErr := s.orders.GetOrder(ctx, orderID)
	if getErr != nil {
		ord = order.Order{ID: orderID, Status: order.StatusCompleted}
	}
	s.publish(ctx, events.OrderCompleted, ord)
	return nil
}

// Cancel removes an unshipped order, restoring reserved stock and, for an
// already-paid order, refunding the buyer.
func (s *Service) Cancel(ctx context.Context, buyerID, orderID string) (err error) {
	defer func() { metrics.RecordOrderTransition(events.OrderCancelled, err) }()

	if _, err = s.users.GetUser(ctx, buyerID); err != nil {
		return err
	}

	ord, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if err = s.orders.CancelOrder(ctx, orderID, order.CancellableFrom()); err != nil {
		return err
	}

	s.publish(ctx, events.OrderCancelled, ord)
	s.log.WithField("order_id", orderID).Info("order cancelled")
	return nil
}

// List returns the buyer's orders in creation order.
func (s *Service) List(ctx context.Context, buyerID string) ([]order.Order, error) {
	if _, err := s.users.GetUser(ctx, buyerID); err != nil {
		return nil, err
	}
	return s.orders.ListOrders(ctx, buyerID)
}

// Lines returns the line items of an order.
func (s *Service) Lines(ctx context.Context, orderID string) ([]order.Line, error) {
	if _, err := s.orders.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.orders.ListLines(ctx, orderID)
}

// Get returns a single order by id.
func (s *Service) Get(ctx context.Context, orderID string) (order.Order, error) {
	return s.orders.GetOrder(ctx, orderID)
}

func (s *Service) publish(ctx context.Context, eventType string, ord order.Order) {
	evt := events.OrderEvent{
		Type:       eventType,
		OrderID:    ord.ID,
		BuyerID:    ord.BuyerID,
		StoreID:    ord.StoreID,
		TotalPrice: ord.TotalPrice,
		OccurredAt: time.Now().UTC(),
	}
	if err := s.publisher.PublishEvent(ctx, OrderEventsTopic, ord.ID, evt); err != nil {
		s.log.WithError(err).WithField("order_id", ord.ID).Warn("order event not published")
	}
}

func mergeItems(items []order.Item) ([]order.Item, error) {
	byBook := make(map[string]int, len(items))
	seen := make([]string, 0, len(items))
	for _, it := range items {
		if it.BookID == "" {
			return nil, fmt.Errorf("%w: book id is required", order.ErrInvalidArgument)
		}
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive", order.ErrInvalidArgument)
		}
		if _, ok := byBook[it.BookID]; !ok {
			seen = append(seen, it.BookID)
		}
		byBook[it.BookID] += it.Quantity
	}
	merged := make([]order.Item, 0, len(seen))
	for _, id := range seen {
		merged = append(merged, order.Item{BookID: id, Quantity: byBook[id]})
	}
	return merged, nil
}
