// Package events publishes order lifecycle events to a message broker so
// downstream consumers (fulfilment, notifications, analytics) can react
// without polling the database.
package events

import (
	"context"
	"time"
)

// Publisher delivers an event to a topic, keyed for partition ordering.
type Publisher interface {
	PublishEvent(ctx context.Context, topic string, key string, event any) error
}

// Order event types.
const (
	OrderCreated   = "order.created"
	OrderPaid      = "order.paid"
	OrderShipped   = "order.shipped"
	OrderCompleted = "order.completed"
	OrderCancelled = "order.cancelled"
)

// OrderEvent is the payload published for every order transition.
type OrderEvent struct {
	Type       string    `json:"type"`
	OrderID    string    `json:"order_id"`
	BuyerID    string    `json:"buyer_id"`
	StoreID    string    `json:"store_id"`
	TotalPrice int64     `json:"total_price"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NopPublisher discards events. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishEvent(context.Context, string, string, any) error { return nil }
