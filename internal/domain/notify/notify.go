// Package notify delivers user-facing notifications out of band. Producers
// enqueue events with Publish; a single worker drains the queue and hands each
// event to every sink in order. Delivery failures are logged and never
// propagate back to the producer.
package notify

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a notification does not exist or belongs to
// another user.
var ErrNotFound = errors.New("notification not found")

// Type classifies a notification.
type Type string

const (
	TypePurchase      Type = "purchase"
	TypeSale          Type = "sale"
	TypeCouponGranted Type = "coupon_granted"
)

// Event is a notification addressed to a single user. ID is assigned by the
// Inbox that stores it and is zero while the event is in flight.
type Event struct {
	ID        int64
	Type      Type
	UserID    int64
	Title     string
	Message   string
	Data      map[string]string
	CreatedAt time.Time
}

// Publisher enqueues events.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Sink delivers an event somewhere: a table, a pub/sub channel, a log.
type Sink interface {
	Deliver(ctx context.Context, e Event) error
}

// Inbox is the stored history a user reads their notifications from.
type Inbox interface {
	// ListNotifications returns the events of userID, newest first.
	ListNotifications(ctx context.Context, userID int64) ([]Event, error)
	// DeleteNotification removes one event of userID. It returns ErrNotFound
	// when id is missing or addressed to someone else.
	DeleteNotification(ctx context.Context, userID, id int64) error
}

// LogSink writes events to a zap logger.
type LogSink struct {
	lg *zap.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(lg *zap.Logger) *LogSink {
	return &LogSink{lg: lg}
}

func (s *LogSink) Deliver(_ context.Context, e Event) error {
	s.lg.Info("Notification",
		zap.String("type", string(e.Type)),
		zap.Int64("user_id", e.UserID),
		zap.String("title", e.Title),
		zap.Any("data", e.Data),
	)
	return nil
}
