// Package dispatch delivers lifecycle events to the people involved: over
// their websocket session when one is open, otherwise to a webhook.
package dispatch

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/trip-negotiation/internal/events"
	"github.com/example/trip-negotiation/internal/observability"
)

type Pusher interface {
	Push(ctx context.Context, userID string, msg Message) error
}

// Notifier implements events.Publisher. Push may be nil, in which case
// offline users are skipped.
type Notifier struct {
	WS     *WSRegistry
	Push   Pusher
	Logger *slog.Logger
}

func (n *Notifier) PublishTrip(ctx context.Context, ev events.TripEvent) error {
	msg := Message{Type: string(ev.Type), Data: ev.Trip}
	var errs []error
	for _, userID := range ev.Recipients() {
		if err := n.deliver(ctx, userID, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (n *Notifier) PublishRating(ctx context.Context, ev events.RatingEvent) error {
	return n.deliver(ctx, ev.Rating.RateeID, Message{Type: string(ev.Type), Data: ev.Rating})
}

func (n *Notifier) deliver(ctx context.Context, userID string, msg Message) error {
	if n.WS != nil {
		err := n.WS.Notify(userID, msg)
		if err == nil {
			observability.EventsPublishedTotal.WithLabelValues("ws", "ok").Inc()
			return nil
		}
		if !errors.Is(err, ErrNoSession) {
			return err
		}
	}
	if n.Push == nil {
		return nil
	}
	if err := n.Push.Push(ctx, userID, msg); err != nil {
		observability.EventsPublishedTotal.WithLabelValues("webhook", "error").Inc()
		n.Logger.Warn("webhook push failed", "user_id", userID, "type", msg.Type, "error", err)
		return err
	}
	observability.EventsPublishedTotal.WithLabelValues("webhook", "ok").Inc()
	return nil
}
