// Package events defines the lifecycle notifications emitted after a trip
// or rating write commits, and the sinks they can be sent to.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/example/trip-negotiation/internal/models"
)

type Type string

const (
	TripRequested       Type = "trip.requested"
	TripAccepted        Type = "trip.accepted"
	TripDeclined        Type = "trip.declined"
	TripCountered       Type = "trip.countered"
	TripCounterAccepted Type = "trip.counter_accepted"
	TripCounterRejected Type = "trip.counter_rejected"
	TripStarted         Type = "trip.started"
	TripCompleted       Type = "trip.completed"
	TripCancelled       Type = "trip.cancelled"
	RatingCreated       Type = "rating.created"
)

// TripEvent carries the trip as it was committed. CarrierID names the
// carrier the event concerns, which for a rejected counter is the carrier
// that was just removed from the trip.
type TripEvent struct {
	Type      Type         `json:"type"`
	ActorID   string       `json:"actor_id"`
	CarrierID string       `json:"carrier_id,omitempty"`
	At        time.Time    `json:"at"`
	Trip      *models.Trip `json:"trip"`
}

// Recipients lists the parties to notify: the requester and the concerned
// carrier, minus whoever caused the event.
func (e TripEvent) Recipients() []string {
	out := make([]string, 0, 2)
	for _, id := range []string{e.Trip.RequesterID, e.CarrierID} {
		if id == "" || id == e.ActorID {
			continue
		}
		out = append(out, id)
	}
	return out
}

type RatingEvent struct {
	Type   Type           `json:"type"`
	At     time.Time      `json:"at"`
	Rating *models.Rating `json:"rating"`
}

type Publisher interface {
	PublishTrip(ctx context.Context, ev TripEvent) error
	PublishRating(ctx context.Context, ev RatingEvent) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) PublishTrip(context.Context, TripEvent) error     { return nil }
func (Nop) PublishRating(context.Context, RatingEvent) error { return nil }

// Fanout sends each event to every sink and joins their errors.
type Fanout []Publisher

func (f Fanout) PublishTrip(ctx context.Context, ev TripEvent) error {
	var errs []error
	for _, p := range f {
		if err := p.PublishTrip(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) PublishRating(ctx context.Context, ev RatingEvent) error {
	var errs []error
	for _, p := range f {
		if err := p.PublishRating(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
