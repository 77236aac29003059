// Package negotiation owns the trip state machine. Every operation loads
// the trip under a write lock, checks its preconditions against that state
// and writes the result in the same transaction.
//
// A PENDING trip never has a carrier: every transition that assigns one
// also leaves PENDING, and rejecting a counter clears it on the way back.
// Carriers that lose a race therefore see InvalidState, not Conflict.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/trip-negotiation/internal/apperr"
	"github.com/example/trip-negotiation/internal/clock"
	"github.com/example/trip-negotiation/internal/events"
	"github.com/example/trip-negotiation/internal/models"
	"github.com/example/trip-negotiation/internal/observability"
	"github.com/example/trip-negotiation/internal/refusal"
	"github.com/example/trip-negotiation/internal/storage"
)

type Store interface {
	storage.TripStore
	storage.CarrierStore
}

type Engine struct {
	store     Store
	ledger    *refusal.Ledger
	publisher events.Publisher
	clock     clock.Clock
	newID     func() string
	logger    *slog.Logger
}

type Option func(*Engine)

func WithClock(c clock.Clock) Option { return func(e *Engine) { e.clock = c } }

func WithPublisher(p events.Publisher) Option { return func(e *Engine) { e.publisher = p } }

func WithIDGenerator(f func() string) Option { return func(e *Engine) { e.newID = f } }

func New(store Store, ledger *refusal.Ledger, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		ledger:    ledger,
		publisher: events.Nop{},
		clock:     clock.System{},
		newID:     uuid.NewString,
		logger:    logger,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

type RequestTripInput struct {
	Origin         string
	Destination    string
	Notes          string
	ScheduledFor   *time.Time
	Payment        models.PaymentMethod
	Headcount      int
	ProposedAmount models.Amount
}

func (e *Engine) RequestTrip(ctx context.Context, requesterID string, in RequestTripInput) (*models.Trip, error) {
	const op = "request"
	start := time.Now()
	trip, err := e.requestTrip(ctx, requesterID, in)
	e.observe(op, start, err)
	if err != nil {
		return nil, e.fail(op, requesterID, "", err)
	}
	e.logger.Info("trip requested", "trip_id", trip.ID, "requester_id", requesterID, "proposed_amount", int64(trip.ProposedAmount))
	e.publish(ctx, events.TripEvent{Type: events.TripRequested, ActorID: requesterID, At: trip.CreatedAt, Trip: trip.Clone()})
	return trip, nil
}

func (e *Engine) requestTrip(ctx context.Context, requesterID string, in RequestTripInput) (*models.Trip, error) {
	if strings.TrimSpace(requesterID) == "" {
		return nil, apperr.InvalidInput("requester id is required")
	}
	if strings.TrimSpace(in.Origin) == "" || strings.TrimSpace(in.Destination) == "" {
		return nil, apperr.InvalidInput("origin and destination are required")
	}
	if !in.Payment.Valid() {
		return nil, apperr.InvalidInput("unknown payment method %q", in.Payment)
	}
	if in.Headcount == 0 {
		in.Headcount = 1
	}
	if in.Headcount < 1 {
		return nil, apperr.InvalidInput("headcount must be at least 1")
	}
	if !in.ProposedAmount.Positive() {
		return nil, apperr.InvalidInput("proposed amount must be positive")
	}
	now := e.clock.Now()
	trip := &models.Trip{
		ID:             e.newID(),
		RequesterID:    requesterID,
		Origin:         strings.TrimSpace(in.Origin),
		Destination:    strings.TrimSpace(in.Destination),
		Notes:          strings.TrimSpace(in.Notes),
		Headcount:      in.Headcount,
		Payment:        in.Payment,
		Status:         models.StatusPending,
		RequestedAt:    now,
		ScheduledFor:   in.ScheduledFor,
		ProposedAmount: in.ProposedAmount,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.store.CreateTrip(ctx, trip); err != nil {
		return nil, err
	}
	return trip, nil
}

func (e *Engine) AcceptTrip(ctx context.Context, carrierID, tripID string) (*models.Trip, error) {
	return e.carrierStep(ctx, "accept", carrierID, tripID, func(tx storage.Tx, t *models.Trip, now time.Time, approved bool) (change, error) {
		if t.Status != models.StatusPending {
			return change{}, wrongStatus(t, models.StatusPending)
		}
		if !approved {
			return change{}, notApproved(carrierID)
		}
		t.CarrierID = &carrierID
		t.AgreedAmount = models.AmountPtr(t.ProposedAmount)
		t.CounterAmount = nil
		t.Status = models.StatusAccepted
		return change{event: events.TripAccepted, carrierID: carrierID, save: true}, nil
	})
}

// DeclineTrip records the carrier's refusal. Declining twice is not an
// error; the trip itself never changes.
func (e *Engine) DeclineTrip(ctx context.Context, carrierID, tripID string) (*models.Trip, error) {
	return e.carrierStep(ctx, "decline", carrierID, tripID, func(tx storage.Tx, t *models.Trip, now time.Time, approved bool) (change, error) {
		if t.Status != models.StatusPending {
			return change{}, wrongStatus(t, models.StatusPending)
		}
		if !approved {
			return change{}, notApproved(carrierID)
		}
		created, err := e.ledger.Record(ctx, tx, t.ID, carrierID, now)
		if err != nil {
			return change{}, err
		}
		if !created {
			return change{}, nil
		}
		return change{event: events.TripDeclined, carrierID: carrierID}, nil
	})
}

func (e *Engine) ProposeCounter(ctx context.Context, carrierID, tripID string, amount models.Amount) (*models.Trip, error) {
	return e.carrierStep(ctx, "counter", carrierID, tripID, func(tx storage.Tx, t *models.Trip, now time.Time, approved bool) (change, error) {
		if t.Status != models.StatusPending {
			return change{}, wrongStatus(t, models.StatusPending)
		}
		if !approved {
			return change{}, notApproved(carrierID)
		}
		if !amount.Positive() {
			return change{}, apperr.InvalidInput("counter amount must be positive")
		}
		t.CarrierID = &carrierID
		t.CounterAmount = models.AmountPtr(amount)
		t.Status = models.StatusAwaitingRequesterApproval
		return change{event: events.TripCountered, carrierID: carrierID, save: true}, nil
	})
}

// RespondToCounter settles a pending counter-offer. Rejecting it puts the
// trip back on the open list and excludes that carrier from it for good.
func (e *Engine) RespondToCounter(ctx context.Context, requesterID, tripID string, accept bool) (*models.Trip, error) {
	return e.step(ctx, "respond", requesterID, tripID, func(tx storage.Tx, t *models.Trip, now time.Time) (change, error) {
		if t.Status != models.StatusAwaitingRequesterApproval {
			return change{}, wrongStatus(t, models.StatusAwaitingRequesterApproval)
		}
		if t.RequesterID != requesterID {
			return change{}, apperr.NotAuthorized("only the requester can respond to a counter-offer")
		}
		if t.CarrierID == nil || t.CounterAmount == nil {
			return change{}, apperr.InvalidState("trip has no pending counter-offer")
		}
		carrierID := *t.CarrierID
		if accept {
			t.AgreedAmount = models.AmountPtr(*t.CounterAmount)
			t.CounterAmount = nil
			t.Status = models.StatusAccepted
			return change{event: events.TripCounterAccepted, carrierID: carrierID, save: true}, nil
		}
		if _, err := e.ledger.Record(ctx, tx, t.ID, carrierID, now); err != nil {
			return change{}, err
		}
		t.CarrierID = nil
		t.CounterAmount = nil
		t.Status = models.StatusPending
		return change{event: events.TripCounterRejected, carrierID: carrierID, save: true}, nil
	})
}

func (e *Engine) StartTrip(ctx context.Context, carrierID, tripID string) (*models.Trip, error) {
	return e.step(ctx, "start", carrierID, tripID, func(tx storage.Tx, t *models.Trip, now time.Time) (change, error) {
		if t.Status != models.StatusAccepted {
			return change{}, wrongStatus(t, models.StatusAccepted)
		}
		if t.Carrier() != carrierID {
			return change{}, apperr.NotAuthorized("trip is not assigned to this carrier")
		}
		t.Status = models.StatusInProgress
		t.StartedAt = &now
		return change{event: events.TripStarted, carrierID: carrierID, save: true}, nil
	})
}

func (e *Engine) CompleteTrip(ctx context.Context, carrierID, tripID string) (*models.Trip, error) {
	return e.step(ctx, "complete", carrierID, tripID, func(tx storage.Tx, t *models.Trip, now time.Time) (change, error) {
		if t.Status != models.StatusInProgress {
			return change{}, wrongStatus(t, models.StatusInProgress)
		}
		if t.Carrier() != carrierID {
			return change{}, apperr.NotAuthorized("trip is not assigned to this carrier")
		}
		t.Status = models.StatusCompleted
		t.CompletedAt = &now
		return change{event: events.TripCompleted, carrierID: carrierID, save: true}, nil
	})
}

// CancelTrip is open to either party until the trip starts. The carrier,
// if any, stays on the record.
func (e *Engine) CancelTrip(ctx context.Context, actorID, tripID string) (*models.Trip, error) {
	return e.step(ctx, "cancel", actorID, tripID, func(tx storage.Tx, t *models.Trip, now time.Time) (change, error) {
		switch {
		case t.Status == models.StatusCancelled:
			return change{}, apperr.InvalidState("trip is already cancelled")
		case t.Status == models.StatusInProgress || t.Status.Terminal():
			return change{}, apperr.InvalidState("trip is %s and can no longer be cancelled", t.Status)
		}
		if models.RoleOf(t, actorID) == models.PartyNone {
			return change{}, apperr.NotAuthorized("not a party to this trip")
		}
		t.Status = models.StatusCancelled
		t.CounterAmount = nil
		return change{event: events.TripCancelled, carrierID: t.Carrier(), save: true}, nil
	})
}

// GetTrip returns the trip to one of its parties, or to anyone while it is
// still open.
func (e *Engine) GetTrip(ctx context.Context, actorID, tripID string) (*models.Trip, error) {
	t, err := e.store.GetTrip(ctx, tripID)
	if errors.Is(err, storage.ErrTripNotFound) {
		return nil, apperr.NotFound("trip %s not found", tripID)
	}
	if err != nil {
		return nil, fmt.Errorf("get trip: %w", err)
	}
	open := t.Status == models.StatusPending && t.CarrierID == nil
	if !open && models.RoleOf(t, actorID) == models.PartyNone {
		return nil, apperr.NotAuthorized("not a party to this trip")
	}
	return t, nil
}

type change struct {
	event     events.Type
	carrierID string
	save      bool
}

type stepFunc func(tx storage.Tx, t *models.Trip, now time.Time) (change, error)

// carrierStep reads the carrier's approval before the transaction starts
// and hands it to fn, which checks it in its own precondition order.
func (e *Engine) carrierStep(ctx context.Context, op, carrierID, tripID string, fn func(tx storage.Tx, t *models.Trip, now time.Time, approved bool) (change, error)) (*models.Trip, error) {
	approved := false
	if carrierID != "" {
		a, err := e.store.CarrierApproval(ctx, carrierID)
		switch {
		case errors.Is(err, storage.ErrCarrierNotFound):
		case err != nil:
			return nil, e.fail(op, carrierID, tripID, fmt.Errorf("carrier approval: %w", err))
		default:
			approved = a.Status == models.ApprovalApproved
		}
	}
	return e.step(ctx, op, carrierID, tripID, func(tx storage.Tx, t *models.Trip, now time.Time) (change, error) {
		return fn(tx, t, now, approved)
	})
}

func (e *Engine) step(ctx context.Context, op, actorID, tripID string, fn stepFunc) (*models.Trip, error) {
	start := time.Now()
	var (
		out *models.Trip
		ch  change
		now time.Time
	)
	err := func() error {
		if strings.TrimSpace(actorID) == "" {
			return apperr.InvalidInput("actor id is required")
		}
		return e.store.InTx(ctx, func(tx storage.Tx) error {
			t, err := tx.TripForUpdate(ctx, tripID)
			if errors.Is(err, storage.ErrTripNotFound) {
				return apperr.NotFound("trip %s not found", tripID)
			}
			if err != nil {
				return err
			}
			now = e.clock.Now()
			ch, err = fn(tx, t, now)
			if err != nil {
				return err
			}
			if ch.save {
				t.UpdatedAt = now
				if err := tx.SaveTrip(ctx, t); err != nil {
					return err
				}
			}
			out = t
			return nil
		})
	}()
	e.observe(op, start, err)
	if err != nil {
		return nil, e.fail(op, actorID, tripID, err)
	}
	if ch.event == "" {
		return out, nil
	}
	e.logger.Info("trip transition", "op", op, "trip_id", out.ID, "actor_id", actorID, "status", out.Status)
	e.publish(ctx, events.TripEvent{Type: ch.event, ActorID: actorID, CarrierID: ch.carrierID, At: now, Trip: out.Clone()})
	return out, nil
}

func (e *Engine) observe(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(apperr.KindOf(err))
	}
	observability.TransitionsTotal.WithLabelValues(op, outcome).Inc()
	observability.TransitionLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// fail logs the error and wraps anything that is not a domain error.
func (e *Engine) fail(op, actorID, tripID string, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		e.logger.Debug("trip operation rejected", "op", op, "trip_id", tripID, "actor_id", actorID, "kind", ae.Kind, "reason", ae.Reason)
		return err
	}
	e.logger.Error("trip operation failed", "op", op, "trip_id", tripID, "actor_id", actorID, "error", err)
	return fmt.Errorf("%s trip: %w", op, err)
}

// publish runs after commit; a failing sink is logged and otherwise ignored.
func (e *Engine) publish(ctx context.Context, ev events.TripEvent) {
	if err := e.publisher.PublishTrip(context.WithoutCancel(ctx), ev); err != nil {
		e.logger.Warn("trip event publish failed", "type", ev.Type, "trip_id", ev.Trip.ID, "error", err)
	}
}

func wrongStatus(t *models.Trip, want models.TripStatus) error {
	return apperr.InvalidState("trip is %s, expected %s", t.Status, want)
}

func notApproved(carrierID string) error {
	return apperr.NotAuthorized("carrier %s is not approved", carrierID)
}
