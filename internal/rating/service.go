// Package rating records the post-trip score each party gives the other.
package rating

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/example/trip-negotiation/internal/apperr"
	"github.com/example/trip-negotiation/internal/clock"
	"github.com/example/trip-negotiation/internal/events"
	"github.com/example/trip-negotiation/internal/models"
	"github.com/example/trip-negotiation/internal/observability"
	"github.com/example/trip-negotiation/internal/storage"
)

type Store interface {
	InTx(ctx context.Context, fn func(tx storage.Tx) error) error
	GetTrip(ctx context.Context, id string) (*models.Trip, error)
	RatingsFor(ctx context.Context, rateeID string) ([]*models.Rating, error)
	HasRated(ctx context.Context, tripID, raterID string) (bool, error)
}

// Refresher recomputes a user's cached reputation once a rating commits.
// reputation.Aggregator satisfies it.
type Refresher interface {
	Refresh(ctx context.Context, userID string) (models.Reputation, error)
}

type Service struct {
	store      Store
	reputation Refresher
	publisher  events.Publisher
	clock      clock.Clock
	newID      func() string
	logger     *slog.Logger
}

type Option func(*Service)

func WithPublisher(p events.Publisher) Option { return func(s *Service) { s.publisher = p } }

func WithClock(c clock.Clock) Option { return func(s *Service) { s.clock = c } }

// New builds the service. reputation may be nil when no cache is in use.
func New(store Store, reputation Refresher, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:      store,
		reputation: reputation,
		publisher:  events.Nop{},
		clock:      clock.System{},
		newID:      uuid.NewString,
		logger:     logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RateTrip stores raterID's score for the other party of a completed trip.
func (s *Service) RateTrip(ctx context.Context, raterID, tripID string, score int, comment string) (*models.Rating, error) {
	if strings.TrimSpace(raterID) == "" {
		return nil, apperr.InvalidInput("rater id is required")
	}
	var (
		out   *models.Rating
		party models.Party
	)
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		t, err := tx.TripForUpdate(ctx, tripID)
		if errors.Is(err, storage.ErrTripNotFound) {
			return apperr.NotFound("trip %s not found", tripID)
		}
		if err != nil {
			return err
		}
		if score < models.MinScore || score > models.MaxScore {
			return apperr.InvalidInput("score must be between %d and %d", models.MinScore, models.MaxScore)
		}
		if t.Status != models.StatusCompleted {
			return apperr.InvalidState("trip is %s, only completed trips can be rated", t.Status)
		}
		party = models.RoleOf(t, raterID)
		if party == models.PartyNone {
			return apperr.NotAuthorized("not a party to this trip")
		}
		rateeID := models.Counterparty(t, party)
		if rateeID == "" {
			return apperr.InvalidState("carrier missing")
		}
		exists, err := tx.RatingExists(ctx, tripID, raterID)
		if err != nil {
			return err
		}
		if exists {
			return apperr.Conflict("already rated")
		}
		r := &models.Rating{
			ID:        s.newID(),
			TripID:    tripID,
			RaterID:   raterID,
			RateeID:   rateeID,
			Score:     score,
			Comment:   strings.TrimSpace(comment),
			CreatedAt: s.clock.Now(),
		}
		if err := tx.InsertRating(ctx, r); err != nil {
			if errors.Is(err, storage.ErrDuplicateRating) {
				return apperr.Conflict("already rated")
			}
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			s.logger.Debug("rating rejected", "trip_id", tripID, "rater_id", raterID, "kind", ae.Kind, "reason", ae.Reason)
			return nil, err
		}
		s.logger.Error("rating failed", "trip_id", tripID, "rater_id", raterID, "error", err)
		return nil, fmt.Errorf("rate trip: %w", err)
	}

	rateeParty := models.PartyCarrier
	if party == models.PartyCarrier {
		rateeParty = models.PartyRequester
	}
	observability.RatingsTotal.WithLabelValues(rateeParty.String()).Inc()
	s.logger.Info("trip rated", "trip_id", tripID, "rater_id", raterID, "ratee_id", out.RateeID, "score", out.Score)

	if s.reputation != nil {
		if _, err := s.reputation.Refresh(context.WithoutCancel(ctx), out.RateeID); err != nil {
			s.logger.Warn("reputation refresh failed", "user_id", out.RateeID, "error", err)
		}
	}
	c := *out
	ev := events.RatingEvent{Type: events.RatingCreated, At: out.CreatedAt, Rating: &c}
	if err := s.publisher.PublishRating(context.WithoutCancel(ctx), ev); err != nil {
		s.logger.Warn("rating event publish failed", "rating_id", out.ID, "error", err)
	}
	return out, nil
}

// HasRated reports whether userID already rated the trip.
func (s *Service) HasRated(ctx context.Context, tripID, userID string) (bool, error) {
	if _, err := s.store.GetTrip(ctx, tripID); err != nil {
		if errors.Is(err, storage.ErrTripNotFound) {
			return false, apperr.NotFound("trip %s not found", tripID)
		}
		return false, err
	}
	return s.store.HasRated(ctx, tripID, userID)
}

// RatingsReceived lists the ratings where userID is the ratee, newest first.
func (s *Service) RatingsReceived(ctx context.Context, userID string) ([]*models.Rating, error) {
	return s.store.RatingsFor(ctx, userID)
}
