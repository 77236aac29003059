// Package matcher builds the trip lists callers browse: the open trips a
// carrier may still take, and each party's own trips.
package matcher

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/example/trip-negotiation/internal/apperr"
	"github.com/example/trip-negotiation/internal/models"
	"github.com/example/trip-negotiation/internal/observability"
	"github.com/example/trip-negotiation/internal/refusal"
)

type TripLister interface {
	OpenTrips(ctx context.Context) ([]*models.Trip, error)
	TripsByRequester(ctx context.Context, requesterID string) ([]*models.Trip, error)
	TripsByCarrier(ctx context.Context, carrierID string) ([]*models.Trip, error)
}

type Exclusions interface {
	ExcludedFor(ctx context.Context, carrierID string) (refusal.Set, error)
}

type Scorer interface {
	AverageRating(ctx context.Context, userID string) (float64, error)
}

type Service struct {
	Store      TripLister
	Refusals   Exclusions
	Reputation Scorer
	Logger     *slog.Logger
}

// OpenTrips lists PENDING, unassigned trips the carrier has not refused.
func (s *Service) OpenTrips(ctx context.Context, carrierID string) ([]models.TripView, error) {
	if strings.TrimSpace(carrierID) == "" {
		return nil, apperr.InvalidInput("carrier id is required")
	}
	excluded, err := s.Refusals.ExcludedFor(ctx, carrierID)
	if err != nil {
		return nil, err
	}
	trips, err := s.Store.OpenTrips(ctx)
	if err != nil {
		return nil, err
	}
	open := make([]*models.Trip, 0, len(trips))
	for _, t := range excluded.Filter(trips) {
		if t.Status == models.StatusPending && t.CarrierID == nil {
			open = append(open, t)
		}
	}
	observability.OpenTripsListed.Observe(float64(len(open)))
	s.Logger.Debug("open trips listed", "carrier_id", carrierID, "count", len(open), "excluded", len(excluded))
	return s.views(ctx, open)
}

func (s *Service) TripsForRequester(ctx context.Context, requesterID string) ([]models.TripView, error) {
	if strings.TrimSpace(requesterID) == "" {
		return nil, apperr.InvalidInput("requester id is required")
	}
	trips, err := s.Store.TripsByRequester(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	return s.views(ctx, trips)
}

func (s *Service) TripsForCarrier(ctx context.Context, carrierID string) ([]models.TripView, error) {
	if strings.TrimSpace(carrierID) == "" {
		return nil, apperr.InvalidInput("carrier id is required")
	}
	trips, err := s.Store.TripsByCarrier(ctx, carrierID)
	if err != nil {
		return nil, err
	}
	return s.views(ctx, trips)
}

// View decorates a single trip with both parties' reputation.
func (s *Service) View(ctx context.Context, t *models.Trip) (models.TripView, error) {
	vs, err := s.views(ctx, []*models.Trip{t})
	if err != nil {
		return models.TripView{}, err
	}
	return vs[0], nil
}

func (s *Service) views(ctx context.Context, trips []*models.Trip) ([]models.TripView, error) {
	sort.SliceStable(trips, func(i, j int) bool {
		if !trips[i].CreatedAt.Equal(trips[j].CreatedAt) {
			return trips[i].CreatedAt.After(trips[j].CreatedAt)
		}
		return trips[i].ID > trips[j].ID
	})
	scores := make(map[string]float64)
	score := func(userID string) (float64, error) {
		if v, ok := scores[userID]; ok {
			return v, nil
		}
		v, err := s.Reputation.AverageRating(ctx, userID)
		if err != nil {
			return 0, err
		}
		scores[userID] = v
		return v, nil
	}
	out := make([]models.TripView, 0, len(trips))
	for _, t := range trips {
		v := models.TripView{Trip: t}
		r, err := score(t.RequesterID)
		if err != nil {
			return nil, err
		}
		v.RequesterRating = r
		if c := t.Carrier(); c != "" {
			cr, err := score(c)
			if err != nil {
				return nil, err
			}
			v.CarrierRating = &cr
		}
		out = append(out, v)
	}
	return out, nil
}
