// Package refusal keeps the append-only record of which carrier declined
// which trip, and turns it into an exclusion filter for open-trip listings.
package refusal

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/trip-negotiation/internal/models"
	"github.com/example/trip-negotiation/internal/observability"
)

// Writer is the transactional half of the store. storage.Tx satisfies it.
type Writer interface {
	InsertRefusal(ctx context.Context, r models.Refusal) (bool, error)
}

// Reader is the read-only half of the store. storage.TripStore satisfies it.
type Reader interface {
	RefusedTripIDs(ctx context.Context, carrierID string) ([]string, error)
}

type Ledger struct {
	reader Reader
	logger *slog.Logger
}

func New(reader Reader, logger *slog.Logger) *Ledger {
	return &Ledger{reader: reader, logger: logger}
}

// Record writes the (trip, carrier) refusal inside the caller's transaction.
// A pair that already exists is a no-op and reports created=false.
func (l *Ledger) Record(ctx context.Context, w Writer, tripID, carrierID string, at time.Time) (bool, error) {
	created, err := w.InsertRefusal(ctx, models.Refusal{TripID: tripID, CarrierID: carrierID, RefusedAt: at})
	if err != nil {
		return false, err
	}
	if created {
		observability.RefusalsTotal.WithLabelValues("created").Inc()
	} else {
		observability.RefusalsTotal.WithLabelValues("duplicate").Inc()
		l.logger.Debug("refusal already recorded", "trip_id", tripID, "carrier_id", carrierID)
	}
	return created, nil
}

// ExcludedFor loads every trip the carrier has refused.
func (l *Ledger) ExcludedFor(ctx context.Context, carrierID string) (Set, error) {
	ids, err := l.reader.RefusedTripIDs(ctx, carrierID)
	if err != nil {
		return nil, err
	}
	set := make(Set, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// Set is a carrier's exclusion set keyed by trip id. The zero value is an
// empty set.
type Set map[string]struct{}

func (s Set) Contains(tripID string) bool {
	_, ok := s[tripID]
	return ok
}

// Filter drops excluded trips and keeps the input order. An empty set
// returns every trip.
func (s Set) Filter(trips []*models.Trip) []*models.Trip {
	out := make([]*models.Trip, 0, len(trips))
	for _, t := range trips {
		if s.Contains(t.ID) {
			continue
		}
		out = append(out, t)
	}
	return out
}
