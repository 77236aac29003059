package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/example/trip-negotiation/internal/models"
)

var (
	ErrTripNotFound    = errors.New("trip not found")
	ErrTripExists      = errors.New("trip already exists")
	ErrDuplicateRating = errors.New("rating already exists for trip and rater")
	ErrCarrierNotFound = errors.New("carrier not found")
	// ErrCorruptRecord wraps rows whose enum columns hold unknown values.
	ErrCorruptRecord = errors.New("corrupt record")
)

// Tx is the write view of a store inside one atomic transaction. Nothing
// written through a Tx is visible to other callers unless the enclosing
// InTx callback returns nil.
type Tx interface {
	// TripForUpdate loads a trip and holds its write lock until the
	// transaction ends.
	TripForUpdate(ctx context.Context, id string) (*models.Trip, error)
	SaveTrip(ctx context.Context, t *models.Trip) error
	// InsertRefusal records r unless the (trip, carrier) pair already exists.
	// created is false for the duplicate case, which is not an error.
	InsertRefusal(ctx context.Context, r models.Refusal) (created bool, err error)
	RatingExists(ctx context.Context, tripID, raterID string) (bool, error)
	// InsertRating returns ErrDuplicateRating when (trip, rater) is taken.
	InsertRating(ctx context.Context, r *models.Rating) error
}

// RatingAggregate is the raw aggregate over ratings received by one user.
// Mean is nil when the backend could not compute one (no rows).
type RatingAggregate struct {
	Count int64
	Mean  *float64
}

// TripStore holds trips and refusal records.
type TripStore interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	CreateTrip(ctx context.Context, t *models.Trip) error
	GetTrip(ctx context.Context, id string) (*models.Trip, error)
	// OpenTrips returns PENDING trips without a carrier, newest first.
	OpenTrips(ctx context.Context) ([]*models.Trip, error)
	TripsByRequester(ctx context.Context, requesterID string) ([]*models.Trip, error)
	TripsByCarrier(ctx context.Context, carrierID string) ([]*models.Trip, error)
	RefusedTripIDs(ctx context.Context, carrierID string) ([]string, error)
	HasRefused(ctx context.Context, tripID, carrierID string) (bool, error)
}

// RatingStore holds post-completion ratings.
type RatingStore interface {
	RatingAggregate(ctx context.Context, rateeID string) (RatingAggregate, error)
	RatingsFor(ctx context.Context, rateeID string) ([]*models.Rating, error)
	HasRated(ctx context.Context, tripID, raterID string) (bool, error)
}

// CarrierStore holds the administrative approval state of carriers. A
// carrier exists once it has applied; CarrierApproval and
// UpdateCarrierApproval return ErrCarrierNotFound before that.
type CarrierStore interface {
	CarrierApproval(ctx context.Context, carrierID string) (models.CarrierApproval, error)
	// SetCarrierApproval inserts or replaces the record.
	SetCarrierApproval(ctx context.Context, a models.CarrierApproval) error
	// UpdateCarrierApproval replaces an existing record only.
	UpdateCarrierApproval(ctx context.Context, a models.CarrierApproval) error
	CarriersByApproval(ctx context.Context, status models.ApprovalStatus) ([]models.CarrierApproval, error)
}

// Store is implemented by every backend.
type Store interface {
	TripStore
	RatingStore
	CarrierStore
	Close() error
}

// sortNewestFirst orders by creation time descending, ties by id descending.
func sortNewestFirst(trips []*models.Trip) {
	sort.Slice(trips, func(i, j int) bool {
		if !trips[i].CreatedAt.Equal(trips[j].CreatedAt) {
			return trips[i].CreatedAt.After(trips[j].CreatedAt)
		}
		return trips[i].ID > trips[j].ID
	})
}

func sortRatingsNewestFirst(rs []*models.Rating) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.After(rs[j].CreatedAt)
		}
		return rs[i].ID > rs[j].ID
	})
}

// sortApprovals orders oldest update first so the admin queue is FIFO.
func sortApprovals(as []models.CarrierApproval) {
	sort.Slice(as, func(i, j int) bool {
		if !as[i].UpdatedAt.Equal(as[j].UpdatedAt) {
			return as[i].UpdatedAt.Before(as[j].UpdatedAt)
		}
		return as[i].CarrierID < as[j].CarrierID
	})
}

func checkTrip(t *models.Trip) error {
	if !t.Status.Valid() || !t.Payment.Valid() {
		return fmt.Errorf("%w: trip %s has status %q payment %q", ErrCorruptRecord, t.ID, t.Status, t.Payment)
	}
	return nil
}

func checkApproval(a models.CarrierApproval) error {
	if !a.Status.Valid() {
		return fmt.Errorf("%w: carrier %s has approval status %q", ErrCorruptRecord, a.CarrierID, a.Status)
	}
	return nil
}

func isOpen(t *models.Trip) bool {
	return t.Status == models.StatusPending && t.CarrierID == nil
}

func meanOf(scores []int) *float64 {
	if len(scores) == 0 {
		return nil
	}
	var sum int
	for _, s := range scores {
		sum += s
	}
	m := float64(sum) / float64(len(scores))
	return &m
}
