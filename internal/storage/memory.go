package storage

import (
	"context"
	"sync"

	"github.com/example/trip-negotiation/internal/models"
)

type pairKey struct{ a, b string }

// MemoryStore keeps everything in maps guarded by one RWMutex. Transactions
// take the write lock for their whole duration and stage their writes, so a
// failed callback leaves no trace.
type MemoryStore struct {
	mu        sync.RWMutex
	trips     map[string]*models.Trip
	refusals  map[pairKey]models.Refusal // (carrier, trip)
	ratings   map[string]*models.Rating
	ratingKey map[pairKey]string // (trip, rater) -> rating id
	approvals map[string]models.CarrierApproval
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trips:     make(map[string]*models.Trip),
		refusals:  make(map[pairKey]models.Refusal),
		ratings:   make(map[string]*models.Rating),
		ratingKey: make(map[pairKey]string),
		approvals: make(map[string]models.CarrierApproval),
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memTx{
		store:    m,
		trips:    make(map[string]*models.Trip),
		refusals: make(map[pairKey]models.Refusal),
		ratings:  make(map[pairKey]*models.Rating),
	}
	if err := fn(tx); err != nil {
		return err
	}
	for id, t := range tx.trips {
		m.trips[id] = t
	}
	for k, r := range tx.refusals {
		m.refusals[k] = r
	}
	for k, r := range tx.ratings {
		m.ratings[r.ID] = r
		m.ratingKey[k] = r.ID
	}
	return nil
}

func (m *MemoryStore) CreateTrip(ctx context.Context, t *models.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trips[t.ID]; ok {
		return ErrTripExists
	}
	m.trips[t.ID] = t.Clone()
	return nil
}

func (m *MemoryStore) GetTrip(ctx context.Context, id string) (*models.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trips[id]
	if !ok {
		return nil, ErrTripNotFound
	}
	return t.Clone(), nil
}

func (m *MemoryStore) OpenTrips(ctx context.Context) ([]*models.Trip, error) {
	return m.filterTrips(isOpen), nil
}

func (m *MemoryStore) TripsByRequester(ctx context.Context, requesterID string) ([]*models.Trip, error) {
	return m.filterTrips(func(t *models.Trip) bool { return t.RequesterID == requesterID }), nil
}

func (m *MemoryStore) TripsByCarrier(ctx context.Context, carrierID string) ([]*models.Trip, error) {
	return m.filterTrips(func(t *models.Trip) bool { return t.Carrier() == carrierID }), nil
}

func (m *MemoryStore) filterTrips(keep func(*models.Trip) bool) []*models.Trip {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Trip, 0)
	for _, t := range m.trips {
		if keep(t) {
			out = append(out, t.Clone())
		}
	}
	sortNewestFirst(out)
	return out
}

func (m *MemoryStore) RefusedTripIDs(ctx context.Context, carrierID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for k := range m.refusals {
		if k.a == carrierID {
			ids = append(ids, k.b)
		}
	}
	return ids, nil
}

func (m *MemoryStore) HasRefused(ctx context.Context, tripID, carrierID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.refusals[pairKey{carrierID, tripID}]
	return ok, nil
}

func (m *MemoryStore) RatingAggregate(ctx context.Context, rateeID string) (RatingAggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var scores []int
	for _, r := range m.ratings {
		if r.RateeID == rateeID {
			scores = append(scores, r.Score)
		}
	}
	return RatingAggregate{Count: int64(len(scores)), Mean: meanOf(scores)}, nil
}

func (m *MemoryStore) RatingsFor(ctx context.Context, rateeID string) ([]*models.Rating, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Rating, 0)
	for _, r := range m.ratings {
		if r.RateeID == rateeID {
			c := *r
			out = append(out, &c)
		}
	}
	sortRatingsNewestFirst(out)
	return out, nil
}

func (m *MemoryStore) HasRated(ctx context.Context, tripID, raterID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.ratingKey[pairKey{tripID, raterID}]
	return ok, nil
}

func (m *MemoryStore) CarrierApproval(ctx context.Context, carrierID string) (models.CarrierApproval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a, ok := m.approvals[carrierID]; ok {
		return a, nil
	}
	return models.CarrierApproval{}, ErrCarrierNotFound
}

func (m *MemoryStore) SetCarrierApproval(ctx context.Context, a models.CarrierApproval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approvals[a.CarrierID] = a
	return nil
}

func (m *MemoryStore) UpdateCarrierApproval(ctx context.Context, a models.CarrierApproval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.approvals[a.CarrierID]; !ok {
		return ErrCarrierNotFound
	}
	m.approvals[a.CarrierID] = a
	return nil
}

func (m *MemoryStore) CarriersByApproval(ctx context.Context, status models.ApprovalStatus) ([]models.CarrierApproval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.CarrierApproval, 0)
	for _, a := range m.approvals {
		if a.Status == status {
			out = append(out, a)
		}
	}
	sortApprovals(out)
	return out, nil
}

type memTx struct {
	store    *MemoryStore
	trips    map[string]*models.Trip
	refusals map[pairKey]models.Refusal
	ratings  map[pairKey]*models.Rating
}

func (tx *memTx) TripForUpdate(ctx context.Context, id string) (*models.Trip, error) {
	if t, ok := tx.trips[id]; ok {
		return t.Clone(), nil
	}
	t, ok := tx.store.trips[id]
	if !ok {
		return nil, ErrTripNotFound
	}
	return t.Clone(), nil
}

func (tx *memTx) SaveTrip(ctx context.Context, t *models.Trip) error {
	if _, ok := tx.store.trips[t.ID]; !ok {
		if _, staged := tx.trips[t.ID]; !staged {
			return ErrTripNotFound
		}
	}
	tx.trips[t.ID] = t.Clone()
	return nil
}

func (tx *memTx) InsertRefusal(ctx context.Context, r models.Refusal) (bool, error) {
	k := pairKey{r.CarrierID, r.TripID}
	if _, ok := tx.store.refusals[k]; ok {
		return false, nil
	}
	if _, ok := tx.refusals[k]; ok {
		return false, nil
	}
	tx.refusals[k] = r
	return true, nil
}

func (tx *memTx) RatingExists(ctx context.Context, tripID, raterID string) (bool, error) {
	k := pairKey{tripID, raterID}
	if _, ok := tx.store.ratingKey[k]; ok {
		return true, nil
	}
	_, ok := tx.ratings[k]
	return ok, nil
}

func (tx *memTx) InsertRating(ctx context.Context, r *models.Rating) error {
	exists, _ := tx.RatingExists(ctx, r.TripID, r.RaterID)
	if exists {
		return ErrDuplicateRating
	}
	c := *r
	tx.ratings[pairKey{r.TripID, r.RaterID}] = &c
	return nil
}
