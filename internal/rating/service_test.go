package rating

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/example/trip-negotiation/internal/apperr"
	"github.com/example/trip-negotiation/internal/clock"
	"github.com/example/trip-negotiation/internal/events"
	"github.com/example/trip-negotiation/internal/logging"
	"github.com/example/trip-negotiation/internal/models"
	"github.com/example/trip-negotiation/internal/reputation"
	"github.com/example/trip-negotiation/internal/storage"
)

// refreshes records which users had their reputation recomputed.
type refreshes struct {
	mu    sync.Mutex
	users []string
}

func (r *refreshes) Refresh(ctx context.Context, userID string) (models.Reputation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, userID)
	return models.Reputation{UserID: userID}, nil
}

// memCache is a reputation.Cache that keeps the entry with the larger count.
type memCache struct {
	mu      sync.Mutex
	entries map[string]models.Reputation
}

func (m *memCache) Get(ctx context.Context, userID string) (models.Reputation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rep, ok := m.entries[userID]
	return rep, ok, nil
}

func (m *memCache) Set(ctx context.Context, rep models.Reputation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.entries[rep.UserID]; ok && cur.Count > rep.Count {
		return nil
	}
	m.entries[rep.UserID] = rep
	return nil
}

type ratingEvents struct {
	events.Nop
	got []events.RatingEvent
}

func (r *ratingEvents) PublishRating(ctx context.Context, ev events.RatingEvent) error {
	r.got = append(r.got, ev)
	return nil
}

var when = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

func seedTrip(t *testing.T, store *storage.MemoryStore, id string, status models.TripStatus, carrier string) {
	t.Helper()
	trip := &models.Trip{
		ID: id, RequesterID: "r1", Origin: "a", Destination: "b", Headcount: 1,
		Payment: models.PaymentCash, Status: status, RequestedAt: when, ProposedAmount: 100,
		CreatedAt: when, UpdatedAt: when,
	}
	if carrier != "" {
		trip.CarrierID = &carrier
		trip.AgreedAmount = models.AmountPtr(100)
	}
	if err := store.CreateTrip(context.Background(), trip); err != nil {
		t.Fatal(err)
	}
}

func newService(store *storage.MemoryStore) (*Service, *refreshes, *ratingEvents) {
	inv := &refreshes{}
	pub := &ratingEvents{}
	return New(store, inv, logging.Discard(), WithPublisher(pub), WithClock(clock.Func(func() time.Time { return when }))), inv, pub
}

func TestRateTripBothWays(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedTrip(t, store, "t1", models.StatusCompleted, "c1")
	svc, inv, pub := newService(store)
	agg := reputation.New(store, nil, logging.Discard())

	r, err := svc.RateTrip(ctx, "r1", "t1", 4, " smooth ride ")
	if err != nil {
		t.Fatal(err)
	}
	if r.RateeID != "c1" || r.Comment != "smooth ride" || !r.CreatedAt.Equal(when) {
		t.Fatalf("unexpected rating %+v", r)
	}
	if _, err := svc.RateTrip(ctx, "c1", "t1", 2, ""); err != nil {
		t.Fatal(err)
	}

	if avg, _ := agg.AverageRating(ctx, "c1"); avg != 4 {
		t.Fatalf("carrier average %v, want 4", avg)
	}
	if avg, _ := agg.AverageRating(ctx, "r1"); avg != 2 {
		t.Fatalf("requester average %v, want 2", avg)
	}
	if len(inv.users) != 2 || inv.users[0] != "c1" || inv.users[1] != "r1" {
		t.Fatalf("unexpected refreshes %v", inv.users)
	}
	if len(pub.got) != 2 || pub.got[0].Type != events.RatingCreated {
		t.Fatalf("unexpected events %+v", pub.got)
	}
}

func TestRateTripTwiceConflicts(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedTrip(t, store, "t1", models.StatusCompleted, "c1")
	svc, _, _ := newService(store)
	agg := reputation.New(store, nil, logging.Discard())

	if _, err := svc.RateTrip(ctx, "r1", "t1", 1, ""); err != nil {
		t.Fatal(err)
	}
	_, err := svc.RateTrip(ctx, "r1", "t1", 5, "")
	if apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	count, _ := agg.RatingCount(ctx, "c1")
	avg, _ := agg.AverageRating(ctx, "c1")
	if count != 1 || avg != 1 {
		t.Fatalf("expected one contribution, got count=%d avg=%v", count, avg)
	}
	rated, _ := svc.HasRated(ctx, "t1", "r1")
	other, _ := svc.HasRated(ctx, "t1", "c1")
	if !rated || other {
		t.Fatalf("HasRated mismatch rater=%v other=%v", rated, other)
	}
}

func TestRateTripPreconditions(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedTrip(t, store, "done", models.StatusCompleted, "c1")
	seedTrip(t, store, "moving", models.StatusInProgress, "c1")
	seedTrip(t, store, "orphan", models.StatusCompleted, "")
	svc, _, _ := newService(store)

	cases := []struct {
		name  string
		rater string
		trip  string
		score int
		want  apperr.Kind
	}{
		{"missing trip", "r1", "nope", 3, apperr.KindNotFound},
		{"score too high", "r1", "done", 6, apperr.KindInvalidInput},
		{"score negative", "r1", "done", -1, apperr.KindInvalidInput},
		{"not completed", "r1", "moving", 3, apperr.KindInvalidState},
		{"stranger", "x9", "done", 3, apperr.KindNotAuthorized},
		{"carrier missing", "r1", "orphan", 3, apperr.KindInvalidState},
	}
	for _, tc := range cases {
		_, err := svc.RateTrip(ctx, tc.rater, tc.trip, tc.score, "")
		if got := apperr.KindOf(err); got != tc.want {
			t.Fatalf("%s: expected %s, got %v", tc.name, tc.want, err)
		}
	}
	if _, err := svc.RateTrip(ctx, "r1", "done", 0, ""); err != nil {
		t.Fatalf("zero is a valid score: %v", err)
	}
}

func TestRatingsReceivedNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedTrip(t, store, "t1", models.StatusCompleted, "c1")
	seedTrip(t, store, "t2", models.StatusCompleted, "c1")
	at := when
	svc := New(store, nil, logging.Discard(), WithClock(clock.Func(func() time.Time { at = at.Add(time.Minute); return at })))
	for _, id := range []string{"t1", "t2"} {
		if _, err := svc.RateTrip(ctx, "r1", id, 5, ""); err != nil {
			t.Fatal(err)
		}
	}
	rs, err := svc.RatingsReceived(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rs) != 2 || rs[0].TripID != "t2" {
		t.Fatalf("unexpected ratings %+v", rs)
	}
}

func TestHasRatedUnknownTrip(t *testing.T) {
	svc, _, _ := newService(storage.NewMemoryStore())
	_, err := svc.HasRated(context.Background(), "nope", "r1")
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRatingRefreshesCachedReputation(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedTrip(t, store, "t1", models.StatusCompleted, "c1")
	agg := reputation.New(store, &memCache{entries: map[string]models.Reputation{}}, logging.Discard())
	svc := New(store, agg, logging.Discard())

	// Warm the cache with the pre-rating summary.
	if rep, _ := agg.Summary(ctx, "c1"); rep.Count != 0 {
		t.Fatalf("unexpected warm summary %+v", rep)
	}
	if _, err := svc.RateTrip(ctx, "r1", "t1", 2, ""); err != nil {
		t.Fatal(err)
	}
	rep, err := agg.Summary(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if rep.Count != 1 || rep.Average != 2 {
		t.Fatalf("cache still serves the old summary: %+v", rep)
	}
}
