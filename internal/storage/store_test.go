package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	bolt "github.com/boltdb/bolt"
	"github.com/google/uuid"

	"github.com/example/trip-negotiation/internal/models"
)

// backends returns every store the suite should run against. Postgres is
// included only when PG_TEST_DSN points at a scratch database.
func backends(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	out := map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
	}
	if !raceEnabled {
		out["bolt"] = func(t *testing.T) Store { return openBolt(t) }
	}
	if dsn := os.Getenv("PG_TEST_DSN"); dsn != "" {
		out["postgres"] = func(t *testing.T) Store {
			s, err := NewPostgresStore(dsn)
			if err != nil {
				t.Fatalf("open postgres: %v", err)
			}
			if _, err := s.Migrate(context.Background()); err != nil {
				t.Fatalf("migrate: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		}
	}
	return out
}

func openBolt(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "trips.db"))
	if err != nil {
		t.Fatalf("open bolt: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTrip(requester string, created time.Time) *models.Trip {
	return &models.Trip{
		ID:             uuid.NewString(),
		RequesterID:    requester,
		Origin:         "Pier 1",
		Destination:    "Island",
		Headcount:      1,
		Payment:        models.PaymentCash,
		Status:         models.StatusPending,
		RequestedAt:    created,
		ProposedAmount: 10000,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
}

func TestStores(t *testing.T) {
	for name, open := range backends(t) {
		open := open
		t.Run(name, func(t *testing.T) {
			t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, open(t)) })
			t.Run("OpenTripsOrdering", func(t *testing.T) { testOpenTripsOrdering(t, open(t)) })
			t.Run("TxRollback", func(t *testing.T) { testTxRollback(t, open(t)) })
			t.Run("RefusalIdempotent", func(t *testing.T) { testRefusalIdempotent(t, open(t)) })
			t.Run("RatingUnique", func(t *testing.T) { testRatingUnique(t, open(t)) })
			t.Run("CarrierApproval", func(t *testing.T) { testCarrierApproval(t, open(t)) })
		})
	}
}

func testCreateAndGet(t *testing.T, s Store) {
	ctx := context.Background()
	trip := newTrip("r1", base)
	sched := base.Add(24 * time.Hour)
	trip.ScheduledFor = &sched
	trip.Notes = "two bags"
	if err := s.CreateTrip(ctx, trip); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateTrip(ctx, trip); !errors.Is(err, ErrTripExists) {
		t.Fatalf("expected ErrTripExists, got %v", err)
	}
	got, err := s.GetTrip(ctx, trip.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.RequesterID != "r1" || got.CarrierID != nil || got.Notes != "two bags" {
		t.Fatalf("unexpected trip %+v", got)
	}
	if got.ScheduledFor == nil || !got.ScheduledFor.Equal(sched) {
		t.Fatalf("scheduled_for not round-tripped: %v", got.ScheduledFor)
	}
	if _, err := s.GetTrip(ctx, "missing"); !errors.Is(err, ErrTripNotFound) {
		t.Fatalf("expected ErrTripNotFound, got %v", err)
	}
}

func testOpenTripsOrdering(t *testing.T, s Store) {
	ctx := context.Background()
	older := newTrip("r1", base)
	newer := newTrip("r2", base.Add(time.Minute))
	taken := newTrip("r3", base.Add(2*time.Minute))
	for _, tr := range []*models.Trip{older, newer, taken} {
		if err := s.CreateTrip(ctx, tr); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	err := s.InTx(ctx, func(tx Tx) error {
		tr, err := tx.TripForUpdate(ctx, taken.ID)
		if err != nil {
			return err
		}
		c := "c1"
		tr.CarrierID = &c
		tr.Status = models.StatusAccepted
		tr.AgreedAmount = models.AmountPtr(tr.ProposedAmount)
		return tx.SaveTrip(ctx, tr)
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	open, err := s.OpenTrips(ctx)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if len(open) != 2 || open[0].ID != newer.ID || open[1].ID != older.ID {
		t.Fatalf("unexpected open trips %v", ids(open))
	}
	byCarrier, err := s.TripsByCarrier(ctx, "c1")
	if err != nil || len(byCarrier) != 1 || byCarrier[0].ID != taken.ID {
		t.Fatalf("unexpected carrier trips %v err=%v", ids(byCarrier), err)
	}
	if *byCarrier[0].AgreedAmount != 10000 {
		t.Fatalf("agreed amount not persisted")
	}
}

func testTxRollback(t *testing.T, s Store) {
	ctx := context.Background()
	trip := newTrip("r1", base)
	if err := s.CreateTrip(ctx, trip); err != nil {
		t.Fatalf("create: %v", err)
	}
	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx Tx) error {
		tr, err := tx.TripForUpdate(ctx, trip.ID)
		if err != nil {
			return err
		}
		tr.Status = models.StatusCancelled
		if err := tx.SaveTrip(ctx, tr); err != nil {
			return err
		}
		if _, err := tx.InsertRefusal(ctx, models.Refusal{TripID: trip.ID, CarrierID: "c1", RefusedAt: base}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	got, _ := s.GetTrip(ctx, trip.ID)
	if got.Status != models.StatusPending {
		t.Fatalf("rolled back write is visible: %s", got.Status)
	}
	if refused, _ := s.HasRefused(ctx, trip.ID, "c1"); refused {
		t.Fatal("rolled back refusal is visible")
	}
}

func testRefusalIdempotent(t *testing.T, s Store) {
	ctx := context.Background()
	trip := newTrip("r1", base)
	if err := s.CreateTrip(ctx, trip); err != nil {
		t.Fatalf("create: %v", err)
	}
	var wg sync.WaitGroup
	results := make(chan bool, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.InTx(ctx, func(tx Tx) error {
				created, err := tx.InsertRefusal(ctx, models.Refusal{TripID: trip.ID, CarrierID: "c1", RefusedAt: base})
				results <- created
				return err
			})
		}()
	}
	wg.Wait()
	close(results)
	created := 0
	for c := range results {
		if c {
			created++
		}
	}
	if created != 1 {
		t.Fatalf("expected exactly one created refusal, got %d", created)
	}
	ids, err := s.RefusedTripIDs(ctx, "c1")
	if err != nil || len(ids) != 1 || ids[0] != trip.ID {
		t.Fatalf("unexpected refused ids %v err=%v", ids, err)
	}
	if other, _ := s.RefusedTripIDs(ctx, "c2"); len(other) != 0 {
		t.Fatalf("refusal leaked to another carrier: %v", other)
	}
}

func testRatingUnique(t *testing.T, s Store) {
	ctx := context.Background()
	trip := newTrip("r1", base)
	if err := s.CreateTrip(ctx, trip); err != nil {
		t.Fatalf("create: %v", err)
	}
	agg, err := s.RatingAggregate(ctx, "c1")
	if err != nil || agg.Count != 0 || agg.Mean != nil {
		t.Fatalf("expected empty aggregate, got %+v err=%v", agg, err)
	}
	insert := func(score int) error {
		return s.InTx(ctx, func(tx Tx) error {
			return tx.InsertRating(ctx, &models.Rating{
				ID: uuid.NewString(), TripID: trip.ID, RaterID: "r1", RateeID: "c1", Score: score, CreatedAt: base,
			})
		})
	}
	if err := insert(4); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := insert(1); !errors.Is(err, ErrDuplicateRating) {
		t.Fatalf("expected ErrDuplicateRating, got %v", err)
	}
	agg, err = s.RatingAggregate(ctx, "c1")
	if err != nil || agg.Count != 1 || agg.Mean == nil || *agg.Mean != 4 {
		t.Fatalf("unexpected aggregate %+v err=%v", agg, err)
	}
	rated, _ := s.HasRated(ctx, trip.ID, "r1")
	notRated, _ := s.HasRated(ctx, trip.ID, "c1")
	if !rated || notRated {
		t.Fatalf("HasRated mismatch: rater=%v other=%v", rated, notRated)
	}
	rs, err := s.RatingsFor(ctx, "c1")
	if err != nil || len(rs) != 1 || rs[0].Score != 4 {
		t.Fatalf("unexpected ratings %v err=%v", rs, err)
	}
}

func testCarrierApproval(t *testing.T, s Store) {
	ctx := context.Background()
	if _, err := s.CarrierApproval(ctx, "c9"); !errors.Is(err, ErrCarrierNotFound) {
		t.Fatalf("expected ErrCarrierNotFound for unknown carrier, got %v", err)
	}
	err := s.UpdateCarrierApproval(ctx, models.CarrierApproval{CarrierID: "c9", Status: models.ApprovalApproved, UpdatedAt: base})
	if !errors.Is(err, ErrCarrierNotFound) {
		t.Fatalf("update must not create a carrier, got %v", err)
	}
	_ = s.SetCarrierApproval(ctx, models.CarrierApproval{CarrierID: "c1", Status: models.ApprovalPending, UpdatedAt: base})
	_ = s.SetCarrierApproval(ctx, models.CarrierApproval{CarrierID: "c2", Status: models.ApprovalPending, UpdatedAt: base.Add(time.Second)})
	if err := s.UpdateCarrierApproval(ctx, models.CarrierApproval{CarrierID: "c1", Status: models.ApprovalApproved, UpdatedAt: base.Add(2 * time.Second)}); err != nil {
		t.Fatalf("update: %v", err)
	}
	pending, err := s.CarriersByApproval(ctx, models.ApprovalPending)
	if err != nil || len(pending) != 1 || pending[0].CarrierID != "c2" {
		t.Fatalf("unexpected pending %v err=%v", pending, err)
	}
	a, _ := s.CarrierApproval(ctx, "c1")
	if a.Status != models.ApprovalApproved {
		t.Fatalf("expected approved, got %s", a.Status)
	}
}

func ids(ts []*models.Trip) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.ID)
	}
	return out
}

func TestBoltRejectsCorruptRecords(t *testing.T) {
	if raceEnabled {
		t.Skip("boltdb/bolt fails checkptr under -race")
	}
	ctx := context.Background()
	s := openBolt(t)
	trip := newTrip("r1", base)
	trip.Status = "LOST"
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := putJSON(tx.Bucket(tripsBucket), []byte(trip.ID), trip); err != nil {
			return err
		}
		return putJSON(tx.Bucket(approvalsBucket), []byte("c1"), models.CarrierApproval{CarrierID: "c1", Status: "MAYBE"})
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetTrip(ctx, trip.ID); !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("expected ErrCorruptRecord from GetTrip, got %v", err)
	}
	if _, err := s.OpenTrips(ctx); !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("expected ErrCorruptRecord from OpenTrips, got %v", err)
	}
	if _, err := s.CarrierApproval(ctx, "c1"); !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("expected ErrCorruptRecord from CarrierApproval, got %v", err)
	}
}
