package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/trip-negotiation/internal/models"
)

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (c *captureWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func (c *captureWriter) Close() error { return nil }

func TestRecipientsSkipActorAndBlank(t *testing.T) {
	trip := &models.Trip{ID: "t1", RequesterID: "r1"}
	ev := TripEvent{Type: TripAccepted, ActorID: "c1", CarrierID: "c1", Trip: trip}
	if got := ev.Recipients(); len(got) != 1 || got[0] != "r1" {
		t.Fatalf("unexpected recipients %v", got)
	}
	ev = TripEvent{Type: TripCounterRejected, ActorID: "r1", CarrierID: "c2", Trip: trip}
	if got := ev.Recipients(); len(got) != 1 || got[0] != "c2" {
		t.Fatalf("rejected carrier should be notified, got %v", got)
	}
	ev = TripEvent{Type: TripRequested, ActorID: "r1", Trip: trip}
	if got := ev.Recipients(); len(got) != 0 {
		t.Fatalf("expected nobody, got %v", got)
	}
}

func TestKafkaPublisherKeys(t *testing.T) {
	trips, ratings := &captureWriter{}, &captureWriter{}
	k := &KafkaPublisher{trips: trips, ratings: ratings, timeout: time.Second}
	ctx := context.Background()

	if err := k.PublishTrip(ctx, TripEvent{Type: TripStarted, Trip: &models.Trip{ID: "t1"}}); err != nil {
		t.Fatal(err)
	}
	r := &models.Rating{ID: "x", TripID: "t1", RaterID: "r1", RateeID: "c1", Score: 4}
	if err := k.PublishRating(ctx, RatingEvent{Type: RatingCreated, Rating: r}); err != nil {
		t.Fatal(err)
	}
	if len(trips.msgs) != 1 || string(trips.msgs[0].Key) != "t1" {
		t.Fatalf("unexpected trip messages %v", trips.msgs)
	}
	if len(ratings.msgs) != 1 || string(ratings.msgs[0].Key) != "c1" {
		t.Fatalf("unexpected rating messages %v", ratings.msgs)
	}
	ev, err := DecodeRating(ratings.msgs[0].Value)
	if err != nil || ev.Rating.RateeID != "c1" || ev.Type != RatingCreated {
		t.Fatalf("decode: %+v err=%v", ev, err)
	}
}

func TestDecodeRatingRejectsIncomplete(t *testing.T) {
	b, _ := json.Marshal(RatingEvent{Type: RatingCreated})
	if _, err := DecodeRating(b); err == nil {
		t.Fatal("expected error for missing rating")
	}
	if _, err := DecodeRating([]byte("{")); err == nil {
		t.Fatal("expected error for bad json")
	}
}

type failing struct{ Nop }

func (failing) PublishTrip(context.Context, TripEvent) error { return errors.New("sink down") }

func TestFanoutContinuesPastErrors(t *testing.T) {
	trips := &captureWriter{}
	k := &KafkaPublisher{trips: trips, ratings: &captureWriter{}, timeout: time.Second}
	f := Fanout{failing{}, k}
	err := f.PublishTrip(context.Background(), TripEvent{Type: TripCancelled, Trip: &models.Trip{ID: "t9"}})
	if err == nil {
		t.Fatal("expected joined error")
	}
	if len(trips.msgs) != 1 {
		t.Fatal("later sinks must still receive the event")
	}
}
