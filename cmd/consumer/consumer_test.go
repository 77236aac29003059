package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/trip-negotiation/internal/events"
	"github.com/example/trip-negotiation/internal/logging"
	"github.com/example/trip-negotiation/internal/models"
)

// fakeRefresher fails the first failN calls.
type fakeRefresher struct {
	failN int
	calls int
	users []string
}

func (f *fakeRefresher) Refresh(ctx context.Context, userID string) (models.Reputation, error) {
	f.calls++
	if f.calls <= f.failN {
		return models.Reputation{}, errors.New("redis fail")
	}
	f.users = append(f.users, userID)
	return models.Reputation{UserID: userID, Average: 5}, nil
}

func TestRefreshWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeRefresher{failN: 2}
	start := time.Now()
	if err := refreshWithRetry(context.Background(), f, "c1", 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", f.calls)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatalf("expected backoff between attempts")
	}
}

func TestRefreshWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeRefresher{failN: 5}
	if err := refreshWithRetry(context.Background(), f, "c1", 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.calls)
	}
}

// scriptedReader replays messages then blocks until ctx is cancelled.
type scriptedReader struct {
	msgs   []kafka.Message
	cancel context.CancelFunc
}

func (s *scriptedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(s.msgs) == 0 {
		s.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := s.msgs[0]
	s.msgs = s.msgs[1:]
	return m, nil
}

func TestConsumeRefreshesRatee(t *testing.T) {
	good, _ := json.Marshal(events.RatingEvent{Type: events.RatingCreated, Rating: &models.Rating{RateeID: "c7", Score: 4}})
	ctx, cancel := context.WithCancel(context.Background())
	r := &scriptedReader{msgs: []kafka.Message{{Value: []byte("not json")}, {Value: good}}, cancel: cancel}
	f := &fakeRefresher{}

	consume(ctx, r, f, logging.Discard())

	if len(f.users) != 1 || f.users[0] != "c7" {
		t.Fatalf("expected one refresh for c7, got %v", f.users)
	}
}
