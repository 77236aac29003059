package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/trip-negotiation/internal/observability"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes trip events keyed by trip id and rating events
// keyed by ratee id, so one user's ratings stay ordered on a partition.
type KafkaPublisher struct {
	trips   messageWriter
	ratings messageWriter
	timeout time.Duration
}

func NewKafkaPublisher(brokers []string, tripTopic, ratingTopic string) *KafkaPublisher {
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{Addr: kafka.TCP(brokers...), Topic: topic, Balancer: &kafka.Hash{}}
	}
	return &KafkaPublisher{trips: newWriter(tripTopic), ratings: newWriter(ratingTopic), timeout: 2 * time.Second}
}

func (k *KafkaPublisher) PublishTrip(ctx context.Context, ev TripEvent) error {
	return k.write(ctx, k.trips, ev.Trip.ID, ev)
}

func (k *KafkaPublisher) PublishRating(ctx context.Context, ev RatingEvent) error {
	return k.write(ctx, k.ratings, ev.Rating.RateeID, ev)
}

func (k *KafkaPublisher) write(ctx context.Context, w messageWriter, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	if err := w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b}); err != nil {
		observability.EventsPublishedTotal.WithLabelValues("kafka", "error").Inc()
		return err
	}
	observability.EventsPublishedTotal.WithLabelValues("kafka", "ok").Inc()
	return nil
}

func (k *KafkaPublisher) Close() error {
	return errors.Join(k.trips.Close(), k.ratings.Close())
}

// DecodeRating parses a message produced by PublishRating.
func DecodeRating(value []byte) (RatingEvent, error) {
	var ev RatingEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return ev, err
	}
	if ev.Rating == nil || ev.Rating.RateeID == "" {
		return ev, errors.New("rating event without ratee")
	}
	return ev, nil
}
