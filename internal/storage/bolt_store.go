package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/example/trip-negotiation/internal/models"
)

var (
	tripsBucket      = []byte("trips")
	refusalsBucket   = []byte("refusals")    // carrier \x00 trip -> Refusal
	ratingsBucket    = []byte("ratings")     // rating id -> Rating
	ratingKeysBucket = []byte("rating_keys") // trip \x00 rater -> rating id
	approvalsBucket  = []byte("carrier_approvals")
)

// BoltStore is the embedded single-file backend. Bolt allows one writer at
// a time, which gives InTx the same serialisation as a row lock.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{tripsBucket, refusalsBucket, ratingsBucket, ratingKeysBucket, approvalsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func compositeKey(a, b string) []byte {
	k := make([]byte, 0, len(a)+len(b)+1)
	k = append(k, a...)
	k = append(k, 0)
	return append(k, b...)
}

func (s *BoltStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.Update(func(btx *bolt.Tx) error {
		return fn(&boltTx{tx: btx})
	})
}

func (s *BoltStore) CreateTrip(ctx context.Context, t *models.Trip) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(tripsBucket)
		if b.Get([]byte(t.ID)) != nil {
			return ErrTripExists
		}
		return putJSON(b, []byte(t.ID), t)
	})
}

func (s *BoltStore) GetTrip(ctx context.Context, id string) (*models.Trip, error) {
	var t *models.Trip
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		t, err = readTrip(tx, id)
		return err
	})
	return t, err
}

func (s *BoltStore) OpenTrips(ctx context.Context) ([]*models.Trip, error) {
	return s.scanTrips(isOpen)
}

func (s *BoltStore) TripsByRequester(ctx context.Context, requesterID string) ([]*models.Trip, error) {
	return s.scanTrips(func(t *models.Trip) bool { return t.RequesterID == requesterID })
}

func (s *BoltStore) TripsByCarrier(ctx context.Context, carrierID string) ([]*models.Trip, error) {
	return s.scanTrips(func(t *models.Trip) bool { return t.Carrier() == carrierID })
}

func (s *BoltStore) scanTrips(keep func(*models.Trip) bool) ([]*models.Trip, error) {
	out := make([]*models.Trip, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(tripsBucket).ForEach(func(k, v []byte) error {
			var t models.Trip
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if err := checkTrip(&t); err != nil {
				return err
			}
			if keep(&t) {
				out = append(out, &t)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *BoltStore) RefusedTripIDs(ctx context.Context, carrierID string) ([]string, error) {
	var ids []string
	prefix := compositeKey(carrierID, "")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(refusalsBucket).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			ids = append(ids, string(k[len(prefix):]))
		}
		return nil
	})
	return ids, err
}

func (s *BoltStore) HasRefused(ctx context.Context, tripID, carrierID string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(refusalsBucket).Get(compositeKey(carrierID, tripID)) != nil
		return nil
	})
	return found, err
}

func (s *BoltStore) RatingAggregate(ctx context.Context, rateeID string) (RatingAggregate, error) {
	rs, err := s.RatingsFor(ctx, rateeID)
	if err != nil {
		return RatingAggregate{}, err
	}
	scores := make([]int, 0, len(rs))
	for _, r := range rs {
		scores = append(scores, r.Score)
	}
	return RatingAggregate{Count: int64(len(scores)), Mean: meanOf(scores)}, nil
}

func (s *BoltStore) RatingsFor(ctx context.Context, rateeID string) ([]*models.Rating, error) {
	out := make([]*models.Rating, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(ratingsBucket).ForEach(func(k, v []byte) error {
			var r models.Rating
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.RateeID == rateeID {
				out = append(out, &r)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortRatingsNewestFirst(out)
	return out, nil
}

func (s *BoltStore) HasRated(ctx context.Context, tripID, raterID string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(ratingKeysBucket).Get(compositeKey(tripID, raterID)) != nil
		return nil
	})
	return found, err
}

func (s *BoltStore) CarrierApproval(ctx context.Context, carrierID string) (models.CarrierApproval, error) {
	var a models.CarrierApproval
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(approvalsBucket).Get([]byte(carrierID))
		if v == nil {
			return ErrCarrierNotFound
		}
		if err := json.Unmarshal(v, &a); err != nil {
			return err
		}
		return checkApproval(a)
	})
	if err != nil {
		return models.CarrierApproval{}, err
	}
	return a, nil
}

func (s *BoltStore) SetCarrierApproval(ctx context.Context, a models.CarrierApproval) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(approvalsBucket), []byte(a.CarrierID), a)
	})
}

func (s *BoltStore) UpdateCarrierApproval(ctx context.Context, a models.CarrierApproval) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(approvalsBucket)
		if b.Get([]byte(a.CarrierID)) == nil {
			return ErrCarrierNotFound
		}
		return putJSON(b, []byte(a.CarrierID), a)
	})
}

func (s *BoltStore) CarriersByApproval(ctx context.Context, status models.ApprovalStatus) ([]models.CarrierApproval, error) {
	out := make([]models.CarrierApproval, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(approvalsBucket).ForEach(func(k, v []byte) error {
			var a models.CarrierApproval
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			if err := checkApproval(a); err != nil {
				return err
			}
			if a.Status == status {
				out = append(out, a)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortApprovals(out)
	return out, nil
}

type boltTx struct {
	tx *bolt.Tx
}

func (b *boltTx) TripForUpdate(ctx context.Context, id string) (*models.Trip, error) {
	return readTrip(b.tx, id)
}

func (b *boltTx) SaveTrip(ctx context.Context, t *models.Trip) error {
	bucket := b.tx.Bucket(tripsBucket)
	if bucket.Get([]byte(t.ID)) == nil {
		return ErrTripNotFound
	}
	return putJSON(bucket, []byte(t.ID), t)
}

func (b *boltTx) InsertRefusal(ctx context.Context, r models.Refusal) (bool, error) {
	bucket := b.tx.Bucket(refusalsBucket)
	k := compositeKey(r.CarrierID, r.TripID)
	if bucket.Get(k) != nil {
		return false, nil
	}
	return true, putJSON(bucket, k, r)
}

func (b *boltTx) RatingExists(ctx context.Context, tripID, raterID string) (bool, error) {
	return b.tx.Bucket(ratingKeysBucket).Get(compositeKey(tripID, raterID)) != nil, nil
}

func (b *boltTx) InsertRating(ctx context.Context, r *models.Rating) error {
	keys := b.tx.Bucket(ratingKeysBucket)
	k := compositeKey(r.TripID, r.RaterID)
	if keys.Get(k) != nil {
		return ErrDuplicateRating
	}
	if err := keys.Put(k, []byte(r.ID)); err != nil {
		return err
	}
	return putJSON(b.tx.Bucket(ratingsBucket), []byte(r.ID), r)
}

func readTrip(tx *bolt.Tx, id string) (*models.Trip, error) {
	v := tx.Bucket(tripsBucket).Get([]byte(id))
	if v == nil {
		return nil, ErrTripNotFound
	}
	var t models.Trip
	if err := json.Unmarshal(v, &t); err != nil {
		return nil, err
	}
	if err := checkTrip(&t); err != nil {
		return nil, err
	}
	return &t, nil
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}
