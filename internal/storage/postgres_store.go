package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/lib/pq"

	"github.com/example/trip-negotiation/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

const uniqueViolation = "23505"

const tripColumns = `id, requester_id, carrier_id, origin, destination, notes, headcount, payment_method, status,
	requested_at, scheduled_for, started_at, completed_at, proposed_amount, counter_amount, agreed_amount,
	created_at, updated_at`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

// Migrate applies the embedded migrations in file name order. Every
// statement is idempotent, so running it on each start is safe.
func (p *PostgresStore) Migrate(ctx context.Context) ([]string, error) {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := migrations.ReadFile(name)
		if err != nil {
			return nil, err
		}
		if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
			return nil, fmt.Errorf("migration %s: %w", name, err)
		}
	}
	return names, nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (p *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()
	if err := fn(&pgTx{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (p *PostgresStore) CreateTrip(ctx context.Context, t *models.Trip) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO trips(`+tripColumns+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`, tripArgs(t)...)
	if isUniqueViolation(err) {
		return ErrTripExists
	}
	return err
}

func (p *PostgresStore) GetTrip(ctx context.Context, id string) (*models.Trip, error) {
	return getTrip(ctx, p.db, `SELECT `+tripColumns+` FROM trips WHERE id=$1`, id)
}

func (p *PostgresStore) OpenTrips(ctx context.Context) ([]*models.Trip, error) {
	return queryTrips(ctx, p.db, `SELECT `+tripColumns+` FROM trips
		WHERE status=$1 AND carrier_id IS NULL ORDER BY created_at DESC, id DESC`, string(models.StatusPending))
}

func (p *PostgresStore) TripsByRequester(ctx context.Context, requesterID string) ([]*models.Trip, error) {
	return queryTrips(ctx, p.db, `SELECT `+tripColumns+` FROM trips
		WHERE requester_id=$1 ORDER BY created_at DESC, id DESC`, requesterID)
}

func (p *PostgresStore) TripsByCarrier(ctx context.Context, carrierID string) ([]*models.Trip, error) {
	return queryTrips(ctx, p.db, `SELECT `+tripColumns+` FROM trips
		WHERE carrier_id=$1 ORDER BY created_at DESC, id DESC`, carrierID)
}

func (p *PostgresStore) RefusedTripIDs(ctx context.Context, carrierID string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT trip_id FROM trip_refusals WHERE carrier_id=$1`, carrierID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *PostgresStore) HasRefused(ctx context.Context, tripID, carrierID string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM trip_refusals WHERE trip_id=$1 AND carrier_id=$2)`,
		tripID, carrierID).Scan(&exists)
	return exists, err
}

func (p *PostgresStore) RatingAggregate(ctx context.Context, rateeID string) (RatingAggregate, error) {
	var agg RatingAggregate
	var mean sql.NullFloat64
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*), AVG(score)::float8 FROM ratings WHERE ratee_id=$1`, rateeID).
		Scan(&agg.Count, &mean)
	if err != nil {
		return RatingAggregate{}, err
	}
	if mean.Valid {
		agg.Mean = &mean.Float64
	}
	return agg, nil
}

func (p *PostgresStore) RatingsFor(ctx context.Context, rateeID string) ([]*models.Rating, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, trip_id, rater_id, ratee_id, score, comment, created_at
		FROM ratings WHERE ratee_id=$1 ORDER BY created_at DESC, id DESC`, rateeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*models.Rating, 0)
	for rows.Next() {
		var r models.Rating
		if err := rows.Scan(&r.ID, &r.TripID, &r.RaterID, &r.RateeID, &r.Score, &r.Comment, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) HasRated(ctx context.Context, tripID, raterID string) (bool, error) {
	return ratingExists(ctx, p.db, tripID, raterID)
}

func (p *PostgresStore) CarrierApproval(ctx context.Context, carrierID string) (models.CarrierApproval, error) {
	a := models.CarrierApproval{CarrierID: carrierID}
	var status string
	err := p.db.QueryRowContext(ctx, `SELECT status, reason, updated_at FROM carrier_approvals WHERE carrier_id=$1`,
		carrierID).Scan(&status, &a.Reason, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CarrierApproval{}, ErrCarrierNotFound
	}
	if err != nil {
		return models.CarrierApproval{}, err
	}
	a.Status = models.ApprovalStatus(status)
	if err := checkApproval(a); err != nil {
		return models.CarrierApproval{}, err
	}
	return a, nil
}

func (p *PostgresStore) SetCarrierApproval(ctx context.Context, a models.CarrierApproval) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO carrier_approvals(carrier_id, status, reason, updated_at)
		VALUES($1,$2,$3,$4)
		ON CONFLICT (carrier_id) DO UPDATE SET status=EXCLUDED.status, reason=EXCLUDED.reason, updated_at=EXCLUDED.updated_at`,
		a.CarrierID, string(a.Status), a.Reason, a.UpdatedAt)
	return err
}

func (p *PostgresStore) UpdateCarrierApproval(ctx context.Context, a models.CarrierApproval) error {
	res, err := p.db.ExecContext(ctx, `UPDATE carrier_approvals SET status=$2, reason=$3, updated_at=$4 WHERE carrier_id=$1`,
		a.CarrierID, string(a.Status), a.Reason, a.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrCarrierNotFound
	}
	return nil
}

func (p *PostgresStore) CarriersByApproval(ctx context.Context, status models.ApprovalStatus) ([]models.CarrierApproval, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT carrier_id, status, reason, updated_at FROM carrier_approvals
		WHERE status=$1 ORDER BY updated_at ASC, carrier_id ASC`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.CarrierApproval, 0)
	for rows.Next() {
		var a models.CarrierApproval
		var s string
		if err := rows.Scan(&a.CarrierID, &s, &a.Reason, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.Status = models.ApprovalStatus(s)
		if err := checkApproval(a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type pgTx struct {
	q querier
}

func (tx *pgTx) TripForUpdate(ctx context.Context, id string) (*models.Trip, error) {
	return getTrip(ctx, tx.q, `SELECT `+tripColumns+` FROM trips WHERE id=$1 FOR UPDATE`, id)
}

func (tx *pgTx) SaveTrip(ctx context.Context, t *models.Trip) error {
	res, err := tx.q.ExecContext(ctx, `UPDATE trips SET carrier_id=$2, status=$3, started_at=$4, completed_at=$5,
		counter_amount=$6, agreed_amount=$7, updated_at=$8 WHERE id=$1`,
		t.ID, nullString(t.CarrierID), string(t.Status), nullTime(t.StartedAt), nullTime(t.CompletedAt),
		nullAmount(t.CounterAmount), nullAmount(t.AgreedAmount), t.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTripNotFound
	}
	return nil
}

func (tx *pgTx) InsertRefusal(ctx context.Context, r models.Refusal) (bool, error) {
	res, err := tx.q.ExecContext(ctx, `INSERT INTO trip_refusals(trip_id, carrier_id, refused_at) VALUES($1,$2,$3)
		ON CONFLICT (trip_id, carrier_id) DO NOTHING`, r.TripID, r.CarrierID, r.RefusedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (tx *pgTx) RatingExists(ctx context.Context, tripID, raterID string) (bool, error) {
	return ratingExists(ctx, tx.q, tripID, raterID)
}

func (tx *pgTx) InsertRating(ctx context.Context, r *models.Rating) error {
	_, err := tx.q.ExecContext(ctx, `INSERT INTO ratings(id, trip_id, rater_id, ratee_id, score, comment, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7)`, r.ID, r.TripID, r.RaterID, r.RateeID, r.Score, r.Comment, r.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateRating
	}
	return err
}

func ratingExists(ctx context.Context, q querier, tripID, raterID string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM ratings WHERE trip_id=$1 AND rater_id=$2)`,
		tripID, raterID).Scan(&exists)
	return exists, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrip(row rowScanner) (*models.Trip, error) {
	var (
		t                             models.Trip
		carrier                       sql.NullString
		payment, status               string
		scheduled, started, completed sql.NullTime
		counter, agreed               sql.NullInt64
		proposed                      int64
	)
	err := row.Scan(&t.ID, &t.RequesterID, &carrier, &t.Origin, &t.Destination, &t.Notes, &t.Headcount,
		&payment, &status, &t.RequestedAt, &scheduled, &started, &completed, &proposed, &counter, &agreed,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Payment = models.PaymentMethod(payment)
	t.Status = models.TripStatus(status)
	if err := checkTrip(&t); err != nil {
		return nil, err
	}
	t.ProposedAmount = models.Amount(proposed)
	if carrier.Valid {
		t.CarrierID = &carrier.String
	}
	t.ScheduledFor = timePtr(scheduled)
	t.StartedAt = timePtr(started)
	t.CompletedAt = timePtr(completed)
	if counter.Valid {
		t.CounterAmount = models.AmountPtr(models.Amount(counter.Int64))
	}
	if agreed.Valid {
		t.AgreedAmount = models.AmountPtr(models.Amount(agreed.Int64))
	}
	return &t, nil
}

func getTrip(ctx context.Context, q querier, query string, id string) (*models.Trip, error) {
	t, err := scanTrip(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTripNotFound
	}
	return t, err
}

func queryTrips(ctx context.Context, q querier, query string, args ...any) ([]*models.Trip, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*models.Trip, 0)
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func tripArgs(t *models.Trip) []any {
	return []any{
		t.ID, t.RequesterID, nullString(t.CarrierID), t.Origin, t.Destination, t.Notes, t.Headcount,
		string(t.Payment), string(t.Status), t.RequestedAt, nullTime(t.ScheduledFor), nullTime(t.StartedAt),
		nullTime(t.CompletedAt), int64(t.ProposedAmount), nullAmount(t.CounterAmount), nullAmount(t.AgreedAmount),
		t.CreatedAt, t.UpdatedAt,
	}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullAmount(a *models.Amount) sql.NullInt64 {
	if a == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*a), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
