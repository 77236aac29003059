package models

import "time"

// TripStatus is the lifecycle state of a trip.
type TripStatus string

const (
	StatusPending                   TripStatus = "PENDING"
	StatusAwaitingRequesterApproval TripStatus = "AWAITING_REQUESTER_APPROVAL"
	StatusAccepted                  TripStatus = "ACCEPTED"
	StatusInProgress                TripStatus = "IN_PROGRESS"
	StatusCompleted                 TripStatus = "COMPLETED"
	StatusCancelled                 TripStatus = "CANCELLED"
)

func (s TripStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAwaitingRequesterApproval, StatusAccepted,
		StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s TripStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type PaymentMethod string

const (
	PaymentCash            PaymentMethod = "CASH"
	PaymentInstantTransfer PaymentMethod = "INSTANT_TRANSFER"
)

func (p PaymentMethod) Valid() bool {
	return p == PaymentCash || p == PaymentInstantTransfer
}

// Amount is a monetary value in minor currency units (cents).
type Amount int64

// Positive reports whether a is usable as a price.
func (a Amount) Positive() bool { return a > 0 }

// AmountPtr returns a pointer to a copy of a.
func AmountPtr(a Amount) *Amount { return &a }

type Trip struct {
	ID           string        `json:"id"`
	RequesterID  string        `json:"requester_id"`
	CarrierID    *string       `json:"carrier_id,omitempty"`
	Origin       string        `json:"origin"`
	Destination  string        `json:"destination"`
	Notes        string        `json:"notes,omitempty"`
	Headcount    int           `json:"headcount"`
	Payment      PaymentMethod `json:"payment_method"`
	Status       TripStatus    `json:"status"`
	RequestedAt  time.Time     `json:"requested_at"`
	ScheduledFor *time.Time    `json:"scheduled_for,omitempty"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`

	ProposedAmount Amount  `json:"proposed_amount"`
	CounterAmount  *Amount `json:"counter_amount,omitempty"`
	AgreedAmount   *Amount `json:"agreed_amount,omitempty"`
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (t *Trip) Clone() *Trip {
	if t == nil {
		return nil
	}
	c := *t
	if t.CarrierID != nil {
		id := *t.CarrierID
		c.CarrierID = &id
	}
	c.ScheduledFor = cloneTime(t.ScheduledFor)
	c.StartedAt = cloneTime(t.StartedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	if t.CounterAmount != nil {
		c.CounterAmount = AmountPtr(*t.CounterAmount)
	}
	if t.AgreedAmount != nil {
		c.AgreedAmount = AmountPtr(*t.AgreedAmount)
	}
	return &c
}

// Carrier returns the assigned carrier id or "" when unassigned.
func (t *Trip) Carrier() string {
	if t.CarrierID == nil {
		return ""
	}
	return *t.CarrierID
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Refusal marks that a carrier declined a trip, explicitly or through a
// rejected counter-offer.
type Refusal struct {
	TripID    string    `json:"trip_id"`
	CarrierID string    `json:"carrier_id"`
	RefusedAt time.Time `json:"refused_at"`
}

const (
	MinScore = 0
	MaxScore = 5
)

type Rating struct {
	ID        string    `json:"id"`
	TripID    string    `json:"trip_id"`
	RaterID   string    `json:"rater_id"`
	RateeID   string    `json:"ratee_id"`
	Score     int       `json:"score"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ApprovalStatus is the administrative eligibility state of a carrier.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

func (a ApprovalStatus) Valid() bool {
	return a == ApprovalPending || a == ApprovalApproved || a == ApprovalRejected
}

type CarrierApproval struct {
	CarrierID string         `json:"carrier_id"`
	Status    ApprovalStatus `json:"status"`
	Reason    string         `json:"reason,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Reputation is the derived rating summary of a user.
type Reputation struct {
	UserID  string  `json:"user_id"`
	Average float64 `json:"average"`
	Count   int64   `json:"count"`
}

// TripView is a trip as presented to callers, with both parties' reputation.
type TripView struct {
	*Trip
	RequesterRating float64  `json:"requester_rating"`
	CarrierRating   *float64 `json:"carrier_rating,omitempty"`
}
