package models

// Party is the capacity in which an actor relates to a trip.
type Party int

const (
	PartyNone Party = iota
	PartyRequester
	PartyCarrier
)

func (p Party) String() string {
	switch p {
	case PartyRequester:
		return "requester"
	case PartyCarrier:
		return "carrier"
	}
	return "none"
}

// RoleOf reports which side of t the actor is on. A cancelled trip keeps its
// last carrier, so that carrier still resolves to PartyCarrier.
func RoleOf(t *Trip, actorID string) Party {
	if t == nil || actorID == "" {
		return PartyNone
	}
	if t.RequesterID == actorID {
		return PartyRequester
	}
	if t.CarrierID != nil && *t.CarrierID == actorID {
		return PartyCarrier
	}
	return PartyNone
}

// Counterparty returns the id of the other side of the trip for the given
// party, or "" when that side is not assigned.
func Counterparty(t *Trip, p Party) string {
	switch p {
	case PartyRequester:
		return t.Carrier()
	case PartyCarrier:
		return t.RequesterID
	}
	return ""
}
