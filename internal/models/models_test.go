package models

import (
	"testing"
	"time"
)

func TestRoleOf(t *testing.T) {
	carrier := "c1"
	trip := &Trip{ID: "t1", RequesterID: "r1", CarrierID: &carrier}

	cases := []struct {
		actor string
		want  Party
	}{
		{"r1", PartyRequester},
		{"c1", PartyCarrier},
		{"x", PartyNone},
		{"", PartyNone},
	}
	for _, tc := range cases {
		if got := RoleOf(trip, tc.actor); got != tc.want {
			t.Fatalf("RoleOf(%q) = %v, want %v", tc.actor, got, tc.want)
		}
	}
	if got := RoleOf(&Trip{RequesterID: "r1"}, "c1"); got != PartyNone {
		t.Fatalf("unassigned trip: got %v", got)
	}
}

func TestCounterparty(t *testing.T) {
	carrier := "c1"
	trip := &Trip{RequesterID: "r1", CarrierID: &carrier}
	if got := Counterparty(trip, PartyRequester); got != "c1" {
		t.Fatalf("expected c1, got %q", got)
	}
	if got := Counterparty(trip, PartyCarrier); got != "r1" {
		t.Fatalf("expected r1, got %q", got)
	}
	if got := Counterparty(&Trip{RequesterID: "r1"}, PartyRequester); got != "" {
		t.Fatalf("expected empty carrier, got %q", got)
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	carrier := "c1"
	now := time.Now()
	orig := &Trip{ID: "t1", CarrierID: &carrier, StartedAt: &now, CounterAmount: AmountPtr(120)}
	c := orig.Clone()
	*c.CarrierID = "c2"
	*c.CounterAmount = 1
	*c.StartedAt = now.Add(time.Hour)
	if orig.Carrier() != "c1" || *orig.CounterAmount != 120 || !orig.StartedAt.Equal(now) {
		t.Fatalf("clone aliases original: %+v", orig)
	}
}

func TestEnumValidity(t *testing.T) {
	if TripStatus("DONE").Valid() || !StatusAwaitingRequesterApproval.Valid() {
		t.Fatal("unexpected status validity")
	}
	if PaymentMethod("CARD").Valid() || !PaymentInstantTransfer.Valid() {
		t.Fatal("unexpected payment validity")
	}
	if !StatusCancelled.Terminal() || StatusAccepted.Terminal() {
		t.Fatal("unexpected terminal states")
	}
}
