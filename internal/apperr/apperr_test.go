package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("accept: %w", InvalidState("trip %s is not pending", "t1"))
	if KindOf(err) != KindInvalidState {
		t.Fatalf("expected invalid_state, got %s", KindOf(err))
	}
	if ReasonOf(err) != "trip t1 is not pending" {
		t.Fatalf("unexpected reason %q", ReasonOf(err))
	}
	if !errors.Is(err, InvalidState("")) {
		t.Fatal("errors.Is should match on kind")
	}
	if errors.Is(err, Conflict("")) {
		t.Fatal("errors.Is must not match a different kind")
	}
}

func TestKindOfForeignError(t *testing.T) {
	err := errors.New("connection reset")
	if KindOf(err) != KindInternal {
		t.Fatalf("expected internal, got %s", KindOf(err))
	}
	if ReasonOf(err) != "internal error" {
		t.Fatalf("internal details leaked: %q", ReasonOf(err))
	}
}
