package dispatch

import (
	"testing"

	"github.com/example/delivery-dispatch/internal/models"
)

func TestEveryStatusHasASuccessorSet(t *testing.T) {
	for _, s := range []models.Status{
		models.StatusSearching, models.StatusAccepted, models.StatusPickedUp,
		models.StatusInTransit, models.StatusDelivered, models.StatusCancelled,
	} {
		if _, ok := transitions[s]; !ok {
			t.Fatalf("status %s missing from transition table", s)
		}
	}
}

func TestTerminalStatesHaveNoSuccessors(t *testing.T) {
	for _, s := range []models.Status{models.StatusDelivered, models.StatusCancelled} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
		if len(transitions[s]) != 0 {
			t.Fatalf("terminal %s has successors %v", s, transitions[s])
		}
	}
}

func TestTransitionTable(t *testing.T) {
	allowed := []struct{ from, to models.Status }{
		{models.StatusSearching, models.StatusAccepted},
		{models.StatusSearching, models.StatusCancelled},
		{models.StatusAccepted, models.StatusPickedUp},
		{models.StatusAccepted, models.StatusCancelled},
		{models.StatusPickedUp, models.StatusInTransit},
		{models.StatusPickedUp, models.StatusDelivered},
		{models.StatusInTransit, models.StatusDelivered},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be allowed", tc.from, tc.to)
		}
	}

	rejected := []struct{ from, to models.Status }{
		{models.StatusSearching, models.StatusDelivered},
		{models.StatusSearching, models.StatusPickedUp},
		{models.StatusAccepted, models.StatusDelivered},
		{models.StatusAccepted, models.StatusInTransit},
		{models.StatusInTransit, models.StatusCancelled},
		{models.StatusDelivered, models.StatusCancelled},
		{models.StatusCancelled, models.StatusSearching},
		{models.StatusDelivered, models.StatusSearching},
	}
	for _, tc := range rejected {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s must be rejected", tc.from, tc.to)
		}
	}
}
