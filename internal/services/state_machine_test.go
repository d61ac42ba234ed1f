package services

import (
	"errors"
	"testing"

	"github.com/akmatori/alertflow/internal/database"
)

func TestValidTransitions_Count(t *testing.T) {
	if got := len(ValidTransitions()); got != 8 {
		t.Fatalf("expected 8 valid transitions, got %d", got)
	}
}

func TestCanTransition(t *testing.T) {
	valid := map[Transition]bool{
		{database.AlertStateNew, database.AlertStateAcknowledged}:           true,
		{database.AlertStateNew, database.AlertStateInvestigating}:          true,
		{database.AlertStateNew, database.AlertStateResolved}:               true,
		{database.AlertStateAcknowledged, database.AlertStateInvestigating}: true,
		{database.AlertStateAcknowledged, database.AlertStateResolved}:      true,
		{database.AlertStateInvestigating, database.AlertStateResolved}:     true,
		{database.AlertStateInvestigating, database.AlertStateAcknowledged}: true,
		{database.AlertStateAcknowledged, database.AlertStateNew}:           true,
	}

	states := database.ValidAlertStates()
	for _, from := range states {
		for _, to := range states {
			want := valid[Transition{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestResolvedIsTerminal(t *testing.T) {
	if next := NextStates(database.AlertStateResolved); len(next) != 0 {
		t.Errorf("resolved must be terminal, got %v", next)
	}
}

func TestCheckTransition(t *testing.T) {
	if err := checkTransition(database.AlertStateNew, database.AlertStateAcknowledged); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := checkTransition(database.AlertStateResolved, database.AlertStateNew); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if err := checkTransition(database.AlertStateNew, "closed"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for unknown state, got %v", err)
	}
	if err := checkTransition(database.AlertStateNew, database.AlertStateNew); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("self transition must be rejected, got %v", err)
	}
}

func TestNextStatesReturnsCopy(t *testing.T) {
	next := NextStates(database.AlertStateNew)
	next[0] = database.AlertStateResolved
	if transitionTable[database.AlertStateNew][0] != database.AlertStateAcknowledged {
		t.Error("NextStates must not expose the internal table")
	}
}
