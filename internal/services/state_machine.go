package services

import (
	"fmt"

	"github.com/akmatori/alertflow/internal/database"
)

// Transition is one permitted state change
type Transition struct {
	From database.AlertState `json:"from"`
	To   database.AlertState `json:"to"`
}

// transitionTable lists every permitted state change. resolved is terminal.
var transitionTable = map[database.AlertState][]database.AlertState{
	database.AlertStateNew: {
		database.AlertStateAcknowledged,
		database.AlertStateInvestigating,
		database.AlertStateResolved,
	},
	database.AlertStateAcknowledged: {
		database.AlertStateInvestigating,
		database.AlertStateResolved,
		database.AlertStateNew, // re-open after a mistaken ack
	},
	database.AlertStateInvestigating: {
		database.AlertStateResolved,
		database.AlertStateAcknowledged,
	},
}

// CanTransition reports whether from -> to is a permitted change
func CanTransition(from, to database.AlertState) bool {
	for _, next := range transitionTable[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidTransitions returns the full transition table in a stable order
func ValidTransitions() []Transition {
	var out []Transition
	for _, from := range database.ValidAlertStates() {
		for _, to := range transitionTable[from] {
			out = append(out, Transition{From: from, To: to})
		}
	}
	return out
}

// NextStates returns the states reachable from the given state
func NextStates(from database.AlertState) []database.AlertState {
	next := transitionTable[from]
	out := make([]database.AlertState, len(next))
	copy(out, next)
	return out
}

func checkTransition(from, to database.AlertState) error {
	if !to.IsValid() {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, to)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
