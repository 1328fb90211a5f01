package ticket

import (
	"fmt"
	"slices"
	"time"
)

// TransitionError is returned by Apply for an edge the table does not allow.
// The ticket is left untouched.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("Invalid transition from %s to %s", e.From, e.To)
}

// TransitionTable is an immutable set of allowed state edges. It is safe for
// concurrent use.
type TransitionTable struct {
	edges map[State][]State
}

// NewTransitionTable copies edges into a new table. Self-edges and edges out
// of terminal states are rejected.
func NewTransitionTable(edges map[State][]State) (*TransitionTable, error) {
	t := &TransitionTable{edges: make(map[State][]State, len(edges))}
	for from, tos := range edges {
		if from.IsTerminal() && len(tos) > 0 {
			return nil, fmt.Errorf("terminal state %s must not have outgoing transitions", from)
		}
		for _, to := range tos {
			if to == from {
				return nil, fmt.Errorf("self transition on %s", from)
			}
		}
		t.edges[from] = slices.Clone(tos)
	}
	return t, nil
}

var defaultTable = mustTable(map[State][]State{
	StateTriggered:            {StateAnalyzing, StateCancelled, StateFailed},
	StateAnalyzing:            {StateQuestionsPosted, StatePlanning, StateCancelled, StateFailed},
	StateQuestionsPosted:      {StateAwaitingAnswers, StateCancelled, StateFailed},
	StateAwaitingAnswers:      {StateAnswersReceived, StateCancelled, StateFailed},
	StateAnswersReceived:      {StatePlanning, StateCancelled, StateFailed},
	StatePlanning:             {StatePlanPosted, StateCancelled, StateFailed},
	StatePlanPosted:           {StatePlanUnderReview, StateCancelled, StateFailed},
	StatePlanUnderReview:      {StatePlanApproved, StatePlanRejected, StateCancelled, StateFailed},
	StatePlanApproved:         {StateImplementing, StateCancelled, StateFailed},
	StatePlanRejected:         {StatePlanning, StateCancelled, StateFailed},
	StateImplementing:         {StatePRCreated, StateImplementationFailed, StateCancelled, StateFailed},
	StateImplementationFailed: {StateImplementing, StateCancelled, StateFailed},
	StatePRCreated:            {StateInReview, StateCompleted, StateCancelled, StateFailed},
	StateInReview:             {StateCompleted, StateImplementing, StateCancelled, StateFailed},
	StateCompleted:            nil,
	StateCancelled:            nil,
	StateFailed:               nil,
})

func mustTable(edges map[State][]State) *TransitionTable {
	t, err := NewTransitionTable(edges)
	if err != nil {
		panic(err)
	}
	return t
}

// DefaultTransitions returns the workflow's transition table.
func DefaultTransitions() *TransitionTable {
	return defaultTable
}

func (t *TransitionTable) CanTransition(from, to State) bool {
	return slices.Contains(t.edges[from], to)
}

// ValidNextStates returns the states reachable from s in one step.
func (t *TransitionTable) ValidNextStates(s State) []State {
	return slices.Clone(t.edges[s])
}

// Apply moves tk to state to, recording the change in its history.
func (t *TransitionTable) Apply(tk *Ticket, to State, reason string) error {
	return t.ApplyAt(tk, to, reason, time.Now())
}

func (t *TransitionTable) ApplyAt(tk *Ticket, to State, reason string, now time.Time) error {
	if !t.CanTransition(tk.State, to) {
		return &TransitionError{From: tk.State, To: to}
	}
	tk.History = append(tk.History, Transition{From: tk.State, To: to, Reason: reason, At: now})
	tk.State = to
	tk.UpdatedAt = now
	if to.IsTerminal() {
		tk.CompletedAt = &now
	}
	return nil
}
