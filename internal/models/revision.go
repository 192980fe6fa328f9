package models

import "time"

// RevisionState captures where a revision is in the check lifecycle.
type RevisionState string

const (
	RevisionStateNew      RevisionState = "new"
	RevisionStateChecking RevisionState = "checking"
	RevisionStateChecked  RevisionState = "checked"
	RevisionStateFailed   RevisionState = "failed"
	RevisionStateObsolete RevisionState = "obsolete"
	RevisionStateReported RevisionState = "reported"
)

// revisionStates is every state in lifecycle order.
var revisionStates = []RevisionState{
	RevisionStateNew,
	RevisionStateChecking,
	RevisionStateChecked,
	RevisionStateFailed,
	RevisionStateObsolete,
	RevisionStateReported,
}

// revisionTransitions is the lifecycle. checking -> failed also covers crash
// recovery; obsolete and reported have no outgoing edges.
var revisionTransitions = map[RevisionState][]RevisionState{
	RevisionStateNew:      {RevisionStateChecking, RevisionStateObsolete},
	RevisionStateChecking: {RevisionStateChecked, RevisionStateFailed, RevisionStateReported},
	RevisionStateChecked:  {RevisionStateReported, RevisionStateObsolete},
	RevisionStateFailed:   {RevisionStateChecking, RevisionStateObsolete},
}

// Checkable reports whether a revision in s may be picked for checking.
func (s RevisionState) Checkable() bool {
	return CanTransition(s, RevisionStateChecking)
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to RevisionState) bool {
	for _, next := range revisionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StatesLeadingTo lists, in lifecycle order, the states with an edge to target.
func StatesLeadingTo(target RevisionState) []RevisionState {
	var states []RevisionState
	for _, state := range revisionStates {
		if CanTransition(state, target) {
			states = append(states, state)
		}
	}
	return states
}

// Revision is one submitted snapshot of a user's solution. The id is the
// version-control revision number.
type Revision struct {
	ID           int64         `db:"id" json:"id"`
	User         string        `db:"username" json:"user"`
	AssignmentID int64         `db:"assignment_id" json:"assignment_id"`
	SolutionID   string        `db:"solution_id" json:"solution_id"`
	Message      *string       `db:"message" json:"message,omitempty"`
	State        RevisionState `db:"state" json:"state"`
	CheckResult  *CheckResult  `db:"check_result" json:"check_result,omitempty"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at" json:"updated_at"`
}

// RevisionCandidate is a revision joined with its owner's ticket, as seen by selection.
type RevisionCandidate struct {
	ID       int64         `db:"id"`
	User     string        `db:"username"`
	State    RevisionState `db:"state"`
	TicketID int64         `db:"ticket_id"`
}

// ReportableRevision pairs a checked revision with the ticket it is reported to.
type ReportableRevision struct {
	RevisionID int64 `db:"id" json:"revision_id"`
	TicketID   int64 `db:"ticket_id" json:"ticket_id"`
}
