package attendance

import "time"

// Status is a student's standing within one scanning session. Transitions
// only move forward: none -> joined -> completed. A new session resets
// everyone to none.
type Status string

const (
	StatusNone      Status = "none"
	StatusJoined    Status = "joined"
	StatusCompleted Status = "completed"
)

// Mode is the direction of a scan.
type Mode string

const (
	ModeJoining Mode = "joining"
	ModeLeaving Mode = "leaving"
)

// OutcomeKind classifies the result of applying a scan. Ignored kinds are
// expected conditions, not errors.
type OutcomeKind string

const (
	OutcomeChanged       OutcomeKind = "changed"
	OutcomeNotInRoster   OutcomeKind = "not_in_roster"
	OutcomeAlreadyJoined OutcomeKind = "already_joined"
	OutcomeNotJoined     OutcomeKind = "not_joined"
)

// Outcome reports what a scan did. Status carries the resulting status for
// changed outcomes and the unchanged current status otherwise.
type Outcome struct {
	Kind      OutcomeKind `json:"kind"`
	StudentID string      `json:"student_id"`
	Status    Status      `json:"status"`
	At        time.Time   `json:"at"`
}

// Changed reports whether the scan moved the student forward.
func (o Outcome) Changed() bool { return o.Kind == OutcomeChanged }

// advance evaluates one transition of the per-student state machine.
func advance(current Status, mode Mode) (Status, OutcomeKind) {
	switch mode {
	case ModeJoining:
		if current == StatusNone {
			return StatusJoined, OutcomeChanged
		}
		return current, OutcomeAlreadyJoined
	case ModeLeaving:
		if current == StatusJoined {
			return StatusCompleted, OutcomeChanged
		}
		return current, OutcomeNotJoined
	}
	return current, OutcomeNotJoined
}
