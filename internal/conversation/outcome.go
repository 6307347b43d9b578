package conversation

import (
	"time"
)

// Reason explains why a conversation ended.
type Reason string

const (
	// ReasonCompleted means the last reached line had no successor, or its
	// condition failed and it had no successor.
	ReasonCompleted Reason = "completed"

	// ReasonDanglingNext means a next id referred to a line that does not
	// exist.
	ReasonDanglingNext Reason = "dangling_next"

	// ReasonInvalidDuration means the hold duration of the last line could
	// not be parsed.
	ReasonInvalidDuration Reason = "invalid_duration"

	// ReasonStepLimit means the configured maximum number of line visits was
	// reached.
	ReasonStepLimit Reason = "step_limit"

	// ReasonCancelled means the interpreter was closed mid-conversation.
	ReasonCancelled Reason = "cancelled"
)

// Outcome describes a finished conversation.
type Outcome struct {
	// ConversationID uniquely identifies the conversation.
	ConversationID string `json:"conversation_id"`

	Speaker string `json:"speaker"`

	// LastLineID is the line the conversation ended with. Its note decides
	// whether the speaker can be talked to again.
	LastLineID string `json:"last_line_id"`

	Reason Reason `json:"reason"`

	// Steps is the number of lines presented.
	Steps int `json:"steps"`

	// LeaveDiverted is true when a departure redirected the conversation to
	// a leave line.
	LeaveDiverted bool `json:"leave_diverted"`

	// Available reports whether the speaker was re-engageable afterwards.
	Available bool `json:"available"`

	Started time.Time `json:"started"`
	Ended   time.Time `json:"ended"`

	// Err is the configuration or graph error that ended the conversation
	// early, if any.
	Err error `json:"-"`
}

// Duration returns how long the conversation ran.
func (o Outcome) Duration() time.Duration { return o.Ended.Sub(o.Started) }
