// Package dialogue defines the line records that make up an NPC's
// conversation graph, together with the read-only lookup structures the
// runtime walks: the [Index] (id → line) and the start-line heuristic
// [FindStart].
//
// A speaker's lines form a directed graph linked through [Line.NextID]. The
// graph is authored offline and is assumed to terminate; nothing in this
// package detects cycles.
//
// Values returned from an [Index] are shared and must be treated as
// read-only.
package dialogue

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidDuration is returned by [Line.Hold] when the duration field is
	// empty, not a number, negative, or not finite.
	ErrInvalidDuration = errors.New("dialogue: invalid line duration")

	// ErrDuplicateID marks a line whose id was already registered.
	ErrDuplicateID = errors.New("dialogue: duplicate line id")

	// ErrDanglingNext marks a NextID that does not resolve in the index.
	ErrDanglingNext = errors.New("dialogue: next id not found")

	// ErrNoStartLine is reported when a speaker has no lines at all.
	ErrNoStartLine = errors.New("dialogue: no start line for speaker")
)

// Condition selects when a line is eligible to be presented.
type Condition string

const (
	// ConditionNone is the empty tag; the line is always eligible.
	ConditionNone Condition = ""

	// ConditionNormal is always eligible.
	ConditionNormal Condition = "normal"

	// ConditionLeave is eligible only while the listener has departed. Lines
	// tagged this way are also the targets of the mid-conversation diversion.
	ConditionLeave Condition = "leave"
)

// IsKnown reports whether c is one of the recognised tags. Unknown tags are
// still eligible at runtime; this is only used for linting.
func (c Condition) IsKnown() bool {
	switch c {
	case ConditionNone, ConditionNormal, ConditionLeave:
		return true
	}
	return false
}

// exhaustedNoteNull is the literal that authoring tools write for "no note".
const exhaustedNoteNull = "null"

// Line is one unit of dialogue with branching and timing metadata.
type Line struct {
	// Speaker groups lines into a per-character subgraph.
	Speaker string `yaml:"speaker" json:"speaker"`

	// ID is unique within the store and keys graph lookups.
	ID string `yaml:"id" json:"id"`

	// Condition gates eligibility. See [Condition].
	Condition Condition `yaml:"condition,omitempty" json:"condition,omitempty"`

	// Text is the display payload. Segments between '<' and the next '>' are
	// inline formatting markers revealed in one step.
	Text string `yaml:"text" json:"text"`

	// Duration is the hold time in seconds after the reveal completes, kept
	// as authored text. Use [Line.Hold] to parse it.
	Duration string `yaml:"duration" json:"duration"`

	// NextID names the successor line. Empty marks the line terminal.
	NextID string `yaml:"next_id,omitempty" json:"next_id,omitempty"`

	// Note decides whether the speaker can be engaged again when this line
	// closes a conversation. Empty or "null" means yes.
	Note string `yaml:"note,omitempty" json:"note,omitempty"`
}

// IsTerminal reports whether the line has no successor.
func (l *Line) IsTerminal() bool { return l.NextID == "" }

// Reengageable reports whether closing a conversation on this line leaves the
// speaker available for another one.
func (l *Line) Reengageable() bool {
	return l.Note == "" || l.Note == exhaustedNoteNull
}

// Hold parses Duration as a non-negative number of seconds.
func (l *Line) Hold() (time.Duration, error) {
	return ParseSeconds(l.Duration)
}

// maxSeconds is the first seconds value a time.Duration cannot hold.
const maxSeconds = float64(math.MaxInt64) / float64(time.Second)

// ParseSeconds converts an authored seconds value ("2", "1.5") into a
// duration. Empty, malformed, negative, non-finite and values too large for a
// time.Duration wrap [ErrInvalidDuration].
func ParseSeconds(s string) (time.Duration, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidDuration)
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}
	if math.IsNaN(secs) || math.IsInf(secs, 0) || secs < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}
	if secs >= maxSeconds {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidDuration, s)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
