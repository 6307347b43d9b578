// Package mock provides a recording implementation of [presentation.Surface]
// for unit tests.
//
// The mock is safe for concurrent use. Every call is appended to an ordered
// event log that tests can inspect with [Surface.Calls] or the convenience
// helpers. An optional clock stamps each event so tests can assert on timing.
//
// Typical usage:
//
//	s := &mock.Surface{Now: clk.Now}
//	interp := conversation.New(conversation.Config{Surface: s, ...})
//	...
//	texts := s.FinalTexts()
package mock

import (
	"sync"
	"time"

	"github.com/MrWong99/bubbletalk/pkg/presentation"
)

var _ presentation.Surface = (*Surface)(nil)

// Call is one recorded surface invocation.
type Call struct {
	presentation.Event

	// At is the time reported by Surface.Now when the call was made. Zero
	// if Now is nil.
	At time.Time
}

// Surface is a mock [presentation.Surface].
type Surface struct {
	// Now, when set, stamps each recorded call.
	Now func() time.Time

	// OnCall, when set, is invoked after each call is recorded, outside the
	// lock. Tests use it to inject signals at precise points.
	OnCall func(Call)

	mu    sync.Mutex
	calls []Call
	state presentation.State
}

// SetText implements [presentation.Surface].
func (s *Surface) SetText(text string) {
	s.record(presentation.Event{Kind: presentation.EventText, Text: text})
}

// Show implements [presentation.Surface].
func (s *Surface) Show() { s.record(presentation.Event{Kind: presentation.EventShow}) }

// Hide implements [presentation.Surface].
func (s *Surface) Hide() { s.record(presentation.Event{Kind: presentation.EventHide}) }

// IndicateAvailable implements [presentation.Surface].
func (s *Surface) IndicateAvailable() {
	s.record(presentation.Event{Kind: presentation.EventAvailable})
}

func (s *Surface) record(ev presentation.Event) {
	c := Call{Event: ev}
	if s.Now != nil {
		c.At = s.Now()
	}
	s.mu.Lock()
	s.calls = append(s.calls, c)
	s.state = s.state.Apply(ev)
	hook := s.OnCall
	s.mu.Unlock()
	if hook != nil {
		hook(c)
	}
}

// Calls returns a copy of all recorded calls in order.
func (s *Surface) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// State returns the state obtained by folding every recorded call.
func (s *Surface) State() presentation.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Count returns how many calls of kind were recorded.
func (s *Surface) Count(kind presentation.EventKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

// FinalTexts returns the last non-empty text set before each Hide, i.e. the
// fully revealed form of each presented line. Text still visible at the end
// of the log is included.
func (s *Surface) FinalTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	last := ""
	for _, c := range s.calls {
		switch c.Kind {
		case presentation.EventText:
			if c.Text != "" {
				last = c.Text
			}
		case presentation.EventHide:
			if last != "" {
				out = append(out, last)
				last = ""
			}
		}
	}
	if last != "" {
		out = append(out, last)
	}
	return out
}

// Reset clears the recorded calls and state.
func (s *Surface) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
	s.state = presentation.State{}
}
