// Package presentation defines the boundary between the dialogue runtime and
// whatever draws an NPC's speech bubble.
//
// The runtime only ever calls the four methods of [Surface]; animation,
// sizing and fades are the implementation's business. Implementations in the
// sub-packages render to a WebSocket stream (ws), a Discord channel (discord)
// and a terminal (tui). [Multi] fans calls out to several surfaces and
// [LogSurface] writes them to slog.
package presentation

import (
	"log/slog"
	"sync"
)

// AvailableText is the placeholder a surface shows when its NPC can be talked
// to and nobody is in range.
const AvailableText = "..."

// InteractableText is shown when the player is close enough to start a
// conversation.
const InteractableText = "!"

// Surface is a single NPC's text bubble.
//
// Methods must not block for long: they are called from the dialogue
// goroutine between reveal steps. Implementations that talk to remote
// services should buffer or coalesce. All implementations must be safe for
// concurrent use.
type Surface interface {
	// SetText replaces the visible text.
	SetText(text string)

	// Show makes the bubble visible.
	Show()

	// Hide makes the bubble invisible.
	Hide()

	// IndicateAvailable shows the "can be talked to" indicator.
	IndicateAvailable()
}

// EventKind identifies a surface call in an [Event].
type EventKind string

const (
	EventText      EventKind = "text"
	EventShow      EventKind = "show"
	EventHide      EventKind = "hide"
	EventAvailable EventKind = "available"
)

// Event is a serialisable record of one surface call.
type Event struct {
	Speaker string    `json:"speaker"`
	Kind    EventKind `json:"kind"`
	Text    string    `json:"text,omitempty"`
}

// State is the visible state a surface should currently display, derived by
// folding events with [State.Apply].
type State struct {
	Visible bool   `json:"visible"`
	Text    string `json:"text"`
}

// Apply folds ev into s.
func (s State) Apply(ev Event) State {
	switch ev.Kind {
	case EventText:
		s.Text = ev.Text
	case EventShow:
		s.Visible = true
	case EventHide:
		s.Visible = false
	case EventAvailable:
		s.Text = AvailableText
		s.Visible = true
	}
	return s
}

// Multi returns a Surface that forwards every call to each of surfaces in
// order. Nil entries are skipped.
func Multi(surfaces ...Surface) Surface {
	var m multi
	for _, s := range surfaces {
		if s != nil {
			m = append(m, s)
		}
	}
	return m
}

type multi []Surface

func (m multi) SetText(text string) {
	for _, s := range m {
		s.SetText(text)
	}
}

func (m multi) Show() {
	for _, s := range m {
		s.Show()
	}
}

func (m multi) Hide() {
	for _, s := range m {
		s.Hide()
	}
}

func (m multi) IndicateAvailable() {
	for _, s := range m {
		s.IndicateAvailable()
	}
}

// LogSurface writes surface calls to a logger at debug level, except for
// visibility changes and the final text of a line which are logged at info.
// It is the default surface for NPCs without a configured renderer.
type LogSurface struct {
	speaker string
	logger  *slog.Logger

	mu    sync.Mutex
	state State
}

var _ Surface = (*LogSurface)(nil)

// NewLogSurface returns a [LogSurface] for speaker. A nil logger uses
// slog.Default().
func NewLogSurface(speaker string, logger *slog.Logger) *LogSurface {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSurface{speaker: speaker, logger: logger.With("speaker", speaker)}
}

// SetText implements [Surface].
func (s *LogSurface) SetText(text string) {
	s.apply(Event{Kind: EventText, Text: text})
	s.logger.Debug("bubble text", "text", text)
}

// Show implements [Surface].
func (s *LogSurface) Show() {
	s.apply(Event{Kind: EventShow})
	s.logger.Info("bubble shown")
}

// Hide implements [Surface].
func (s *LogSurface) Hide() {
	prev := s.apply(Event{Kind: EventHide})
	if prev.Text != "" {
		s.logger.Info("bubble hidden", "last_text", prev.Text)
		return
	}
	s.logger.Info("bubble hidden")
}

// IndicateAvailable implements [Surface].
func (s *LogSurface) IndicateAvailable() {
	s.apply(Event{Kind: EventAvailable})
	s.logger.Info("bubble available", "text", AvailableText)
}

// State returns the current folded state.
func (s *LogSurface) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *LogSurface) apply(ev Event) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.state
	s.state = s.state.Apply(ev)
	return prev
}
