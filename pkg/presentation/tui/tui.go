// Package tui draws an NPC's speech bubble in the terminal with bubbletea.
//
// [Model] is the bubbletea model; [Surface] forwards surface calls into a
// running program as messages, so the dialogue goroutine never touches the
// model directly.
package tui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/MrWong99/bubbletalk/pkg/presentation"
)

// EventMsg delivers a surface call to the model.
type EventMsg presentation.Event

// StatusMsg replaces the status line under the bubble.
type StatusMsg string

// Controls are the player actions the model triggers. They run as commands
// outside the event loop. Nil functions are skipped.
type Controls struct {
	// Interact is bound to space.
	Interact func()

	// Leave is bound to "l".
	Leave func()

	// Nearby is bound to "n" and toggles whether the player is in range.
	Nearby func(bool)
}

const (
	defaultWidth = 60
	helpText     = "space interact/skip • l leave • n toggle nearby • q quit"
)

var (
	bubbleStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("12")).
			Padding(0, 1)
	speakerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	statusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	helpStyle    = lipgloss.NewStyle().Faint(true)
)

// Model is the bubbletea model for a single NPC conversation.
type Model struct {
	speaker  string
	controls Controls

	state  presentation.State
	nearby bool
	status string
	width  int
}

var _ tea.Model = Model{}

// NewModel returns a model for speaker.
func NewModel(speaker string, controls Controls) Model {
	return Model{speaker: speaker, controls: controls, width: defaultWidth}
}

// State returns the bubble state the model is drawing.
func (m Model) State() presentation.State { return m.state }

// Nearby reports whether the player is toggled in range.
func (m Model) Nearby() bool { return m.nearby }

// Init implements [tea.Model].
func (m Model) Init() tea.Cmd { return nil }

// Update implements [tea.Model].
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case EventMsg:
		m.state = m.state.Apply(presentation.Event(msg))
	case StatusMsg:
		m.status = string(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case " ", "space":
			return m, run(m.controls.Interact)
		case "l":
			return m, run(m.controls.Leave)
		case "n":
			m.nearby = !m.nearby
			if f := m.controls.Nearby; f != nil {
				in := m.nearby
				return m, run(func() { f(in) })
			}
		}
	}
	return m, nil
}

// run wraps f in a command. Controls may call back into the surface, which
// sends to the program, so they must not run inside Update.
func run(f func()) tea.Cmd {
	if f == nil {
		return nil
	}
	return func() tea.Msg {
		f()
		return nil
	}
}

// View implements [tea.Model].
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(speakerStyle.Render(m.speaker))
	if m.nearby {
		b.WriteString(statusStyle.Render("  (in range)"))
	}
	b.WriteString("\n")

	if m.state.Visible {
		width := m.width - 4
		if width < 10 {
			width = 10
		}
		text := m.state.Text
		if text == "" {
			text = " "
		}
		b.WriteString(bubbleStyle.MaxWidth(m.width).Width(width).Render(text))
	} else {
		b.WriteString("\n\n")
	}
	b.WriteString("\n")

	if m.status != "" {
		b.WriteString(statusStyle.Render(m.status))
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(helpText))
	b.WriteString("\n")
	return b.String()
}

// Surface is a [presentation.Surface] that forwards calls to a bubbletea
// program.
type Surface struct {
	speaker string
	send    func(tea.Msg)
}

var _ presentation.Surface = (*Surface)(nil)

// NewSurface returns a surface delivering to p. Calls block until the
// program's event loop accepts the message.
func NewSurface(speaker string, p *tea.Program) *Surface {
	return NewSurfaceFunc(speaker, p.Send)
}

// NewSurfaceFunc returns a surface delivering messages through send.
func NewSurfaceFunc(speaker string, send func(tea.Msg)) *Surface {
	return &Surface{speaker: speaker, send: send}
}

func (s *Surface) emit(kind presentation.EventKind, text string) {
	s.send(EventMsg{Speaker: s.speaker, Kind: kind, Text: text})
}

// SetText implements [presentation.Surface].
func (s *Surface) SetText(text string) { s.emit(presentation.EventText, text) }

// Show implements [presentation.Surface].
func (s *Surface) Show() { s.emit(presentation.EventShow, "") }

// Hide implements [presentation.Surface].
func (s *Surface) Hide() { s.emit(presentation.EventHide, "") }

// IndicateAvailable implements [presentation.Surface].
func (s *Surface) IndicateAvailable() { s.emit(presentation.EventAvailable, "") }
