package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/MrWong99/bubbletalk/pkg/presentation"
)

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	model, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T, want Model", next)
	}
	return model, cmd
}

func press(t *testing.T, m Model, msg tea.KeyMsg) Model {
	t.Helper()
	m, cmd := update(t, m, msg)
	if cmd != nil {
		cmd()
	}
	return m
}

func TestSurfaceFeedsModel(t *testing.T) {
	t.Parallel()
	m := NewModel("guard", Controls{})
	var msgs []tea.Msg
	s := NewSurfaceFunc("guard", func(msg tea.Msg) { msgs = append(msgs, msg) })

	s.SetText("")
	s.Show()
	s.SetText("Halt!")
	for _, msg := range msgs {
		m, _ = update(t, m, msg)
	}
	if got := m.State(); got != (presentation.State{Visible: true, Text: "Halt!"}) {
		t.Errorf("state = %+v", got)
	}
	if view := m.View(); !strings.Contains(view, "Halt!") || !strings.Contains(view, "guard") {
		t.Errorf("view does not show the bubble:\n%s", view)
	}

	msgs = nil
	s.Hide()
	m, _ = update(t, m, msgs[0])
	if strings.Contains(m.View(), "Halt!") {
		t.Error("hidden bubble still drawn")
	}

	msgs = nil
	s.IndicateAvailable()
	m, _ = update(t, m, msgs[0])
	if !strings.Contains(m.View(), presentation.AvailableText) {
		t.Error("available indicator not drawn")
	}
}

func TestModelKeys(t *testing.T) {
	t.Parallel()
	var interacts, leaves int
	var nearby []bool
	m := NewModel("guard", Controls{
		Interact: func() { interacts++ },
		Leave:    func() { leaves++ },
		Nearby:   func(in bool) { nearby = append(nearby, in) },
	})

	space := tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	m = press(t, m, space)
	m = press(t, m, space)
	m = press(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'l'}})
	m = press(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'n'}})
	m = press(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'n'}})

	if interacts != 2 || leaves != 1 {
		t.Errorf("interacts=%d leaves=%d, want 2 and 1", interacts, leaves)
	}
	if len(nearby) != 2 || !nearby[0] || nearby[1] {
		t.Errorf("nearby toggles = %v, want [true false]", nearby)
	}
	if m.Nearby() {
		t.Error("nearby should be toggled back off")
	}

	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("q should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
}

func TestModelStatusAndResize(t *testing.T) {
	t.Parallel()
	m := NewModel("guard", Controls{})
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 30, Height: 10})
	m, _ = update(t, m, StatusMsg("conversation ended: completed"))
	if !strings.Contains(m.View(), "conversation ended: completed") {
		t.Error("status line missing")
	}
}
