package resilience

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/bubbletalk/internal/clock"
)

func newGroup(t *testing.T) *FallbackGroup[string] {
	t.Helper()
	g := NewFallbackGroup("primary", "p", BreakerConfig{
		MaxFailures:  2,
		ResetTimeout: time.Hour,
		Clock:        clock.Fake(time.Unix(0, 0)),
	})
	g.Add("secondary", "s")
	return g
}

func TestFallbackGroup_Execute(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		failing  []string
		wantCall []string
		wantErr  bool
	}{
		{name: "primary answers", wantCall: []string{"p"}},
		{name: "falls back", failing: []string{"p"}, wantCall: []string{"p", "s"}},
		{name: "all fail", failing: []string{"p", "s"}, wantCall: []string{"p", "s"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := newGroup(t)
			var calls []string
			err := g.Execute(func(v string) error {
				calls = append(calls, v)
				if slices.Contains(tt.failing, v) {
					return errTest
				}
				return nil
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && (!errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest)) {
				t.Errorf("err = %v, want ErrAllFailed wrapping the last error", err)
			}
			if !slices.Equal(calls, tt.wantCall) {
				t.Errorf("calls = %v, want %v", calls, tt.wantCall)
			}
		})
	}
}

func TestFallbackGroup_SkipsOpenMember(t *testing.T) {
	t.Parallel()
	g := newGroup(t)
	for range 2 {
		_ = g.Execute(func(v string) error {
			if v == "p" {
				return errTest
			}
			return nil
		})
	}
	if st := g.Breaker("primary").State(); st != StateOpen {
		t.Fatalf("primary breaker = %v, want open", st)
	}

	got, name, err := DoNamed(g, func(v string) (string, error) { return "from " + v, nil })
	if err != nil {
		t.Fatal(err)
	}
	if got != "from s" || name != "secondary" {
		t.Errorf("DoNamed = %q from %q, want secondary", got, name)
	}
}

func TestFallbackGroup_Names(t *testing.T) {
	t.Parallel()
	g := newGroup(t)
	if got := g.Names(); !slices.Equal(got, []string{"primary", "secondary"}) {
		t.Errorf("Names() = %v", got)
	}
	if g.Breaker("missing") != nil {
		t.Error("unknown member should have no breaker")
	}
}
