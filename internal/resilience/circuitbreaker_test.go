package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/bubbletalk/internal/clock"
)

var errTest = errors.New("test error")

func fail() error { return errTest }
func ok() error   { return nil }

func newTestBreaker(t *testing.T, maxFailures, halfOpen int) (*Breaker, *clock.FakeClock) {
	t.Helper()
	clk := clock.Fake(time.Unix(0, 0))
	return NewBreaker(BreakerConfig{
		Name:         "test",
		MaxFailures:  maxFailures,
		ResetTimeout: time.Minute,
		HalfOpenMax:  halfOpen,
		Clock:        clk,
	}), clk
}

func TestNewBreaker_Defaults(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{Name: "test"})
	if b.maxFailures != 3 || b.resetTimeout != 30*time.Second || b.halfOpenMax != 1 {
		t.Errorf("defaults = %d/%v/%d", b.maxFailures, b.resetTimeout, b.halfOpenMax)
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %v", b.State())
	}
}

func TestBreaker_Transitions(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		steps func(t *testing.T, b *Breaker, clk *clock.FakeClock)
		want  State
	}{
		{
			name: "success resets failure count",
			steps: func(t *testing.T, b *Breaker, _ *clock.FakeClock) {
				_ = b.Execute(fail)
				_ = b.Execute(fail)
				_ = b.Execute(ok)
				_ = b.Execute(fail)
				_ = b.Execute(fail)
			},
			want: StateClosed,
		},
		{
			name: "consecutive failures open",
			steps: func(t *testing.T, b *Breaker, _ *clock.FakeClock) {
				for range 3 {
					_ = b.Execute(fail)
				}
				called := false
				if err := b.Execute(func() error { called = true; return nil }); !errors.Is(err, ErrCircuitOpen) {
					t.Errorf("open breaker returned %v", err)
				}
				if called {
					t.Error("open breaker ran the call")
				}
			},
			want: StateOpen,
		},
		{
			name: "timeout reports half-open",
			steps: func(t *testing.T, b *Breaker, clk *clock.FakeClock) {
				for range 3 {
					_ = b.Execute(fail)
				}
				clk.Advance(time.Minute)
			},
			want: StateHalfOpen,
		},
		{
			name: "successful probes close",
			steps: func(t *testing.T, b *Breaker, clk *clock.FakeClock) {
				for range 3 {
					_ = b.Execute(fail)
				}
				clk.Advance(time.Minute)
				if err := b.Execute(ok); err != nil {
					t.Errorf("first probe: %v", err)
				}
				if err := b.Execute(ok); err != nil {
					t.Errorf("second probe: %v", err)
				}
			},
			want: StateClosed,
		},
		{
			name: "failed probe re-opens",
			steps: func(t *testing.T, b *Breaker, clk *clock.FakeClock) {
				for range 3 {
					_ = b.Execute(fail)
				}
				clk.Advance(time.Minute)
				_ = b.Execute(fail)
				clk.Advance(30 * time.Second)
			},
			want: StateOpen,
		},
		{
			name: "reset closes",
			steps: func(t *testing.T, b *Breaker, _ *clock.FakeClock) {
				for range 3 {
					_ = b.Execute(fail)
				}
				b.Reset()
			},
			want: StateClosed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b, clk := newTestBreaker(t, 3, 2)
			tt.steps(t, b, clk)
			if got := b.State(); got != tt.want {
				t.Errorf("state = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBreaker_HalfOpenLimitsProbes(t *testing.T) {
	t.Parallel()
	b, clk := newTestBreaker(t, 1, 1)
	_ = b.Execute(fail)
	clk.Advance(time.Minute)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = b.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	if err := b.Execute(ok); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second concurrent probe = %v, want ErrCircuitOpen", err)
	}
	close(release)
}

func TestState_String(t *testing.T) {
	t.Parallel()
	for s, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(42):     "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
