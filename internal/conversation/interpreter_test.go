package conversation

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/bubbletalk/internal/clock"
	"github.com/MrWong99/bubbletalk/internal/observe"
	"github.com/MrWong99/bubbletalk/pkg/dialogue"
	"github.com/MrWong99/bubbletalk/pkg/presentation"
	"github.com/MrWong99/bubbletalk/pkg/presentation/mock"
)

var epoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	clk    *clock.FakeClock
	surf   *mock.Surface
	interp *Interpreter
}

func newHarness(t *testing.T, lines []dialogue.Line, configure ...func(*Config)) *harness {
	t.Helper()
	clk := clock.Fake(epoch)
	surf := &mock.Surface{Now: clk.Now}
	cfg := Config{
		Speaker: "A",
		Lines:   StaticIndex{Idx: dialogue.BuildIndex(lines)},
		Surface: surf,
		Clock:   clk,
	}
	for _, fn := range configure {
		fn(&cfg)
	}
	interp, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = interp.Close(ctx)
	})
	return &harness{clk: clk, surf: surf, interp: interp}
}

// talk starts a conversation and drives the clock until it ends.
func (h *harness) talk(t *testing.T) Outcome {
	t.Helper()
	if !h.interp.StartConversation() {
		t.Fatal("StartConversation returned false")
	}
	return h.wait(t)
}

func (h *harness) wait(t *testing.T) Outcome {
	t.Helper()
	if !h.clk.RunUntil(h.interp.Done(), 5*time.Second) {
		t.Fatal("conversation did not end")
	}
	out, ok := h.interp.LastOutcome()
	if !ok {
		t.Fatal("no outcome recorded")
	}
	return out
}

func at(ms int) time.Time { return epoch.Add(time.Duration(ms) * time.Millisecond) }

func line(id, text, next string) dialogue.Line {
	return dialogue.Line{Speaker: "A", ID: id, Text: text, Duration: "1", NextID: next}
}

func TestInterpreter_TwoLineScenario(t *testing.T) {
	t.Parallel()
	h := newHarness(t, []dialogue.Line{
		{ID: "1", Speaker: "A", Text: "Hi", Duration: "1", NextID: "2"},
		{ID: "2", Speaker: "A", Text: "Bye", Duration: "1"},
	})

	out := h.talk(t)
	h.clk.Advance(DefaultAvailableDelay)

	type call struct {
		kind presentation.EventKind
		text string
		at   time.Time
	}
	want := []call{
		{presentation.EventText, "", at(0)},
		{presentation.EventHide, "", at(0)},
		{presentation.EventShow, "", at(300)},
		{presentation.EventText, "H", at(300)},
		{presentation.EventText, "Hi", at(375)},
		// 75ms after the last character plus a 1s hold.
		{presentation.EventText, "", at(1450)},
		{presentation.EventHide, "", at(1450)},
		{presentation.EventShow, "", at(1750)},
		{presentation.EventText, "B", at(1750)},
		{presentation.EventText, "By", at(1825)},
		{presentation.EventText, "Bye", at(1900)},
		{presentation.EventHide, "", at(2975)},
		{presentation.EventText, "", at(2975)},
		{presentation.EventAvailable, "", at(3475)},
	}
	calls := h.surf.Calls()
	if len(calls) != len(want) {
		t.Fatalf("got %d surface calls, want %d: %+v", len(calls), len(want), calls)
	}
	for i, w := range want {
		c := calls[i]
		if c.Kind != w.kind || c.Text != w.text || !c.At.Equal(w.at) {
			t.Errorf("call %d = {%s %q %v}, want {%s %q %v}",
				i, c.Kind, c.Text, c.At.Sub(epoch), w.kind, w.text, w.at.Sub(epoch))
		}
	}

	if out.LastLineID != "2" || out.Reason != ReasonCompleted || out.Steps != 2 {
		t.Errorf("outcome = %+v, want ended at 2, completed, 2 steps", out)
	}
	if out.Duration() != 2975*time.Millisecond {
		t.Errorf("duration = %v, want 2.975s", out.Duration())
	}
	if !out.Available || !h.interp.IsAvailableToTalk() {
		t.Error("speaker should be re-engageable after a line with an empty note")
	}
	if h.interp.IsConversationActive() || h.interp.IsRendering() {
		t.Error("interpreter should be idle after the conversation")
	}
	if out.ConversationID == "" {
		t.Error("conversation id should be set")
	}
}

func TestInterpreter_LinearChain(t *testing.T) {
	t.Parallel()
	for _, n := range []int{1, 2, 5, 9} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			t.Parallel()
			var lines []dialogue.Line
			var texts []string
			for i := range n {
				next := ""
				if i < n-1 {
					next = fmt.Sprintf("l%d", i+1)
				}
				text := fmt.Sprintf("line %d", i)
				texts = append(texts, text)
				lines = append(lines, line(fmt.Sprintf("l%d", i), text, next))
			}
			// Registration order must not matter for the start line.
			slices.Reverse(lines)

			h := newHarness(t, lines)
			out := h.talk(t)

			if out.Steps != n {
				t.Errorf("steps = %d, want %d", out.Steps, n)
			}
			if want := fmt.Sprintf("l%d", n-1); out.LastLineID != want {
				t.Errorf("last line = %q, want %q", out.LastLineID, want)
			}
			if got := h.surf.FinalTexts(); !slices.Equal(got, texts) {
				t.Errorf("presented %q, want %q", got, texts)
			}
		})
	}
}

func TestInterpreter_DanglingNextEndsAtReferringLine(t *testing.T) {
	t.Parallel()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	h := newHarness(t, []dialogue.Line{
		line("1", "Hi", "missing"),
	}, func(c *Config) { c.Metrics = metrics })

	out := h.talk(t)

	if out.LastLineID != "1" || out.Reason != ReasonDanglingNext {
		t.Errorf("outcome = %+v, want ended at 1 with dangling_next", out)
	}
	if !errors.Is(out.Err, dialogue.ErrDanglingNext) {
		t.Errorf("err = %v, want ErrDanglingNext", out.Err)
	}
	if got := h.surf.FinalTexts(); !slices.Equal(got, []string{"Hi"}) {
		t.Errorf("presented %q, want [Hi]", got)
	}
	if !out.Available {
		t.Error("closing note is empty, speaker should stay available")
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var graphErrors, ended int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				switch m.Name {
				case "bubbletalk.dialogue.errors":
					if v, _ := dp.Attributes.Value("kind"); v.AsString() == observe.ErrorKindGraph {
						graphErrors += dp.Value
					}
				case "bubbletalk.conversations.ended":
					if v, _ := dp.Attributes.Value("reason"); v.AsString() == string(ReasonDanglingNext) {
						ended += dp.Value
					}
				}
			}
		}
	}
	if graphErrors != 1 || ended != 1 {
		t.Errorf("graph errors = %d, dangling endings = %d, want 1 and 1", graphErrors, ended)
	}
}

func TestInterpreter_DepartureDivertsToLeaveLine(t *testing.T) {
	t.Parallel()
	h := newHarness(t, []dialogue.Line{
		line("1", "Hi", "2"),
		line("2", "Bye", ""),
		{Speaker: "A", ID: "L", Condition: dialogue.ConditionLeave, Text: "See you", Duration: "1"},
	})

	var current atomic.Value
	h.surf.OnCall = func(c mock.Call) {
		if c.Kind == presentation.EventText && c.Text == "Bye" {
			current.Store(h.interp.Status().CurrentLineID)
			if !h.interp.NotifyPlayerDeparted() {
				t.Error("departure during a conversation should be accepted")
			}
		}
	}

	out := h.talk(t)

	if got := h.surf.FinalTexts(); !slices.Equal(got, []string{"Hi", "Bye", "See you"}) {
		t.Errorf("presented %q, want [Hi Bye See you]", got)
	}
	if out.LastLineID != "L" || !out.LeaveDiverted || out.Steps != 3 {
		t.Errorf("outcome = %+v, want ended at L after a leave diversion", out)
	}
	if got := current.Load(); got != "2" {
		t.Errorf("current line during Bye = %v, want 2", got)
	}
}

func TestInterpreter_DepartureWithoutLeaveLineIsIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t, []dialogue.Line{
		line("1", "Hi", "2"),
		line("2", "Bye", ""),
	})
	h.surf.OnCall = func(c mock.Call) {
		if c.Text == "Hi" {
			h.interp.NotifyPlayerDeparted()
		}
	}

	out := h.talk(t)
	if got := h.surf.FinalTexts(); !slices.Equal(got, []string{"Hi", "Bye"}) {
		t.Errorf("presented %q, want [Hi Bye]", got)
	}
	if out.LeaveDiverted {
		t.Error("no leave line exists, nothing should be diverted")
	}
}

func TestInterpreter_DepartureWhileIdleIsIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t, []dialogue.Line{
		line("1", "Hi", ""),
		{Speaker: "A", ID: "L", Condition: dialogue.ConditionLeave, Text: "Bye", Duration: "1", NextID: "1"},
	})
	if h.interp.NotifyPlayerDeparted() {
		t.Error("departure while idle should be rejected")
	}
	h.talk(t)
	if got := h.surf.FinalTexts(); !slices.Equal(got, []string{"Hi"}) {
		t.Errorf("presented %q, want [Hi]: a stale departure leaked in", got)
	}
}

func TestInterpreter_ConditionGate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		lines     []dialogue.Line
		wantTexts  []string
		wantLast   string
		wantAvail  bool
		wantReason Reason
	}{
		{
			name: "ineligible leave line is passed over",
			lines: []dialogue.Line{
				line("1", "one", "L"),
				{Speaker: "A", ID: "L", Condition: dialogue.ConditionLeave, Text: "leave", Duration: "1", NextID: "3"},
				line("3", "three", ""),
			},
			wantTexts: []string{"one", "three"},
			wantLast:  "3",
			wantAvail: true,
		},
		{
			name: "ineligible terminal line closes the conversation",
			lines: []dialogue.Line{
				line("1", "one", "L"),
				{Speaker: "A", ID: "L", Condition: dialogue.ConditionLeave, Text: "leave", Duration: "1", Note: "gone"},
			},
			wantTexts: []string{"one"},
			wantLast:  "L",
			wantAvail: false,
		},
		{
			name: "unknown condition is eligible",
			lines: []dialogue.Line{
				line("1", "one", "2"),
				{Speaker: "A", ID: "2", Condition: "quest_done", Text: "two", Duration: "1"},
			},
			wantTexts: []string{"one", "two"},
			wantLast:  "2",
			wantAvail: true,
		},
		{
			name: "ineligible line with missing next ends on that line",
			lines: []dialogue.Line{
				{Speaker: "A", ID: "L", Condition: dialogue.ConditionLeave, Text: "leave", Duration: "1", NextID: "missing"},
			},
			wantLast:   "L",
			wantAvail:  true,
			wantReason: ReasonDanglingNext,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, tc.lines)
			out := h.talk(t)
			wantReason := cmp.Or(tc.wantReason, ReasonCompleted)
			if out.Reason != wantReason {
				t.Errorf("reason = %q, want %q", out.Reason, wantReason)
			}
			if wantReason == ReasonDanglingNext && !errors.Is(out.Err, dialogue.ErrDanglingNext) {
				t.Errorf("err = %v, want ErrDanglingNext", out.Err)
			}
			if got := h.surf.FinalTexts(); !slices.Equal(got, tc.wantTexts) {
				t.Errorf("presented %q, want %q", got, tc.wantTexts)
			}
			if out.LastLineID != tc.wantLast {
				t.Errorf("last line = %q, want %q", out.LastLineID, tc.wantLast)
			}
			if out.Available != tc.wantAvail {
				t.Errorf("available = %v, want %v", out.Available, tc.wantAvail)
			}
		})
	}
}

func TestInterpreter_InvalidDurationEndsAfterReveal(t *testing.T) {
	t.Parallel()
	h := newHarness(t, []dialogue.Line{
		{Speaker: "A", ID: "1", Text: "Hmm", Duration: "soon", NextID: "2"},
		line("2", "never", ""),
	})
	out := h.talk(t)

	if got := h.surf.FinalTexts(); !slices.Equal(got, []string{"Hmm"}) {
		t.Errorf("presented %q, want [Hmm]", got)
	}
	if out.Reason != ReasonInvalidDuration || !errors.Is(out.Err, dialogue.ErrInvalidDuration) {
		t.Errorf("outcome = %+v, want invalid_duration", out)
	}
	if out.LastLineID != "1" {
		t.Errorf("last line = %q, want 1", out.LastLineID)
	}
}

func TestInterpreter_ExhaustedNote(t *testing.T) {
	t.Parallel()
	tests := []struct {
		note      string
		wantAvail bool
	}{
		{"", true},
		{"null", true},
		{"done", false},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("note=%q", tc.note), func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, []dialogue.Line{
				{Speaker: "A", ID: "1", Text: "Hi", Duration: "1", Note: tc.note},
			})
			h.talk(t)
			h.clk.Advance(time.Second)

			if got := h.interp.IsAvailableToTalk(); got != tc.wantAvail {
				t.Errorf("available = %v, want %v", got, tc.wantAvail)
			}
			wantIndicators := 0
			if tc.wantAvail {
				wantIndicators = 1
			}
			if got := h.surf.Count(presentation.EventAvailable); got != wantIndicators {
				t.Errorf("available indicators = %d, want %d", got, wantIndicators)
			}
		})
	}
}

func TestInterpreter_SkipRevealsFullLine(t *testing.T) {
	t.Parallel()
	h := newHarness(t, []dialogue.Line{
		line("1", "A rather long sentence", ""),
	})
	var accepted atomic.Bool
	h.surf.OnCall = func(c mock.Call) {
		if c.Text == "A r" {
			accepted.Store(h.interp.RequestSkip())
		}
	}

	h.talk(t)

	if !accepted.Load() {
		t.Fatal("skip during reveal should be accepted")
	}
	var texts []string
	for _, c := range h.surf.Calls() {
		if c.Kind == presentation.EventText && c.Text != "" {
			texts = append(texts, c.Text)
		}
	}
	want := []string{"A", "A ", "A r", "A rather long sentence"}
	if !slices.Equal(texts, want) {
		t.Errorf("texts = %q, want %q", texts, want)
	}
	if h.interp.RequestSkip() {
		t.Error("skip while idle should be rejected")
	}
}

func TestInterpreter_StartRejections(t *testing.T) {
	t.Parallel()

	t.Run("no start line", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, []dialogue.Line{
			{Speaker: "B", ID: "1", Text: "not mine", Duration: "1"},
		})
		if h.interp.StartConversation() {
			t.Error("StartConversation should fail without lines for the speaker")
		}
		if n := len(h.surf.Calls()); n != 0 {
			t.Errorf("surface received %d calls, want none", n)
		}
	})

	t.Run("already active", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, []dialogue.Line{line("1", "Hi", "")})
		if !h.interp.StartConversation() {
			t.Fatal("first start failed")
		}
		if h.interp.StartConversation() {
			t.Error("second start while active should be rejected")
		}
		out := h.wait(t)
		if out.Steps != 1 {
			t.Errorf("steps = %d, want 1", out.Steps)
		}
	})
}

func TestInterpreter_Interact(t *testing.T) {
	t.Parallel()

	t.Run("unavailable speaker ignores interaction", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, []dialogue.Line{line("1", "Hi", "")})
		if got := h.interp.Interact(); got != ActionNone {
			t.Errorf("Interact = %s, want none", got)
		}
	})

	t.Run("starts then skips", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, []dialogue.Line{line("1", "Hello there", "")},
			func(c *Config) { c.InitiallyAvailable = true })

		h.clk.Advance(DefaultAvailableDelay)
		if got := h.surf.State(); !got.Visible || got.Text != presentation.AvailableText {
			t.Fatalf("idle state = %+v, want available indicator", got)
		}

		var mu sync.Mutex
		var actions []Action
		h.surf.OnCall = func(c mock.Call) {
			if c.Text == "He" {
				mu.Lock()
				actions = append(actions, h.interp.Interact())
				mu.Unlock()
			}
		}

		if got := h.interp.Interact(); got != ActionStarted {
			t.Fatalf("Interact = %s, want started", got)
		}
		h.wait(t)

		mu.Lock()
		defer mu.Unlock()
		if !slices.Equal(actions, []Action{ActionSkipped}) {
			t.Errorf("actions during reveal = %v, want [skipped]", actions)
		}
		if got := h.surf.FinalTexts(); !slices.Equal(got, []string{"Hello there"}) {
			t.Errorf("presented %q", got)
		}
	})
}

func TestInterpreter_NearbyIndicator(t *testing.T) {
	t.Parallel()
	h := newHarness(t, []dialogue.Line{line("1", "Hi", "")},
		func(c *Config) { c.InitiallyAvailable = true })

	// Before the indicator is due nothing is drawn.
	h.interp.NotifyPlayerNearby(true)
	if n := len(h.surf.Calls()); n != 0 {
		t.Fatalf("surface calls before indicator = %d, want 0", n)
	}

	h.clk.Advance(DefaultAvailableDelay)
	if got := h.surf.State(); got.Text != presentation.InteractableText || !got.Visible {
		t.Errorf("nearby state = %+v, want visible %q", got, presentation.InteractableText)
	}

	h.interp.NotifyPlayerNearby(false)
	if got := h.surf.State(); got.Text != presentation.AvailableText {
		t.Errorf("away state = %+v, want %q", got, presentation.AvailableText)
	}
}

func TestInterpreter_SetAvailable(t *testing.T) {
	t.Parallel()
	h := newHarness(t, []dialogue.Line{
		{Speaker: "A", ID: "1", Text: "Hi", Duration: "1", Note: "done"},
	})
	h.talk(t)
	if h.interp.IsAvailableToTalk() {
		t.Fatal("speaker should be exhausted")
	}

	h.interp.SetAvailable(true)
	h.clk.Advance(DefaultAvailableDelay)
	if got := h.surf.Count(presentation.EventAvailable); got != 1 {
		t.Errorf("indicators after reset = %d, want 1", got)
	}

	h.interp.SetAvailable(false)
	if got := h.surf.State(); got.Visible {
		t.Errorf("state after disabling = %+v, want hidden", got)
	}
	if got := h.interp.Interact(); got != ActionNone {
		t.Errorf("Interact = %s, want none", got)
	}
}

func TestInterpreter_MaxSteps(t *testing.T) {
	t.Parallel()
	h := newHarness(t, []dialogue.Line{
		line("a1", "ping", "a2"),
		line("a2", "pong", "a1"),
	}, func(c *Config) { c.MaxSteps = 3 })

	out := h.talk(t)
	if out.Reason != ReasonStepLimit || out.Steps != 3 {
		t.Errorf("outcome = %+v, want step_limit after 3 lines", out)
	}
	if out.LastLineID != "a1" {
		t.Errorf("last line = %q, want a1", out.LastLineID)
	}
	if got := h.surf.FinalTexts(); !slices.Equal(got, []string{"ping", "pong", "ping"}) {
		t.Errorf("presented %q", got)
	}
}

func TestInterpreter_CloseCancelsConversation(t *testing.T) {
	t.Parallel()
	var ended atomic.Int32
	h := newHarness(t, []dialogue.Line{line("1", "Hi", "")}, func(c *Config) {
		c.OnEnd = func(Outcome) { ended.Add(1) }
	})

	if !h.interp.StartConversation() {
		t.Fatal("start failed")
	}
	h.clk.WaitForTimers(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.interp.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	out, ok := h.interp.LastOutcome()
	if !ok || out.Reason != ReasonCancelled {
		t.Errorf("outcome = %+v, want cancelled", out)
	}
	if out.Available {
		t.Error("cancellation should not change availability")
	}
	if got := h.surf.State(); got.Visible || got.Text != "" {
		t.Errorf("surface = %+v, want hidden and empty", got)
	}
	if ended.Load() != 1 {
		t.Errorf("OnEnd calls = %d, want 1", ended.Load())
	}
	if h.interp.StartConversation() {
		t.Error("StartConversation after Close should fail")
	}
}

func TestInterpreter_UsesIndexSnapshot(t *testing.T) {
	t.Parallel()
	src := &swapSource{}
	src.set(dialogue.BuildIndex([]dialogue.Line{line("1", "old one", "2"), line("2", "old two", "")}))

	h := newHarness(t, nil, func(c *Config) { c.Lines = src })
	h.surf.OnCall = func(c mock.Call) {
		if c.Text == "old one" {
			src.set(dialogue.BuildIndex([]dialogue.Line{line("1", "new one", "2"), line("2", "new two", "")}))
		}
	}
	h.talk(t)
	if got := h.surf.FinalTexts(); !slices.Equal(got, []string{"old one", "old two"}) {
		t.Errorf("presented %q, want the snapshot taken at start", got)
	}

	h.surf.OnCall = nil
	h.surf.Reset()
	h.talk(t)
	if got := h.surf.FinalTexts(); !slices.Equal(got, []string{"new one", "new two"}) {
		t.Errorf("presented %q, want the reloaded lines", got)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Lines: StaticIndex{}}); err == nil {
		t.Error("missing speaker should fail")
	}
	if _, err := New(Config{Speaker: "A"}); err == nil {
		t.Error("missing line source should fail")
	}
}

type swapSource struct {
	p atomic.Pointer[dialogue.Index]
}

func (s *swapSource) set(idx *dialogue.Index) { s.p.Store(idx) }

func (s *swapSource) Index() *dialogue.Index { return s.p.Load() }
