// Package conversation runs one NPC's conversations: it walks the dialogue
// graph from the speaker's start line, presents each line through a
// [presentation.Surface] with a typewriter reveal, holds it for its duration
// and reacts to skip and departure signals.
//
// An [Interpreter] serves a single speaker and runs at most one conversation
// at a time, each in its own goroutine. Every signal and query method is safe
// to call from any goroutine.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/bubbletalk/internal/clock"
	"github.com/MrWong99/bubbletalk/internal/observe"
	"github.com/MrWong99/bubbletalk/internal/typewriter"
	"github.com/MrWong99/bubbletalk/pkg/dialogue"
	"github.com/MrWong99/bubbletalk/pkg/presentation"
)

// Default timing parameters.
const (
	DefaultSettleDelay    = 300 * time.Millisecond
	DefaultMinHold        = 10 * time.Millisecond
	DefaultAvailableDelay = 500 * time.Millisecond
)

// IndexSource supplies the current dialogue index. A conversation takes one
// snapshot when it starts and uses it until it ends.
type IndexSource interface {
	Index() *dialogue.Index
}

// StaticIndex is an [IndexSource] that always returns the same index.
type StaticIndex struct{ Idx *dialogue.Index }

// Index implements [IndexSource].
func (s StaticIndex) Index() *dialogue.Index { return s.Idx }

// Timing holds the delays used while presenting lines. Zero fields take the
// package defaults.
type Timing struct {
	// CharDelay is the pause after each revealed character.
	CharDelay time.Duration

	// SettleDelay is the pause between hiding the previous line and showing
	// the next.
	SettleDelay time.Duration

	// MinHold is the lower bound applied to every line's duration.
	MinHold time.Duration

	// AvailableDelay is how long after a re-engageable ending the available
	// indicator appears.
	AvailableDelay time.Duration
}

func (t Timing) withDefaults() Timing {
	if t.CharDelay <= 0 {
		t.CharDelay = typewriter.DefaultCharDelay
	}
	if t.SettleDelay <= 0 {
		t.SettleDelay = DefaultSettleDelay
	}
	if t.MinHold <= 0 {
		t.MinHold = DefaultMinHold
	}
	if t.AvailableDelay <= 0 {
		t.AvailableDelay = DefaultAvailableDelay
	}
	return t
}

// Config configures an [Interpreter].
type Config struct {
	// Speaker is the NPC this interpreter speaks for. Required.
	Speaker string

	// Lines supplies the dialogue index. Required.
	Lines IndexSource

	// Surface receives the bubble output. Defaults to a
	// [presentation.LogSurface].
	Surface presentation.Surface

	// Clock drives every delay. Defaults to the real clock.
	Clock clock.Clock

	Timing Timing

	// Metrics may be nil.
	Metrics *observe.Metrics

	// InitiallyAvailable marks the speaker as talkable before any
	// conversation and schedules the available indicator.
	InitiallyAvailable bool

	// MaxSteps bounds the number of line visits per conversation. Zero means
	// unlimited.
	MaxSteps int

	// OnEnd, if set, is called after every conversation with its outcome.
	OnEnd func(Outcome)

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Action reports what [Interpreter.Interact] did.
type Action string

const (
	ActionNone    Action = "none"
	ActionStarted Action = "started"
	ActionSkipped Action = "skipped"
)

// Status is a point-in-time snapshot of an interpreter.
type Status struct {
	Speaker       string `json:"speaker"`
	Active        bool   `json:"active"`
	Rendering     bool   `json:"rendering"`
	Available     bool   `json:"available"`
	PlayerNearby  bool   `json:"player_nearby"`
	CurrentLineID string `json:"current_line_id,omitempty"`
}

// Interpreter runs conversations for one speaker.
type Interpreter struct {
	speaker  string
	lines    IndexSource
	surface  presentation.Surface
	clock    clock.Clock
	metrics  *observe.Metrics
	maxSteps int
	onEnd    func(Outcome)
	logger   *slog.Logger
	renderer *typewriter.Renderer

	base       context.Context
	cancelBase context.CancelFunc

	// departed is set by NotifyPlayerDeparted and sampled after each hold.
	departed atomic.Bool

	mu         sync.Mutex
	timing     Timing
	active     bool
	closed     bool
	available  bool
	nearby     bool
	current    string
	done       chan struct{}
	availTimer *clock.Timer
	last       *Outcome
}

// New creates an [Interpreter] from cfg.
func New(cfg Config) (*Interpreter, error) {
	if cfg.Speaker == "" {
		return nil, errors.New("conversation: speaker is required")
	}
	if cfg.Lines == nil {
		return nil, errors.New("conversation: line source is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("speaker", cfg.Speaker)
	surface := cfg.Surface
	if surface == nil {
		surface = presentation.NewLogSurface(cfg.Speaker, logger)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	timing := cfg.Timing.withDefaults()

	base, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	close(done)

	i := &Interpreter{
		speaker:    cfg.Speaker,
		lines:      cfg.Lines,
		surface:    surface,
		clock:      clk,
		metrics:    cfg.Metrics,
		maxSteps:   cfg.MaxSteps,
		onEnd:      cfg.OnEnd,
		logger:     logger,
		renderer:   typewriter.New(typewriter.WithClock(clk), typewriter.WithCharDelay(timing.CharDelay)),
		base:       base,
		cancelBase: cancel,
		timing:     timing,
		available:  cfg.InitiallyAvailable,
		done:       done,
	}
	if i.available {
		i.mu.Lock()
		i.scheduleIndicatorLocked()
		i.mu.Unlock()
	}
	return i, nil
}

// Speaker returns the speaker this interpreter serves.
func (i *Interpreter) Speaker() string { return i.speaker }

// StartConversation begins a conversation at the speaker's start line. It
// returns false without changing any state when a conversation is already
// running, no start line exists, or the interpreter is closed.
func (i *Interpreter) StartConversation() bool {
	idx := i.lines.Index()

	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return false
	}
	if i.active {
		i.mu.Unlock()
		i.logger.Debug("conversation already active, ignoring start")
		i.metrics.RecordDialogueError(context.Background(), i.speaker, observe.ErrorKindUsage)
		return false
	}
	start, ok := dialogue.FindStart(idx, i.speaker)
	if !ok {
		i.mu.Unlock()
		i.logger.Warn("conversation: cannot start", "err", dialogue.ErrNoStartLine)
		i.metrics.RecordDialogueError(context.Background(), i.speaker, observe.ErrorKindGraph)
		return false
	}

	i.active = true
	i.departed.Store(false)
	if i.availTimer != nil {
		i.availTimer.Stop()
		i.availTimer = nil
	}
	ctx, cancel := context.WithCancel(i.base)
	done := make(chan struct{})
	i.done = done
	timing := i.timing
	i.mu.Unlock()

	c := &run{
		id:      uuid.NewString(),
		idx:     idx,
		timing:  timing,
		started: i.clock.Now(),
	}
	ctx, span := observe.StartConversationSpan(ctx, i.speaker, c.id)
	c.logger = observe.Logger(ctx, i.logger.With("conversation_id", c.id))
	c.logger.Info("conversation started", "start_line", start.ID)
	i.metrics.RecordConversationStart(ctx, i.speaker)

	go func() {
		defer cancel()
		out := i.runConversation(ctx, c, start)
		observe.EndConversationSpan(span, string(out.Reason), out.Steps, out.LeaveDiverted, out.Err)
		i.finish(ctx, c, out, done)
	}()
	return true
}

// RequestSkip asks the running reveal to show its full text immediately.
// Requests made while nothing is being revealed are ignored and return false.
func (i *Interpreter) RequestSkip() bool {
	if !i.renderer.Skip() {
		i.logger.Debug("skip ignored, nothing is being revealed")
		return false
	}
	i.metrics.RecordSkip(context.Background(), i.speaker)
	return true
}

// NotifyPlayerDeparted records that the player walked away. The flag is only
// honoured after the current line's hold; it is ignored while no
// conversation runs.
func (i *Interpreter) NotifyPlayerDeparted() bool {
	i.mu.Lock()
	active := i.active
	i.mu.Unlock()
	if !active {
		i.logger.Debug("departure ignored, no conversation")
		return false
	}
	i.departed.Store(true)
	return true
}

// Interact is the player's single interaction input: it skips a running
// reveal, or starts a conversation when the speaker is idle and available.
func (i *Interpreter) Interact() Action {
	if i.renderer.Typing() {
		if i.RequestSkip() {
			return ActionSkipped
		}
		return ActionNone
	}
	i.mu.Lock()
	idle := !i.active && i.available
	i.mu.Unlock()
	if !idle {
		return ActionNone
	}
	if i.StartConversation() {
		return ActionStarted
	}
	return ActionNone
}

// NotifyPlayerNearby switches the idle indicator between "!" (player in
// range) and "..." (out of range). It only affects the surface while the
// speaker is idle, available and the indicator is already shown.
func (i *Interpreter) NotifyPlayerNearby(nearby bool) {
	i.mu.Lock()
	i.nearby = nearby
	show := !i.active && i.available && i.availTimer == nil && !i.closed
	i.mu.Unlock()
	if show {
		i.showIndicator(nearby)
	}
}

// SetAvailable overrides whether the speaker can be talked to. Enabling it
// while idle schedules the available indicator; disabling it hides the
// bubble.
func (i *Interpreter) SetAvailable(available bool) {
	i.mu.Lock()
	if i.available == available || i.closed {
		i.mu.Unlock()
		return
	}
	i.available = available
	idle := !i.active
	if idle && available {
		i.scheduleIndicatorLocked()
	}
	if !available && i.availTimer != nil {
		i.availTimer.Stop()
		i.availTimer = nil
	}
	i.mu.Unlock()

	if idle && !available {
		i.surface.Hide()
		i.surface.SetText("")
	}
	i.logger.Info("availability changed", "available", available)
}

// SetTiming replaces the timing used by conversations started afterwards.
// The character delay applies immediately.
func (i *Interpreter) SetTiming(t Timing) {
	t = t.withDefaults()
	i.mu.Lock()
	i.timing = t
	i.mu.Unlock()
	i.renderer.SetCharDelay(t.CharDelay)
}

// IsConversationActive reports whether a conversation is running.
func (i *Interpreter) IsConversationActive() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.active
}

// IsRendering reports whether a line is being revealed.
func (i *Interpreter) IsRendering() bool { return i.renderer.Typing() }

// IsAvailableToTalk reports whether the speaker can be engaged.
func (i *Interpreter) IsAvailableToTalk() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.available
}

// Status returns a snapshot of the interpreter state.
func (i *Interpreter) Status() Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	return Status{
		Speaker:       i.speaker,
		Active:        i.active,
		Rendering:     i.renderer.Typing(),
		Available:     i.available,
		PlayerNearby:  i.nearby,
		CurrentLineID: i.current,
	}
}

// Done returns a channel closed when the current (or most recent)
// conversation has ended. Before the first conversation it is already closed.
func (i *Interpreter) Done() <-chan struct{} {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.done
}

// LastOutcome returns the outcome of the most recent finished conversation.
func (i *Interpreter) LastOutcome() (Outcome, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.last == nil {
		return Outcome{}, false
	}
	return *i.last, true
}

// Close cancels any running conversation and pending indicator and waits for
// the conversation goroutine to exit or ctx to expire. Availability is left
// unchanged. Close is idempotent.
func (i *Interpreter) Close(ctx context.Context) error {
	i.mu.Lock()
	i.closed = true
	if i.availTimer != nil {
		i.availTimer.Stop()
		i.availTimer = nil
	}
	done := i.done
	i.mu.Unlock()

	i.cancelBase()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("conversation: close %s: %w", i.speaker, ctx.Err())
	}
}

// run carries the per-conversation state that is owned by the conversation
// goroutine.
type run struct {
	id      string
	idx     *dialogue.Index
	timing  Timing
	started time.Time
	logger  *slog.Logger
}

func (i *Interpreter) runConversation(ctx context.Context, c *run, start *dialogue.Line) Outcome {
	out := Outcome{
		ConversationID: c.id,
		Speaker:        i.speaker,
		Started:        c.started,
		Reason:         ReasonCompleted,
	}
	cur := start
	gated := true
	visits := 0

	for {
		if i.maxSteps > 0 && visits >= i.maxSteps {
			out.Reason = ReasonStepLimit
			c.logger.Warn("conversation: step limit reached", "line_id", out.LastLineID, "max_steps", i.maxSteps)
			return out
		}
		visits++
		out.LastLineID = cur.ID

		if gated && !i.eligible(cur) {
			next, reason, err := i.successor(c, cur)
			if next == nil {
				out.Reason, out.Err = reason, err
				return out
			}
			cur = next
			continue
		}
		gated = true

		if err := i.present(ctx, c, cur); err != nil {
			out.Reason = ReasonCancelled
			return out
		}
		out.Steps++

		hold, err := cur.Hold()
		if err != nil {
			c.logger.Warn("conversation: bad line duration", "line_id", cur.ID, "duration", cur.Duration, "err", err)
			i.metrics.RecordDialogueError(ctx, i.speaker, observe.ErrorKindConfiguration)
			out.Reason, out.Err = ReasonInvalidDuration, err
			return out
		}
		hold = max(hold, c.timing.MinHold)
		if err := i.sleep(ctx, hold); err != nil {
			out.Reason = ReasonCancelled
			return out
		}

		if i.departed.Load() {
			if leave, ok := c.idx.FindLeave(i.speaker); ok {
				i.departed.Store(false)
				c.logger.Info("player left, diverting to leave line", "line_id", cur.ID, "leave_line", leave.ID)
				out.LeaveDiverted = true
				cur = leave
				gated = false
				continue
			}
			c.logger.Debug("player left but no leave line exists", "line_id", cur.ID)
		}

		next, reason, err := i.successor(c, cur)
		if next == nil {
			out.Reason, out.Err = reason, err
			return out
		}
		cur = next
	}
}

// successor resolves line's next id. A nil line means the conversation ends
// at line for the returned reason.
func (i *Interpreter) successor(c *run, line *dialogue.Line) (*dialogue.Line, Reason, error) {
	if line.IsTerminal() {
		return nil, ReasonCompleted, nil
	}
	next, ok := c.idx.Lookup(line.NextID)
	if !ok {
		err := fmt.Errorf("%w: %q -> %q", dialogue.ErrDanglingNext, line.ID, line.NextID)
		c.logger.Warn("conversation: next line not found", "line_id", line.ID, "next_id", line.NextID, "err", err)
		i.metrics.RecordDialogueError(context.Background(), i.speaker, observe.ErrorKindGraph)
		return nil, ReasonDanglingNext, err
	}
	return next, "", nil
}

func (i *Interpreter) eligible(l *dialogue.Line) bool {
	if l.Condition == dialogue.ConditionLeave {
		return i.departed.Load()
	}
	return true
}

func (i *Interpreter) present(ctx context.Context, c *run, l *dialogue.Line) error {
	ctx, span := observe.StartLineSpan(ctx, l.ID, string(l.Condition))
	defer span.End()

	i.mu.Lock()
	i.current = l.ID
	i.mu.Unlock()

	i.surface.SetText("")
	i.surface.Hide()
	if err := i.sleep(ctx, c.timing.SettleDelay); err != nil {
		return err
	}
	i.surface.Show()
	i.metrics.RecordLineRendered(ctx, i.speaker, string(l.Condition))

	res, err := i.renderer.Reveal(ctx, i.surface, l.Text)
	if err != nil {
		return err
	}
	observe.RecordReveal(span, res.Steps, res.Skipped)
	c.logger.Debug("line presented", "line_id", l.ID, "skipped", res.Skipped)
	return nil
}

func (i *Interpreter) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-i.clock.After(d):
		return nil
	}
}

func (i *Interpreter) finish(ctx context.Context, c *run, out Outcome, done chan struct{}) {
	i.surface.Hide()
	i.surface.SetText("")
	out.Ended = i.clock.Now()

	i.mu.Lock()
	i.active = false
	i.current = ""
	i.departed.Store(false)
	if out.Reason != ReasonCancelled {
		closing, ok := c.idx.Lookup(out.LastLineID)
		i.available = ok && closing.Reengageable()
		if i.available && !i.closed {
			i.scheduleIndicatorLocked()
		}
	}
	out.Available = i.available
	i.last = &out
	i.mu.Unlock()

	c.logger.Info("conversation ended",
		"reason", out.Reason,
		"last_line", out.LastLineID,
		"steps", out.Steps,
		"available", out.Available,
	)
	i.metrics.RecordConversationEnd(context.WithoutCancel(ctx), i.speaker, string(out.Reason), out.Duration())

	if i.onEnd != nil {
		i.onEnd(out)
	}
	close(done)
}

// scheduleIndicatorLocked arms the available indicator. i.mu must be held.
func (i *Interpreter) scheduleIndicatorLocked() {
	if i.availTimer != nil {
		i.availTimer.Stop()
	}
	var t *clock.Timer
	t = i.clock.AfterFunc(i.timing.AvailableDelay, func() {
		i.mu.Lock()
		if i.availTimer != t || i.active || !i.available || i.closed {
			i.mu.Unlock()
			return
		}
		i.availTimer = nil
		nearby := i.nearby
		i.mu.Unlock()
		i.showIndicator(nearby)
	})
	i.availTimer = t
}

func (i *Interpreter) showIndicator(nearby bool) {
	if nearby {
		i.surface.SetText(presentation.InteractableText)
		i.surface.Show()
		return
	}
	i.surface.IndicateAvailable()
}
