// Package typewriter reveals a line of text one character at a time.
//
// Inline formatting markers (a '<' up to and including the next '>') are
// copied in a single step without a delay, so the display never shows half a
// tag. A pending skip request replaces the remaining reveal with the full
// text at the next character boundary.
package typewriter

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/bubbletalk/internal/clock"
)

// DefaultCharDelay is the pause after each revealed character.
const DefaultCharDelay = 75 * time.Millisecond

const (
	markerOpen  = '<'
	markerClose = '>'
)

// Sink receives the progressively revealed text. Each call carries the whole
// visible prefix, not a delta.
type Sink interface {
	SetText(text string)
}

// Result summarises a finished reveal.
type Result struct {
	// Steps is the number of SetText calls made.
	Steps int

	// Skipped is true when a skip request cut the reveal short.
	Skipped bool
}

// Renderer performs reveals and owns the skip signal and the typing flag.
// A Renderer runs at most one reveal at a time; Skip and Typing may be called
// from any goroutine.
type Renderer struct {
	clock clock.Clock
	delay atomic.Int64 // time.Duration

	// skip holds at most one pending request; extra requests collapse.
	skip chan struct{}

	// mu orders accepted skips against the end of typing.
	mu     sync.Mutex
	typing atomic.Bool
}

// Option configures a [Renderer].
type Option func(*Renderer)

// WithCharDelay overrides [DefaultCharDelay]. Non-positive values reveal
// without pausing.
func WithCharDelay(d time.Duration) Option {
	return func(r *Renderer) { r.delay.Store(int64(d)) }
}

// WithClock sets the clock used for per-character waits.
func WithClock(c clock.Clock) Option {
	return func(r *Renderer) {
		if c != nil {
			r.clock = c
		}
	}
}

// New returns a Renderer using the real clock and [DefaultCharDelay] unless
// overridden.
func New(opts ...Option) *Renderer {
	r := &Renderer{
		clock: clock.Real(),
		skip:  make(chan struct{}, 1),
	}
	r.delay.Store(int64(DefaultCharDelay))
	for _, o := range opts {
		o(r)
	}
	return r
}

// SetCharDelay changes the delay used by subsequent reveals.
func (r *Renderer) SetCharDelay(d time.Duration) { r.delay.Store(int64(d)) }

// Typing reports whether a reveal still has characters to show.
func (r *Renderer) Typing() bool { return r.typing.Load() }

// Skip requests that the current reveal finish immediately. It reports
// whether the request was accepted; requests made once every character is
// visible, or while nothing is being revealed, are dropped. An accepted
// request is always consumed by the reveal it was made during.
func (r *Renderer) Skip() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.typing.Load() {
		return false
	}
	select {
	case r.skip <- struct{}{}:
	default:
	}
	return true
}

func (r *Renderer) setTyping(v bool) {
	r.mu.Lock()
	r.typing.Store(v)
	r.mu.Unlock()
}

// Reveal writes text to sink incrementally and returns once the full text is
// visible, a skip was honoured, or ctx is cancelled. The skip signal is only
// polled between characters; a request arriving during a delay takes effect
// when the delay ends. A request arriving while the last character is
// written cancels the pause after it.
func (r *Renderer) Reveal(ctx context.Context, sink Sink, text string) (Result, error) {
	r.drainSkip()
	runes := []rune(text)
	r.setTyping(len(runes) > 0)
	defer r.setTyping(false)

	var res Result
	var buf strings.Builder
	buf.Grow(len(text))

	for i := 0; i < len(runes); {
		if r.takeSkip() {
			sink.SetText(text)
			res.Steps++
			res.Skipped = true
			return res, nil
		}

		if runes[i] == markerOpen {
			if end := indexRune(runes, markerClose, i+1); end >= 0 {
				buf.WriteString(string(runes[i : end+1]))
				i = end + 1
				sink.SetText(buf.String())
				res.Steps++
				if i == len(runes) && r.finishTyping() {
					res.Skipped = true
				}
				continue
			}
		}

		buf.WriteRune(runes[i])
		i++
		sink.SetText(buf.String())
		res.Steps++

		if i == len(runes) && r.finishTyping() {
			res.Skipped = true
			return res, nil
		}
		if err := r.wait(ctx); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (r *Renderer) wait(ctx context.Context) error {
	d := time.Duration(r.delay.Load())
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.clock.After(d):
		return nil
	}
}

// finishTyping closes the skip window once the full text is visible and
// reports whether a skip was accepted before it closed.
func (r *Renderer) finishTyping() bool {
	r.setTyping(false)
	return r.takeSkip()
}

func (r *Renderer) takeSkip() bool {
	select {
	case <-r.skip:
		return true
	default:
		return false
	}
}

// drainSkip discards a request left over from an earlier reveal that ended
// by cancellation.
func (r *Renderer) drainSkip() {
	select {
	case <-r.skip:
	default:
	}
}

func indexRune(runes []rune, target rune, from int) int {
	for j := from; j < len(runes); j++ {
		if runes[j] == target {
			return j
		}
	}
	return -1
}
