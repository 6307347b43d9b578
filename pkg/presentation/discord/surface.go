// Package discord renders an NPC's speech bubble as a message in a Discord
// text channel.
//
// The bubble is one message that is created when it becomes visible, edited
// as text is revealed and deleted when hidden. Discord rate-limits message
// edits far below the reveal rate, so updates are coalesced: the surface
// only records the latest state and a background loop pushes it at most as
// often as its [rate.Limiter] allows.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"github.com/MrWong99/bubbletalk/pkg/presentation"
)

// DefaultEditInterval is the default minimum spacing between API calls.
const DefaultEditInterval = time.Second

// Messenger is the subset of [discordgo.Session] the surface needs.
type Messenger interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
}

var _ Messenger = (*discordgo.Session)(nil)

// Surface is a [presentation.Surface] backed by a Discord message.
type Surface struct {
	api       Messenger
	channelID string
	speaker   string
	limiter   *rate.Limiter
	logger    *slog.Logger

	mu    sync.Mutex
	state presentation.State

	flushMu   sync.Mutex // serialises API calls
	messageID string
	sent      string

	dirty     chan struct{}
	cancel    context.CancelFunc
	stopped   chan struct{}
	closeOnce sync.Once
}

var _ presentation.Surface = (*Surface)(nil)

// Option configures a [Surface].
type Option func(*Surface)

// WithLimiter replaces the edit rate limiter.
func WithLimiter(l *rate.Limiter) Option {
	return func(s *Surface) {
		if l != nil {
			s.limiter = l
		}
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Surface) {
		if l != nil {
			s.logger = l
		}
	}
}

// New returns a Surface posting speaker's bubble to channelID and starts
// its update loop. Call [Surface.Close] to stop it.
func New(api Messenger, channelID, speaker string, opts ...Option) *Surface {
	s := &Surface{
		api:       api,
		channelID: channelID,
		speaker:   speaker,
		limiter:   rate.NewLimiter(rate.Every(DefaultEditInterval), 1),
		logger:    slog.Default(),
		dirty:     make(chan struct{}, 1),
		stopped:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("speaker", speaker, "channel", channelID)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.loop(ctx)
	return s
}

// SetText implements [presentation.Surface].
func (s *Surface) SetText(text string) {
	s.apply(presentation.Event{Kind: presentation.EventText, Text: text})
}

// Show implements [presentation.Surface].
func (s *Surface) Show() { s.apply(presentation.Event{Kind: presentation.EventShow}) }

// Hide implements [presentation.Surface].
func (s *Surface) Hide() { s.apply(presentation.Event{Kind: presentation.EventHide}) }

// IndicateAvailable implements [presentation.Surface].
func (s *Surface) IndicateAvailable() {
	s.apply(presentation.Event{Kind: presentation.EventAvailable})
}

func (s *Surface) apply(ev presentation.Event) {
	s.mu.Lock()
	s.state = s.state.Apply(ev)
	s.mu.Unlock()
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

func (s *Surface) loop(ctx context.Context) {
	defer close(s.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.dirty:
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		s.Flush()
	}
}

// Flush pushes the current state to Discord immediately: it sends the
// message if the bubble became visible, edits it if the text changed and
// deletes it if the bubble was hidden.
func (s *Surface) Flush() {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()

	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	if !st.Visible || st.Text == "" {
		if s.messageID == "" {
			return
		}
		if err := s.api.ChannelMessageDelete(s.channelID, s.messageID); err != nil {
			s.logger.Warn("discord surface: delete failed", "message_id", s.messageID, "err", err)
		}
		s.messageID, s.sent = "", ""
		return
	}

	content := s.format(st.Text)
	if s.messageID == "" {
		msg, err := s.api.ChannelMessageSend(s.channelID, content)
		if err != nil {
			s.logger.Warn("discord surface: send failed", "err", err)
			return
		}
		s.messageID, s.sent = msg.ID, content
		return
	}
	if content == s.sent {
		return
	}
	if _, err := s.api.ChannelMessageEdit(s.channelID, s.messageID, content); err != nil {
		s.logger.Warn("discord surface: edit failed", "message_id", s.messageID, "err", err)
		return
	}
	s.sent = content
}

func (s *Surface) format(text string) string {
	return fmt.Sprintf("**%s**: %s", s.speaker, text)
}

// Close stops the update loop, flushes the final state and returns.
func (s *Surface) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.stopped
		s.Flush()
	})
	return nil
}
