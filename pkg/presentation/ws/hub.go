// Package ws streams speech bubble updates to browser clients over
// WebSocket.
//
// A [Hub] owns one [presentation.Surface] per speaker. Every surface call is
// folded into the speaker's [presentation.State] and broadcast to
// subscribers as a [Message]. New subscribers first receive a snapshot of
// every speaker they watch, so a client that connects mid-conversation can
// draw the bubble immediately.
package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/bubbletalk/pkg/presentation"
)

// Message types sent to clients.
const (
	TypeState = "state"
	TypeEvent = "event"
)

const (
	defaultBuffer       = 64
	defaultWriteTimeout = 5 * time.Second
)

// Message is the JSON frame sent to clients. Event frames carry the call
// that happened in Kind; both frame types carry the resulting state.
type Message struct {
	Type    string                 `json:"type"`
	Speaker string                 `json:"speaker"`
	Kind    presentation.EventKind `json:"kind,omitempty"`
	Text    string                 `json:"text"`
	Visible bool                   `json:"visible"`
}

func newMessage(typ, speaker string, kind presentation.EventKind, st presentation.State) Message {
	return Message{Type: typ, Speaker: speaker, Kind: kind, Text: st.Text, Visible: st.Visible}
}

// Hub fans bubble updates out to WebSocket subscribers. It is safe for
// concurrent use.
type Hub struct {
	logger         *slog.Logger
	buffer         int
	writeTimeout   time.Duration
	originPatterns []string

	mu     sync.Mutex
	states map[string]presentation.State
	subs   map[*subscriber]struct{}
}

// Option configures a [Hub].
type Option func(*Hub)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithBuffer sets how many messages may queue per subscriber before it is
// disconnected as too slow.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithOriginPatterns allows cross-origin clients matching patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Hub) { h.originPatterns = patterns }
}

// NewHub returns an empty [Hub].
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		logger:       slog.Default(),
		buffer:       defaultBuffer,
		writeTimeout: defaultWriteTimeout,
		states:       make(map[string]presentation.State),
		subs:         make(map[*subscriber]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Surface returns the surface that publishes speaker's bubble through h.
func (h *Hub) Surface(speaker string) presentation.Surface {
	h.mu.Lock()
	if _, ok := h.states[speaker]; !ok {
		h.states[speaker] = presentation.State{}
	}
	h.mu.Unlock()
	return &surface{hub: h, speaker: speaker}
}

// Publish folds ev into the speaker's state and broadcasts it. Subscribers
// whose queue is full are dropped.
func (h *Hub) Publish(ev presentation.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.states[ev.Speaker].Apply(ev)
	h.states[ev.Speaker] = st
	msg := newMessage(TypeEvent, ev.Speaker, ev.Kind, st)
	for sub := range h.subs {
		if !sub.wants(ev.Speaker) {
			continue
		}
		select {
		case sub.send <- msg:
		default:
			h.logger.Warn("ws: dropping slow subscriber", "speaker", ev.Speaker)
			h.removeLocked(sub)
		}
	}
}

// State returns the current state of speaker's bubble.
func (h *Hub) State(speaker string) (presentation.State, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.states[speaker]
	return st, ok
}

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request and streams every speaker, or only the one
// named by the "speaker" query parameter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.ServeSpeaker(w, r, r.URL.Query().Get("speaker"))
}

// ServeSpeaker upgrades the request and streams speaker's bubble. An empty
// speaker streams all of them. It returns when the client disconnects or
// falls too far behind.
func (h *Hub) ServeSpeaker(w http.ResponseWriter, r *http.Request, speaker string) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.Warn("ws: accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	sub, snapshot := h.subscribe(speaker)
	defer h.unsubscribe(sub)

	// Clients never send; CloseRead handles pings and reports disconnects.
	ctx := conn.CloseRead(r.Context())

	for _, msg := range snapshot {
		if err := h.write(ctx, conn, msg); err != nil {
			return
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.send:
			if !ok {
				conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
				return
			}
			if err := h.write(ctx, conn, msg); err != nil {
				if !errors.Is(err, context.Canceled) {
					h.logger.Debug("ws: write failed", "speaker", speaker, "err", err)
				}
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}

// subscribe registers a subscriber and returns the snapshot it must send
// first. Both happen under the lock so no event falls between them.
func (h *Hub) subscribe(speaker string) (*subscriber, []Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub := &subscriber{speaker: speaker, send: make(chan Message, h.buffer)}
	h.subs[sub] = struct{}{}

	var snapshot []Message
	if speaker != "" {
		snapshot = append(snapshot, newMessage(TypeState, speaker, "", h.states[speaker]))
		return sub, snapshot
	}
	speakers := make([]string, 0, len(h.states))
	for s := range h.states {
		speakers = append(speakers, s)
	}
	slices.Sort(speakers)
	for _, s := range speakers {
		snapshot = append(snapshot, newMessage(TypeState, s, "", h.states[s]))
	}
	return sub, snapshot
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *subscriber) {
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.send)
}

type subscriber struct {
	speaker string
	send    chan Message
}

func (s *subscriber) wants(speaker string) bool {
	return s.speaker == "" || s.speaker == speaker
}

type surface struct {
	hub     *Hub
	speaker string
}

var _ presentation.Surface = (*surface)(nil)

func (s *surface) SetText(text string) {
	s.hub.Publish(presentation.Event{Speaker: s.speaker, Kind: presentation.EventText, Text: text})
}

func (s *surface) Show() {
	s.hub.Publish(presentation.Event{Speaker: s.speaker, Kind: presentation.EventShow})
}

func (s *surface) Hide() {
	s.hub.Publish(presentation.Event{Speaker: s.speaker, Kind: presentation.EventHide})
}

func (s *surface) IndicateAvailable() {
	s.hub.Publish(presentation.Event{Speaker: s.speaker, Kind: presentation.EventAvailable})
}
