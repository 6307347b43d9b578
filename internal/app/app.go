// Package app wires the bubbletalk subsystems into a running server.
//
// The App struct owns the full lifecycle: New opens the line store, loads
// the dialogue index and builds one conversation interpreter per NPC, Run
// serves the HTTP API while polling the store, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithStore, WithClock,
// WithRegistry, ...). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/bubbletalk/internal/clock"
	"github.com/MrWong99/bubbletalk/internal/config"
	"github.com/MrWong99/bubbletalk/internal/conversation"
	"github.com/MrWong99/bubbletalk/internal/journal"
	"github.com/MrWong99/bubbletalk/internal/linestore"
	"github.com/MrWong99/bubbletalk/internal/observe"
	"github.com/MrWong99/bubbletalk/internal/resilience"
	"github.com/MrWong99/bubbletalk/pkg/dialogue"
	"github.com/MrWong99/bubbletalk/pkg/presentation"
	discordsurface "github.com/MrWong99/bubbletalk/pkg/presentation/discord"
	"github.com/MrWong99/bubbletalk/pkg/presentation/ws"
)

// shutdownTimeout bounds HTTP server shutdown after Run's context ends.
const shutdownTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	level    *slog.LevelVar
	clock    clock.Clock
	metrics  *observe.Metrics
	store    linestore.Store
	reloader *linestore.Reloader
	hub      *ws.Hub
	registry *config.Registry
	journal  *journal.File

	discordMu sync.Mutex
	discord   *discordgo.Session

	mu     sync.RWMutex
	npcs   map[string]*npc
	timing config.DialogueConfig
	auto   bool // serve every speaker in the index, no NPCs configured

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

type npc struct {
	interp  *conversation.Interpreter
	surface presentation.Surface
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a line store instead of opening one from config.
func WithStore(s linestore.Store) Option {
	return func(a *App) { a.store = s }
}

// WithClock sets the clock used by interpreters and store polling.
func WithClock(c clock.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithMetrics sets the metrics recorder. The default is
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithLevelVar lets config reloads change the log level through v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithRegistry replaces the surface registry. The default registers log,
// websocket and discord surfaces.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithDiscordSession shares an existing Discord session with discord
// surfaces instead of creating one from the configured token.
func WithDiscordSession(s *discordgo.Session) Option {
	return func(a *App) { a.discord = s }
}

// WithJournal records every finished conversation in j.
func WithJournal(j *journal.File) Option {
	return func(a *App) { a.journal = j }
}

// WithHub injects the WebSocket hub every NPC publishes to.
func WithHub(h *ws.Hub) Option {
	return func(a *App) { a.hub = h }
}

// New creates an App from cfg. It reads the line store once; a failed first
// read is logged and left to readiness and the polling loop.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:    cfg,
		npcs:   make(map[string]*npc),
		timing: cfg.Dialogue,
	}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.clock == nil {
		a.clock = clock.Real()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.hub == nil {
		a.hub = ws.NewHub(ws.WithLogger(a.logger))
	}

	if a.store == nil {
		store, closer, err := OpenStore(ctx, cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("app: open store: %w", err)
		}
		a.store = store
		a.closers = append(a.closers, closer)
	}

	a.reloader = linestore.NewReloader(a.store,
		linestore.WithInterval(cfg.Store.ReloadInterval),
		linestore.WithReloadClock(a.clock),
		linestore.WithReloadMetrics(a.metrics),
		linestore.WithReloadLogger(a.logger),
		linestore.WithOnChange(a.onLinesChanged),
	)

	if a.registry == nil {
		a.registry = a.defaultRegistry()
	}
	if a.journal == nil && cfg.Observe.JournalPath != "" {
		a.journal = journal.NewFile(cfg.Observe.JournalPath)
	}

	a.auto = len(cfg.NPCs) == 0
	for _, n := range cfg.NPCs {
		if err := a.addNPC(n); err != nil {
			_ = a.Shutdown(ctx)
			return nil, fmt.Errorf("app: npc %q: %w", n.Speaker, err)
		}
	}

	if _, err := a.reloader.Reload(ctx); err != nil {
		a.logger.Warn("initial line load failed; will retry", "err", err)
	}
	return a, nil
}

// OpenStore opens the line store described by cfg. The returned closer
// releases its resources.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (linestore.ReadWriter, func() error, error) {
	switch cfg.Kind {
	case config.StoreFile, "":
		s, err := linestore.NewFileStore(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { return nil }, nil
	case config.StoreSQLite:
		s, err := linestore.OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return withFallback(s, s.Close, cfg)
	case config.StorePostgres:
		s, err := linestore.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return withFallback(s, func() error { s.Close(); return nil }, cfg)
	default:
		return nil, nil, fmt.Errorf("unknown store kind %q", cfg.Kind)
	}
}

// withFallback wraps a database store with the file fallback named by
// cfg.FallbackPath, if any.
func withFallback(s linestore.ReadWriter, closer func() error, cfg config.StoreConfig) (linestore.ReadWriter, func() error, error) {
	if cfg.FallbackPath == "" {
		return s, closer, nil
	}
	fb, err := linestore.NewFileStore(cfg.FallbackPath)
	if err != nil {
		_ = closer()
		return nil, nil, fmt.Errorf("fallback store: %w", err)
	}
	return linestore.NewFallbackStore(s, fb, resilience.BreakerConfig{Name: string(cfg.Kind)}), closer, nil
}

func (a *App) defaultRegistry() *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterSurface(config.SurfaceLog, func(n config.NPCConfig) (presentation.Surface, error) {
		return presentation.NewLogSurface(n.Speaker, a.logger), nil
	})
	// Every NPC already publishes to the hub.
	reg.RegisterSurface(config.SurfaceWebSocket, func(config.NPCConfig) (presentation.Surface, error) {
		return nil, nil
	})
	reg.RegisterSurface(config.SurfaceDiscord, func(n config.NPCConfig) (presentation.Surface, error) {
		session, err := a.discordSession()
		if err != nil {
			return nil, err
		}
		return discordsurface.New(session, n.Surface.ChannelID, n.Speaker, discordsurface.WithLogger(a.logger)), nil
	})
	return reg
}

// discordSession lazily opens the bot session shared by discord surfaces.
// Only message REST calls are used, so no gateway connection is opened.
func (a *App) discordSession() (*discordgo.Session, error) {
	a.discordMu.Lock()
	defer a.discordMu.Unlock()
	if a.discord != nil {
		return a.discord, nil
	}
	a.mu.RLock()
	token := a.cfg.Discord.Token
	a.mu.RUnlock()
	if token == "" {
		return nil, errors.New("discord token not configured")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	a.discord = s
	return s, nil
}

func (a *App) timingLocked() conversation.Timing {
	return conversation.Timing{
		CharDelay:      a.timing.CharDelay,
		SettleDelay:    a.timing.SettleDelay,
		MinHold:        a.timing.MinHold,
		AvailableDelay: a.timing.AvailableDelay,
	}
}

// addNPC builds the surface and interpreter for n.
func (a *App) addNPC(n config.NPCConfig) error {
	extra, err := a.registry.CreateSurface(n)
	if err != nil {
		return err
	}
	surface := presentation.Multi(a.hub.Surface(n.Speaker), extra)

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.npcs[n.Speaker]; exists {
		closeSurface(extra)
		return fmt.Errorf("speaker %q already served", n.Speaker)
	}
	interp, err := conversation.New(conversation.Config{
		Speaker:            n.Speaker,
		Lines:              a.reloader,
		Surface:            surface,
		Clock:              a.clock,
		Timing:             a.timingLocked(),
		Metrics:            a.metrics,
		InitiallyAvailable: n.Available,
		MaxSteps:           a.timing.MaxSteps,
		OnEnd:              a.logOutcome,
		Logger:             a.logger,
	})
	if err != nil {
		closeSurface(extra)
		return err
	}
	a.npcs[n.Speaker] = &npc{interp: interp, surface: extra}
	a.logger.Info("npc ready", "speaker", n.Speaker, "surface", n.Surface.Kind, "available", n.Available)
	return nil
}

// removeNPC stops speaker's interpreter and releases its surface.
func (a *App) removeNPC(ctx context.Context, speaker string) {
	a.mu.Lock()
	n, ok := a.npcs[speaker]
	delete(a.npcs, speaker)
	a.mu.Unlock()
	if !ok {
		return
	}
	if err := n.interp.Close(ctx); err != nil {
		a.logger.Warn("npc close", "speaker", speaker, "err", err)
	}
	closeSurface(n.surface)
	a.logger.Info("npc removed", "speaker", speaker)
}

func closeSurface(s presentation.Surface) {
	if c, ok := s.(io.Closer); ok {
		_ = c.Close()
	}
}

func (a *App) logOutcome(out conversation.Outcome) {
	attrs := []any{
		"conversation_id", out.ConversationID,
		"speaker", out.Speaker,
		"reason", out.Reason,
		"last_line_id", out.LastLineID,
		"steps", out.Steps,
		"available", out.Available,
		"duration", out.Duration(),
	}
	if out.Err != nil {
		a.logger.Warn("conversation ended early", append(attrs, "err", out.Err)...)
	} else {
		a.logger.Info("conversation ended", attrs...)
	}
	if a.journal != nil {
		if err := a.journal.Append(out); err != nil {
			a.logger.Warn("journal append failed", "speaker", out.Speaker, "err", err)
		}
	}
}

// onLinesChanged runs after every index swap. With no NPCs configured it
// starts an interpreter for each new speaker.
func (a *App) onLinesChanged(idx *dialogue.Index) {
	if !a.auto {
		return
	}
	for _, speaker := range idx.Speakers() {
		if _, ok := a.Interpreter(speaker); ok {
			continue
		}
		if err := a.addNPC(config.NPCConfig{Speaker: speaker, Surface: config.SurfaceConfig{Kind: config.SurfaceLog}}); err != nil {
			a.logger.Warn("auto npc", "speaker", speaker, "err", err)
		}
	}
}

// Interpreter returns the interpreter serving speaker.
func (a *App) Interpreter(speaker string) (*conversation.Interpreter, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	n, ok := a.npcs[speaker]
	if !ok {
		return nil, false
	}
	return n.interp, true
}

// Speakers returns the served speakers in sorted order.
func (a *App) Speakers() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.npcs))
	for s := range a.npcs {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

// Reloader returns the line reloader backing every interpreter.
func (a *App) Reloader() *linestore.Reloader { return a.reloader }

// Hub returns the WebSocket hub.
func (a *App) Hub() *ws.Hub { return a.hub }

// ApplyConfig applies the hot-reloadable differences between old and new.
// It is meant as a [config.Watcher] callback.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Slog())
		a.logger.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.TimingChanged {
		a.mu.Lock()
		a.timing = d.NewDialogue
		t := a.timingLocked()
		interps := make([]*conversation.Interpreter, 0, len(a.npcs))
		for _, n := range a.npcs {
			interps = append(interps, n.interp)
		}
		a.mu.Unlock()
		for _, in := range interps {
			in.SetTiming(t)
		}
		a.logger.Info("dialogue timing changed", "char_delay", t.CharDelay, "settle_delay", t.SettleDelay,
			"min_hold", t.MinHold, "available_delay", t.AvailableDelay)
		if old.Dialogue.MaxSteps != new.Dialogue.MaxSteps {
			a.logger.Warn("max_steps applies to NPCs added from now on", "max_steps", new.Dialogue.MaxSteps)
		}
	}
	if d.StoreChanged {
		a.logger.Warn("store settings changed; restart to apply")
	}
	if d.ListenAddrChanged {
		a.logger.Warn("listen address changed; restart to apply")
	}

	ctx := context.Background()
	for _, nd := range d.NPCChanges {
		switch {
		case nd.Removed:
			a.removeNPC(ctx, nd.Speaker)
		case nd.Added:
			n, _ := new.NPC(nd.Speaker)
			if err := a.addNPC(n); err != nil {
				a.logger.Warn("add npc", "speaker", nd.Speaker, "err", err)
			}
		default:
			if nd.AvailableChanged {
				if in, ok := a.Interpreter(nd.Speaker); ok {
					in.SetAvailable(nd.Available)
					a.logger.Info("npc availability changed", "speaker", nd.Speaker, "available", nd.Available)
				}
			}
			if nd.SurfaceChanged {
				a.logger.Warn("surface settings changed; restart to apply", "speaker", nd.Speaker)
			}
		}
	}
	a.mu.Lock()
	a.cfg = new
	a.mu.Unlock()
}

// Run serves the HTTP API on the configured address and polls the line
// store until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.reloader.Run(gctx)
	})
	g.Go(func() error {
		a.logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	a.logger.Info("app running", "npcs", len(a.Speakers()))
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown stops every interpreter and runs closers in order. It respects
// the context deadline: remaining closers are skipped once ctx expires.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "npcs", len(a.Speakers()), "closers", len(a.closers))

		for _, speaker := range a.Speakers() {
			a.removeNPC(ctx, speaker)
		}
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.logger.Warn("closer error", "index", i, "err", err)
			}
		}
		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}
