package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/MrWong99/bubbletalk/internal/conversation"
	"github.com/MrWong99/bubbletalk/internal/linestore"
	"github.com/MrWong99/bubbletalk/internal/typewriter"
	"github.com/MrWong99/bubbletalk/pkg/dialogue"
	"github.com/MrWong99/bubbletalk/pkg/presentation/tui"
)

func newPlayCmd() *cobra.Command {
	var (
		charDelay time.Duration
		logPath   string
	)
	cmd := &cobra.Command{
		Use:   "play <lines-file> <speaker>",
		Short: "Talk to one NPC in the terminal",
		Long: "Opens an interactive bubble for speaker. The line file is re-read while " +
			"playing, so edits show up in the next conversation.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return play(cmd.Context(), args[0], args[1], charDelay, logPath)
		},
	}
	cmd.Flags().DurationVar(&charDelay, "char-delay", typewriter.DefaultCharDelay, "pause after each revealed character")
	cmd.Flags().StringVar(&logPath, "log", "", "write logs to this file instead of discarding them")
	return cmd
}

func play(ctx context.Context, path, speaker string, charDelay time.Duration, logPath string) error {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logger = slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	slog.SetDefault(logger)

	store, err := linestore.NewFileStore(path)
	if err != nil {
		return err
	}
	reloader := linestore.NewReloader(store, linestore.WithReloadLogger(logger))
	if _, err := reloader.Reload(ctx); err != nil {
		return err
	}
	if _, ok := dialogue.FindStart(reloader.Index(), speaker); !ok {
		return fmt.Errorf("%s has no lines for speaker %q", path, speaker)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := reloader.Run(ctx); err != nil {
			logger.Warn("line reload stopped", "err", err)
		}
	}()

	var interp *conversation.Interpreter
	model := tui.NewModel(speaker, tui.Controls{
		Interact: func() { interp.Interact() },
		Leave:    func() { interp.NotifyPlayerDeparted() },
		Nearby:   func(in bool) { interp.NotifyPlayerNearby(in) },
	})
	p := tea.NewProgram(model, tea.WithContext(ctx))

	interp = conversation.New(conversation.Config{
		Speaker:            speaker,
		Lines:              reloader,
		Surface:            tui.NewSurface(speaker, p),
		Timing:             conversation.Timing{CharDelay: charDelay},
		InitiallyAvailable: true,
		Logger:             logger,
		OnEnd: func(out conversation.Outcome) {
			status := "conversation ended: " + string(out.Reason)
			if out.Err != nil {
				status += " (" + out.Err.Error() + ")"
			}
			p.Send(tui.StatusMsg(status))
		},
	})

	_, runErr := p.Run()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer closeCancel()
	if err := interp.Close(closeCtx); err != nil {
		logger.Warn("interpreter close", "err", err)
	}
	if runErr != nil && ctx.Err() == nil {
		return runErr
	}
	return nil
}
