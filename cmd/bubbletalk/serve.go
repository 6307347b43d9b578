package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/bubbletalk/internal/app"
	"github.com/MrWong99/bubbletalk/internal/config"
	discordbot "github.com/MrWong99/bubbletalk/internal/discord"
	"github.com/MrWong99/bubbletalk/internal/discord/commands"
	"github.com/MrWong99/bubbletalk/internal/observe"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and drive every configured NPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	return cmd
}

func serve(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %q not found, copy configs/example.yaml to get started", configPath)
		}
		return err
	}

	logger, level := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)
	slog.Info("bubbletalk starting",
		"version", version,
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"store", cfg.Store.Kind,
		"npcs", len(cfg.NPCs),
	)

	shutdownObs, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:      cfg.Observe.ServiceName,
		ServiceVersion:   version,
		StoreKind:        string(cfg.Store.Kind),
		Speakers:         len(cfg.NPCs),
		TraceSampleRatio: cfg.Observe.TraceSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownObs(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	opts := []app.Option{app.WithLogger(logger), app.WithLevelVar(level)}
	var bot *discordbot.Bot
	if cfg.Discord.CommandsEnabled() {
		bot, err = discordbot.New(ctx, discordbot.Config{
			Token:          cfg.Discord.Token,
			GuildID:        cfg.Discord.GuildID,
			OperatorRoleID: cfg.Discord.OperatorRoleID,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := bot.Close(); err != nil {
				slog.Warn("discord bot close error", "err", err)
			}
		}()
		opts = append(opts, app.WithDiscordSession(bot.Session()))
		slog.Info("discord bot connected", "guild_id", cfg.Discord.GuildID)
	}

	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		return fmt.Errorf("initialise application: %w", err)
	}

	if bot != nil {
		commands.NewNPCCommands(bot.Permissions(), application).Register(bot.Router())
		go func() {
			if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("discord bot error", "err", err)
			}
		}()
	}

	watcher, err := config.NewWatcher(configPath, application.ApplyConfig)
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	runErr := application.Run(ctx)
	if runErr != nil {
		slog.Error("run error", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		return errors.Join(runErr, fmt.Errorf("shutdown: %w", err))
	}
	if runErr != nil {
		return runErr
	}
	slog.Info("goodbye")
	return nil
}
