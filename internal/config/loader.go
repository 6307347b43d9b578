package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/bubbletalk/internal/linestore"
)

// Environment variables that override file values.
const (
	EnvDiscordToken = "BUBBLETALK_DISCORD_TOKEN"
	EnvPostgresDSN  = "BUBBLETALK_POSTGRES_DSN"
)

// Load reads the YAML configuration at path, applies environment overrides
// from the process environment and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := parse(data, os.Getenv)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates it without
// consulting the environment.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return parse(data, nil)
}

func parse(data []byte, getenv func(string) string) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if getenv != nil {
		ApplyEnv(cfg, getenv)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv copies non-empty secrets from the environment into cfg.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv(EnvDiscordToken); v != "" {
		cfg.Discord.Token = v
	}
	if v := getenv(EnvPostgresDSN); v != "" {
		cfg.Store.PostgresDSN = v
	}
}

// ApplyDefaults fills unset fields that have a fixed default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Store.Kind == "" {
		cfg.Store.Kind = StoreFile
	}
	if cfg.Observe.ServiceName == "" {
		cfg.Observe.ServiceName = "bubbletalk"
	}
	for i := range cfg.NPCs {
		if cfg.NPCs[i].Surface.Kind == "" {
			cfg.NPCs[i].Surface.Kind = SurfaceLog
		}
	}
}

// Validate checks that cfg is coherent and returns every problem found,
// joined.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	d := cfg.Dialogue
	for name, v := range map[string]int64{
		"char_delay":      int64(d.CharDelay),
		"settle_delay":    int64(d.SettleDelay),
		"min_hold":        int64(d.MinHold),
		"available_delay": int64(d.AvailableDelay),
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("dialogue.%s must not be negative", name))
		}
	}
	if d.MaxSteps < 0 {
		errs = append(errs, fmt.Errorf("dialogue.max_steps must not be negative"))
	}

	switch {
	case !cfg.Store.Kind.IsValid():
		errs = append(errs, fmt.Errorf("store.kind %q is invalid; valid values: file, sqlite, postgres", cfg.Store.Kind))
	case cfg.Store.Kind == StorePostgres && cfg.Store.PostgresDSN == "":
		errs = append(errs, fmt.Errorf("store.postgres_dsn is required for kind postgres (or set %s)", EnvPostgresDSN))
	case cfg.Store.Kind != StorePostgres && cfg.Store.Path == "":
		errs = append(errs, fmt.Errorf("store.path is required for kind %s", cfg.Store.Kind))
	}
	if cfg.Store.ReloadInterval < 0 {
		errs = append(errs, errors.New("store.reload_interval must not be negative"))
	}
	if fb := cfg.Store.FallbackPath; fb != "" {
		if cfg.Store.Kind == StoreFile {
			errs = append(errs, errors.New("store.fallback_path only applies to sqlite and postgres stores"))
		}
		if _, err := linestore.FormatFromPath(fb); err != nil {
			errs = append(errs, fmt.Errorf("store.fallback_path: %w", err))
		}
	}

	seen := make(map[string]int, len(cfg.NPCs))
	for i, npc := range cfg.NPCs {
		prefix := fmt.Sprintf("npcs[%d]", i)
		if npc.Speaker == "" {
			errs = append(errs, fmt.Errorf("%s.speaker is required", prefix))
		} else if j, dup := seen[npc.Speaker]; dup {
			errs = append(errs, fmt.Errorf("%s.speaker %q duplicates npcs[%d]", prefix, npc.Speaker, j))
		} else {
			seen[npc.Speaker] = i
		}

		kind := npc.Surface.Kind
		if kind != "" && !kind.IsValid() {
			errs = append(errs, fmt.Errorf("%s.surface.kind %q is invalid; valid values: log, websocket, discord", prefix, kind))
		}
		if kind == SurfaceDiscord {
			if npc.Surface.ChannelID == "" {
				errs = append(errs, fmt.Errorf("%s.surface.channel_id is required for discord surfaces", prefix))
			}
			if cfg.Discord.Token == "" {
				errs = append(errs, fmt.Errorf("%s uses a discord surface but discord.token is empty (or set %s)", prefix, EnvDiscordToken))
			}
		}
	}

	if cfg.Discord.GuildID != "" && cfg.Discord.Token == "" {
		errs = append(errs, fmt.Errorf("discord.guild_id is set but discord.token is empty (or set %s)", EnvDiscordToken))
	}

	if r := cfg.Observe.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("observe.trace_sample_ratio %v must be between 0 and 1", r))
	}

	if len(cfg.NPCs) == 0 {
		slog.Warn("no NPCs configured; every speaker in the line store will be served with a log surface")
	}

	return errors.Join(errs...)
}
