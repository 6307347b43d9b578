// Package config provides the configuration schema, loader, hot-reload
// watcher and surface registry for the bubbletalk server.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l to a [slog.Level]. Unknown and empty levels map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// StoreKind selects the line store backend.
type StoreKind string

const (
	StoreFile     StoreKind = "file"
	StoreSQLite   StoreKind = "sqlite"
	StorePostgres StoreKind = "postgres"
)

// IsValid reports whether k is a recognised store backend.
func (k StoreKind) IsValid() bool {
	switch k {
	case StoreFile, StoreSQLite, StorePostgres:
		return true
	}
	return false
}

// SurfaceKind selects how an NPC's bubble is rendered.
type SurfaceKind string

const (
	SurfaceLog       SurfaceKind = "log"
	SurfaceWebSocket SurfaceKind = "websocket"
	SurfaceDiscord   SurfaceKind = "discord"
)

// IsValid reports whether k is a recognised surface kind.
func (k SurfaceKind) IsValid() bool {
	switch k {
	case SurfaceLog, SurfaceWebSocket, SurfaceDiscord:
		return true
	}
	return false
}

// Config is the root configuration, usually loaded with [Load].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Dialogue DialogueConfig `yaml:"dialogue"`
	Store    StoreConfig    `yaml:"store"`
	NPCs     []NPCConfig    `yaml:"npcs"`
	Discord  DiscordConfig  `yaml:"discord"`
	Observe  ObserveConfig  `yaml:"observe"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the HTTP listen address. Default ":8080".
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`
}

// DialogueConfig tunes conversation timing. Zero durations use the runtime
// defaults (75ms, 300ms, 10ms and 500ms respectively).
type DialogueConfig struct {
	CharDelay      time.Duration `yaml:"char_delay"`
	SettleDelay    time.Duration `yaml:"settle_delay"`
	MinHold        time.Duration `yaml:"min_hold"`
	AvailableDelay time.Duration `yaml:"available_delay"`

	// MaxSteps bounds line visits per conversation. 0 means unlimited.
	MaxSteps int `yaml:"max_steps"`
}

// StoreConfig selects where dialogue lines come from.
type StoreConfig struct {
	Kind StoreKind `yaml:"kind"`

	// Path is the line file (kind file) or database file (kind sqlite).
	Path string `yaml:"path"`

	// PostgresDSN is the connection string for kind postgres. It can be
	// supplied through BUBBLETALK_POSTGRES_DSN instead.
	PostgresDSN string `yaml:"postgres_dsn"`

	// ReloadInterval is how often the store is polled for changes.
	// Default 2s.
	ReloadInterval time.Duration `yaml:"reload_interval"`

	// FallbackPath is an optional line file served while a database store
	// is unreachable. It is kept up to date with the database content.
	FallbackPath string `yaml:"fallback_path"`
}

// NPCConfig declares one speaker served by the runtime.
type NPCConfig struct {
	// Speaker must match the speaker field of the NPC's lines.
	Speaker string `yaml:"speaker"`

	// Available marks the NPC as talkable at start-up.
	Available bool `yaml:"available"`

	Surface SurfaceConfig `yaml:"surface"`
}

// SurfaceConfig selects the NPC's bubble renderer. The WebSocket stream is
// always available; Kind adds a second renderer.
type SurfaceConfig struct {
	// Kind defaults to "log".
	Kind SurfaceKind `yaml:"kind"`

	// ChannelID is the Discord text channel for kind discord.
	ChannelID string `yaml:"channel_id"`
}

// DiscordConfig holds Discord bot credentials.
type DiscordConfig struct {
	// Token is the bot token. Prefer BUBBLETALK_DISCORD_TOKEN.
	Token string `yaml:"token"`

	// GuildID enables the /npc slash commands in that guild.
	GuildID string `yaml:"guild_id"`

	// OperatorRoleID restricts /npc nearby and /npc reset to holders of
	// the role. Empty allows everyone.
	OperatorRoleID string `yaml:"operator_role_id"`
}

// CommandsEnabled reports whether the slash command bot should run.
func (d DiscordConfig) CommandsEnabled() bool {
	return d.Token != "" && d.GuildID != ""
}

// ObserveConfig configures telemetry.
type ObserveConfig struct {
	// ServiceName defaults to "bubbletalk".
	ServiceName string `yaml:"service_name"`

	// TraceSampleRatio is the fraction of conversations traced. Zero or one
	// traces every conversation.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`

	// JournalPath, if set, is a JSON lines file every finished
	// conversation is appended to.
	JournalPath string `yaml:"journal_path"`
}

// NPC returns the configuration for speaker.
func (c *Config) NPC(speaker string) (NPCConfig, bool) {
	for _, n := range c.NPCs {
		if n.Speaker == speaker {
			return n, true
		}
	}
	return NPCConfig{}, false
}
