package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/bubbletalk/internal/config"
)

const validYAML = `
server:
  listen_addr: ":9000"
  log_level: debug
dialogue:
  char_delay: 40ms
  settle_delay: 250ms
  max_steps: 64
store:
  kind: sqlite
  path: lines.db
  reload_interval: 1s
npcs:
  - speaker: guard
    available: true
  - speaker: merchant
    surface:
      kind: websocket
observe:
  service_name: tavern
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":9000" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level = %q", cfg.Server.LogLevel)
	}
	if cfg.Dialogue.CharDelay != 40*time.Millisecond || cfg.Dialogue.SettleDelay != 250*time.Millisecond {
		t.Errorf("dialogue timing = %+v", cfg.Dialogue)
	}
	if cfg.Dialogue.MaxSteps != 64 {
		t.Errorf("max_steps = %d", cfg.Dialogue.MaxSteps)
	}
	if cfg.Store.Kind != config.StoreSQLite || cfg.Store.ReloadInterval != time.Second {
		t.Errorf("store = %+v", cfg.Store)
	}
	if len(cfg.NPCs) != 2 {
		t.Fatalf("got %d NPCs, want 2", len(cfg.NPCs))
	}
	if cfg.NPCs[0].Surface.Kind != config.SurfaceLog {
		t.Errorf("default surface kind = %q, want log", cfg.NPCs[0].Surface.Kind)
	}
	if !cfg.NPCs[0].Available || cfg.NPCs[1].Available {
		t.Error("availability not decoded")
	}
	if n, ok := cfg.NPC("merchant"); !ok || n.Surface.Kind != config.SurfaceWebSocket {
		t.Errorf("NPC(merchant) = %+v, %v", n, ok)
	}
	if cfg.Observe.ServiceName != "tavern" {
		t.Errorf("service_name = %q", cfg.Observe.ServiceName)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("store:\n  path: lines.yaml\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr default = %q", cfg.Server.ListenAddr)
	}
	if cfg.Store.Kind != config.StoreFile {
		t.Errorf("store kind default = %q", cfg.Store.Kind)
	}
	if cfg.Observe.ServiceName != "bubbletalk" {
		t.Errorf("service_name default = %q", cfg.Observe.ServiceName)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("store:\n  path: x.yaml\n  colour: blue\n"))
	if err == nil || !strings.Contains(err.Error(), "colour") {
		t.Errorf("err = %v, want unknown field error", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		wantErr []string
	}{
		{
			name:    "invalid log level",
			yaml:    "server:\n  log_level: loud\nstore:\n  path: x.yaml\n",
			wantErr: []string{"server.log_level"},
		},
		{
			name:    "negative timing",
			yaml:    "dialogue:\n  settle_delay: -1s\n  max_steps: -2\nstore:\n  path: x.yaml\n",
			wantErr: []string{"dialogue.settle_delay", "dialogue.max_steps"},
		},
		{
			name:    "invalid store kind",
			yaml:    "store:\n  kind: redis\n",
			wantErr: []string{"store.kind"},
		},
		{
			name:    "file store without path",
			yaml:    "store:\n  kind: file\n",
			wantErr: []string{"store.path"},
		},
		{
			name:    "postgres without dsn",
			yaml:    "store:\n  kind: postgres\n",
			wantErr: []string{"store.postgres_dsn", config.EnvPostgresDSN},
		},
		{
			name:    "missing speaker",
			yaml:    "store:\n  path: x.yaml\nnpcs:\n  - available: true\n",
			wantErr: []string{"npcs[0].speaker is required"},
		},
		{
			name:    "duplicate speaker",
			yaml:    "store:\n  path: x.yaml\nnpcs:\n  - speaker: guard\n  - speaker: guard\n",
			wantErr: []string{"duplicates npcs[0]"},
		},
		{
			name:    "invalid surface",
			yaml:    "store:\n  path: x.yaml\nnpcs:\n  - speaker: guard\n    surface:\n      kind: hologram\n",
			wantErr: []string{"npcs[0].surface.kind"},
		},
		{
			name:    "discord surface needs channel and token",
			yaml:    "store:\n  path: x.yaml\nnpcs:\n  - speaker: guard\n    surface:\n      kind: discord\n",
			wantErr: []string{"channel_id", "discord.token"},
		},
		{
			name:    "guild without token",
			yaml:    "store:\n  path: x.yaml\ndiscord:\n  guild_id: \"42\"\n",
			wantErr: []string{"discord.guild_id"},
		},
		{
			name:    "fallback on a file store",
			yaml:    "store:\n  path: x.yaml\n  fallback_path: y.yaml\n",
			wantErr: []string{"store.fallback_path only applies"},
		},
		{
			name:    "fallback with unknown format",
			yaml:    "store:\n  kind: sqlite\n  path: lines.db\n  fallback_path: lines.txt\n",
			wantErr: []string{"store.fallback_path", ".txt"},
		},
		{
			name:    "trace sample ratio above one",
			yaml:    "store:\n  path: x.yaml\nobserve:\n  trace_sample_ratio: 1.5\n",
			wantErr: []string{"observe.trace_sample_ratio"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("expected an error")
			}
			for _, want := range tc.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q should mention %q", err, want)
				}
			}
		})
	}
}

func TestValidate_DiscordSurfaceValid(t *testing.T) {
	t.Parallel()
	yaml := `
store:
  path: x.yaml
discord:
  token: abc
npcs:
  - speaker: guard
    surface:
      kind: discord
      channel_id: "123"
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(`
store:
  kind: postgres
npcs:
  - speaker: guard
    surface:
      kind: discord
      channel_id: "42"
`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(config.EnvPostgresDSN, "postgres://db/lines")
	t.Setenv(config.EnvDiscordToken, "secret")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.PostgresDSN != "postgres://db/lines" {
		t.Errorf("PostgresDSN = %q", cfg.Store.PostgresDSN)
	}
	if cfg.Discord.Token != "secret" {
		t.Errorf("Discord.Token = %q", cfg.Discord.Token)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLogLevel_Slog(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   config.LogLevel
		want string
	}{
		{config.LogDebug, "DEBUG"},
		{config.LogInfo, "INFO"},
		{config.LogWarn, "WARN"},
		{config.LogError, "ERROR"},
		{"", "INFO"},
	}
	for _, tc := range tests {
		if got := tc.in.Slog().String(); got != tc.want {
			t.Errorf("LogLevel(%q).Slog() = %s, want %s", tc.in, got, tc.want)
		}
	}
}
