package config_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/bubbletalk/internal/config"
	"github.com/MrWong99/bubbletalk/pkg/presentation"
	"github.com/MrWong99/bubbletalk/pkg/presentation/mock"
)

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	_, err := reg.CreateSurface(config.NPCConfig{Speaker: "guard"})
	if !errors.Is(err, config.ErrSurfaceNotRegistered) {
		t.Errorf("err = %v, want ErrSurfaceNotRegistered", err)
	}
}

func TestRegistry_Registered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	var gotSpeaker string
	want := &mock.Surface{}
	reg.RegisterSurface(config.SurfaceLog, func(n config.NPCConfig) (presentation.Surface, error) {
		gotSpeaker = n.Speaker
		return want, nil
	})
	reg.RegisterSurface(config.SurfaceDiscord, func(config.NPCConfig) (presentation.Surface, error) {
		return nil, errors.New("no session")
	})

	// Empty kind resolves to log.
	s, err := reg.CreateSurface(config.NPCConfig{Speaker: "guard"})
	if err != nil {
		t.Fatalf("CreateSurface: %v", err)
	}
	if s != want || gotSpeaker != "guard" {
		t.Errorf("factory got speaker %q, returned %v", gotSpeaker, s)
	}

	_, err = reg.CreateSurface(config.NPCConfig{Speaker: "bard", Surface: config.SurfaceConfig{Kind: config.SurfaceDiscord}})
	if err == nil || errors.Is(err, config.ErrSurfaceNotRegistered) {
		t.Errorf("factory error should be wrapped, got %v", err)
	}

	if got := reg.Kinds(); !slices.Equal(got, []config.SurfaceKind{config.SurfaceDiscord, config.SurfaceLog}) {
		t.Errorf("Kinds() = %v", got)
	}
}
