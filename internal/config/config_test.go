package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"COACH_CONFIG_FILE", "STOCKFISH_PATH", "ENGINE_ELO", "ENGINE_INIT_WAIT", "OPPONENT_MODE",
		"PLAYER_COLOR", "HYBRID_DEVIATION_PROBABILITY", "COMMENTARY_ENABLED", "COMMENTARY_API_URL",
		"COMMENTARY_TIMEOUT", "SESSION_TTL", "REDIS_URL", "DATABASE_URL", "OPENAI_API_KEY",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OpponentMode != ModeHybrid || cfg.PlayerColor != "white" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.EngineInitWait != 2*time.Second {
		t.Fatalf("init wait = %v", cfg.EngineInitWait)
	}
	if cfg.SessionTTL() != time.Hour {
		t.Fatalf("session ttl = %v", cfg.SessionTTL())
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPPONENT_MODE", "Never-Deviate")
	t.Setenv("PLAYER_COLOR", "black")
	t.Setenv("ENGINE_INIT_WAIT", "3")
	t.Setenv("COMMENTARY_TIMEOUT", "1500ms")
	t.Setenv("HYBRID_DEVIATION_PROBABILITY", "0.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OpponentMode != ModeNeverDeviate {
		t.Fatalf("mode = %q", cfg.OpponentMode)
	}
	if cfg.PlayerColor != "black" {
		t.Fatalf("color = %q", cfg.PlayerColor)
	}
	if cfg.EngineInitWait != 3*time.Second {
		t.Fatalf("init wait = %v", cfg.EngineInitWait)
	}
	if cfg.CommentaryTimeout != 1500*time.Millisecond {
		t.Fatalf("commentary timeout = %v", cfg.CommentaryTimeout)
	}
	if cfg.DeviationProbability != 0.5 {
		t.Fatalf("deviation probability = %v", cfg.DeviationProbability)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "coach.yaml")
	body := "engineElo: 1500\nopponentMode: specific-defense\ndefaultDefense: two-knights\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("COACH_CONFIG_FILE", path)
	t.Setenv("ENGINE_ELO", "1800")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.EngineElo != 1800 {
		t.Fatalf("env should win over file, elo = %d", cfg.EngineElo)
	}
	if cfg.OpponentMode != ModeSpecificDefense || cfg.DefaultDefense != "two-knights" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPPONENT_MODE", "aggressive")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown mode")
	}

	clearEnv(t)
	t.Setenv("COMMENTARY_ENABLED", "true")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error when commentary url is missing")
	}

	t.Setenv("OPENAI_API_KEY", "sk-test")
	if _, err := Load(); err != nil {
		t.Fatalf("an api key alone should enable in-process commentary: %v", err)
	}
}
