package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	StockfishPath        string        `yaml:"stockfishPath"`
	EngineElo            int           `yaml:"engineElo"`
	EngineInitWait       time.Duration `yaml:"engineInitWait"`
	EnginePoolCapacity   int           `yaml:"enginePoolCapacity"`
	OpponentMode         string        `yaml:"opponentMode"`
	PlayerColor          string        `yaml:"playerColor"`
	DeviationProbability float64       `yaml:"deviationProbability"`
	DefaultOpening       string        `yaml:"defaultOpening"`
	DefaultDefense       string        `yaml:"defaultDefense"`
	OpeningsDir          string        `yaml:"openingsDir"`
	MessagesDir          string        `yaml:"messagesDir"`

	CommentaryEnabled    bool          `yaml:"commentaryEnabled"`
	CommentaryURL        string        `yaml:"commentaryUrl"`
	CommentaryTimeout    time.Duration `yaml:"commentaryTimeout"`
	CommentaryListenAddr string        `yaml:"commentaryListenAddr"`
	CommentaryRateLimit  int           `yaml:"commentaryRateLimit"`
	CommentaryRateWindow time.Duration `yaml:"commentaryRateWindow"`
	OpenAIAPIKey         string        `yaml:"-"`
	OpenAIModel          string        `yaml:"openaiModel"`

	RedisURL      string `yaml:"redisUrl"`
	DatabaseURL   string `yaml:"-"`
	SessionTTLSec int    `yaml:"sessionTtlSec"`
}

const (
	ModeNeverDeviate    = "never-deviate"
	ModeHybrid          = "hybrid"
	ModeSpecificDefense = "specific-defense"
)

func defaults() *AppConfig {
	return &AppConfig{
		EngineElo:            1200,
		EngineInitWait:       2 * time.Second,
		OpponentMode:         ModeHybrid,
		PlayerColor:          "white",
		DeviationProbability: 0.2,
		DefaultOpening:       "italian-game",
		CommentaryTimeout:    8 * time.Second,
		CommentaryListenAddr: ":8787",
		CommentaryRateLimit:  30,
		CommentaryRateWindow: time.Minute,
		OpenAIModel:          "gpt-4o-mini",
		SessionTTLSec:        3600,
	}
}

// Load reads the optional COACH_CONFIG_FILE and then applies environment overrides.
func Load() (*AppConfig, error) {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("COACH_CONFIG_FILE")); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *AppConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *AppConfig) {
	setString(&cfg.StockfishPath, "STOCKFISH_PATH")
	setPositiveInt(&cfg.EngineElo, "ENGINE_ELO")
	setDuration(&cfg.EngineInitWait, "ENGINE_INIT_WAIT")
	setPositiveInt(&cfg.EnginePoolCapacity, "ENGINE_POOL_CAPACITY")
	setString(&cfg.OpponentMode, "OPPONENT_MODE")
	setString(&cfg.PlayerColor, "PLAYER_COLOR")
	if v := strings.TrimSpace(os.Getenv("HYBRID_DEVIATION_PROBABILITY")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.DeviationProbability = f
		}
	}
	setString(&cfg.DefaultOpening, "DEFAULT_OPENING")
	setString(&cfg.DefaultDefense, "DEFAULT_DEFENSE")
	setString(&cfg.OpeningsDir, "OPENINGS_DIR")
	setString(&cfg.MessagesDir, "MESSAGES_DIR")

	if v := strings.TrimSpace(os.Getenv("COMMENTARY_ENABLED")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.CommentaryEnabled = b
		}
	}
	setString(&cfg.CommentaryURL, "COMMENTARY_API_URL")
	setDuration(&cfg.CommentaryTimeout, "COMMENTARY_TIMEOUT")
	setString(&cfg.CommentaryListenAddr, "COMMENTARY_LISTEN_ADDR")
	setPositiveInt(&cfg.CommentaryRateLimit, "COMMENTARY_RATE_LIMIT")
	setDuration(&cfg.CommentaryRateWindow, "COMMENTARY_RATE_WINDOW")
	setString(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	setString(&cfg.OpenAIModel, "OPENAI_MODEL")

	setString(&cfg.RedisURL, "REDIS_URL")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setPositiveInt(&cfg.SessionTTLSec, "SESSION_TTL")

	cfg.OpponentMode = strings.ToLower(cfg.OpponentMode)
	cfg.PlayerColor = strings.ToLower(cfg.PlayerColor)
}

func (c *AppConfig) Validate() error {
	switch c.OpponentMode {
	case ModeNeverDeviate, ModeHybrid, ModeSpecificDefense:
	default:
		return fmt.Errorf("OPPONENT_MODE %q is not one of never-deviate, hybrid, specific-defense", c.OpponentMode)
	}
	if c.PlayerColor != "white" && c.PlayerColor != "black" {
		return fmt.Errorf("PLAYER_COLOR must be white or black: %q", c.PlayerColor)
	}
	if c.DeviationProbability < 0 || c.DeviationProbability > 1 {
		return fmt.Errorf("HYBRID_DEVIATION_PROBABILITY out of range 0-1: %v", c.DeviationProbability)
	}
	if c.EngineElo <= 0 {
		return errors.New("ENGINE_ELO must be > 0")
	}
	if c.CommentaryEnabled && c.CommentaryURL == "" && c.OpenAIAPIKey == "" {
		return errors.New("COMMENTARY_API_URL or OPENAI_API_KEY is required when COMMENTARY_ENABLED is true")
	}
	return nil
}

// SessionTTL is the Redis expiry for persisted practice sessions.
func (c *AppConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSec) * time.Second
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setPositiveInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

// setDuration accepts Go durations ("3s") or bare seconds.
func setDuration(dst *time.Duration, key string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		*dst = d
		return
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		*dst = time.Duration(n) * time.Second
	}
}
