package coachbuilder

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"github.com/park285/cheese-opening-coach/internal/config"
	"github.com/park285/cheese-opening-coach/internal/service/practice"
)

func baseConfig() *config.AppConfig {
	return &config.AppConfig{
		EngineElo:            1200,
		OpponentMode:         config.ModeNeverDeviate,
		PlayerColor:          "white",
		DefaultOpening:       "italian-game",
		SessionTTLSec:        60,
		DeviationProbability: 0.2,
	}
}

func TestNewWithoutExternalServices(t *testing.T) {
	deps, err := New(context.Background(), baseConfig(), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer deps.Close()

	if deps.Engine != nil || deps.Redis != nil {
		t.Fatalf("no engine or redis expected: %+v", deps)
	}
	if deps.Commentary.Enabled() {
		t.Fatalf("commentary should be disabled by default")
	}
	if _, err := deps.Catalog.Get("caro-kann"); err != nil {
		t.Fatalf("embedded catalog missing caro-kann: %v", err)
	}

	res, err := deps.Manager.Start(context.Background(), practice.StartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.State.OpeningID != "italian-game" {
		t.Fatalf("default opening = %s", res.State.OpeningID)
	}
}

func TestNewWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := baseConfig()
	cfg.RedisURL = "redis://" + mr.Addr() + "/0"

	deps, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	res, err := deps.Manager.Start(context.Background(), practice.StartOptions{OpeningID: "london-system"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !mr.Exists("coach:session:" + res.ID) {
		t.Fatalf("snapshot not written to redis")
	}
	if err := deps.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := deps.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	if _, err := New(context.Background(), nil, nil); err == nil {
		t.Fatalf("nil config should fail")
	}
	cfg := baseConfig()
	cfg.DefaultOpening = "kings-gambit"
	if _, err := New(context.Background(), cfg, nil); err == nil {
		t.Fatalf("unknown default opening should fail")
	}
	cfg = baseConfig()
	cfg.RedisURL = "http://localhost"
	if _, err := New(context.Background(), cfg, nil); err == nil {
		t.Fatalf("non-redis url should fail")
	}
}

func TestCommentaryBackendSelection(t *testing.T) {
	cfg := baseConfig()
	cfg.CommentaryEnabled = true
	cfg.CommentaryURL = "http://127.0.0.1:1/commentary"
	deps, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer deps.Close()
	if !deps.Commentary.Enabled() {
		t.Fatalf("commentary client should be enabled")
	}

	cfg.CommentaryURL = ""
	cfg.OpenAIAPIKey = "sk-test"
	if svc := newCommentary(cfg, deps.Messages, zap.NewNop()); !svc.Enabled() {
		t.Fatalf("openai generator should enable commentary")
	}
}
