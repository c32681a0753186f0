package coachbuilder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	corechess "github.com/park285/cheese-opening-coach/internal/chess"
	"github.com/park285/cheese-opening-coach/internal/chess/movesel"
	"github.com/park285/cheese-opening-coach/internal/chess/openingtree"
	"github.com/park285/cheese-opening-coach/internal/commentary"
	"github.com/park285/cheese-opening-coach/internal/config"
	"github.com/park285/cheese-opening-coach/internal/msgcat"
	"github.com/park285/cheese-opening-coach/internal/service/practice"
)

const dialTimeout = 5 * time.Second

type Deps struct {
	Manager    *practice.Manager
	Catalog    *openingtree.Catalog
	Messages   *msgcat.Catalog
	Commentary *commentary.Service
	Engine     *corechess.Engine
	Redis      *redis.Client
	Repo       practice.Repository

	closers []func() error
}

// New wires the practice manager from cfg. Redis and Postgres are optional;
// without them sessions live in memory only and archived games are kept in
// process. Without STOCKFISH_PATH the opponent can only play book moves.
func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Deps{}
	ok := false
	defer func() {
		if !ok {
			_ = d.Close()
		}
	}()

	messages, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	d.Messages = messages

	catalog, err := openingtree.LoadCatalog(cfg.OpeningsDir, logger.Named("openings"))
	if err != nil {
		return nil, fmt.Errorf("load openings: %w", err)
	}
	d.Catalog = catalog

	if path := strings.TrimSpace(cfg.StockfishPath); path != "" {
		engine, err := corechess.NewEngine(corechess.EngineConfig{
			BinaryPath:   path,
			PoolCapacity: cfg.EnginePoolCapacity,
			InitWait:     cfg.EngineInitWait,
			Logger:       logger.Named("engine"),
		})
		if err != nil {
			return nil, fmt.Errorf("init engine: %w", err)
		}
		d.Engine = engine
		d.closers = append(d.closers, engine.Close)
	} else {
		logger.Warn("STOCKFISH_PATH not set; opponent limited to book moves")
	}

	d.Commentary = newCommentary(cfg, messages, logger.Named("commentary"))

	var store practice.SnapshotStore
	if raw := strings.TrimSpace(cfg.RedisURL); raw != "" {
		dctx, cancel := context.WithTimeout(ctx, dialTimeout)
		rdb, err := practice.DialRedis(dctx, raw)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("init redis: %w", err)
		}
		d.Redis = rdb
		d.closers = append(d.closers, rdb.Close)
		store = practice.NewRedisStore(rdb, cfg.SessionTTL())
	}

	if raw := strings.TrimSpace(cfg.DatabaseURL); raw != "" {
		dctx, cancel := context.WithTimeout(ctx, dialTimeout)
		repo, closeDB, err := practice.NewPostgresRepository(dctx, raw)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("init postgres: %w", err)
		}
		d.Repo = repo
		d.closers = append(d.closers, closeDB)
	} else {
		d.Repo = practice.NewMemoryRepository()
	}

	mode, err := movesel.ParseMode(cfg.OpponentMode)
	if err != nil {
		return nil, err
	}
	manager, err := practice.NewManager(catalog, practice.FromEngine(d.Engine), store, d.Repo, d.Commentary, practice.Config{
		DefaultOpening:       cfg.DefaultOpening,
		DefaultDefense:       cfg.DefaultDefense,
		Mode:                 mode,
		Elo:                  cfg.EngineElo,
		DeviationProbability: cfg.DeviationProbability,
		CommentaryTimeout:    cfg.CommentaryTimeout,
	}, logger.Named("practice"))
	if err != nil {
		return nil, err
	}
	d.Manager = manager

	ok = true
	logger.Info("coach ready",
		zap.Int("openings", len(catalog.List())),
		zap.Bool("engine", d.Engine != nil),
		zap.Bool("redis", d.Redis != nil),
		zap.Bool("postgres", cfg.DatabaseURL != ""),
		zap.Bool("commentary", d.Commentary.Enabled()),
	)
	return d, nil
}

// newCommentary prefers the HTTP commentary service and falls back to calling
// OpenAI in process when only an API key is configured.
func newCommentary(cfg *config.AppConfig, messages *msgcat.Catalog, logger *zap.Logger) *commentary.Service {
	if !cfg.CommentaryEnabled {
		return commentary.NewService(nil, messages, false, logger)
	}
	var gen commentary.Generator
	switch {
	case strings.TrimSpace(cfg.CommentaryURL) != "":
		gen = commentary.NewClient(cfg.CommentaryURL, commentary.WithTimeout(cfg.CommentaryTimeout))
	case strings.TrimSpace(cfg.OpenAIAPIKey) != "":
		g, err := commentary.NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIModel)
		if err != nil {
			logger.Warn("openai generator unavailable", zap.Error(err))
			break
		}
		gen = g
	}
	return commentary.NewService(gen, messages, true, logger)
}

// Close stops the manager and releases everything New opened, newest first.
func (d *Deps) Close() error {
	if d == nil {
		return nil
	}
	if d.Manager != nil {
		d.Manager.Close()
	}
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}
