package chess

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-opening-coach/internal/chess/uci"
)

var ErrHandleReleased = errors.New("engine handle released")

type EngineConfig struct {
	BinaryPath   string
	Threads      int
	HashMB       int
	PoolCapacity int
	InitWait     time.Duration
	Logger       *zap.Logger
}

// Engine hands out pooled search processes configured for an Elo target.
type Engine struct {
	pool   *uci.Pool
	logger *zap.Logger
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	threads := cfg.Threads
	if threads <= 0 {
		threads = defaultThreads
	}
	hash := cfg.HashMB
	if hash <= 0 {
		hash = defaultHashMB
	}
	pool, err := uci.NewPool(uci.PoolConfig{
		BinaryPath: cfg.BinaryPath,
		Threads:    threads,
		HashMB:     hash,
		Capacity:   cfg.PoolCapacity,
		InitWait:   cfg.InitWait,
		Logger:     logger.Named("uci"),
	})
	if err != nil {
		return nil, err
	}
	return &Engine{pool: pool, logger: logger}, nil
}

// Acquire reserves one search process for a game at the given Elo.
func (e *Engine) Acquire(ctx context.Context, elo int) (*Handle, error) {
	session, err := e.pool.Acquire(ctx, StrengthForElo(elo))
	if err != nil {
		return nil, fmt.Errorf("acquire engine: %w", err)
	}
	if err := session.NewGame(ctx); err != nil {
		e.pool.Release(session, err)
		return nil, fmt.Errorf("engine new game: %w", err)
	}
	return &Handle{engine: e, session: session, elo: elo}, nil
}

func (e *Engine) Close() error {
	if e == nil || e.pool == nil {
		return nil
	}
	return e.pool.Close()
}

// Handle is one game's view of a pooled search process. Calls are serialized.
type Handle struct {
	engine  *Engine
	mu      sync.Mutex
	session *uci.Session
	elo     int
	failed  error
}

// SetStrength limits play to elo.
func (h *Handle) SetStrength(ctx context.Context, elo int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.session == nil {
		return ErrHandleReleased
	}
	if err := h.session.SetStrength(ctx, StrengthForElo(elo)); err != nil {
		h.failed = err
		return err
	}
	h.elo = elo
	return nil
}

// DisableStrengthLimit lets the engine play at full strength until the next
// SetStrength call.
func (h *Handle) DisableStrengthLimit(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.session == nil {
		return ErrHandleReleased
	}
	if err := h.session.SetStrength(ctx, uci.FullStrength()); err != nil {
		h.failed = err
		return err
	}
	return nil
}

// BestMove returns the engine's move for fen in UCI notation.
func (h *Handle) BestMove(ctx context.Context, fen string, depth int) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.session == nil {
		return "", ErrHandleReleased
	}
	mv, err := h.session.BestMove(ctx, fen, normalizeDepth(depth))
	if err != nil && !errors.Is(err, uci.ErrNoBestMove) {
		h.failed = err
	}
	return mv, err
}

// Evaluate scores fen in centipawns from the side to move.
func (h *Handle) Evaluate(ctx context.Context, fen string, depth int) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.session == nil {
		return 0, ErrHandleReleased
	}
	cp, err := h.session.Evaluate(ctx, fen, normalizeDepth(depth))
	if err != nil {
		h.failed = err
	}
	return cp, err
}

// Release returns the process to the pool. A process that failed a command is
// discarded instead of reused.
func (h *Handle) Release() {
	h.mu.Lock()
	session, failed, elo := h.session, h.failed, h.elo
	h.session = nil
	h.mu.Unlock()
	if session == nil {
		return
	}
	if failed != nil {
		h.engine.logger.Warn("engine session discarded", zap.Int("elo", elo), zap.Error(failed))
	}
	h.engine.pool.Release(session, failed)
}
