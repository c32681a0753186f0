package uci

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrPoolClosed = errors.New("uci pool closed")

type PoolConfig struct {
	BinaryPath string
	Threads    int
	HashMB     int
	// Capacity caps live engine processes across all strengths.
	Capacity int
	InitWait time.Duration
	Logger   *zap.Logger
}

type spawnFunc func(ctx context.Context, opt Options) (*Session, error)

// Pool shares engine processes between games. Processes are interchangeable:
// the strength a game asks for is applied when the process is handed out.
type Pool struct {
	base   Options
	spawn  spawnFunc
	logger *zap.Logger

	slots chan struct{}
	idle  chan *Session

	mu     sync.Mutex
	leased map[*Session]struct{}
	closed bool
}

func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.BinaryPath == "" {
		return nil, fmt.Errorf("binary path required")
	}
	if _, err := os.Stat(cfg.BinaryPath); err != nil {
		return nil, fmt.Errorf("stockfish binary check: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	spawn := func(ctx context.Context, opt Options) (*Session, error) {
		return NewSession(ctx, cfg.BinaryPath, opt, logger)
	}
	return newPool(cfg, spawn), nil
}

func newPool(cfg PoolConfig, spawn spawnFunc) *Pool {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = defaultCapacity()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		base:   Options{Threads: cfg.Threads, HashMB: cfg.HashMB, InitWait: cfg.InitWait},
		spawn:  spawn,
		logger: logger,
		slots:  make(chan struct{}, capacity),
		idle:   make(chan *Session, capacity),
		leased: make(map[*Session]struct{}),
	}
}

// Acquire hands out a process playing at st, reusing an idle one when
// possible. It blocks while every process is leased and the pool is full.
// Callers must hand the process back through Release.
func (p *Pool) Acquire(ctx context.Context, st Strength) (*Session, error) {
	for {
		if err := p.checkOpen(); err != nil {
			return nil, err
		}
		select {
		case s := <-p.idle:
			if p.prepare(ctx, s, st) {
				return s, nil
			}
			continue
		default:
		}

		select {
		case s := <-p.idle:
			if p.prepare(ctx, s, st) {
				return s, nil
			}
		case p.slots <- struct{}{}:
			return p.start(ctx, st)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (p *Pool) start(ctx context.Context, st Strength) (*Session, error) {
	opt := p.base
	opt.Strength = st
	s, err := p.spawn(ctx, opt)
	if err != nil {
		<-p.slots
		return nil, err
	}
	p.lease(s)
	p.logger.Info("uci session started",
		zap.Stringer("strength", st),
		zap.Int("live", len(p.slots)))
	return s, nil
}

// prepare moves an idle process to st. A process that does not answer is
// retired and the caller tries again.
func (p *Pool) prepare(ctx context.Context, s *Session, st Strength) bool {
	var err error
	if s.Strength() != st {
		err = s.SetStrength(ctx, st)
	} else {
		err = s.EnsureReady(ctx)
	}
	if err != nil {
		p.logger.Warn("uci idle session retired",
			zap.Stringer("strength", st),
			zap.Error(err))
		p.retire(s)
		return false
	}
	p.lease(s)
	return true
}

// Release returns s to the idle set. A non-nil err retires the process.
func (p *Pool) Release(s *Session, err error) {
	if s == nil {
		return
	}
	p.mu.Lock()
	_, ok := p.leased[s]
	delete(p.leased, s)
	closed := p.closed
	p.mu.Unlock()
	if !ok {
		_ = s.Close()
		return
	}
	if err != nil || closed {
		p.retire(s)
		return
	}
	select {
	case p.idle <- s:
	default:
		p.retire(s)
	}
}

// Close stops idle processes. Leased ones stop when they are released.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	var errs []error
	for {
		select {
		case s := <-p.idle:
			if err := s.Close(); err != nil {
				errs = append(errs, err)
			}
			<-p.slots
		default:
			return errors.Join(errs...)
		}
	}
}

// Live reports the number of running processes.
func (p *Pool) Live() int {
	return len(p.slots)
}

func (p *Pool) checkOpen() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	return nil
}

func (p *Pool) lease(s *Session) {
	p.mu.Lock()
	p.leased[s] = struct{}{}
	p.mu.Unlock()
}

func (p *Pool) retire(s *Session) {
	_ = s.Close()
	<-p.slots
}

func defaultCapacity() int {
	cpu := runtime.NumCPU()
	if cpu < 2 {
		return 2
	}
	if cpu > 4 {
		return 4
	}
	return cpu
}
