package practice

import (
	"context"

	corechess "github.com/park285/cheese-opening-coach/internal/chess"
)

type poolSource struct {
	engine *corechess.Engine
}

// FromEngine exposes the Stockfish pool as an EngineSource.
func FromEngine(e *corechess.Engine) EngineSource {
	if e == nil {
		return nil
	}
	return poolSource{engine: e}
}

func (p poolSource) Acquire(ctx context.Context, elo int) (EngineHandle, error) {
	h, err := p.engine.Acquire(ctx, elo)
	if err != nil {
		return nil, err
	}
	return h, nil
}
