package practice

import (
	"context"

	"github.com/park285/cheese-opening-coach/internal/coach"
	"github.com/park285/cheese-opening-coach/internal/commentary"
)

// EngineHandle is a search process reserved for one session.
type EngineHandle interface {
	coach.Engine
	Release()
}

// EngineSource hands out engine handles at a given strength.
type EngineSource interface {
	Acquire(ctx context.Context, elo int) (EngineHandle, error)
}

// Commentator explains a move. Book commentary wins when present.
type Commentator interface {
	Comment(ctx context.Context, book string, in commentary.Context) string
}

// StartOptions override the manager defaults for one session. Empty fields
// fall back to the configured defaults; an empty PlayerColor means the
// opening's own side.
type StartOptions struct {
	OpeningID            string
	DefenseID            string
	Mode                 string
	PlayerColor          string
	Elo                  int
	DeviationProbability *float64
}

// MoveOutcome is one applied ply plus what the coach has to say about it.
type MoveOutcome struct {
	Report     *coach.TurnReport
	Commentary string
	// Evaluation is set when the move left theory, in centipawns from White's view.
	Evaluation *int
}

type StartResult struct {
	ID       string
	State    coach.State
	Opponent *MoveOutcome
}

type PlayResult struct {
	ID       string
	Player   *MoveOutcome
	Opponent *MoveOutcome
	State    coach.State
	Finished bool
	GameID   int64
}
