package coach

import (
	nchess "github.com/corentings/chess/v2"

	"github.com/park285/cheese-opening-coach/internal/chess/metrics"
	"github.com/park285/cheese-opening-coach/internal/chess/movesel"
)

type Phase string

const (
	PhaseOpening Phase = "opening"
	PhaseFree    Phase = "free"
)

const (
	SideWhite = "white"
	SideBlack = "black"
)

// MoveRecord is one applied ply.
type MoveRecord struct {
	SAN      string `json:"san"`
	UCI      string `json:"uci"`
	FEN      string `json:"fen"`
	Side     string `json:"side"`
	InTheory bool   `json:"inTheory"`
}

// DeviationEvent describes the opponent move that left the book.
type DeviationEvent struct {
	SAN                string `json:"san"`
	FEN                string `json:"fen"`
	Structure          string `json:"structure"`
	TranspositionID    string `json:"transpositionId,omitempty"`
	TranspositionName  string `json:"transpositionName,omitempty"`
	TranspositionColor string `json:"transpositionColor,omitempty"`
}

func (e *DeviationEvent) HasTransposition() bool {
	return e != nil && e.TranspositionID != ""
}

// TurnReport is returned for every applied player or opponent move.
type TurnReport struct {
	Move       MoveRecord
	Source     movesel.Source
	Phase      Phase
	LeftTheory bool
	// Commentary is the authored book commentary of the reached node.
	Commentary  string
	Metrics     metrics.Snapshot
	Deviation   *DeviationEvent
	TheoryMoves []string
	ECOCode     string
	ECOTitle    string
	Outcome     string
	Method      string
}

func (r *TurnReport) Finished() bool {
	return r != nil && r.Outcome != "" && r.Outcome != nchess.NoOutcome.String()
}

// State is a read-only copy of a session.
type State struct {
	OpeningID   string
	OpeningName string
	OpeningECO  string
	DefenseID   string
	Mode        movesel.Mode
	PlayerSide  string
	FEN         string
	StartFEN    string
	Turn        string
	Phase       Phase
	Moves       []MoveRecord
	Metrics     metrics.Snapshot
	Deviation   *DeviationEvent
	// TransposedAt is the ply at which the game switched into this opening.
	TransposedAt int
	TheoryMoves  []string
	Commentary   string
	Outcome      string
	Method       string
	Generation   uint64
}

// Checkpoint holds what a session needs to rebuild a game by replay.
type Checkpoint struct {
	StartFEN     string
	Moves        []MoveRecord
	Deviation    *DeviationEvent
	TransposedAt int
}

func (s State) PlayersTurn() bool {
	return s.Turn == s.PlayerSide
}

func sideName(c nchess.Color) string {
	if c == nchess.Black {
		return SideBlack
	}
	return SideWhite
}

// ParseSide maps "white"/"black" (or w/b) to a color. Empty input yields
// NoColor so the opening's own side can be used.
func ParseSide(s string) (nchess.Color, bool) {
	switch s {
	case "white", "w", "White":
		return nchess.White, true
	case "black", "b", "Black":
		return nchess.Black, true
	case "":
		return nchess.NoColor, true
	}
	return nchess.NoColor, false
}
