package metrics

import (
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

const (
	maxKingSafety     = 10
	openFilePenalty   = 2
	solidChainMinFile = 4
)

const (
	LabelDoubledIsolated = "doubled + isolated"
	LabelDoubled         = "doubled pawns"
	LabelIsolated        = "isolated pawn"
	LabelSolidChain      = "solid pawn chain"
	LabelNormal          = "normal"
)

var centerSquares = [...]nchess.Square{
	nchess.NewSquare(nchess.FileD, nchess.Rank4),
	nchess.NewSquare(nchess.FileE, nchess.Rank4),
	nchess.NewSquare(nchess.FileD, nchess.Rank5),
	nchess.NewSquare(nchess.FileE, nchess.Rank5),
}

// ColorPair holds one integer score per side.
type ColorPair struct {
	White int `json:"white"`
	Black int `json:"black"`
}

func (p ColorPair) For(c nchess.Color) int {
	if c == nchess.Black {
		return p.Black
	}
	return p.White
}

type LabelPair struct {
	White string `json:"white"`
	Black string `json:"black"`
}

func (p LabelPair) For(c nchess.Color) string {
	if c == nchess.Black {
		return p.Black
	}
	return p.White
}

// Delta is measured from the human player's side against the previous snapshot.
type Delta struct {
	PieceActivity        int  `json:"pieceActivity"`
	CenterControl        int  `json:"centerControl"`
	KingSafety           int  `json:"kingSafety"`
	PawnStructureChanged bool `json:"pawnStructureChanged"`
}

type Snapshot struct {
	PieceActivity ColorPair `json:"pieceActivity"`
	CenterControl ColorPair `json:"centerControl"`
	PawnStructure LabelPair `json:"pawnStructure"`
	KingSafety    ColorPair `json:"kingSafety"`
	Delta         Delta     `json:"delta"`
}

// ComputeAll scores both sides. The returned snapshot carries a zero delta.
func ComputeAll(pos *nchess.Position) Snapshot {
	return Snapshot{
		PieceActivity: ColorPair{
			White: PieceActivity(pos, nchess.White),
			Black: PieceActivity(pos, nchess.Black),
		},
		CenterControl: CenterControl(pos),
		PawnStructure: LabelPair{
			White: PawnStructure(pos, nchess.White),
			Black: PawnStructure(pos, nchess.Black),
		},
		KingSafety: ColorPair{
			White: KingSafety(pos, nchess.White),
			Black: KingSafety(pos, nchess.Black),
		},
	}
}

// DeltaFrom compares s with prev for side only.
func (s Snapshot) DeltaFrom(prev Snapshot, side nchess.Color) Delta {
	return Delta{
		PieceActivity:        s.PieceActivity.For(side) - prev.PieceActivity.For(side),
		CenterControl:        s.CenterControl.For(side) - prev.CenterControl.For(side),
		KingSafety:           s.KingSafety.For(side) - prev.KingSafety.For(side),
		PawnStructureChanged: s.PawnStructure.For(side) != prev.PawnStructure.For(side),
	}
}

// PieceActivity counts legal moves for side, as if it were side's turn.
func PieceActivity(pos *nchess.Position, side nchess.Color) int {
	p, err := asSideToMove(pos, side)
	if err != nil {
		return 0
	}
	return len(p.ValidMoves())
}

// CenterControl counts, per side, legal moves landing on d4, e4, d5 or e5.
func CenterControl(pos *nchess.Position) ColorPair {
	return ColorPair{
		White: centerMoves(pos, nchess.White),
		Black: centerMoves(pos, nchess.Black),
	}
}

func centerMoves(pos *nchess.Position, side nchess.Color) int {
	p, err := asSideToMove(pos, side)
	if err != nil {
		return 0
	}
	count := 0
	for _, mv := range p.ValidMoves() {
		if isCenter(mv.S2()) {
			count++
		}
	}
	return count
}

func isCenter(sq nchess.Square) bool {
	for _, c := range centerSquares {
		if c == sq {
			return true
		}
	}
	return false
}

// PawnStructure labels side's pawn file occupancy.
func PawnStructure(pos *nchess.Position, side nchess.Color) string {
	files := pawnFileCounts(pos, side)

	doubled, isolated := false, false
	occupied := 0
	for f := 0; f < 8; f++ {
		if files[f] == 0 {
			continue
		}
		occupied++
		if files[f] > 1 {
			doubled = true
		}
		left := f > 0 && files[f-1] > 0
		right := f < 7 && files[f+1] > 0
		if !left && !right {
			isolated = true
		}
	}

	switch {
	case doubled && isolated:
		return LabelDoubledIsolated
	case doubled:
		return LabelDoubled
	case isolated:
		return LabelIsolated
	case occupied >= solidChainMinFile:
		return LabelSolidChain
	default:
		return LabelNormal
	}
}

// KingSafety starts at 10 and loses 2 for every file around the king without an own pawn.
func KingSafety(pos *nchess.Position, side nchess.Color) int {
	kingSq, ok := findKing(pos, side)
	if !ok {
		return maxKingSafety
	}
	files := pawnFileCounts(pos, side)
	kf := int(kingSq.File())

	score := maxKingSafety
	for f := kf - 1; f <= kf+1; f++ {
		if f < 0 || f > 7 {
			continue
		}
		if files[f] == 0 {
			score -= openFilePenalty
		}
	}
	if score < 0 {
		score = 0
	}
	return score
}

func pawnFileCounts(pos *nchess.Position, side nchess.Color) [8]int {
	var files [8]int
	if pos == nil {
		return files
	}
	board := pos.Board()
	for file := nchess.FileA; file <= nchess.FileH; file++ {
		for rank := nchess.Rank1; rank <= nchess.Rank8; rank++ {
			piece := board.Piece(nchess.NewSquare(file, rank))
			if piece == nchess.NoPiece {
				continue
			}
			if piece.Type() == nchess.Pawn && piece.Color() == side {
				files[int(file)]++
			}
		}
	}
	return files
}

func findKing(pos *nchess.Position, side nchess.Color) (nchess.Square, bool) {
	if pos == nil {
		return nchess.NoSquare, false
	}
	board := pos.Board()
	for file := nchess.FileA; file <= nchess.FileH; file++ {
		for rank := nchess.Rank1; rank <= nchess.Rank8; rank++ {
			sq := nchess.NewSquare(file, rank)
			piece := board.Piece(sq)
			if piece.Type() == nchess.King && piece.Color() == side {
				return sq, true
			}
		}
	}
	return nchess.NoSquare, false
}

// asSideToMove returns pos unchanged when side is to move, otherwise a copy
// with the turn flag flipped and the en-passant target cleared.
func asSideToMove(pos *nchess.Position, side nchess.Color) (*nchess.Position, error) {
	if pos == nil {
		return nil, fmt.Errorf("nil position")
	}
	if pos.Turn() == side {
		return pos, nil
	}
	fields := strings.Fields(pos.String())
	if len(fields) < 4 {
		return nil, fmt.Errorf("malformed fen %q", pos.String())
	}
	fields[1] = "w"
	if side == nchess.Black {
		fields[1] = "b"
	}
	fields[3] = "-"
	opt, err := nchess.FEN(strings.Join(fields, " "))
	if err != nil {
		return nil, fmt.Errorf("flip side to move: %w", err)
	}
	return nchess.NewGame(opt).Position(), nil
}

// PositionFromFEN parses fen through the rules engine.
func PositionFromFEN(fen string) (*nchess.Position, error) {
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, err
	}
	return nchess.NewGame(opt).Position(), nil
}
