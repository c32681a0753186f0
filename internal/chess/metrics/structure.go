package metrics

import (
	nchess "github.com/corentings/chess/v2"
)

const (
	StructureIQP          = "Isolated Queen's Pawn"
	StructureHangingPawns = "Hanging Pawns"
	StructureCaroKann     = "Caro-Kann Structure"
	StructureSlav         = "Slav Structure"
	StructureFrench       = "French Structure"
	StructureKingsIndian  = "King's Indian Structure"
	StructureLondon       = "London System Structure"
	StructureSicilian     = "Sicilian Structure"
	StructureClosedCenter = "Closed Center"
	StructureOpenCenter   = "Open Center"
	StructureUnknown      = "Unknown"
)

// file indexes, 0 = a-file
const (
	fileB = 1
	fileC = 2
	fileD = 3
	fileE = 4
	fileF = 5
)

type structureRule struct {
	label string
	match func(b boardView) bool
}

// Evaluated in order; the first match wins.
var structureRules = []structureRule{
	{StructureIQP, isolatedQueensPawn},
	{StructureHangingPawns, hangingPawns},
	{StructureCaroKann, func(b boardView) bool {
		return b.pawn(nchess.Black, "c6") && b.pawn(nchess.Black, "d5") && b.pawn(nchess.Black, "e6")
	}},
	{StructureSlav, func(b boardView) bool {
		return b.pawn(nchess.Black, "c6") && b.pawn(nchess.Black, "d5")
	}},
	{StructureFrench, func(b boardView) bool {
		return b.pawn(nchess.Black, "d5") && b.pawn(nchess.Black, "e6")
	}},
	{StructureKingsIndian, func(b boardView) bool {
		return b.pawn(nchess.Black, "d6") && b.pawn(nchess.Black, "e5") && b.pawn(nchess.Black, "g6")
	}},
	{StructureLondon, func(b boardView) bool {
		return b.has(nchess.White, nchess.Bishop, "f4") && b.pawn(nchess.White, "d4") && b.pawn(nchess.White, "e3")
	}},
	{StructureSicilian, sicilian},
	{StructureClosedCenter, closedCenter},
	{StructureOpenCenter, func(b boardView) bool {
		w, bl := b.files[nchess.White], b.files[nchess.Black]
		return w[fileD] == 0 && w[fileE] == 0 && bl[fileD] == 0 && bl[fileE] == 0
	}},
}

// ClassifyStructure returns a coaching label for the position's pawn skeleton.
func ClassifyStructure(pos *nchess.Position) string {
	if pos == nil {
		return StructureUnknown
	}
	view := newBoardView(pos)
	for _, rule := range structureRules {
		if rule.match(view) {
			return rule.label
		}
	}
	return StructureUnknown
}

type boardView struct {
	board *nchess.Board
	files map[nchess.Color][8]int
}

func newBoardView(pos *nchess.Position) boardView {
	return boardView{
		board: pos.Board(),
		files: map[nchess.Color][8]int{
			nchess.White: pawnFileCounts(pos, nchess.White),
			nchess.Black: pawnFileCounts(pos, nchess.Black),
		},
	}
}

func (b boardView) has(c nchess.Color, pt nchess.PieceType, square string) bool {
	sq, ok := parseSquare(square)
	if !ok {
		return false
	}
	piece := b.board.Piece(sq)
	return piece != nchess.NoPiece && piece.Type() == pt && piece.Color() == c
}

func (b boardView) pawn(c nchess.Color, square string) bool {
	return b.has(c, nchess.Pawn, square)
}

// isolatedQueensPawn: a d-pawn with no c- or e-pawn of the same side.
func isolatedQueensPawn(b boardView) bool {
	for _, c := range []nchess.Color{nchess.White, nchess.Black} {
		f := b.files[c]
		if f[fileD] > 0 && f[fileC] == 0 && f[fileE] == 0 {
			return true
		}
	}
	return false
}

// hangingPawns: c+d pawns with b and e empty, or d+e pawns with c and f empty.
func hangingPawns(b boardView) bool {
	for _, c := range []nchess.Color{nchess.White, nchess.Black} {
		f := b.files[c]
		if f[fileC] > 0 && f[fileD] > 0 && f[fileB] == 0 && f[fileE] == 0 {
			return true
		}
		if f[fileD] > 0 && f[fileE] > 0 && f[fileC] == 0 && f[fileF] == 0 {
			return true
		}
	}
	return false
}

// sicilian: black c5, or black traded the c-pawn for white's d-pawn.
func sicilian(b boardView) bool {
	if b.pawn(nchess.Black, "c5") {
		return true
	}
	black, white := b.files[nchess.Black], b.files[nchess.White]
	return black[fileC] == 0 && white[fileD] == 0 && black[fileD] > 0
}

// closedCenter: a white pawn directly blocked by a black pawn on the d- or e-file.
func closedCenter(b boardView) bool {
	for _, file := range []nchess.File{nchess.FileD, nchess.FileE} {
		for rank := nchess.Rank2; rank < nchess.Rank8; rank++ {
			w := b.board.Piece(nchess.NewSquare(file, rank))
			if w.Type() != nchess.Pawn || w.Color() != nchess.White {
				continue
			}
			ahead := b.board.Piece(nchess.NewSquare(file, rank+1))
			if ahead.Type() == nchess.Pawn && ahead.Color() == nchess.Black {
				return true
			}
		}
	}
	return false
}

func parseSquare(s string) (nchess.Square, bool) {
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return nchess.NoSquare, false
	}
	return nchess.NewSquare(nchess.File(s[0]-'a'), nchess.Rank(s[1]-'1')), true
}
