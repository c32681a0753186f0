package metrics

import (
	"testing"

	nchess "github.com/corentings/chess/v2"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func mustPosition(t *testing.T, fen string) *nchess.Position {
	t.Helper()
	pos, err := PositionFromFEN(fen)
	if err != nil {
		t.Fatalf("parse fen %q: %v", fen, err)
	}
	return pos
}

func play(t *testing.T, game *nchess.Game, moves ...string) {
	t.Helper()
	for _, san := range moves {
		if err := game.PushNotationMove(san, nchess.AlgebraicNotation{}, nil); err != nil {
			t.Fatalf("push %s: %v", san, err)
		}
	}
}

func TestPieceActivityStartingPosition(t *testing.T) {
	pos := mustPosition(t, startFEN)
	if got := PieceActivity(pos, nchess.White); got != 20 {
		t.Fatalf("white activity = %d, want 20", got)
	}
	if got := PieceActivity(pos, nchess.Black); got != 20 {
		t.Fatalf("black activity = %d, want 20", got)
	}
}

func TestPieceActivityGrowsAfterCentralPawnAdvance(t *testing.T) {
	game := nchess.NewGame()
	before := PieceActivity(game.Position(), nchess.White)
	play(t, game, "e4")
	after := PieceActivity(game.Position(), nchess.White)
	if after <= before {
		t.Fatalf("activity after e4 = %d, before = %d", after, before)
	}
}

func TestCenterControl(t *testing.T) {
	pos := mustPosition(t, startFEN)
	cc := CenterControl(pos)
	if cc.White <= 0 || cc.Black <= 0 {
		t.Fatalf("expected positive center control at start, got %+v", cc)
	}

	game := nchess.NewGame()
	before := CenterControl(game.Position()).White
	play(t, game, "Nf3")
	after := CenterControl(game.Position()).White
	if after < before {
		t.Fatalf("center control decreased after Nf3: %d -> %d", before, after)
	}
}

func TestPawnStructureLabels(t *testing.T) {
	cases := []struct {
		name string
		fen  string
		want string
	}{
		{"start", startFEN, LabelSolidChain},
		{"doubled with support", "4k3/8/8/8/4P3/4P3/3P4/4K3 w - - 0 1", LabelDoubled},
		{"isolated", "4k3/8/8/8/4P3/8/8/4K3 w - - 0 1", LabelIsolated},
		{"doubled and isolated", "4k3/8/8/8/4P3/4P3/8/4K3 w - - 0 1", LabelDoubledIsolated},
		{"two connected pawns", "4k3/8/8/8/3PP3/8/8/4K3 w - - 0 1", LabelNormal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pos := mustPosition(t, tc.fen)
			if got := PawnStructure(pos, nchess.White); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
	if got := PawnStructure(mustPosition(t, startFEN), nchess.Black); got != LabelSolidChain {
		t.Fatalf("black start structure = %q", got)
	}
}

func TestKingSafety(t *testing.T) {
	start := mustPosition(t, startFEN)
	for _, c := range []nchess.Color{nchess.White, nchess.Black} {
		ks := KingSafety(start, c)
		if ks < 0 || ks > 10 {
			t.Fatalf("king safety out of range: %d", ks)
		}
	}

	bare := mustPosition(t, "4k3/8/8/8/8/8/8/4K3 w - - 0 1")
	if got := KingSafety(bare, nchess.White); got != 4 {
		t.Fatalf("bare king safety = %d, want 4", got)
	}
}

func TestKingSafetyDoesNotDropAfterCastling(t *testing.T) {
	opt, err := nchess.FEN("r1bq1rk1/pppp1ppp/2n2n2/2b1p3/2B1P3/2NP1N2/PPP2PPP/R1BQK2R w KQ - 0 7")
	if err != nil {
		t.Fatalf("fen: %v", err)
	}
	game := nchess.NewGame(opt)
	before := KingSafety(game.Position(), nchess.White)
	play(t, game, "O-O")
	after := KingSafety(game.Position(), nchess.White)
	if after < before {
		t.Fatalf("king safety dropped after castling: %d -> %d", before, after)
	}
}

func TestDeltaFromTracksOnlyRequestedSide(t *testing.T) {
	game := nchess.NewGame()
	prev := ComputeAll(game.Position())
	play(t, game, "e4")
	next := ComputeAll(game.Position())

	d := next.DeltaFrom(prev, nchess.White)
	if d.PieceActivity != next.PieceActivity.White-prev.PieceActivity.White {
		t.Fatalf("unexpected activity delta: %+v", d)
	}
	if d.PawnStructureChanged {
		t.Fatalf("pawn structure should still be a solid chain after e4")
	}
	if next.Delta != (Delta{}) {
		t.Fatalf("ComputeAll must leave delta zero, got %+v", next.Delta)
	}
}

func TestClassifyStructure(t *testing.T) {
	cases := []struct {
		name  string
		moves []string
		want  string
	}{
		{"start", nil, StructureUnknown},
		{"sicilian", []string{"e4", "c5"}, StructureSicilian},
		{"open sicilian", []string{"e4", "c5", "Nf3", "d6", "d4", "cxd4", "Nxd4"}, StructureSicilian},
		{"caro-kann advance", []string{"e4", "c6", "d4", "d5", "e5", "Bf5", "Nf3", "e6"}, StructureCaroKann},
		{"slav", []string{"d4", "d5", "c4", "c6"}, StructureSlav},
		{"french", []string{"e4", "e6", "d4", "d5"}, StructureFrench},
		{"london", []string{"d4", "Nf6", "Bf4", "g6", "e3"}, StructureLondon},
		{"closed center", []string{"e4", "e5"}, StructureClosedCenter},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			game := nchess.NewGame()
			play(t, game, tc.moves...)
			if got := ClassifyStructure(game.Position()); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestClassifyStructureFromFEN(t *testing.T) {
	cases := []struct {
		name string
		fen  string
		want string
	}{
		{"white iqp", "4k3/pp3ppp/8/8/3P4/8/PP3PPP/4K3 w - - 0 1", StructureIQP},
		{"black hanging pawns", "4k3/p4ppp/8/2pp4/8/8/PP3PPP/4K3 w - - 0 1", StructureHangingPawns},
		{"kings indian", "4k3/ppp2p1p/3p2p1/4p3/2PPP3/8/PP3PPP/4K3 w - - 0 1", StructureKingsIndian},
		{"open center", "4k3/ppp2ppp/8/8/8/8/PPP2PPP/4K3 w - - 0 1", StructureOpenCenter},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyStructure(mustPosition(t, tc.fen)); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}
