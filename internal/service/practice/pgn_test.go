package practice

import (
	"strings"
	"testing"
	"time"

	"github.com/park285/cheese-opening-coach/internal/chess/openingtree"
	"github.com/park285/cheese-opening-coach/internal/domain"
)

func TestBuildPGN(t *testing.T) {
	cat := openingtree.NewCatalog(&openingtree.Definition{ID: "caro-kann", Name: "Caro-Kann Defense", ECO: "B12", Color: "black"})
	g := &domain.PracticeGame{
		OpeningID:    "caro-kann",
		PlayerSide:   "black",
		EngineElo:    1200,
		Result:       "0-1",
		ResultMethod: "checkmate",
		MovesSAN:     []string{"e4", "c6", "d4"},
		EndedAt:      time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC),
	}
	pgn := buildPGN(g, cat)
	for _, want := range []string{
		`[Date "2026.03.04"]`, `[White "Engine (1200)"]`, `[Black "Player"]`,
		`[ECO "B12"]`, `[Termination "checkmate"]`, "1. e4 c6 2. d4 0-1",
	} {
		if !strings.Contains(pgn, want) {
			t.Fatalf("pgn missing %q:\n%s", want, pgn)
		}
	}
}

func TestMoveNumberingFromBlack(t *testing.T) {
	n, black := moveNumbering("rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 7")
	if n != 7 || !black {
		t.Fatalf("numbering = %d %v", n, black)
	}
	if n, black := moveNumbering(""); n != 1 || black {
		t.Fatalf("empty fen numbering = %d %v", n, black)
	}
}
