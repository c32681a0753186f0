package practice

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/park285/cheese-opening-coach/internal/chess/openingtree"
	"github.com/park285/cheese-opening-coach/internal/domain"
)

const (
	playerLabel = "Player"
	engineLabel = "Engine"
)

func buildPGN(g *domain.PracticeGame, catalog *openingtree.Catalog) string {
	if g == nil {
		return ""
	}
	date := g.EndedAt
	var b strings.Builder
	b.WriteString("[Event \"Opening practice\"]\n")
	b.WriteString("[Site \"opening-coach\"]\n")
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))

	white, black := playerLabel, fmt.Sprintf("%s (%d)", engineLabel, g.EngineElo)
	if g.PlayerSide == "black" {
		white, black = black, white
	}
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(white)))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(black)))

	rootFEN := ""
	if def, err := catalog.Get(g.OpeningID); err == nil {
		if def.ECO != "" {
			b.WriteString(fmt.Sprintf("[ECO \"%s\"]\n", sanitizePGN(def.ECO)))
		}
		b.WriteString(fmt.Sprintf("[Opening \"%s\"]\n", sanitizePGN(def.Name)))
		if def.RootFEN != "" && !openingtree.IsStartPosition(def.RootFEN) {
			rootFEN = def.RootFEN
			b.WriteString("[SetUp \"1\"]\n")
			b.WriteString(fmt.Sprintf("[FEN \"%s\"]\n", sanitizePGN(rootFEN)))
		}
	}
	if method := strings.TrimSpace(g.ResultMethod); method != "" && method != "nomethod" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(method)))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", g.Result))

	number, blackFirst := moveNumbering(rootFEN)
	for i, san := range g.MovesSAN {
		whiteMove := (i%2 == 0) != blackFirst
		switch {
		case i == 0 && blackFirst:
			b.WriteString(fmt.Sprintf("%d... ", number))
		case whiteMove:
			b.WriteString(fmt.Sprintf("%d. ", number))
		}
		b.WriteString(strings.TrimSpace(san))
		b.WriteString(" ")
		if !whiteMove {
			number++
		}
	}
	b.WriteString(g.Result)
	return b.String()
}

// moveNumbering reads the side to move and full-move number from a FEN.
func moveNumbering(fen string) (int, bool) {
	fields := strings.Fields(fen)
	if len(fields) < 6 {
		return 1, false
	}
	n, err := strconv.Atoi(fields[5])
	if err != nil || n < 1 {
		n = 1
	}
	return n, fields[1] == "b"
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
