package commentary

import (
	"fmt"
	"strings"

	"github.com/park285/cheese-opening-coach/internal/chess/metrics"
	"github.com/park285/cheese-opening-coach/internal/msgcat"
)

const promptKey = "commentary.prompt"

// Context is what the commentary model is told about a move.
type Context struct {
	Move      string
	Delta     metrics.Delta
	FEN       string
	Structure string
	Deviation bool
}

// BuildPrompt renders the commentary prompt for c.
func BuildPrompt(cat *msgcat.Catalog, c Context) (string, error) {
	if cat == nil {
		cat = msgcat.Default()
	}
	out, err := cat.Render(promptKey, map[string]any{
		"Move":                 c.Move,
		"PieceActivity":        c.Delta.PieceActivity,
		"CenterControl":        c.Delta.CenterControl,
		"KingSafety":           c.Delta.KingSafety,
		"PawnStructureChanged": c.Delta.PawnStructureChanged,
		"Structure":            c.Structure,
		"Deviation":            c.Deviation,
		"FEN":                  c.FEN,
	})
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return strings.TrimSpace(out), nil
}
