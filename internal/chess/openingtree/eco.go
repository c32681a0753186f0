package openingtree

import (
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/corentings/chess/v2/opening"
)

var (
	ecoOnce sync.Once
	ecoBook *opening.BookECO
)

// LabelECO names the deepest ECO opening matching the game's move order.
func LabelECO(game *nchess.Game) (code, title string) {
	if game == nil {
		return "", ""
	}
	ecoOnce.Do(func() {
		ecoBook = opening.NewBookECO()
	})
	if ecoBook == nil {
		return "", ""
	}
	if eco := ecoBook.Find(game.Moves()); eco != nil {
		return eco.Code(), eco.Title()
	}
	return "", ""
}
