package openingtree

import (
	"strings"
	"sync"
)

// TranspositionIndex caches one built Tree per opening for transposition lookups.
type TranspositionIndex struct {
	mu    sync.Mutex
	trees map[string]*Tree
}

func NewTranspositionIndex() *TranspositionIndex {
	return &TranspositionIndex{trees: make(map[string]*Tree)}
}

// Find returns the first candidate whose tree reaches fen, its root
// included. The standard starting position never transposes.
func (x *TranspositionIndex) Find(fen string, candidates []*Definition) *Definition {
	if IsStartPosition(fen) {
		return nil
	}
	for _, def := range candidates {
		if def == nil {
			continue
		}
		if x.tree(def).GetNode(fen) != nil {
			return def
		}
	}
	return nil
}

func (x *TranspositionIndex) tree(def *Definition) *Tree {
	key := def.ID
	x.mu.Lock()
	defer x.mu.Unlock()
	if t, ok := x.trees[key]; ok && t.def == def {
		return t
	}
	t := Build(def)
	if key != "" {
		x.trees[key] = t
	}
	return t
}

// FindTransposition is the uncached form of TranspositionIndex.Find.
func FindTransposition(fen string, candidates []*Definition) *Definition {
	return NewTranspositionIndex().Find(fen, candidates)
}

// IsStartPosition compares placement, side, castling and en-passant fields only.
func IsStartPosition(fen string) bool {
	return positionKey(fen) == positionKey(StartFEN)
}

func positionKey(fen string) string {
	fields := strings.Fields(fen)
	if len(fields) > 4 {
		fields = fields[:4]
	}
	return strings.Join(fields, " ")
}
