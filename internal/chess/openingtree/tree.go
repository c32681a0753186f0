package openingtree

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Float64Source draws uniform values in [0,1). *rand.Rand satisfies it.
type Float64Source interface {
	Float64() float64
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func newLockedRand() *lockedRand {
	return &lockedRand{r: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Node is a theory position inside a built Tree. The synthesized root has no SAN.
type Node struct {
	SAN        string
	FEN        string
	Commentary string
	Responses  []string
	Weights    []float64

	children []int
}

func (n *Node) IsRoot() bool { return n != nil && n.SAN == "" }

func (n *Node) HasResponses() bool { return n != nil && len(n.Responses) > 0 }

type DefenseNode struct {
	SAN        string
	FEN        string
	Commentary string
	Response   string

	children []int
	owner    *defenseIndex
}

// Children returns the SANs the defense repertoire continues with.
func (d *DefenseNode) Children() []string {
	if d == nil || d.owner == nil {
		return nil
	}
	out := make([]string, 0, len(d.children))
	for _, idx := range d.children {
		out = append(out, d.owner.nodes[idx].SAN)
	}
	return out
}

// Child returns the continuation with the given SAN, or nil.
func (d *DefenseNode) Child(san string) *DefenseNode {
	if d == nil || d.owner == nil {
		return nil
	}
	for _, idx := range d.children {
		if d.owner.nodes[idx].SAN == san {
			return &d.owner.nodes[idx]
		}
	}
	return nil
}

// Samplable exposes the defense children as uniformly weighted responses.
func (d *DefenseNode) Samplable() *Node {
	if d == nil {
		return nil
	}
	responses := d.Children()
	weights := make([]float64, len(responses))
	for i := range weights {
		weights[i] = 1 / float64(len(responses))
	}
	return &Node{SAN: d.SAN, FEN: d.FEN, Commentary: d.Commentary, Responses: responses, Weights: weights}
}

type defenseIndex struct {
	id    string
	nodes []DefenseNode
	index map[string]int
}

// Tree indexes one Definition by position (FEN without move counters). It is read-only after Build except for LoadDefense.
type Tree struct {
	def   *Definition
	nodes []Node
	index map[string]int
	root  int

	defMu   sync.RWMutex
	defense *defenseIndex

	random Float64Source
	logger *zap.Logger
}

type Option func(*Tree)

func WithRand(r Float64Source) Option {
	return func(t *Tree) {
		if r != nil {
			t.random = r
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(t *Tree) {
		if l != nil {
			t.logger = l
		}
	}
}

// Build indexes every node of def in one depth-first pass.
func Build(def *Definition, opts ...Option) *Tree {
	t := &Tree{
		def:    def,
		index:  make(map[string]int),
		random: newLockedRand(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if def == nil {
		def = &Definition{}
		t.def = def
	}

	rootFEN := strings.TrimSpace(def.RootFEN)
	if rootFEN == "" {
		rootFEN = StartFEN
	}
	t.nodes = append(t.nodes, Node{
		FEN:       rootFEN,
		Responses: append([]string(nil), def.RootResponses...),
		Weights:   append([]float64(nil), def.RootWeights...),
	})
	t.root = 0

	var walk func(specs []NodeSpec) []int
	walk = func(specs []NodeSpec) []int {
		ids := make([]int, 0, len(specs))
		for _, spec := range specs {
			idx := len(t.nodes)
			t.nodes = append(t.nodes, Node{
				SAN:        spec.SAN,
				FEN:        spec.FEN,
				Commentary: spec.Commentary,
				Responses:  append([]string(nil), spec.EngineResponses...),
				Weights:    append([]float64(nil), spec.ResponseWeights...),
			})
			if spec.FEN != "" {
				t.index[positionKey(spec.FEN)] = idx
			}
			children := walk(spec.Children)
			t.nodes[idx].children = children
			ids = append(ids, idx)
		}
		return ids
	}
	t.nodes[t.root].children = walk(def.Moves)
	return t
}

func (t *Tree) Definition() *Definition { return t.def }

func (t *Tree) Root() *Node { return &t.nodes[t.root] }

// GetNode returns the indexed node for fen, the synthesized root when fen is
// the root position, or nil. Move counters are ignored so transposed move
// orders reach the same node.
func (t *Tree) GetNode(fen string) *Node {
	if t == nil {
		return nil
	}
	key := positionKey(fen)
	if idx, ok := t.index[key]; ok {
		return &t.nodes[idx]
	}
	if key == positionKey(t.nodes[t.root].FEN) {
		return &t.nodes[t.root]
	}
	return nil
}

// GetChild finds the child of node reached by san. For the root this searches
// the top-level moves.
func (t *Tree) GetChild(node *Node, san string) *Node {
	if t == nil || node == nil {
		return nil
	}
	for _, idx := range node.children {
		if idx < 0 || idx >= len(t.nodes) {
			continue
		}
		if t.nodes[idx].SAN == san {
			return &t.nodes[idx]
		}
	}
	return nil
}

// ChildSANs lists the moves the tree continues with after node.
func (t *Tree) ChildSANs(node *Node) []string {
	if t == nil || node == nil {
		return nil
	}
	out := make([]string, 0, len(node.children))
	for _, idx := range node.children {
		if idx >= 0 && idx < len(t.nodes) {
			out = append(out, t.nodes[idx].SAN)
		}
	}
	return out
}

// SampleResponse draws one of node's responses using the tree's random source.
func (t *Tree) SampleResponse(node *Node) string {
	var r Float64Source
	if t != nil {
		r = t.random
	}
	return Sample(node, r)
}

// Sample walks the cumulative weights of node's responses and returns the
// first one whose cumulative weight reaches a uniform draw. Weights default
// to uniform when missing or mismatched. Returns "" when node has no responses.
func Sample(node *Node, r Float64Source) string {
	if node == nil || len(node.Responses) == 0 {
		return ""
	}
	if r == nil {
		r = newLockedRand()
	}
	weights := node.Weights
	if len(weights) != len(node.Responses) {
		weights = make([]float64, len(node.Responses))
		for i := range weights {
			weights[i] = 1 / float64(len(node.Responses))
		}
	}

	draw := r.Float64()
	cumulative := 0.0
	for i, resp := range node.Responses {
		cumulative += weights[i]
		if draw <= cumulative {
			return resp
		}
	}
	return node.Responses[0]
}

// LoadDefense replaces the defense index with the named defense. An unknown
// id leaves the index empty.
func (t *Tree) LoadDefense(id string) {
	if t == nil {
		return
	}
	t.defMu.Lock()
	defer t.defMu.Unlock()
	t.defense = nil

	def, ok := t.def.Defense(id)
	if !ok {
		t.logger.Warn("defense not found",
			zap.String("opening_id", t.def.ID),
			zap.String("defense_id", id))
		return
	}

	idx := &defenseIndex{id: def.ID, index: make(map[string]int)}
	idx.nodes = append(idx.nodes, DefenseNode{FEN: t.nodes[t.root].FEN})
	var walk func(specs []DefenseNodeSpec) []int
	walk = func(specs []DefenseNodeSpec) []int {
		ids := make([]int, 0, len(specs))
		for _, spec := range specs {
			i := len(idx.nodes)
			idx.nodes = append(idx.nodes, DefenseNode{
				SAN:        spec.SAN,
				FEN:        spec.FEN,
				Commentary: spec.Commentary,
				Response:   spec.Response,
			})
			if spec.FEN != "" {
				idx.index[positionKey(spec.FEN)] = i
			}
			children := walk(spec.Children)
			idx.nodes[i].children = children
			ids = append(ids, i)
		}
		return ids
	}
	idx.nodes[0].children = walk(def.Nodes)
	rootKey := positionKey(idx.nodes[0].FEN)
	if _, ok := idx.index[rootKey]; !ok {
		idx.index[rootKey] = 0
	}
	for i := range idx.nodes {
		idx.nodes[i].owner = idx
	}
	t.defense = idx
}

// LoadedDefense returns the id of the currently loaded defense, or "".
func (t *Tree) LoadedDefense() string {
	if t == nil {
		return ""
	}
	t.defMu.RLock()
	defer t.defMu.RUnlock()
	if t.defense == nil {
		return ""
	}
	return t.defense.id
}

// GetDefenseNode looks fen up in the loaded defense only.
func (t *Tree) GetDefenseNode(fen string) *DefenseNode {
	if t == nil {
		return nil
	}
	t.defMu.RLock()
	defer t.defMu.RUnlock()
	if t.defense == nil {
		return nil
	}
	if i, ok := t.defense.index[positionKey(fen)]; ok {
		return &t.defense.nodes[i]
	}
	return nil
}
