package coach

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/park285/cheese-opening-coach/internal/chess/metrics"
	"github.com/park285/cheese-opening-coach/internal/chess/movesel"
	"github.com/park285/cheese-opening-coach/internal/chess/openingtree"
)

const evaluationDepth = 12

var (
	ErrIllegalMove        = errors.New("illegal move")
	ErrNotPlayersTurn     = errors.New("not the player's turn")
	ErrNotOpponentsTurn   = errors.New("not the opponent's turn")
	ErrOpponentPending    = errors.New("opponent move already pending")
	ErrStaleResult        = errors.New("result belongs to a previous game")
	ErrGameOver           = errors.New("game already finished")
	ErrEngineUnavailable  = errors.New("engine unavailable")
	ErrOpeningRequired    = errors.New("opening definition required")
	ErrNotInTransposition = errors.New("position is not part of the opening")
)

// Engine is the session-scoped search process.
type Engine interface {
	movesel.Searcher
	Evaluate(ctx context.Context, fen string, depth int) (int, error)
}

type Config struct {
	Opening   *openingtree.Definition
	DefenseID string
	Mode      movesel.Mode
	// PlayerColor defaults to the opening's side when NoColor.
	PlayerColor          nchess.Color
	Elo                  int
	DeviationProbability float64
	// Catalog is searched for transpositions when the opponent leaves the book.
	Catalog []*openingtree.Definition
}

type Option func(*Session)

func WithRand(r openingtree.Float64Source) Option {
	return func(s *Session) { s.rand = r }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTranspositionIndex shares built trees between sessions.
func WithTranspositionIndex(x *openingtree.TranspositionIndex) Option {
	return func(s *Session) {
		if x != nil {
			s.transpositions = x
		}
	}
}

// Session owns one practice game: the position, the move log, the phase and
// the latest metrics. All mutation goes through its methods.
type Session struct {
	mu             sync.Mutex
	cfg            Config
	tree           *openingtree.Tree
	transpositions *openingtree.TranspositionIndex
	engine         Engine
	rand           openingtree.Float64Source
	logger         *zap.Logger

	game        *nchess.Game
	moves       []MoveRecord
	phase       Phase
	node        *openingtree.Node
	defenseNode *openingtree.DefenseNode
	snapshot    metrics.Snapshot
	deviation   *DeviationEvent
	generation  uint64
	pending     bool
	// startFEN is where the move log begins. It differs from the tree root
	// after a switch into an opening with its own root position.
	startFEN string
	// transposedAt is the ply at which the game re-entered theory in the
	// current opening, zero when it never switched.
	transposedAt int
}

func New(cfg Config, engine Engine, opts ...Option) (*Session, error) {
	if cfg.Opening == nil {
		return nil, ErrOpeningRequired
	}
	if cfg.Mode == "" {
		cfg.Mode = movesel.Hybrid
	}
	if cfg.PlayerColor == nchess.NoColor {
		cfg.PlayerColor = nchess.White
		if !cfg.Opening.PlaysWhite() {
			cfg.PlayerColor = nchess.Black
		}
	}
	s := &Session{
		cfg:            cfg,
		engine:         engine,
		logger:         zap.NewNop(),
		transpositions: openingtree.NewTranspositionIndex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tree = s.buildTree(cfg.Opening)
	if err := s.resetLocked(s.tree.Root().FEN); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) buildTree(def *openingtree.Definition) *openingtree.Tree {
	opts := []openingtree.Option{openingtree.WithLogger(s.logger)}
	if s.rand != nil {
		opts = append(opts, openingtree.WithRand(s.rand))
	}
	tree := openingtree.Build(def, opts...)
	if s.cfg.DefenseID != "" {
		tree.LoadDefense(s.cfg.DefenseID)
	}
	return tree
}

// Reset starts a new game in the current opening. Outstanding engine results
// issued before the reset are discarded when they arrive.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resetLocked(s.tree.Root().FEN)
}

// resetLocked clears the game to fen. The session is in theory only when fen
// is a position of the current tree.
func (s *Session) resetLocked(fen string) error {
	game, err := gameFromFEN(fen)
	if err != nil {
		return err
	}
	s.generation++
	s.pending = false
	s.game = game
	s.moves = nil
	s.startFEN = fen
	s.transposedAt = 0
	s.snapshot = metrics.ComputeAll(game.Position())
	s.deviation = nil
	s.phase = PhaseFree
	s.node, s.defenseNode = nil, nil
	s.enterTheoryLocked()
	return nil
}

// enterTheoryLocked moves the session into theory at the current position
// and reports whether the tree knows it.
func (s *Session) enterTheoryLocked() bool {
	fen := s.game.FEN()
	node := s.tree.GetNode(fen)
	if node == nil {
		return false
	}
	s.phase = PhaseOpening
	s.node = node
	s.defenseNode = s.tree.GetDefenseNode(fen)
	return true
}

// ApplyMove plays notation (SAN or UCI) and records inTheory as given. It
// returns false and leaves the session untouched when the move is illegal.
func (s *Session) ApplyMove(notation string, inTheory bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.applyLocked(notation, inTheory)
	return err == nil
}

func (s *Session) applyLocked(notation string, inTheory bool) (MoveRecord, error) {
	text := strings.TrimSpace(notation)
	if text == "" {
		return MoveRecord{}, ErrIllegalMove
	}
	before := s.game.Position()
	mv, err := decodeMove(before, text)
	if err != nil {
		return MoveRecord{}, fmt.Errorf("%w: %s", ErrIllegalMove, text)
	}
	next := s.game.Clone()
	if err := next.Move(mv, nil); err != nil {
		return MoveRecord{}, fmt.Errorf("%w: %s", ErrIllegalMove, text)
	}

	rec := MoveRecord{
		SAN:      nchess.AlgebraicNotation{}.Encode(before, mv),
		UCI:      strings.ToLower(nchess.UCINotation{}.Encode(before, mv)),
		FEN:      next.FEN(),
		Side:     sideName(before.Turn()),
		InTheory: inTheory,
	}
	prev := s.snapshot
	snap := metrics.ComputeAll(next.Position())
	snap.Delta = snap.DeltaFrom(prev, s.cfg.PlayerColor)

	s.game = next
	s.moves = append(s.moves, rec)
	s.snapshot = snap
	return rec, nil
}

func decodeMove(pos *nchess.Position, text string) (*nchess.Move, error) {
	mv, err := nchess.AlgebraicNotation{}.Decode(pos, text)
	if err != nil {
		mv, err = nchess.UCINotation{}.Decode(pos, strings.ToLower(text))
		if err != nil {
			return nil, err
		}
	}
	for _, valid := range pos.ValidMoves() {
		if valid.S1() == mv.S1() && valid.S2() == mv.S2() && valid.Promo() == mv.Promo() {
			return mv, nil
		}
	}
	return nil, ErrIllegalMove
}

// PlayerMove applies the human move. A move outside the active theory or
// defense node switches the session to free play for the rest of the game.
func (s *Session) PlayerMove(notation string) (*TurnReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending {
		return nil, ErrOpponentPending
	}
	if err := s.playableLocked(); err != nil {
		return nil, err
	}
	if s.game.Position().Turn() != s.cfg.PlayerColor {
		return nil, ErrNotPlayersTurn
	}

	san, err := s.canonicalSAN(notation)
	if err != nil {
		return nil, err
	}
	child, defChild := s.theoryChildren(san)
	inTheory := s.phase == PhaseOpening && (child != nil || defChild != nil)

	rec, err := s.applyLocked(notation, inTheory)
	if err != nil {
		return nil, err
	}

	report := &TurnReport{Move: rec}
	if inTheory {
		s.advance(child, defChild, rec.FEN)
	} else if s.phase == PhaseOpening {
		s.leaveTheory()
		report.LeftTheory = true
		s.logger.Info("player left theory",
			zap.String("opening_id", s.cfg.Opening.ID),
			zap.String("san", rec.SAN),
			zap.Int("ply", len(s.moves)))
	}
	s.fillReport(report)
	return report, nil
}

// OpponentMove asks the selector for the opponent's reply and applies it.
// The session lock is not held while the engine searches; a Reset during the
// search makes the result stale.
func (s *Session) OpponentMove(ctx context.Context) (*TurnReport, error) {
	s.mu.Lock()
	if s.pending {
		s.mu.Unlock()
		return nil, ErrOpponentPending
	}
	if err := s.playableLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if s.game.Position().Turn() == s.cfg.PlayerColor {
		s.mu.Unlock()
		return nil, ErrNotOpponentsTurn
	}
	req := movesel.Request{
		Mode:                 s.cfg.Mode,
		FEN:                  s.game.FEN(),
		Tree:                 s.tree,
		Elo:                  s.cfg.Elo,
		DeviationProbability: s.cfg.DeviationProbability,
		Rand:                 s.rand,
	}
	if s.engine != nil {
		req.Engine = s.engine
	}
	if s.phase == PhaseOpening {
		req.Node = s.node
		req.DefenseNode = s.defenseNode
	}
	gen := s.generation
	s.pending = true
	s.mu.Unlock()

	res, err := movesel.Select(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return nil, ErrStaleResult
	}
	s.pending = false
	if err != nil {
		if errors.Is(err, movesel.ErrNoEngine) {
			return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
		}
		return nil, fmt.Errorf("select opponent move: %w", err)
	}

	notation := res.SAN
	if notation == "" {
		notation = res.UCI
	}
	wasOpening := s.phase == PhaseOpening
	san, err := s.canonicalSAN(notation)
	if err != nil {
		return nil, fmt.Errorf("opponent move %q: %w", notation, err)
	}
	var child *openingtree.Node
	var defChild *openingtree.DefenseNode
	if res.IsBook() && !res.Deviation {
		child, defChild = s.theoryChildren(san)
	}
	inTheory := wasOpening && (child != nil || defChild != nil)

	rec, err := s.applyLocked(notation, inTheory)
	if err != nil {
		return nil, fmt.Errorf("opponent move %q: %w", notation, err)
	}

	report := &TurnReport{Move: rec, Source: res.Source}
	switch {
	case inTheory:
		s.advance(child, defChild, rec.FEN)
	case wasOpening:
		s.leaveTheory()
		report.LeftTheory = true
		if res.Deviation || res.IsBook() {
			report.Deviation = s.raiseDeviation(rec)
		} else {
			s.logger.Info("book exhausted",
				zap.String("opening_id", s.cfg.Opening.ID),
				zap.String("uci", rec.UCI),
				zap.Int("ply", len(s.moves)))
		}
	}
	s.fillReport(report)
	return report, nil
}

// Evaluate returns the engine's score for the current position in centipawns
// from White's point of view.
func (s *Session) Evaluate(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.engine == nil {
		s.mu.Unlock()
		return 0, ErrEngineUnavailable
	}
	fen := s.game.FEN()
	turn := s.game.Position().Turn()
	gen := s.generation
	s.mu.Unlock()

	cp, err := s.engine.Evaluate(ctx, fen, evaluationDepth)
	if err != nil {
		return 0, fmt.Errorf("evaluate: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return 0, ErrStaleResult
	}
	if turn == nchess.Black {
		cp = -cp
	}
	return cp, nil
}

// Transpose starts a new game generation in def at the current position.
// The played moves are kept but recorded out of theory, and the deviation that
// offered the switch is kept. The session is left unchanged when def does not
// contain the current position.
func (s *Session) Transpose(def *openingtree.Definition) error {
	if def == nil {
		return ErrOpeningRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	fen := s.game.FEN()
	if openingtree.IsStartPosition(fen) {
		return ErrNotInTransposition
	}
	prevCfg, prevTree := s.cfg, s.tree
	s.cfg.Opening = def
	if _, ok := def.Defense(s.cfg.DefenseID); !ok {
		s.cfg.DefenseID = ""
	}
	tree := s.buildTree(def)
	if tree.GetNode(fen) == nil {
		s.cfg = prevCfg
		return ErrNotInTransposition
	}

	prev := s.checkpointLocked()
	s.tree = tree
	if err := s.replayLocked(Checkpoint{StartFEN: prev.StartFEN, Moves: prev.Moves}, false); err != nil {
		s.cfg, s.tree = prevCfg, prevTree
		if rerr := s.replayLocked(prev, true); rerr != nil {
			err = errors.Join(err, fmt.Errorf("roll back transposition: %w", rerr))
		}
		return err
	}
	s.deviation = prev.Deviation
	s.transposedAt = len(s.moves)
	s.enterTheoryLocked()
	s.logger.Info("opening transposed",
		zap.String("opening_id", def.ID),
		zap.Int("ply", len(s.moves)))
	return nil
}

// Restore rebuilds a game from a checkpoint. Theory flags are taken from the
// records, so the phase and nodes end up where they were when recorded.
func (s *Session) Restore(cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replayLocked(cp, true)
}

// Checkpoint returns what Restore needs to rebuild the current game.
func (s *Session) Checkpoint() Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpointLocked()
}

func (s *Session) checkpointLocked() Checkpoint {
	return Checkpoint{
		StartFEN:     s.startFEN,
		Moves:        append([]MoveRecord(nil), s.moves...),
		Deviation:    s.deviation,
		TransposedAt: s.transposedAt,
	}
}

// replayLocked plays cp.Moves from cp.StartFEN. With keepTheory false every
// move is recorded out of theory.
func (s *Session) replayLocked(cp Checkpoint, keepTheory bool) error {
	start := cp.StartFEN
	if strings.TrimSpace(start) == "" {
		start = s.tree.Root().FEN
	}
	if err := s.resetLocked(start); err != nil {
		return err
	}
	if !keepTheory {
		s.leaveTheory()
	}
	rejoin := 0
	if keepTheory && cp.TransposedAt > 0 && cp.TransposedAt <= len(cp.Moves) {
		rejoin = cp.TransposedAt
	}
	for i, m := range cp.Moves {
		if rejoin > 0 && i == rejoin {
			s.enterTheoryLocked()
		}
		notation := m.UCI
		if notation == "" {
			notation = m.SAN
		}
		inTheory := keepTheory && m.InTheory && s.phase == PhaseOpening
		var child *openingtree.Node
		var defChild *openingtree.DefenseNode
		if inTheory {
			san, err := s.canonicalSAN(notation)
			if err != nil {
				return fmt.Errorf("replay move %d (%s): %w", i+1, notation, err)
			}
			child, defChild = s.theoryChildren(san)
		}
		rec, err := s.applyLocked(notation, inTheory)
		if err != nil {
			return fmt.Errorf("replay move %d (%s): %w", i+1, notation, err)
		}
		if inTheory {
			s.advance(child, defChild, rec.FEN)
		} else if s.phase == PhaseOpening {
			s.leaveTheory()
		}
	}
	if rejoin > 0 && rejoin == len(cp.Moves) {
		s.enterTheoryLocked()
	}
	if keepTheory {
		s.transposedAt = rejoin
		s.deviation = cp.Deviation
	}
	return nil
}

// State returns a copy of the session for presentation and persistence.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{
		OpeningID:    s.cfg.Opening.ID,
		OpeningName:  s.cfg.Opening.Name,
		OpeningECO:   s.cfg.Opening.ECO,
		DefenseID:    s.tree.LoadedDefense(),
		Mode:         s.cfg.Mode,
		PlayerSide:   sideName(s.cfg.PlayerColor),
		FEN:          s.game.FEN(),
		StartFEN:     s.startFEN,
		Turn:         sideName(s.game.Position().Turn()),
		Phase:        s.phase,
		Moves:        append([]MoveRecord(nil), s.moves...),
		Metrics:      s.snapshot,
		Deviation:    s.deviation,
		TransposedAt: s.transposedAt,
		TheoryMoves:  s.theoryMovesLocked(),
		Commentary:   s.commentaryLocked(),
		Outcome:      string(s.game.Outcome()),
		Method:       s.game.Method().String(),
		Generation:   s.generation,
	}
	return st
}

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) FEN() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.game.FEN()
}

func (s *Session) Opening() *openingtree.Definition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Opening
}

func (s *Session) PlayerColor() nchess.Color {
	return s.cfg.PlayerColor
}

// OpponentToMove reports whether the next ply belongs to the opponent.
func (s *Session) OpponentToMove() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.game.Outcome() == nchess.NoOutcome && s.game.Position().Turn() != s.cfg.PlayerColor
}

func (s *Session) playableLocked() error {
	if s.game.Outcome() != nchess.NoOutcome {
		return ErrGameOver
	}
	return nil
}

func (s *Session) canonicalSAN(notation string) (string, error) {
	pos := s.game.Position()
	mv, err := decodeMove(pos, strings.TrimSpace(notation))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrIllegalMove, notation)
	}
	return nchess.AlgebraicNotation{}.Encode(pos, mv), nil
}

func (s *Session) theoryChildren(san string) (*openingtree.Node, *openingtree.DefenseNode) {
	if s.phase != PhaseOpening {
		return nil, nil
	}
	child := s.tree.GetChild(s.node, san)
	var defChild *openingtree.DefenseNode
	if s.defenseNode != nil {
		defChild = s.defenseNode.Child(san)
	}
	return child, defChild
}

func (s *Session) advance(child *openingtree.Node, defChild *openingtree.DefenseNode, fen string) {
	if child == nil {
		child = s.tree.GetNode(fen)
	}
	if defChild == nil {
		defChild = s.tree.GetDefenseNode(fen)
	}
	s.node = child
	s.defenseNode = defChild
}

func (s *Session) leaveTheory() {
	s.phase = PhaseFree
	s.node = nil
	s.defenseNode = nil
}

func (s *Session) raiseDeviation(rec MoveRecord) *DeviationEvent {
	ev := &DeviationEvent{
		SAN:       rec.SAN,
		FEN:       rec.FEN,
		Structure: metrics.ClassifyStructure(s.game.Position()),
	}
	if def := s.transpositions.Find(rec.FEN, s.cfg.Catalog); def != nil {
		ev.TranspositionID = def.ID
		ev.TranspositionName = def.Name
		ev.TranspositionColor = def.Color
	}
	s.deviation = ev
	s.logger.Info("opponent deviated",
		zap.String("opening_id", s.cfg.Opening.ID),
		zap.String("san", ev.SAN),
		zap.String("structure", ev.Structure),
		zap.String("transposition_id", ev.TranspositionID))
	return ev
}

func (s *Session) fillReport(r *TurnReport) {
	r.Phase = s.phase
	r.Metrics = s.snapshot
	r.TheoryMoves = s.theoryMovesLocked()
	if r.Move.InTheory {
		r.Commentary = s.commentaryLocked()
	}
	r.ECOCode, r.ECOTitle = openingtree.LabelECO(s.game)
	r.Outcome = string(s.game.Outcome())
	r.Method = s.game.Method().String()
}

// theoryMovesLocked lists the book moves available to the player, if it is
// the player's turn and the game is still in theory.
func (s *Session) theoryMovesLocked() []string {
	if s.phase != PhaseOpening || s.game.Position().Turn() != s.cfg.PlayerColor {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, san := range s.tree.ChildSANs(s.node) {
		if !seen[san] {
			seen[san] = true
			out = append(out, san)
		}
	}
	if s.defenseNode != nil {
		for _, san := range s.defenseNode.Children() {
			if !seen[san] {
				seen[san] = true
				out = append(out, san)
			}
		}
	}
	return out
}

func (s *Session) commentaryLocked() string {
	if s.phase != PhaseOpening {
		return ""
	}
	if s.node != nil && s.node.Commentary != "" {
		return s.node.Commentary
	}
	if s.defenseNode != nil {
		return s.defenseNode.Commentary
	}
	return ""
}

func gameFromFEN(fen string) (*nchess.Game, error) {
	if strings.TrimSpace(fen) == "" || openingtree.IsStartPosition(fen) {
		return nchess.NewGame(), nil
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parse root fen: %w", err)
	}
	return nchess.NewGame(opt), nil
}
