package practice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	nchess "github.com/corentings/chess/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/cheese-opening-coach/internal/chess/metrics"
	"github.com/park285/cheese-opening-coach/internal/chess/movesel"
	"github.com/park285/cheese-opening-coach/internal/chess/openingtree"
	"github.com/park285/cheese-opening-coach/internal/coach"
	"github.com/park285/cheese-opening-coach/internal/commentary"
	"github.com/park285/cheese-opening-coach/internal/domain"
)

var (
	ErrSessionNotFound   = errors.New("practice session not found")
	ErrDefenseNotFound   = errors.New("defense not found")
	ErrEngineUnavailable = errors.New("chess engine unavailable")
	ErrEngineTimeout     = errors.New("chess engine timeout")
	ErrNoTransposition   = errors.New("no transposition offered")
	ErrColorMismatch     = errors.New("transposed opening is played by the other side")
)

const (
	defaultEngineTimeout     = 20 * time.Second
	defaultEvaluationTimeout = 8 * time.Second
	defaultCommentaryTimeout = 10 * time.Second
)

type Config struct {
	DefaultOpening       string
	DefaultDefense       string
	Mode                 movesel.Mode
	Elo                  int
	DeviationProbability float64
	EngineTimeout        time.Duration
	CommentaryTimeout    time.Duration
	// Rand replaces the tree sampler and deviation draws, mostly for tests.
	Rand openingtree.Float64Source
}

// Manager runs many concurrent practice sessions, each with its own engine
// handle. Sessions are snapshotted after every change and archived when the
// game ends.
type Manager struct {
	catalog        *openingtree.Catalog
	engines        EngineSource
	store          SnapshotStore
	repo           Repository
	commentary     Commentator
	cfg            Config
	transpositions *openingtree.TranspositionIndex
	logger         *zap.Logger
	now            func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

type entry struct {
	mu         sync.Mutex
	id         string
	session    *coach.Session
	engine     EngineHandle
	elo        int
	devProb    float64
	transposed string
	startedAt  time.Time
}

func NewManager(catalog *openingtree.Catalog, engines EngineSource, store SnapshotStore, repo Repository, commentator Commentator, cfg Config, logger *zap.Logger) (*Manager, error) {
	if catalog == nil {
		return nil, fmt.Errorf("opening catalog is required")
	}
	if repo == nil {
		repo = NewMemoryRepository()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Mode == "" {
		cfg.Mode = movesel.Hybrid
	}
	if cfg.EngineTimeout <= 0 {
		cfg.EngineTimeout = defaultEngineTimeout
	}
	if cfg.CommentaryTimeout <= 0 {
		cfg.CommentaryTimeout = defaultCommentaryTimeout
	}
	if cfg.DefaultOpening != "" {
		if _, err := catalog.Get(cfg.DefaultOpening); err != nil {
			return nil, fmt.Errorf("default opening validation failed: %w", err)
		}
	}
	return &Manager{
		catalog:        catalog,
		engines:        engines,
		store:          store,
		repo:           repo,
		commentary:     commentator,
		cfg:            cfg,
		transpositions: openingtree.NewTranspositionIndex(),
		logger:         logger,
		now:            time.Now,
		sessions:       make(map[string]*entry),
	}, nil
}

// Start opens a new session. When the player has Black the opponent's first
// move is already played in the result.
func (m *Manager) Start(ctx context.Context, opts StartOptions) (*StartResult, error) {
	openingID := strings.TrimSpace(opts.OpeningID)
	if openingID == "" {
		openingID = m.cfg.DefaultOpening
	}
	def, err := m.catalog.Get(openingID)
	if err != nil {
		return nil, err
	}
	mode := m.cfg.Mode
	if strings.TrimSpace(opts.Mode) != "" {
		if mode, err = movesel.ParseMode(opts.Mode); err != nil {
			return nil, err
		}
	}
	color, ok := coach.ParseSide(strings.ToLower(strings.TrimSpace(opts.PlayerColor)))
	if !ok {
		return nil, fmt.Errorf("unknown player color: %s", opts.PlayerColor)
	}
	defenseID := strings.TrimSpace(opts.DefenseID)
	if defenseID == "" && mode == movesel.SpecificDefense && def.ID == m.cfg.DefaultOpening {
		defenseID = m.cfg.DefaultDefense
	}
	if defenseID != "" {
		if _, ok := def.Defense(defenseID); !ok {
			return nil, fmt.Errorf("%w: %s in %s", ErrDefenseNotFound, defenseID, def.ID)
		}
	}
	elo := opts.Elo
	if elo <= 0 {
		elo = m.cfg.Elo
	}
	devProb := m.cfg.DeviationProbability
	if opts.DeviationProbability != nil {
		devProb = *opts.DeviationProbability
	}

	e, err := m.open(ctx, uuid.NewString(), coach.Config{
		Opening:              def,
		DefenseID:            defenseID,
		Mode:                 mode,
		PlayerColor:          color,
		Elo:                  elo,
		DeviationProbability: devProb,
		Catalog:              m.catalog.List(),
	})
	if err != nil {
		return nil, err
	}
	e.startedAt = m.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	res := &StartResult{ID: e.id}
	if e.session.OpponentToMove() {
		if res.Opponent, err = m.opponentTurn(ctx, e); err != nil {
			m.discard(e)
			return nil, err
		}
	}
	res.State = e.session.State()
	m.register(e)
	m.persist(ctx, e)
	m.logger.Info("practice session started",
		zap.String("session_id", e.id),
		zap.String("opening_id", def.ID),
		zap.String("defense_id", defenseID),
		zap.String("mode", string(mode)),
		zap.String("player_side", res.State.PlayerSide),
		zap.Int("elo", elo),
	)
	return res, nil
}

// Play applies the player's move and, unless the game ended, the opponent's
// reply. When the reply fails the player move stays applied and the partial
// result is returned with the error; OpponentMove retries it.
func (m *Manager) Play(ctx context.Context, id, move string) (*PlayResult, error) {
	e, err := m.get(ctx, id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	rep, err := e.session.PlayerMove(move)
	if err != nil {
		return nil, err
	}
	res := &PlayResult{ID: e.id, Player: m.outcome(ctx, e, rep, true)}
	m.logOpeningLabel(e, rep)

	if !rep.Finished() && e.session.OpponentToMove() {
		opp, oppErr := m.opponentTurn(ctx, e)
		if oppErr != nil {
			res.State = e.session.State()
			m.persist(ctx, e)
			return res, oppErr
		}
		res.Opponent = opp
	}
	return m.settle(ctx, e, res)
}

// OpponentMove plays the opponent's pending move after an earlier failure.
func (m *Manager) OpponentMove(ctx context.Context, id string) (*PlayResult, error) {
	e, err := m.get(ctx, id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.session.OpponentToMove() {
		return nil, coach.ErrNotOpponentsTurn
	}
	opp, err := m.opponentTurn(ctx, e)
	if err != nil {
		return nil, err
	}
	return m.settle(ctx, e, &PlayResult{ID: e.id, Opponent: opp})
}

func (m *Manager) Status(ctx context.Context, id string) (coach.State, error) {
	e, err := m.get(ctx, id)
	if err != nil {
		return coach.State{}, err
	}
	return e.session.State(), nil
}

// Reset restarts the game in the same opening. A search still running for the
// previous game is discarded by the session.
func (m *Manager) Reset(ctx context.Context, id string) (*StartResult, error) {
	e, err := m.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.session.Reset(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startedAt = m.now()
	res := &StartResult{ID: e.id}
	if e.session.OpponentToMove() {
		if res.Opponent, err = m.opponentTurn(ctx, e); err != nil {
			return nil, err
		}
	}
	res.State = e.session.State()
	m.persist(ctx, e)
	return res, nil
}

// End archives the session as it stands and releases its engine.
func (m *Manager) End(ctx context.Context, id string) (*domain.PracticeGame, error) {
	e, err := m.get(ctx, id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	game, err := m.archive(ctx, e)
	m.close(ctx, e)
	return game, err
}

// SwitchOpening accepts a transposition. An empty openingID takes the one
// offered by the latest deviation.
func (m *Manager) SwitchOpening(ctx context.Context, id, openingID string) (coach.State, error) {
	e, err := m.get(ctx, id)
	if err != nil {
		return coach.State{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.session.State()
	target := strings.TrimSpace(openingID)
	if target == "" {
		if !st.Deviation.HasTransposition() {
			return coach.State{}, ErrNoTransposition
		}
		target = st.Deviation.TranspositionID
	}
	def, err := m.catalog.Get(target)
	if err != nil {
		return coach.State{}, err
	}
	if def.PlaysWhite() != (e.session.PlayerColor() == nchess.White) {
		return coach.State{}, fmt.Errorf("%w: %s", ErrColorMismatch, def.ID)
	}
	if err := e.session.Transpose(def); err != nil {
		return coach.State{}, err
	}
	if e.transposed == "" {
		e.transposed = st.OpeningID
	}
	m.persist(ctx, e)
	m.logger.Info("practice opening switched",
		zap.String("session_id", e.id),
		zap.String("from", st.OpeningID),
		zap.String("to", def.ID),
		zap.Int("ply", len(st.Moves)),
	)
	return e.session.State(), nil
}

// Evaluate scores the current position in centipawns from White's view.
func (m *Manager) Evaluate(ctx context.Context, id string) (int, error) {
	e, err := m.get(ctx, id)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.engine == nil {
		return 0, ErrEngineUnavailable
	}
	evalCtx, cancel := context.WithTimeout(ctx, defaultEvaluationTimeout)
	defer cancel()
	cp, err := e.session.Evaluate(evalCtx)
	if err != nil {
		if errors.Is(err, coach.ErrStaleResult) {
			return 0, err
		}
		return 0, mapEngineError(err)
	}
	return cp, nil
}

// RecentGames lists archived games, newest first.
func (m *Manager) RecentGames(ctx context.Context, limit int) ([]*domain.PracticeGame, error) {
	return m.repo.GetRecentGames(ctx, limit)
}

// Close releases every live session's engine. Snapshots stay in the store.
func (m *Manager) Close() {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.sessions = make(map[string]*entry)
	m.mu.Unlock()
	for _, e := range entries {
		e.mu.Lock()
		m.discard(e)
		e.mu.Unlock()
	}
}

func (m *Manager) open(ctx context.Context, id string, cfg coach.Config) (*entry, error) {
	e := &entry{id: id, elo: cfg.Elo, devProb: cfg.DeviationProbability}
	var engine coach.Engine
	if m.engines != nil {
		h, err := m.engines.Acquire(ctx, cfg.Elo)
		if err != nil {
			m.logger.Warn("engine acquire failed", zap.String("session_id", id), zap.Error(err))
			return nil, mapEngineError(err)
		}
		e.engine = h
		engine = h
	}
	opts := []coach.Option{
		coach.WithLogger(m.logger.With(zap.String("session_id", id))),
		coach.WithTranspositionIndex(m.transpositions),
	}
	if m.cfg.Rand != nil {
		opts = append(opts, coach.WithRand(m.cfg.Rand))
	}
	session, err := coach.New(cfg, engine, opts...)
	if err != nil {
		m.discard(e)
		return nil, err
	}
	e.session = session
	return e, nil
}

func (m *Manager) get(ctx context.Context, id string) (*entry, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrSessionNotFound
	}
	m.mu.Lock()
	e, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		return e, nil
	}
	return m.restore(ctx, id)
}

// restore rebuilds a session from its snapshot after a restart.
func (m *Manager) restore(ctx context.Context, id string) (*entry, error) {
	if m.store == nil {
		return nil, ErrSessionNotFound
	}
	snap, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if snap == nil {
		return nil, ErrSessionNotFound
	}
	def, err := m.catalog.Get(snap.OpeningID)
	if err != nil {
		return nil, err
	}
	mode, err := movesel.ParseMode(snap.Mode)
	if err != nil {
		return nil, err
	}
	color, _ := coach.ParseSide(snap.PlayerSide)
	e, err := m.open(ctx, snap.ID, coach.Config{
		Opening:              def,
		DefenseID:            snap.DefenseID,
		Mode:                 mode,
		PlayerColor:          color,
		Elo:                  snap.Elo,
		DeviationProbability: snap.DeviationProbability,
		Catalog:              m.catalog.List(),
	})
	if err != nil {
		return nil, err
	}
	if err := e.session.Restore(coach.Checkpoint{
		StartFEN:     snap.StartFEN,
		Moves:        snap.Moves,
		Deviation:    snap.Deviation,
		TransposedAt: snap.TransposedAt,
	}); err != nil {
		m.discard(e)
		return nil, fmt.Errorf("replay snapshot %s: %w", id, err)
	}
	e.transposed = snap.Transposed
	e.startedAt = snap.StartedAt

	m.mu.Lock()
	if existing, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		m.discard(e)
		return existing, nil
	}
	m.sessions[id] = e
	m.mu.Unlock()
	m.logger.Info("practice session restored", zap.String("session_id", id), zap.Int("ply", len(snap.Moves)))
	return e, nil
}

func (m *Manager) register(e *entry) {
	m.mu.Lock()
	m.sessions[e.id] = e
	m.mu.Unlock()
}

func (m *Manager) opponentTurn(ctx context.Context, e *entry) (*MoveOutcome, error) {
	searchCtx, cancel := context.WithTimeout(ctx, m.cfg.EngineTimeout)
	defer cancel()
	rep, err := e.session.OpponentMove(searchCtx)
	if err != nil {
		switch {
		case errors.Is(err, coach.ErrStaleResult), errors.Is(err, coach.ErrOpponentPending):
			return nil, err
		case errors.Is(err, coach.ErrEngineUnavailable):
			return nil, ErrEngineUnavailable
		}
		m.logger.Warn("opponent move failed", zap.String("session_id", e.id), zap.Error(err))
		return nil, mapEngineError(err)
	}
	m.logOpeningLabel(e, rep)
	return m.outcome(ctx, e, rep, false), nil
}

// outcome attaches commentary and, when theory ended, an evaluation. Only the
// player's moves are sent to the commentary service.
func (m *Manager) outcome(ctx context.Context, e *entry, rep *coach.TurnReport, player bool) *MoveOutcome {
	out := &MoveOutcome{Report: rep, Commentary: rep.Commentary}
	if player && m.commentary != nil {
		cctx, cancel := context.WithTimeout(ctx, m.cfg.CommentaryTimeout)
		out.Commentary = m.commentary.Comment(cctx, rep.Commentary, commentaryContext(rep))
		cancel()
	}
	if rep.LeftTheory && !rep.Finished() && e.engine != nil {
		evalCtx, cancel := context.WithTimeout(ctx, defaultEvaluationTimeout)
		cp, err := e.session.Evaluate(evalCtx)
		cancel()
		if err != nil {
			m.logger.Warn("evaluation after leaving theory failed", zap.String("session_id", e.id), zap.Error(err))
		} else {
			out.Evaluation = &cp
		}
	}
	return out
}

func commentaryContext(rep *coach.TurnReport) commentary.Context {
	in := commentary.Context{
		Move:      rep.Move.SAN,
		Delta:     rep.Metrics.Delta,
		FEN:       rep.Move.FEN,
		Deviation: rep.LeftTheory,
	}
	if rep.Deviation != nil {
		in.Structure = rep.Deviation.Structure
	} else if pos, err := metrics.PositionFromFEN(rep.Move.FEN); err == nil {
		in.Structure = metrics.ClassifyStructure(pos)
	}
	return in
}

func (m *Manager) settle(ctx context.Context, e *entry, res *PlayResult) (*PlayResult, error) {
	res.State = e.session.State()
	if res.State.Outcome == "" || res.State.Outcome == string(nchess.NoOutcome) {
		m.persist(ctx, e)
		return res, nil
	}
	res.Finished = true
	game, err := m.archive(ctx, e)
	if game != nil {
		res.GameID = game.ID
	}
	m.close(ctx, e)
	if err != nil {
		m.logger.Warn("archive practice game failed", zap.String("session_id", e.id), zap.Error(err))
	}
	return res, nil
}

func (m *Manager) archive(ctx context.Context, e *entry) (*domain.PracticeGame, error) {
	st := e.session.State()
	ended := m.now()
	game := &domain.PracticeGame{
		SessionUUID:  e.id,
		OpeningID:    st.OpeningID,
		DefenseID:    st.DefenseID,
		Mode:         string(st.Mode),
		PlayerSide:   st.PlayerSide,
		EngineElo:    e.elo,
		Result:       st.Outcome,
		ResultMethod: strings.ToLower(st.Method),
		Transposed:   e.transposed,
		StartedAt:    e.startedAt,
		EndedAt:      ended,
		Duration:     ended.Sub(e.startedAt),
	}
	if game.Result == "" {
		game.Result = string(nchess.NoOutcome)
	}
	for _, mv := range st.Moves {
		game.MovesUCI = append(game.MovesUCI, mv.UCI)
		game.MovesSAN = append(game.MovesSAN, mv.SAN)
		if mv.InTheory {
			game.TheoryPlies++
		}
	}
	if st.Deviation != nil {
		game.DeviationSAN = st.Deviation.SAN
	}
	game.PGN = buildPGN(game, m.catalog)

	id, err := m.repo.InsertGame(ctx, game)
	if err != nil {
		if errors.Is(err, ErrDuplicateGame) {
			return m.repo.GetGameBySession(ctx, e.id)
		}
		return nil, err
	}
	game.ID = id
	m.logger.Info("practice game archived",
		zap.String("session_id", e.id),
		zap.Int64("game_id", id),
		zap.String("result", game.Result),
		zap.Int("plies", len(game.MovesUCI)),
		zap.Int("theory_plies", game.TheoryPlies),
	)
	return game, nil
}

func (m *Manager) persist(ctx context.Context, e *entry) {
	if m.store == nil {
		return
	}
	st := e.session.State()
	snap := &Snapshot{
		ID:                   e.id,
		OpeningID:            st.OpeningID,
		DefenseID:            st.DefenseID,
		Mode:                 string(st.Mode),
		PlayerSide:           st.PlayerSide,
		Elo:                  e.elo,
		DeviationProbability: e.devProb,
		StartFEN:             st.StartFEN,
		Moves:                st.Moves,
		Deviation:            st.Deviation,
		Transposed:           e.transposed,
		TransposedAt:         st.TransposedAt,
		StartedAt:            e.startedAt,
		UpdatedAt:            m.now(),
	}
	if err := m.store.Save(ctx, snap); err != nil {
		m.logger.Warn("persist practice session failed", zap.String("session_id", e.id), zap.Error(err))
	}
}

// close drops a finished session from memory and the store.
func (m *Manager) close(ctx context.Context, e *entry) {
	m.mu.Lock()
	delete(m.sessions, e.id)
	m.mu.Unlock()
	if m.store != nil {
		if err := m.store.Delete(ctx, e.id); err != nil {
			m.logger.Warn("delete practice snapshot failed", zap.String("session_id", e.id), zap.Error(err))
		}
	}
	m.discard(e)
}

func (m *Manager) discard(e *entry) {
	if e.engine != nil {
		e.engine.Release()
		e.engine = nil
	}
}

func (m *Manager) logOpeningLabel(e *entry, rep *coach.TurnReport) {
	if rep == nil {
		return
	}
	m.logger.Info("practice opening label",
		zap.String("session_id", e.id),
		zap.String("eco_code", rep.ECOCode),
		zap.String("eco_title", rep.ECOTitle),
		zap.String("source", sourceLabel(rep)),
		zap.String("phase", string(rep.Phase)),
		zap.String("san", rep.Move.SAN),
	)
}

func sourceLabel(rep *coach.TurnReport) string {
	if rep.Source == "" {
		return "player"
	}
	return string(rep.Source)
}

func mapEngineError(err error) error {
	if err == nil {
		return ErrEngineUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || engineTimeoutMessage(err) {
		return fmt.Errorf("%w: %v", ErrEngineTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
}

func engineTimeoutMessage(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}
