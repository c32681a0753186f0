package practice

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/park285/cheese-opening-coach/internal/chess/movesel"
	"github.com/park285/cheese-opening-coach/internal/chess/openingtree"
	"github.com/park285/cheese-opening-coach/internal/coach"
	"github.com/park285/cheese-opening-coach/internal/commentary"
	"github.com/park285/cheese-opening-coach/internal/domain"
)

type fixedRand struct {
	mu     sync.Mutex
	values []float64
}

func (f *fixedRand) Float64() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.values) == 0 {
		return 0.99
	}
	v := f.values[0]
	f.values = f.values[1:]
	return v
}

type fakeHandle struct {
	src *fakeSource
}

func (h *fakeHandle) SetStrength(context.Context, int) error             { return nil }
func (h *fakeHandle) DisableStrengthLimit(context.Context) error         { return nil }
func (h *fakeHandle) Evaluate(context.Context, string, int) (int, error) { return 35, nil }

func (h *fakeHandle) BestMove(context.Context, string, int) (string, error) {
	h.src.mu.Lock()
	defer h.src.mu.Unlock()
	if len(h.src.moves) == 0 {
		return "", errors.New("no scripted move")
	}
	mv := h.src.moves[0]
	h.src.moves = h.src.moves[1:]
	return mv, nil
}

func (h *fakeHandle) Release() {
	h.src.mu.Lock()
	h.src.released++
	h.src.mu.Unlock()
}

type fakeSource struct {
	mu       sync.Mutex
	moves    []string
	err      error
	acquired int
	released int
	elos     []int
}

func (f *fakeSource) Acquire(_ context.Context, elo int) (EngineHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.acquired++
	f.elos = append(f.elos, elo)
	return &fakeHandle{src: f}, nil
}

type fakeCommentator struct {
	mu    sync.Mutex
	calls []commentary.Context
}

func (f *fakeCommentator) Comment(_ context.Context, book string, in commentary.Context) string {
	f.mu.Lock()
	f.calls = append(f.calls, in)
	f.mu.Unlock()
	if book != "" {
		return book
	}
	return "generated for " + in.Move
}

func newStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, time.Hour), mr
}

func defaultCatalog(t *testing.T) *openingtree.Catalog {
	t.Helper()
	cat, err := openingtree.LoadCatalog("", nil)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return cat
}

func alapinCatalog(t *testing.T) *openingtree.Catalog {
	t.Helper()
	base := defaultCatalog(t)
	italian, _ := base.Get("italian-game")
	najdorf, _ := base.Get("sicilian-najdorf")
	alapin := &openingtree.Definition{
		ID:    "alapin",
		Name:  "Alapin Sicilian",
		ECO:   "B22",
		Color: "white",
		Moves: []openingtree.NodeSpec{{
			SAN: "e4", EngineResponses: []string{"c5"},
			Children: []openingtree.NodeSpec{{
				SAN: "c5",
				Children: []openingtree.NodeSpec{{
					SAN: "c3", EngineResponses: []string{"d5"},
					Children: []openingtree.NodeSpec{{SAN: "d5", Commentary: "Black hits the center at once."}},
				}},
			}},
		}},
	}
	if err := openingtree.Normalize(alapin, nil); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	return openingtree.NewCatalog(italian, alapin, najdorf)
}

func newManager(t *testing.T, cat *openingtree.Catalog, src *fakeSource, store SnapshotStore, repo Repository, cfg Config) *Manager {
	t.Helper()
	if cfg.DefaultOpening == "" {
		cfg.DefaultOpening = "italian-game"
	}
	if cfg.Elo == 0 {
		cfg.Elo = 1200
	}
	var engines EngineSource
	if src != nil {
		engines = src
	}
	m, err := NewManager(cat, engines, store, repo, &fakeCommentator{}, cfg, nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestStartAndPlayBookLine(t *testing.T) {
	src := &fakeSource{}
	commentator := &fakeCommentator{}
	m, err := NewManager(defaultCatalog(t), src, nil, nil, commentator,
		Config{DefaultOpening: "italian-game", Mode: movesel.Hybrid, Elo: 1400, DeviationProbability: 0.2, Rand: &fixedRand{}}, nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	ctx := context.Background()

	start, err := m.Start(ctx, StartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if start.ID == "" || start.Opponent != nil || start.State.PlayerSide != coach.SideWhite {
		t.Fatalf("start = %+v", start)
	}
	if len(src.elos) != 1 || src.elos[0] != 1400 {
		t.Fatalf("engine strength = %v", src.elos)
	}

	res, err := m.Play(ctx, start.ID, "e4")
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if !res.Player.Report.Move.InTheory || !strings.Contains(res.Player.Commentary, "king's pawn") {
		t.Fatalf("player outcome = %+v", res.Player)
	}
	if res.Opponent == nil || res.Opponent.Report.Move.SAN != "e5" || !res.Opponent.Report.Move.InTheory {
		t.Fatalf("opponent outcome = %+v", res.Opponent)
	}
	if res.Opponent.Evaluation != nil || res.Player.Evaluation != nil {
		t.Fatalf("no evaluation expected while in theory")
	}
	if res.State.Phase != coach.PhaseOpening || len(res.State.TheoryMoves) != 1 || res.State.TheoryMoves[0] != "Nf3" {
		t.Fatalf("state = %+v", res.State)
	}
	if len(commentator.calls) != 1 || commentator.calls[0].Move != "e4" {
		t.Fatalf("only the player's move is commented: %+v", commentator.calls)
	}

	if _, err := m.Play(ctx, start.ID, "e5"); !errors.Is(err, coach.ErrIllegalMove) {
		t.Fatalf("expected ErrIllegalMove, got %v", err)
	}
	if _, err := m.Play(ctx, "missing", "e4"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestBlackOpeningStartsWithEngineMove(t *testing.T) {
	m := newManager(t, defaultCatalog(t), &fakeSource{}, nil, nil, Config{Mode: movesel.NeverDeviate})
	start, err := m.Start(context.Background(), StartOptions{OpeningID: "caro-kann"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if start.Opponent == nil || start.Opponent.Report.Move.SAN != "e4" {
		t.Fatalf("engine should open: %+v", start.Opponent)
	}
	if start.State.PlayerSide != coach.SideBlack || !start.State.PlayersTurn() {
		t.Fatalf("state = %+v", start.State)
	}
	if len(start.State.TheoryMoves) != 1 || start.State.TheoryMoves[0] != "c6" {
		t.Fatalf("theory moves = %v", start.State.TheoryMoves)
	}
}

func TestStartValidation(t *testing.T) {
	m := newManager(t, defaultCatalog(t), &fakeSource{}, nil, nil, Config{})
	ctx := context.Background()
	if _, err := m.Start(ctx, StartOptions{OpeningID: "nope"}); !errors.Is(err, openingtree.ErrOpeningNotFound) {
		t.Fatalf("expected ErrOpeningNotFound, got %v", err)
	}
	if _, err := m.Start(ctx, StartOptions{Mode: "random"}); err == nil {
		t.Fatalf("unknown mode should fail")
	}
	if _, err := m.Start(ctx, StartOptions{DefenseID: "nope", Mode: "specific-defense"}); !errors.Is(err, ErrDefenseNotFound) {
		t.Fatalf("expected ErrDefenseNotFound, got %v", err)
	}

	failing := newManager(t, defaultCatalog(t), &fakeSource{err: errors.New("spawn failed")}, nil, nil, Config{})
	if _, err := failing.Start(ctx, StartOptions{}); !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("expected ErrEngineUnavailable, got %v", err)
	}
}

func TestDeviationSwitchAndRestore(t *testing.T) {
	store, _ := newStore(t)
	cat := alapinCatalog(t)
	src := &fakeSource{moves: []string{"c7c5"}}
	cfg := Config{Mode: movesel.Hybrid, DeviationProbability: 0.5, Rand: &fixedRand{values: []float64{0.1}}}
	m := newManager(t, cat, src, store, nil, cfg)
	ctx := context.Background()

	start, err := m.Start(ctx, StartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	res, err := m.Play(ctx, start.ID, "e4")
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	dev := res.Opponent.Report.Deviation
	if dev == nil || dev.TranspositionID != "alapin" {
		t.Fatalf("deviation = %+v", dev)
	}
	if res.Opponent.Evaluation == nil || *res.Opponent.Evaluation != 35 {
		t.Fatalf("leaving theory should be evaluated: %+v", res.Opponent)
	}

	if _, err := m.SwitchOpening(ctx, start.ID, "sicilian-najdorf"); !errors.Is(err, ErrColorMismatch) {
		t.Fatalf("expected ErrColorMismatch, got %v", err)
	}
	st, err := m.SwitchOpening(ctx, start.ID, "")
	if err != nil {
		t.Fatalf("switch: %v", err)
	}
	if st.OpeningID != "alapin" || st.Phase != coach.PhaseOpening || len(st.TheoryMoves) != 1 || st.TheoryMoves[0] != "c3" {
		t.Fatalf("switched state = %+v", st)
	}
	if st.Deviation == nil || st.Deviation.SAN != "c5" {
		t.Fatalf("switch dropped the deviation: %+v", st.Deviation)
	}

	early := newManager(t, cat, &fakeSource{}, store, nil, cfg)
	mid, err := early.Status(ctx, start.ID)
	if err != nil {
		t.Fatalf("status right after switch: %v", err)
	}
	if mid.Phase != st.Phase || mid.OpeningID != "alapin" || len(mid.TheoryMoves) != 1 || mid.TheoryMoves[0] != "c3" {
		t.Fatalf("restart right after switch diverged: live %s, restored %+v", st.Phase, mid)
	}
	if mid.Deviation == nil || mid.Deviation.SAN != "c5" {
		t.Fatalf("deviation lost across restart: %+v", mid.Deviation)
	}

	res, err = m.Play(ctx, start.ID, "c3")
	if err != nil {
		t.Fatalf("play c3: %v", err)
	}
	if res.Opponent.Report.Move.SAN != "d5" || res.State.Phase != coach.PhaseOpening {
		t.Fatalf("book reply after switch = %+v", res.Opponent.Report)
	}

	restarted := newManager(t, cat, &fakeSource{}, store, nil, cfg)
	got, err := restarted.Status(ctx, start.ID)
	if err != nil {
		t.Fatalf("status after restart: %v", err)
	}
	if got.FEN != res.State.FEN || got.OpeningID != "alapin" || got.Phase != coach.PhaseOpening || len(got.Moves) != 4 {
		t.Fatalf("restored state = %+v", got)
	}
	if got.Deviation == nil || got.Deviation.SAN != "c5" {
		t.Fatalf("deviation not restored: %+v", got.Deviation)
	}

	game, err := restarted.End(ctx, start.ID)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if game.Transposed != "italian-game" || game.DeviationSAN != "c5" || game.LeftBookBy() != "opponent" {
		t.Fatalf("archived = %+v", game)
	}
}

func TestEndArchivesAndForgets(t *testing.T) {
	store, mr := newStore(t)
	repo := NewMemoryRepository()
	src := &fakeSource{}
	m := newManager(t, defaultCatalog(t), src, store, repo, Config{Mode: movesel.NeverDeviate})
	ctx := context.Background()

	start, _ := m.Start(ctx, StartOptions{})
	if _, err := m.Play(ctx, start.ID, "e4"); err != nil {
		t.Fatalf("play: %v", err)
	}
	key := "coach:session:" + start.ID
	if !mr.Exists(key) || mr.TTL(key) != time.Hour {
		t.Fatalf("snapshot missing or without ttl: %v", mr.TTL(key))
	}

	game, err := m.End(ctx, start.ID)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if game.ID == 0 || game.Result != "*" || game.TheoryPlies != 2 || !strings.Contains(game.PGN, "1. e4 e5 *") {
		t.Fatalf("archived game = %+v", game)
	}
	if src.released != 1 {
		t.Fatalf("engine handle not released: %d", src.released)
	}
	if mr.Exists(key) {
		t.Fatalf("snapshot should be deleted")
	}
	if _, err := m.Status(ctx, start.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	stored, _ := repo.GetGameBySession(ctx, start.ID)
	if stored == nil || stored.OpeningID != "italian-game" {
		t.Fatalf("stored game = %+v", stored)
	}
	recent, _ := m.RecentGames(ctx, 5)
	if len(recent) != 1 {
		t.Fatalf("recent games = %d", len(recent))
	}
}

func TestResetStartsOver(t *testing.T) {
	m := newManager(t, defaultCatalog(t), &fakeSource{}, nil, nil, Config{Mode: movesel.NeverDeviate})
	ctx := context.Background()
	start, _ := m.Start(ctx, StartOptions{})
	if _, err := m.Play(ctx, start.ID, "e4"); err != nil {
		t.Fatalf("play: %v", err)
	}
	res, err := m.Reset(ctx, start.ID)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if len(res.State.Moves) != 0 || res.State.Phase != coach.PhaseOpening {
		t.Fatalf("reset state = %+v", res.State)
	}
}

func TestEvaluate(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, defaultCatalog(t), &fakeSource{}, nil, nil, Config{Mode: movesel.NeverDeviate})
	start, _ := m.Start(ctx, StartOptions{})
	if cp, err := m.Evaluate(ctx, start.ID); err != nil || cp != 35 {
		t.Fatalf("evaluate = %d, %v", cp, err)
	}
	if _, err := m.Evaluate(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	bookOnly := newManager(t, defaultCatalog(t), nil, nil, nil, Config{Mode: movesel.NeverDeviate})
	start, _ = bookOnly.Start(ctx, StartOptions{})
	if _, err := bookOnly.Evaluate(ctx, start.ID); !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("expected ErrEngineUnavailable, got %v", err)
	}
}

func TestEvaluateWhileEnding(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, defaultCatalog(t), &fakeSource{}, nil, nil, Config{Mode: movesel.NeverDeviate})
	start, _ := m.Start(ctx, StartOptions{})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Evaluate(ctx, start.ID)
			errs <- err
		}()
	}
	if _, err := m.End(ctx, start.ID); err != nil {
		t.Fatalf("end: %v", err)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil && !errors.Is(err, ErrEngineUnavailable) && !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("evaluate during end: %v", err)
		}
	}
}

func TestOpponentFailureKeepsPlayerMove(t *testing.T) {
	src := &fakeSource{}
	m := newManager(t, defaultCatalog(t), src, nil, nil, Config{Mode: movesel.Hybrid})
	ctx := context.Background()
	start, _ := m.Start(ctx, StartOptions{})

	res, err := m.Play(ctx, start.ID, "d4")
	if !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("expected ErrEngineUnavailable, got %v", err)
	}
	if res == nil || res.Player == nil || !res.Player.Report.LeftTheory || len(res.State.Moves) != 1 {
		t.Fatalf("partial result = %+v", res)
	}

	src.mu.Lock()
	src.moves = []string{"d7d5"}
	src.mu.Unlock()
	res, err = m.OpponentMove(ctx, start.ID)
	if err != nil || res.Opponent.Report.Move.SAN != "d5" {
		t.Fatalf("retry = %+v, %v", res, err)
	}
}

func TestMemoryRepositoryDuplicate(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	g := &domain.PracticeGame{SessionUUID: "s1", EndedAt: time.Now()}
	if _, err := repo.InsertGame(ctx, g); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := repo.InsertGame(ctx, g); !errors.Is(err, ErrDuplicateGame) {
		t.Fatalf("expected ErrDuplicateGame, got %v", err)
	}
}

func TestRedisStoreMissingSnapshot(t *testing.T) {
	store, _ := newStore(t)
	snap, err := store.Load(context.Background(), "nope")
	if err != nil || snap != nil {
		t.Fatalf("missing snapshot = %v, %v", snap, err)
	}
	if err := store.Save(context.Background(), &Snapshot{}); err == nil {
		t.Fatalf("snapshot without id should fail")
	}
	if _, err := parseRedisURL("http://x"); err == nil {
		t.Fatalf("non-redis scheme should fail")
	}
	opts, err := parseRedisURL("redis://:secret@localhost:6380/2")
	if err != nil || opts.Addr != "localhost:6380" || opts.Password != "secret" || opts.DB != 2 {
		t.Fatalf("parsed = %+v, %v", opts, err)
	}
}
