package uci

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeEngine struct {
	mu       sync.Mutex
	received []string
	silent   bool
	info     string
	best     string
}

func (f *fakeEngine) run(in io.Reader, out io.WriteCloser) {
	defer out.Close()
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		f.mu.Lock()
		f.received = append(f.received, line)
		f.mu.Unlock()
		if f.silent {
			continue
		}
		switch {
		case line == "uci":
			io.WriteString(out, "id name Fake\nuciok\n")
		case line == "isready":
			io.WriteString(out, "readyok\n")
		case strings.HasPrefix(line, "go"):
			io.WriteString(out, f.info+"\n"+f.best+"\n")
		}
	}
}

func (f *fakeEngine) sawLine(want string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.received {
		if l == want {
			return true
		}
	}
	return false
}

func startFake(t *testing.T, f *fakeEngine, opt Options) (*Session, error) {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	go f.run(inR, outW)
	return newSession(context.Background(), nil, inW, outR, opt, nil)
}

func baseOptions() Options {
	return Options{Threads: 1, HashMB: 16, Strength: Strength{LimitStrength: true, Elo: 1500}, InitWait: time.Second}
}

func TestSessionHandshakeAndSearch(t *testing.T) {
	f := &fakeEngine{
		info: "info depth 12 seldepth 15 multipv 1 score cp 34 nodes 100 pv e2e4 e7e5 g1f3",
		best: "bestmove e2e4 ponder e7e5",
	}
	s, err := startFake(t, f, baseOptions())
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	defer s.Close()

	if !f.sawLine("setoption name UCI_Elo value 1500") {
		t.Fatalf("elo option not sent: %v", f.received)
	}
	mv, err := s.BestMove(context.Background(), "startpos", 12)
	if err != nil || mv != "e2e4" {
		t.Fatalf("best move = %q, %v", mv, err)
	}
	cp, err := s.Evaluate(context.Background(), "startpos", 12)
	if err != nil || cp != 34 {
		t.Fatalf("evaluate = %d, %v", cp, err)
	}
}

func TestSessionSetStrength(t *testing.T) {
	f := &fakeEngine{}
	s, err := startFake(t, f, baseOptions())
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	defer s.Close()

	if err := s.SetStrength(context.Background(), FullStrength()); err != nil {
		t.Fatalf("set strength: %v", err)
	}
	if !f.sawLine("setoption name UCI_LimitStrength value false") || !f.sawLine("setoption name Skill Level value 20") {
		t.Fatalf("full strength options missing: %v", f.received)
	}
	if s.Strength() != FullStrength() {
		t.Fatalf("strength = %v", s.Strength())
	}
}

func TestSessionProceedsWhenEngineIsSilent(t *testing.T) {
	f := &fakeEngine{silent: true}
	opt := baseOptions()
	opt.InitWait = 30 * time.Millisecond
	s, err := startFake(t, f, opt)
	if err != nil {
		t.Fatalf("silent engine should still yield a session: %v", err)
	}
	if !f.sawLine("isready") {
		t.Fatalf("handshake should continue past the expired uci wait")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestBestMoveNone(t *testing.T) {
	f := &fakeEngine{info: "info depth 0 score mate 0", best: "bestmove (none)"}
	s, err := startFake(t, f, baseOptions())
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	defer s.Close()
	if _, err := s.BestMove(context.Background(), "startpos", 5); err != ErrNoBestMove {
		t.Fatalf("expected ErrNoBestMove, got %v", err)
	}
}

func TestParseInfo(t *testing.T) {
	pv, cand, ok := parseInfo("info depth 20 multipv 2 score cp -41 nodes 5 pv d7d5 c2c4")
	if !ok || pv != 2 || cand.EvalCP != -41 || cand.Move != "d7d5" || len(cand.Principal) != 2 {
		t.Fatalf("parse = %d %+v %v", pv, cand, ok)
	}
	_, cand, ok = parseInfo("info depth 9 score mate -3 pv h7h8")
	if !ok || cand.EvalCP != -mateValue {
		t.Fatalf("mate parse = %+v %v", cand, ok)
	}
	if _, _, ok := parseInfo("info string NNUE enabled"); ok {
		t.Fatalf("info without pv must be ignored")
	}
}

func TestBuildCommands(t *testing.T) {
	if got := buildPositionCommand("", nil); got != "position startpos\n" {
		t.Fatalf("startpos = %q", got)
	}
	got := buildPositionCommand("8/8/8/8/8/8/8/K6k w - - 0 1", []string{"a1a2"})
	if got != "position fen 8/8/8/8/8/8/8/K6k w - - 0 1 moves a1a2\n" {
		t.Fatalf("fen position = %q", got)
	}
	tokens, err := buildGoTokens(Limits{Depth: 15})
	if err != nil || strings.Join(tokens, " ") != "go depth 15" {
		t.Fatalf("go tokens = %v %v", tokens, err)
	}
	if _, err := buildGoTokens(Limits{}); err == nil {
		t.Fatalf("empty limits should fail")
	}
}

func TestValidateOptions(t *testing.T) {
	if err := validateOptions(Options{HashMB: 16, Strength: Strength{SkillLevel: 21}}); err == nil {
		t.Fatalf("skill 21 should be rejected")
	}
	if err := validateOptions(Options{HashMB: 16, Strength: Strength{LimitStrength: true}}); err == nil {
		t.Fatalf("limited strength without elo should be rejected")
	}
	if err := validateOptions(Options{HashMB: 0, Strength: FullStrength()}); err == nil {
		t.Fatalf("zero hash should be rejected")
	}
}

func TestOptionsKeySeparatesStrength(t *testing.T) {
	a := baseOptions()
	b := baseOptions()
	b.Strength.Elo = 1600
	if optionsKey(a) == optionsKey(b) {
		t.Fatalf("different elo must map to different buckets")
	}
}
