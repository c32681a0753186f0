package uci

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultInitWait      = 2 * time.Second
	defaultReadyTimeout  = 4 * time.Second
	newGameRetryAttempts = 3
	newGameRetryDelay    = 150 * time.Millisecond
	mateValue            = 30000
)

var ErrNoBestMove = errors.New("engine returned no best move")

type Options struct {
	Threads  int
	HashMB   int
	Strength Strength
	// InitWait bounds the wait for uciok/readyok during startup. The session
	// proceeds as ready once it expires.
	InitWait time.Duration
}

// Strength is the playing-strength configuration sent through setoption.
// When LimitStrength is false the engine plays at SkillLevel.
type Strength struct {
	LimitStrength bool
	Elo           int
	SkillLevel    int
}

func (s Strength) String() string {
	if s.LimitStrength {
		return fmt.Sprintf("elo=%d", s.Elo)
	}
	return fmt.Sprintf("skill=%d", s.SkillLevel)
}

// FullStrength disables every strength limit.
func FullStrength() Strength {
	return Strength{LimitStrength: false, SkillLevel: 20}
}

type Limits struct {
	Depth          int
	MoveTimeMillis int
	NodeCap        int
}

type Candidate struct {
	Move      string
	EvalCP    int
	Principal []string
}

type lineResult struct {
	line string
	err  error
}

type Session struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	lines  chan lineResult
	done   chan struct{}
	closed bool
	logger *zap.Logger
	mu     sync.Mutex
	search sync.Mutex

	strength Strength
}

func NewSession(ctx context.Context, binaryPath string, opt Options, logger *zap.Logger) (*Session, error) {
	if err := validateOptions(opt); err != nil {
		return nil, err
	}

	// The process outlives the acquiring request, so it is not bound to ctx.
	cmd := exec.Command(binaryPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutPipe.Close()
		return nil, fmt.Errorf("start engine: %w", err)
	}

	return newSession(ctx, cmd, stdin, stdoutPipe, opt, logger)
}

func newSession(ctx context.Context, cmd *exec.Cmd, stdin io.WriteCloser, stdout io.Reader, opt Options, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		cmd:    cmd,
		stdin:  stdin,
		lines:  make(chan lineResult, 64),
		done:   make(chan struct{}),
		logger: logger,
	}
	go s.readLoop(bufio.NewReader(stdout))
	if err := s.initialize(ctx, opt); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

type SearchRequest struct {
	FEN    string
	Moves  []string
	Limits Limits
}

type SearchResponse struct {
	Candidates []Candidate
	BestMove   string
}

func (s *Session) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	s.search.Lock()
	defer s.search.Unlock()

	s.drain()
	positionCmd := buildPositionCommand(req.FEN, req.Moves)
	if err := s.send(positionCmd); err != nil {
		return SearchResponse{}, fmt.Errorf("send position: %w", err)
	}

	goTokens, err := buildGoTokens(req.Limits)
	if err != nil {
		return SearchResponse{}, err
	}
	goCmd := strings.Join(goTokens, " ")
	if err := s.send(goCmd + "\n"); err != nil {
		return SearchResponse{}, fmt.Errorf("send go: %w", err)
	}

	searchCtx, cancel := context.WithTimeout(ctx, computeSearchTimeout(req.Limits))
	defer cancel()

	candidates := make(map[int]Candidate)
	for {
		line, err := s.readLine(searchCtx)
		if err != nil {
			s.logger.Warn("uci read failed",
				zap.String("position", strings.TrimSpace(positionCmd)),
				zap.String("go", goCmd),
				zap.Error(err))
			return SearchResponse{}, fmt.Errorf("read line: %w", err)
		}
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "info "):
			if mv, cand, ok := parseInfo(line); ok {
				candidates[mv] = cand
			}
		case strings.HasPrefix(line, "bestmove"):
			var best string
			parts := strings.Fields(line)
			if len(parts) >= 2 && parts[1] != "(none)" {
				best = parts[1]
			}
			return SearchResponse{Candidates: collapseCandidates(candidates), BestMove: best}, nil
		}
	}
}

// BestMove searches fen to depth and returns the engine's move in UCI notation.
func (s *Session) BestMove(ctx context.Context, fen string, depth int) (string, error) {
	resp, err := s.Search(ctx, SearchRequest{FEN: fen, Limits: Limits{Depth: depth}})
	if err != nil {
		return "", err
	}
	if resp.BestMove == "" {
		return "", ErrNoBestMove
	}
	return strings.ToLower(resp.BestMove), nil
}

// Evaluate returns the principal variation score in centipawns from the side
// to move's point of view. Mates are reported as +/-30000.
func (s *Session) Evaluate(ctx context.Context, fen string, depth int) (int, error) {
	resp, err := s.Search(ctx, SearchRequest{FEN: fen, Limits: Limits{Depth: depth}})
	if err != nil {
		return 0, err
	}
	if len(resp.Candidates) == 0 {
		return 0, fmt.Errorf("engine returned no evaluation")
	}
	return resp.Candidates[0].EvalCP, nil
}

// SetStrength applies st and waits for the engine to acknowledge.
func (s *Session) SetStrength(ctx context.Context, st Strength) error {
	for _, cmd := range strengthCommands(st) {
		if err := s.send(cmd); err != nil {
			return fmt.Errorf("set strength: %w", err)
		}
	}
	if err := s.EnsureReady(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.strength = st
	s.mu.Unlock()
	return nil
}

func (s *Session) Strength() Strength {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.strength
}

func strengthCommands(st Strength) []string {
	if st.LimitStrength {
		return []string{
			"setoption name UCI_LimitStrength value true\n",
			fmt.Sprintf("setoption name UCI_Elo value %d\n", st.Elo),
		}
	}
	return []string{
		"setoption name UCI_LimitStrength value false\n",
		fmt.Sprintf("setoption name Skill Level value %d\n", st.SkillLevel),
	}
}

func buildPositionCommand(fen string, moves []string) string {
	var sb strings.Builder
	if strings.TrimSpace(fen) == "" || fen == "startpos" {
		sb.WriteString("position startpos")
	} else {
		sb.WriteString("position fen ")
		sb.WriteString(fen)
	}
	if len(moves) > 0 {
		sb.WriteString(" moves ")
		sb.WriteString(strings.Join(moves, " "))
	}
	sb.WriteString("\n")
	return sb.String()
}

func validateOptions(opt Options) error {
	st := opt.Strength
	if !st.LimitStrength && (st.SkillLevel < 0 || st.SkillLevel > 20) {
		return fmt.Errorf("skill level %d out of range 0-20", st.SkillLevel)
	}
	if st.LimitStrength && st.Elo <= 0 {
		return fmt.Errorf("elo must be > 0: %d", st.Elo)
	}
	if opt.HashMB <= 0 {
		return fmt.Errorf("hash size must be > 0: %d", opt.HashMB)
	}
	return nil
}

func buildGoTokens(l Limits) ([]string, error) {
	args := []string{"go"}
	if l.Depth > 0 {
		args = append(args, "depth", strconv.Itoa(l.Depth))
	}
	if l.MoveTimeMillis > 0 {
		args = append(args, "movetime", strconv.Itoa(l.MoveTimeMillis))
	}
	if l.NodeCap > 0 {
		args = append(args, "nodes", strconv.Itoa(l.NodeCap))
	}
	if len(args) == 1 {
		return nil, fmt.Errorf("no search limits specified")
	}
	return args, nil
}

func computeSearchTimeout(l Limits) time.Duration {
	if l.MoveTimeMillis > 0 {
		ms := l.MoveTimeMillis + 2000
		return time.Duration(ms) * time.Millisecond * 3
	}
	if l.Depth > 0 {
		base := time.Duration(l.Depth) * 300 * time.Millisecond
		if base < 6*time.Second {
			base = 6 * time.Second
		}
		if base > 20*time.Second {
			base = 20 * time.Second
		}
		return base
	}
	return 6 * time.Second
}

func parseInfo(line string) (int, Candidate, bool) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return 0, Candidate{}, false
	}
	var (
		multipv = 1
		evalCP  int
		pvIdx   = -1
	)

	for i := 0; i < len(parts); i++ {
		switch parts[i] {
		case "multipv":
			if i+1 < len(parts) {
				if v, err := strconv.Atoi(parts[i+1]); err == nil {
					multipv = v
				}
				i++
			}
		case "score":
			if i+2 < len(parts) {
				kind, val := parts[i+1], parts[i+2]
				if v, err := strconv.Atoi(val); err == nil {
					switch kind {
					case "cp":
						evalCP = v
					case "mate":
						evalCP = mateValue
						if v < 0 {
							evalCP = -mateValue
						}
					}
				}
				i += 2
			}
		case "pv":
			pvIdx = i + 1
			i = len(parts)
		}
	}

	if pvIdx == -1 || pvIdx >= len(parts) {
		return 0, Candidate{}, false
	}
	principal := parts[pvIdx:]
	return multipv, Candidate{
		Move:      principal[0],
		EvalCP:    evalCP,
		Principal: append([]string(nil), principal...),
	}, true
}

func collapseCandidates(m map[int]Candidate) []Candidate {
	if len(m) == 0 {
		return nil
	}
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	result := make([]Candidate, 0, len(keys))
	for _, k := range keys {
		result = append(result, m[k])
	}
	return result
}

func (s *Session) EnsureReady(ctx context.Context) error {
	readyCtx, cancel := context.WithTimeout(ctx, defaultReadyTimeout)
	defer cancel()

	if err := s.send("isready\n"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := s.awaitToken(readyCtx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

func (s *Session) NewGame(ctx context.Context) error {
	if err := s.send("ucinewgame\n"); err != nil {
		return fmt.Errorf("send ucinewgame: %w", err)
	}

	for attempt := 1; attempt <= newGameRetryAttempts; attempt++ {
		err := s.EnsureReady(ctx)
		if err == nil {
			return nil
		}
		if attempt == newGameRetryAttempts {
			return err
		}
		s.logger.Warn("uci ensure ready retry",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", newGameRetryAttempts),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(newGameRetryDelay):
		}
	}
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	if s.stdin != nil {
		s.stdin.Close()
	}
	if s.cmd == nil {
		return nil
	}
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	return s.cmd.Wait()
}

// initialize performs the uci handshake. Each wait is bounded by InitWait;
// when it expires the session logs and carries on as if the engine answered.
func (s *Session) initialize(ctx context.Context, opt Options) error {
	wait := opt.InitWait
	if wait <= 0 {
		wait = defaultInitWait
	}

	if err := s.send("uci\n"); err != nil {
		return fmt.Errorf("send uci: %w", err)
	}
	if err := s.awaitBounded(ctx, "uciok", wait); err != nil {
		return err
	}

	if err := s.applyOptions(opt); err != nil {
		return err
	}

	if err := s.send("isready\n"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := s.awaitBounded(ctx, "readyok", wait); err != nil {
		return err
	}
	s.strength = opt.Strength
	return nil
}

func (s *Session) awaitBounded(ctx context.Context, token string, wait time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	err := s.awaitToken(waitCtx, token)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		s.logger.Warn("uci init wait expired, continuing",
			zap.String("token", token),
			zap.Duration("wait", wait))
		return nil
	default:
		return fmt.Errorf("wait %s: %w", token, err)
	}
}

func (s *Session) applyOptions(opt Options) error {
	threadCount := opt.Threads
	if threadCount <= 0 {
		threadCount = 1
	}
	cmds := []string{
		fmt.Sprintf("setoption name Threads value %d\n", threadCount),
		fmt.Sprintf("setoption name Hash value %d\n", opt.HashMB),
		"setoption name MultiPV value 1\n",
		"setoption name Move Overhead value 100\n",
	}
	cmds = append(cmds, strengthCommands(opt.Strength)...)
	for _, cmd := range cmds {
		if err := s.send(cmd); err != nil {
			return fmt.Errorf("apply options: %w", err)
		}
	}
	return nil
}

func (s *Session) send(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.stdin, msg)
	return err
}

func (s *Session) awaitToken(ctx context.Context, token string) error {
	for {
		line, err := s.readLine(ctx)
		if err != nil {
			return err
		}
		if strings.Contains(line, token) {
			return nil
		}
	}
}

// readLoop is the only reader of stdout. A line that arrives after a wait
// expired stays queued for the next reader.
func (s *Session) readLoop(r *bufio.Reader) {
	defer close(s.lines)
	for {
		line, err := r.ReadString('\n')
		if line != "" || err == nil {
			if !s.deliver(lineResult{line: strings.TrimSpace(line)}) {
				return
			}
		}
		if err != nil {
			s.deliver(lineResult{err: err})
			return
		}
	}
}

func (s *Session) deliver(res lineResult) bool {
	select {
	case s.lines <- res:
		return true
	case <-s.done:
		return false
	}
}

// drain drops output left over from an abandoned wait.
func (s *Session) drain() {
	for {
		select {
		case res, ok := <-s.lines:
			if !ok || res.err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Session) readLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res, ok := <-s.lines:
		if !ok {
			return "", io.EOF
		}
		return res.line, res.err
	}
}
