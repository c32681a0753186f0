package movesel

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"github.com/park285/cheese-opening-coach/internal/chess/openingtree"
)

const (
	// FullStrengthDepth is used once the book runs out in never-deviate mode.
	FullStrengthDepth = 15
	// ConfiguredDepth is used for moves at the configured strength.
	ConfiguredDepth = 12
)

var ErrNoEngine = errors.New("no engine available for off-book move")

type Mode string

const (
	NeverDeviate    Mode = "never-deviate"
	Hybrid          Mode = "hybrid"
	SpecificDefense Mode = "specific-defense"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case NeverDeviate, Hybrid, SpecificDefense:
		return m, nil
	case "":
		return Hybrid, nil
	default:
		return "", fmt.Errorf("unknown opponent mode: %s", s)
	}
}

type Source string

const (
	SourceTree    Source = "tree"
	SourceDefense Source = "defense"
	// SourceEngine is a search at the configured strength.
	SourceEngine Source = "engine"
	// SourceFallback is a full-strength search after the book ran out.
	SourceFallback Source = "fallback"
)

// Searcher is the session-scoped search process the selector talks to.
type Searcher interface {
	SetStrength(ctx context.Context, elo int) error
	DisableStrengthLimit(ctx context.Context) error
	BestMove(ctx context.Context, fen string, depth int) (string, error)
}

type Request struct {
	Mode Mode
	FEN  string

	// Tree and Node describe the active theory position. Node is nil when the
	// position is unknown to the tree.
	Tree        *openingtree.Tree
	Node        *openingtree.Node
	DefenseNode *openingtree.DefenseNode

	Engine               Searcher
	Elo                  int
	DeviationProbability float64
	Rand                 openingtree.Float64Source
}

// Result holds a book move in SAN or an engine move in UCI notation.
type Result struct {
	SAN       string
	UCI       string
	Source    Source
	Deviation bool
}

func (r Result) IsBook() bool {
	return r.Source == SourceTree || r.Source == SourceDefense
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// Select decides the opponent's next move. It never mutates the tree or the
// session; a temporarily lifted strength limit is restored before it returns.
func Select(ctx context.Context, req Request) (Result, error) {
	if req.Rand == nil {
		req.Rand = globalRand{}
	}
	switch req.Mode {
	case NeverDeviate:
		return selectNeverDeviate(ctx, req)
	case Hybrid:
		return selectHybrid(ctx, req)
	case SpecificDefense:
		return selectDefense(ctx, req)
	default:
		return Result{}, fmt.Errorf("unknown opponent mode: %s", req.Mode)
	}
}

func selectNeverDeviate(ctx context.Context, req Request) (Result, error) {
	if san := sample(req, req.Node); san != "" {
		return Result{SAN: san, Source: SourceTree}, nil
	}
	mv, err := fullStrengthMove(ctx, req)
	if err != nil {
		return Result{}, err
	}
	return Result{UCI: mv, Source: SourceFallback}, nil
}

func selectHybrid(ctx context.Context, req Request) (Result, error) {
	if !req.Node.HasResponses() {
		mv, err := engineMove(ctx, req)
		if err != nil {
			return Result{}, err
		}
		return Result{UCI: mv, Source: SourceEngine}, nil
	}
	if req.Rand.Float64() < req.DeviationProbability {
		mv, err := engineMove(ctx, req)
		if err != nil {
			return Result{}, err
		}
		return Result{UCI: mv, Source: SourceEngine, Deviation: true}, nil
	}
	return Result{SAN: sample(req, req.Node), Source: SourceTree}, nil
}

func selectDefense(ctx context.Context, req Request) (Result, error) {
	if req.DefenseNode != nil && len(req.DefenseNode.Children()) > 0 {
		if san := openingtree.Sample(req.DefenseNode.Samplable(), req.Rand); san != "" {
			return Result{SAN: san, Source: SourceDefense}, nil
		}
	}
	mv, err := engineMove(ctx, req)
	if err != nil {
		return Result{}, err
	}
	return Result{UCI: mv, Source: SourceEngine}, nil
}

func sample(req Request, node *openingtree.Node) string {
	if !node.HasResponses() {
		return ""
	}
	return openingtree.Sample(node, req.Rand)
}

func engineMove(ctx context.Context, req Request) (string, error) {
	if req.Engine == nil {
		return "", ErrNoEngine
	}
	mv, err := req.Engine.BestMove(ctx, req.FEN, ConfiguredDepth)
	if err != nil {
		return "", fmt.Errorf("engine move: %w", err)
	}
	return mv, nil
}

func fullStrengthMove(ctx context.Context, req Request) (mv string, err error) {
	if req.Engine == nil {
		return "", ErrNoEngine
	}
	if err := req.Engine.DisableStrengthLimit(ctx); err != nil {
		return "", fmt.Errorf("disable strength limit: %w", err)
	}
	defer func() {
		if restoreErr := req.Engine.SetStrength(context.WithoutCancel(ctx), req.Elo); restoreErr != nil {
			err = errors.Join(err, fmt.Errorf("restore strength: %w", restoreErr))
			mv = ""
		}
	}()
	mv, err = req.Engine.BestMove(ctx, req.FEN, FullStrengthDepth)
	if err != nil {
		return "", fmt.Errorf("full strength move: %w", err)
	}
	return mv, nil
}
