package openingtree

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed data/*.yaml
var embeddedOpenings embed.FS

var ErrOpeningNotFound = errors.New("opening not found")

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
	defaultErr     error
)

// Catalog is the set of openings available for practice, keyed by id.
type Catalog struct {
	defs []*Definition
	byID map[string]*Definition
}

// DefaultCatalog loads the embedded openings plus any files under OPENINGS_DIR once.
func DefaultCatalog() (*Catalog, error) {
	defaultOnce.Do(func() {
		defaultCatalog, defaultErr = LoadCatalog(os.Getenv("OPENINGS_DIR"), nil)
	})
	return defaultCatalog, defaultErr
}

// LoadCatalog reads the embedded openings, then overlays JSON/YAML files from
// dir. A file whose id matches an embedded opening replaces it.
func LoadCatalog(dir string, logger *zap.Logger) (*Catalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Catalog{byID: make(map[string]*Definition)}

	names, err := fs.Glob(embeddedOpenings, "data/*.yaml")
	if err != nil {
		return nil, fmt.Errorf("list embedded openings: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := embeddedOpenings.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read embedded opening %s: %w", name, err)
		}
		def, err := decodeDefinition(name, data)
		if err != nil {
			return nil, err
		}
		if err := c.add(def, logger); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}

	dir = strings.TrimSpace(dir)
	if dir == "" {
		return c, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read openings dir %q: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".json", ".yaml", ".yml":
		default:
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read opening %q: %w", path, err)
		}
		def, err := decodeDefinition(path, data)
		if err != nil {
			return nil, err
		}
		if err := c.add(def, logger); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		logger.Info("opening loaded", zap.String("opening_id", def.ID), zap.String("path", path))
	}
	return c, nil
}

// NewCatalog builds a catalog from already-normalized definitions.
func NewCatalog(defs ...*Definition) *Catalog {
	c := &Catalog{byID: make(map[string]*Definition)}
	for _, def := range defs {
		c.put(def)
	}
	return c
}

func decodeDefinition(name string, data []byte) (*Definition, error) {
	def := &Definition{}
	var err error
	if strings.EqualFold(filepath.Ext(name), ".json") {
		err = json.Unmarshal(data, def)
	} else {
		err = yaml.Unmarshal(data, def)
	}
	if err != nil {
		return nil, fmt.Errorf("decode opening %s: %w", name, err)
	}
	if strings.TrimSpace(def.ID) == "" {
		return nil, fmt.Errorf("opening %s has no id", name)
	}
	return def, nil
}

func (c *Catalog) add(def *Definition, logger *zap.Logger) error {
	if err := Normalize(def, logger); err != nil {
		return err
	}
	c.put(def)
	return nil
}

func (c *Catalog) put(def *Definition) {
	if def == nil {
		return
	}
	if _, exists := c.byID[def.ID]; exists {
		for i, d := range c.defs {
			if d.ID == def.ID {
				c.defs[i] = def
			}
		}
	} else {
		c.defs = append(c.defs, def)
	}
	c.byID[def.ID] = def
}

func (c *Catalog) Get(id string) (*Definition, error) {
	if c == nil {
		return nil, ErrOpeningNotFound
	}
	def, ok := c.byID[strings.TrimSpace(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOpeningNotFound, id)
	}
	return def, nil
}

// List returns the openings in load order.
func (c *Catalog) List() []*Definition {
	if c == nil {
		return nil
	}
	return append([]*Definition(nil), c.defs...)
}

// Issue is one problem found while replaying an opening through the rules engine.
type Issue struct {
	OpeningID string
	DefenseID string
	Path      string
	Kind      string
	Detail    string
}

func (i Issue) String() string {
	where := i.OpeningID
	if i.DefenseID != "" {
		where += "/" + i.DefenseID
	}
	return fmt.Sprintf("%s [%s] %s: %s", where, i.Path, i.Kind, i.Detail)
}

const (
	IssueIllegalMove    = "illegal-move"
	IssueFENMismatch    = "fen-mismatch"
	IssueMissingChild   = "missing-child"
	IssueDuplicateChild = "duplicate-child"
	IssueWeightCount    = "weight-count"
)

// Verify replays every line of def and reports problems without modifying it.
func Verify(def *Definition) []Issue {
	clone := cloneDefinition(def)
	return walkDefinition(clone, false)
}

// Normalize fills missing FENs and canonical SAN by replaying every line.
// Illegal moves are fatal; other problems are logged.
func Normalize(def *Definition, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	issues := walkDefinition(def, true)
	var fatal []string
	for _, issue := range issues {
		if issue.Kind == IssueIllegalMove {
			fatal = append(fatal, issue.String())
			continue
		}
		logger.Warn("opening data issue",
			zap.String("opening_id", issue.OpeningID),
			zap.String("defense_id", issue.DefenseID),
			zap.String("path", issue.Path),
			zap.String("kind", issue.Kind),
			zap.String("detail", issue.Detail))
	}
	if len(fatal) > 0 {
		return fmt.Errorf("opening %s: %s", def.ID, strings.Join(fatal, "; "))
	}
	return nil
}

func walkDefinition(def *Definition, fix bool) []Issue {
	if def == nil {
		return nil
	}
	var issues []Issue
	report := func(defense, path, kind, detail string) {
		issues = append(issues, Issue{OpeningID: def.ID, DefenseID: defense, Path: path, Kind: kind, Detail: detail})
	}

	root, err := gameFromFEN(def.RootFEN)
	if err != nil {
		report("", "root", IssueIllegalMove, err.Error())
		return issues
	}
	if fix && strings.TrimSpace(def.RootFEN) == "" {
		def.RootFEN = root.FEN()
	}

	var walk func(game *nchess.Game, specs []NodeSpec, path string)
	walk = func(game *nchess.Game, specs []NodeSpec, path string) {
		for i := range specs {
			spec := &specs[i]
			here := joinPath(path, spec.SAN)
			child, san, err := applySAN(game, spec.SAN)
			if err != nil {
				report("", here, IssueIllegalMove, err.Error())
				continue
			}
			checkFEN(spec.FEN, child.FEN(), func(detail string) { report("", here, IssueFENMismatch, detail) })
			if fix {
				spec.SAN = san
				spec.FEN = child.FEN()
				spec.EngineResponses = canonicalResponses(child, spec.EngineResponses)
			}
			checkResponses(spec.EngineResponses, spec.ResponseWeights, childSANs(child, spec.Children), func(kind, detail string) {
				report("", here, kind, detail)
			})
			walk(child, spec.Children, here)
		}
	}
	if fix {
		def.RootResponses = canonicalResponses(root, def.RootResponses)
	}
	checkResponses(def.RootResponses, def.RootWeights, childSANs(root, def.Moves), func(kind, detail string) {
		report("", "root", kind, detail)
	})
	walk(root, def.Moves, "")

	for d := range def.Defenses {
		defense := &def.Defenses[d]
		var walkDefense func(game *nchess.Game, specs []DefenseNodeSpec, path string)
		walkDefense = func(game *nchess.Game, specs []DefenseNodeSpec, path string) {
			seen := make(map[string]bool, len(specs))
			for i := range specs {
				spec := &specs[i]
				here := joinPath(path, spec.SAN)
				child, san, err := applySAN(game, spec.SAN)
				if err != nil {
					report(defense.ID, here, IssueIllegalMove, err.Error())
					continue
				}
				if seen[san] {
					report(defense.ID, here, IssueDuplicateChild, san)
				}
				seen[san] = true
				if fix {
					spec.SAN = san
				}
				checkFEN(spec.FEN, child.FEN(), func(detail string) { report(defense.ID, here, IssueFENMismatch, detail) })
				if fix {
					spec.FEN = child.FEN()
				}
				walkDefense(child, spec.Children, here)
			}
		}
		walkDefense(root, defense.Nodes, "")
	}
	return issues
}

func gameFromFEN(fen string) (*nchess.Game, error) {
	if strings.TrimSpace(fen) == "" {
		return nchess.NewGame(), nil
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parse fen %q: %w", fen, err)
	}
	return nchess.NewGame(opt), nil
}

// applySAN returns a clone of game after san and the engine's canonical SAN.
func applySAN(game *nchess.Game, san string) (*nchess.Game, string, error) {
	pos := game.Position()
	notation := nchess.AlgebraicNotation{}
	mv, err := notation.Decode(pos, strings.TrimSpace(san))
	if err != nil {
		return nil, "", fmt.Errorf("decode %q: %w", san, err)
	}
	canonical := notation.Encode(pos, mv)
	child := game.Clone()
	if err := child.Move(mv, nil); err != nil {
		return nil, "", fmt.Errorf("apply %q: %w", san, err)
	}
	return child, canonical, nil
}

func canonicalResponses(game *nchess.Game, responses []string) []string {
	if len(responses) == 0 {
		return responses
	}
	out := make([]string, len(responses))
	for i, resp := range responses {
		out[i] = resp
		if _, san, err := applySAN(game, resp); err == nil {
			out[i] = san
		}
	}
	return out
}

func childSANs(game *nchess.Game, children []NodeSpec) []string {
	out := make([]string, 0, len(children))
	for _, c := range children {
		if _, san, err := applySAN(game, c.SAN); err == nil {
			out = append(out, san)
		} else {
			out = append(out, c.SAN)
		}
	}
	return out
}

func checkFEN(authored, replayed string, report func(string)) {
	if strings.TrimSpace(authored) == "" {
		return
	}
	if fenKey(authored) != fenKey(replayed) {
		report(fmt.Sprintf("authored %q, replayed %q", authored, replayed))
	}
}

// fenKey drops the en-passant field, which rules engines disagree on.
func fenKey(fen string) string {
	fields := strings.Fields(fen)
	if len(fields) >= 4 {
		fields = append(fields[:3:3], fields[4:]...)
	}
	return strings.Join(fields, " ")
}

func checkResponses(responses []string, weights []float64, children []string, report func(kind, detail string)) {
	if len(weights) > 0 && len(weights) != len(responses) {
		report(IssueWeightCount, fmt.Sprintf("%d responses, %d weights", len(responses), len(weights)))
	}
	for _, resp := range responses {
		n := 0
		for _, c := range children {
			if c == resp {
				n++
			}
		}
		switch {
		case n == 0:
			report(IssueMissingChild, resp)
		case n > 1:
			report(IssueDuplicateChild, resp)
		}
	}
}

func joinPath(path, san string) string {
	if path == "" {
		return san
	}
	return path + " " + san
}

func cloneDefinition(def *Definition) *Definition {
	if def == nil {
		return nil
	}
	data, err := json.Marshal(def)
	if err != nil {
		return def
	}
	out := &Definition{}
	if err := json.Unmarshal(data, out); err != nil {
		return def
	}
	return out
}
