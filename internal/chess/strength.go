package chess

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/park285/cheese-opening-coach/internal/chess/uci"
)

const (
	// MinLimitedElo is the lowest UCI_Elo Stockfish accepts. Weaker targets are
	// approximated with Skill Level.
	MinLimitedElo = 1320
	MaxLimitedElo = 3190

	defaultThreads = 2
	defaultHashMB  = 32
)

type level struct {
	Name       string
	Elo        int
	SkillLevel int
}

// levels maps named difficulty steps to an Elo target and the Skill Level used
// when that target sits below MinLimitedElo.
var levels = []level{
	{Name: "level1", Elo: 600, SkillLevel: 0},
	{Name: "level2", Elo: 700, SkillLevel: 0},
	{Name: "level3", Elo: 800, SkillLevel: 1},
	{Name: "level4", Elo: 1000, SkillLevel: 3},
	{Name: "level5", Elo: 1200, SkillLevel: 7},
	{Name: "level6", Elo: 1400, SkillLevel: 11},
	{Name: "level7", Elo: 1650, SkillLevel: 16},
	{Name: "level8", Elo: 1900, SkillLevel: 20},
}

var levelAliases = map[string]string{
	"beginner":     "level1",
	"intermediate": "level5",
	"advanced":     "level7",
	"master":       "level8",
}

// StrengthForElo converts an Elo target into engine options.
func StrengthForElo(elo int) uci.Strength {
	if elo >= MinLimitedElo {
		if elo > MaxLimitedElo {
			elo = MaxLimitedElo
		}
		return uci.Strength{LimitStrength: true, Elo: elo, SkillLevel: 20}
	}
	skill := levels[0].SkillLevel
	for _, l := range levels {
		if elo >= l.Elo {
			skill = l.SkillLevel
		}
	}
	return uci.Strength{SkillLevel: skill}
}

// ParseElo accepts a plain rating, a level name (level1..level8) or one of
// beginner, intermediate, advanced, master.
func ParseElo(input string) (int, error) {
	v := strings.ToLower(strings.TrimSpace(input))
	if v == "" {
		return 0, fmt.Errorf("empty strength")
	}
	if n, err := strconv.Atoi(v); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("elo must be > 0: %d", n)
		}
		return n, nil
	}
	if alias, ok := levelAliases[v]; ok {
		v = alias
	}
	for _, l := range levels {
		if l.Name == v {
			return l.Elo, nil
		}
	}
	return 0, fmt.Errorf("unknown strength: %s", input)
}

// LevelNames lists the named difficulty steps in ascending order.
func LevelNames() []string {
	out := make([]string, 0, len(levels))
	for _, l := range levels {
		out = append(out, l.Name)
	}
	return out
}
