package chess

import "testing"

func TestStrengthForElo(t *testing.T) {
	st := StrengthForElo(1500)
	if !st.LimitStrength || st.Elo != 1500 {
		t.Fatalf("1500 should use UCI_Elo, got %+v", st)
	}
	if st := StrengthForElo(5000); st.Elo != MaxLimitedElo {
		t.Fatalf("elo should be capped, got %+v", st)
	}
	cases := map[int]int{100: 0, 800: 1, 1000: 3, 1200: 7, 1319: 7}
	for elo, skill := range cases {
		st := StrengthForElo(elo)
		if st.LimitStrength || st.SkillLevel != skill {
			t.Fatalf("elo %d: got %+v, want skill %d", elo, st, skill)
		}
	}
}

func TestParseElo(t *testing.T) {
	for in, want := range map[string]int{"1200": 1200, "level3": 800, "Master": 1900, " beginner ": 600} {
		got, err := ParseElo(in)
		if err != nil || got != want {
			t.Fatalf("ParseElo(%q) = %d, %v", in, got, err)
		}
	}
	for _, in := range []string{"", "-5", "grandmaster"} {
		if _, err := ParseElo(in); err == nil {
			t.Fatalf("ParseElo(%q) should fail", in)
		}
	}
	if names := LevelNames(); len(names) != 8 || names[0] != "level1" {
		t.Fatalf("level names = %v", names)
	}
}

func TestNormalizeDepth(t *testing.T) {
	if normalizeDepth(0) != defaultSearchDepth || normalizeDepth(99) != maxSearchDepth || normalizeDepth(15) != 15 {
		t.Fatalf("unexpected depth normalization")
	}
}
