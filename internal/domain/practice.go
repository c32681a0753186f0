package domain

import "time"

// PracticeGame is the archived record of a finished or abandoned practice session.
type PracticeGame struct {
	ID           int64
	SessionUUID  string
	OpeningID    string
	DefenseID    string
	Mode         string
	PlayerSide   string
	EngineElo    int
	Result       string
	ResultMethod string
	MovesUCI     []string
	MovesSAN     []string
	PGN          string
	TheoryPlies  int
	DeviationSAN string
	Transposed   string
	StartedAt    time.Time
	EndedAt      time.Time
	Duration     time.Duration
}

// LeftBookBy reports who ended the theory phase, if anyone did.
func (g *PracticeGame) LeftBookBy() string {
	if g == nil {
		return ""
	}
	if g.DeviationSAN != "" {
		return "opponent"
	}
	if g.TheoryPlies < len(g.MovesUCI) {
		return "player"
	}
	return ""
}
