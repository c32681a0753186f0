package coachdto

// Metrics is the latest positional snapshot, scored per side.
type Metrics struct {
	WhiteActivity int
	BlackActivity int
	WhiteCenter   int
	BlackCenter   int
	WhiteKing     int
	BlackKing     int
	WhitePawns    string
	BlackPawns    string
	Delta         MetricsDelta
}

// MetricsDelta is the change for the player's side after the last move.
type MetricsDelta struct {
	Activity    int
	Center      int
	King        int
	PawnChanged bool
}

type Deviation struct {
	SAN                string
	Structure          string
	TranspositionID    string
	TranspositionName  string
	TranspositionColor string
}

type SessionState struct {
	ID          string
	OpeningID   string
	OpeningName string
	OpeningECO  string
	DefenseID   string
	Mode        string
	PlayerSide  string
	FEN         string
	Turn        string
	Phase       string
	MovesSAN    []string
	MovesUCI    []string
	TheoryPlies int
	TheoryMoves []string
	Commentary  string
	Metrics     Metrics
	Deviation   *Deviation
	Outcome     string
	OutcomeMeta string
}
