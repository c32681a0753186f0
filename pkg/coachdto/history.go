package coachdto

import "time"

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
	MovesSAN     []string
	PGN          string
	TheoryPlies  int
	LeftBookBy   string
	Transposed   string
	StartedAt    time.Time
	EndedAt      time.Time
	Duration     time.Duration
}

// Opening is a catalog entry as listed to the player.
type Opening struct {
	ID          string
	Name        string
	ECO         string
	Color       string
	Difficulty  string
	Description string
	Defenses    []string
}
