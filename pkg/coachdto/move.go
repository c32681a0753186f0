package coachdto

// Move is one applied ply with the coach's notes.
type Move struct {
	Number     int
	Side       string
	SAN        string
	UCI        string
	Source     string
	InTheory   bool
	LeftTheory bool
	Commentary string
	// EvaluationCP is set after theory ended, from White's view.
	EvaluationCP *int
	ECOCode      string
	ECOTitle     string
	Deviation    *Deviation
}

// TurnSummary covers the player's move and the opponent's reply.
type TurnSummary struct {
	State    *SessionState
	Player   *Move
	Opponent *Move
	Finished bool
	GameID   int64
}
