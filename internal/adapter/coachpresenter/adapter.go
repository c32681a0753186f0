package coachpresenter

import (
	"errors"
	"strconv"
	"strings"

	"github.com/park285/cheese-opening-coach/internal/chess/openingtree"
	"github.com/park285/cheese-opening-coach/internal/coach"
	"github.com/park285/cheese-opening-coach/internal/domain"
	"github.com/park285/cheese-opening-coach/internal/service/practice"
	"github.com/park285/cheese-opening-coach/pkg/coachdto"
)

func ToDTOState(id string, s coach.State) *coachdto.SessionState {
	out := &coachdto.SessionState{
		ID:          id,
		OpeningID:   s.OpeningID,
		OpeningName: s.OpeningName,
		OpeningECO:  s.OpeningECO,
		DefenseID:   s.DefenseID,
		Mode:        string(s.Mode),
		PlayerSide:  s.PlayerSide,
		FEN:         s.FEN,
		Turn:        s.Turn,
		Phase:       string(s.Phase),
		TheoryMoves: append([]string(nil), s.TheoryMoves...),
		Commentary:  s.Commentary,
		Metrics: coachdto.Metrics{
			WhiteActivity: s.Metrics.PieceActivity.White,
			BlackActivity: s.Metrics.PieceActivity.Black,
			WhiteCenter:   s.Metrics.CenterControl.White,
			BlackCenter:   s.Metrics.CenterControl.Black,
			WhiteKing:     s.Metrics.KingSafety.White,
			BlackKing:     s.Metrics.KingSafety.Black,
			WhitePawns:    s.Metrics.PawnStructure.White,
			BlackPawns:    s.Metrics.PawnStructure.Black,
			Delta: coachdto.MetricsDelta{
				Activity:    s.Metrics.Delta.PieceActivity,
				Center:      s.Metrics.Delta.CenterControl,
				King:        s.Metrics.Delta.KingSafety,
				PawnChanged: s.Metrics.Delta.PawnStructureChanged,
			},
		},
		Deviation:   toDTODeviation(s.Deviation),
		Outcome:     s.Outcome,
		OutcomeMeta: s.Method,
	}
	for _, mv := range s.Moves {
		out.MovesSAN = append(out.MovesSAN, mv.SAN)
		out.MovesUCI = append(out.MovesUCI, mv.UCI)
		if mv.InTheory {
			out.TheoryPlies++
		}
	}
	return out
}

func ToDTOMove(m *practice.MoveOutcome) *coachdto.Move {
	if m == nil || m.Report == nil {
		return nil
	}
	r := m.Report
	return &coachdto.Move{
		Number:       moveNumber(r.Move),
		Side:         r.Move.Side,
		SAN:          r.Move.SAN,
		UCI:          r.Move.UCI,
		Source:       string(r.Source),
		InTheory:     r.Move.InTheory,
		LeftTheory:   r.LeftTheory,
		Commentary:   m.Commentary,
		EvaluationCP: m.Evaluation,
		ECOCode:      r.ECOCode,
		ECOTitle:     r.ECOTitle,
		Deviation:    toDTODeviation(r.Deviation),
	}
}

func ToDTOTurn(res *practice.PlayResult) *coachdto.TurnSummary {
	if res == nil {
		return nil
	}
	return &coachdto.TurnSummary{
		State:    ToDTOState(res.ID, res.State),
		Player:   ToDTOMove(res.Player),
		Opponent: ToDTOMove(res.Opponent),
		Finished: res.Finished,
		GameID:   res.GameID,
	}
}

// ToDTOStart maps a new or reset session; only the opponent may have moved.
func ToDTOStart(res *practice.StartResult) *coachdto.TurnSummary {
	if res == nil {
		return nil
	}
	return &coachdto.TurnSummary{
		State:    ToDTOState(res.ID, res.State),
		Opponent: ToDTOMove(res.Opponent),
	}
}

func ToDTOGame(g *domain.PracticeGame) *coachdto.PracticeGame {
	if g == nil {
		return nil
	}
	return &coachdto.PracticeGame{
		ID:           g.ID,
		SessionUUID:  g.SessionUUID,
		OpeningID:    g.OpeningID,
		DefenseID:    g.DefenseID,
		Mode:         g.Mode,
		PlayerSide:   g.PlayerSide,
		EngineElo:    g.EngineElo,
		Result:       g.Result,
		ResultMethod: g.ResultMethod,
		MovesSAN:     append([]string(nil), g.MovesSAN...),
		PGN:          g.PGN,
		TheoryPlies:  g.TheoryPlies,
		LeftBookBy:   g.LeftBookBy(),
		Transposed:   g.Transposed,
		StartedAt:    g.StartedAt,
		EndedAt:      g.EndedAt,
		Duration:     g.Duration,
	}
}

func ToDTOGames(list []*domain.PracticeGame) []*coachdto.PracticeGame {
	out := make([]*coachdto.PracticeGame, 0, len(list))
	for _, g := range list {
		if dto := ToDTOGame(g); dto != nil {
			out = append(out, dto)
		}
	}
	return out
}

func ToDTOOpenings(defs []*openingtree.Definition) []*coachdto.Opening {
	out := make([]*coachdto.Opening, 0, len(defs))
	for _, def := range defs {
		if def == nil {
			continue
		}
		o := &coachdto.Opening{
			ID:          def.ID,
			Name:        def.Name,
			ECO:         def.ECO,
			Color:       def.Color,
			Difficulty:  def.Difficulty,
			Description: def.Description,
		}
		for _, d := range def.Defenses {
			o.Defenses = append(o.Defenses, d.ID)
		}
		out = append(out, o)
	}
	return out
}

// ToDomainError maps service errors to stable codes for the command layer.
func ToDomainError(err error) coachdto.DomainError {
	switch {
	case err == nil:
		return coachdto.DomainError{}
	case errors.Is(err, practice.ErrSessionNotFound):
		return coachdto.DomainError{Code: "session_missing", Message: err.Error()}
	case errors.Is(err, coach.ErrIllegalMove):
		return coachdto.DomainError{Code: "illegal", Message: err.Error()}
	case errors.Is(err, coach.ErrOpponentPending), errors.Is(err, coach.ErrStaleResult):
		return coachdto.DomainError{Code: "pending", Message: err.Error(), Retryable: true}
	case errors.Is(err, practice.ErrEngineTimeout), errors.Is(err, practice.ErrEngineUnavailable):
		return coachdto.DomainError{Code: "engine", Message: err.Error(), Retryable: true}
	case errors.Is(err, coach.ErrGameOver):
		return coachdto.DomainError{Code: "game_over", Message: err.Error()}
	default:
		return coachdto.DomainError{Code: "internal", Message: err.Error()}
	}
}

func toDTODeviation(d *coach.DeviationEvent) *coachdto.Deviation {
	if d == nil {
		return nil
	}
	return &coachdto.Deviation{
		SAN:                d.SAN,
		Structure:          d.Structure,
		TranspositionID:    d.TranspositionID,
		TranspositionName:  d.TranspositionName,
		TranspositionColor: d.TranspositionColor,
	}
}

// moveNumber reads the full-move counter from the FEN after the move.
func moveNumber(rec coach.MoveRecord) int {
	fields := strings.Fields(rec.FEN)
	if len(fields) < 6 {
		return 0
	}
	n, err := strconv.Atoi(fields[5])
	if err != nil {
		return 0
	}
	if rec.Side == coach.SideBlack {
		n--
	}
	return n
}
