package coachpresenter

import (
	"fmt"
	"strings"
	"time"

	"github.com/park285/cheese-opening-coach/internal/msgcat"
	"github.com/park285/cheese-opening-coach/pkg/coachdto"
)

const (
	historyHeader  = "Recent practice games"
	openingsHeader = "Available openings"
	historyDate    = "2006-01-02 15:04"
)

// Formatter renders coach DTOs into plain text blocks.
type Formatter struct {
	messages *msgcat.Catalog
}

func NewFormatter(messages *msgcat.Catalog) *Formatter {
	if messages == nil {
		messages = msgcat.Default()
	}
	return &Formatter{messages: messages}
}

func (f *Formatter) text(key string, data any, fallback string) string {
	if f == nil {
		return fallback
	}
	return f.messages.Text(key, data, fallback)
}

// Start describes a new or reset game and the opponent's first reply, if any.
func (f *Formatter) Start(summary *coachdto.TurnSummary) string {
	if summary == nil || summary.State == nil {
		return ""
	}
	state := summary.State
	var sb strings.Builder
	sb.WriteString(f.text("coach.start", map[string]any{
		"Opening": state.OpeningName,
		"ECO":     state.OpeningECO,
		"Side":    state.PlayerSide,
		"Mode":    state.Mode,
		"Defense": state.DefenseID,
	}, state.OpeningName))
	if summary.Opponent != nil {
		sb.WriteString("\n")
		f.writeMove(&sb, summary.Opponent)
	}
	f.writeHint(&sb, state)
	return sb.String()
}

// Turn renders the player's move followed by the opponent's reply.
func (f *Formatter) Turn(summary *coachdto.TurnSummary) string {
	if summary == nil {
		return ""
	}
	var sb strings.Builder
	if summary.Player != nil {
		f.writeMove(&sb, summary.Player)
	}
	if summary.Opponent != nil {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		f.writeMove(&sb, summary.Opponent)
	}
	state := summary.State
	if state == nil {
		return sb.String()
	}
	if d := state.Metrics.Delta; d != (coachdto.MetricsDelta{}) {
		sb.WriteString("\n")
		sb.WriteString(f.metrics(d))
	}
	if summary.Finished {
		sb.WriteString("\n")
		sb.WriteString(f.finished(state))
		if summary.GameID > 0 {
			sb.WriteString(fmt.Sprintf("\nGame #%d saved.", summary.GameID))
		}
		return sb.String()
	}
	f.writeHint(&sb, state)
	return sb.String()
}

func (f *Formatter) Status(state *coachdto.SessionState) string {
	if state == nil {
		return f.NoSession()
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s (%s), %s, phase %s\n", state.OpeningName, state.OpeningECO, state.PlayerSide, state.Phase))
	sb.WriteString(fmt.Sprintf("FEN: %s\n", state.FEN))
	if moves := formatLine(state.MovesSAN); moves != "" {
		sb.WriteString(fmt.Sprintf("Moves: %s\n", moves))
	}
	sb.WriteString(fmt.Sprintf("In book: %d plies", state.TheoryPlies))
	if state.Commentary != "" {
		sb.WriteString("\n")
		sb.WriteString(state.Commentary)
	}
	if d := state.Deviation; d != nil {
		sb.WriteString("\n")
		sb.WriteString(f.deviation(d))
	}
	if state.Outcome != "" && state.Outcome != "*" {
		sb.WriteString("\n")
		sb.WriteString(f.finished(state))
		return sb.String()
	}
	f.writeHint(&sb, state)
	return sb.String()
}

func (f *Formatter) Openings(list []*coachdto.Opening) string {
	var sb strings.Builder
	sb.WriteString(openingsHeader)
	for _, o := range list {
		if o == nil {
			continue
		}
		sb.WriteString(fmt.Sprintf("\n• %s  %s (%s, %s)", o.ID, o.Name, o.ECO, o.Color))
		if len(o.Defenses) > 0 {
			sb.WriteString(" defenses: ")
			sb.WriteString(strings.Join(o.Defenses, ", "))
		}
	}
	return sb.String()
}

func (f *Formatter) History(games []*coachdto.PracticeGame) string {
	if len(games) == 0 {
		return "No finished practice games yet."
	}
	var sb strings.Builder
	sb.WriteString(historyHeader)
	for _, g := range games {
		if g == nil {
			continue
		}
		sb.WriteString(fmt.Sprintf("\n#%d %s %s as %s, %s", g.ID, g.EndedAt.Local().Format(historyDate), g.OpeningID, g.PlayerSide, g.Result))
		if g.ResultMethod != "" && g.ResultMethod != "nomethod" {
			sb.WriteString(" (" + g.ResultMethod + ")")
		}
		sb.WriteString(fmt.Sprintf(", %d plies in book", g.TheoryPlies))
		if g.LeftBookBy != "" {
			sb.WriteString(", left by " + g.LeftBookBy)
		}
		if g.Transposed != "" {
			sb.WriteString(", transposed from " + g.Transposed)
		}
		if g.Duration > 0 {
			sb.WriteString(", " + g.Duration.Round(time.Second).String())
		}
	}
	return sb.String()
}

// Error maps a domain error to the user-facing message.
func (f *Formatter) Error(derr coachdto.DomainError, input string) string {
	switch derr.Code {
	case "session_missing":
		return f.NoSession()
	case "pending":
		return f.text("coach.pending", nil, "The opponent is still thinking.")
	case "illegal":
		return f.text("coach.illegal", map[string]any{"Move": input}, "Illegal move: "+input)
	case "game_over":
		return "The game is over. Use `reset` or `end`."
	case "engine":
		return "The engine did not answer. Use `retry` to ask again."
	default:
		return derr.Error()
	}
}

func (f *Formatter) NoSession() string {
	return f.text("coach.session_missing", nil, "No practice game is running.")
}

func (f *Formatter) Evaluation(cp int) string {
	return f.text("coach.evaluation", map[string]any{"Score": formatScore(cp)}, formatScore(cp))
}

func (f *Formatter) writeMove(sb *strings.Builder, m *coachdto.Move) {
	number := fmt.Sprintf("%d. ", m.Number)
	if m.Side == "black" {
		number = fmt.Sprintf("%d... ", m.Number)
	}
	sb.WriteString(f.text("coach.move", map[string]any{
		"Number":   number,
		"SAN":      m.SAN,
		"InTheory": m.InTheory,
	}, number+m.SAN))
	if m.ECOCode != "" {
		sb.WriteString(fmt.Sprintf(" [%s %s]", m.ECOCode, m.ECOTitle))
	}
	if m.Commentary != "" {
		sb.WriteString("\n")
		sb.WriteString(m.Commentary)
	}
	switch {
	case !m.LeftTheory, m.Deviation != nil:
	case m.Source == "":
		sb.WriteString("\n")
		sb.WriteString(f.text("coach.left_theory", nil, "You left the book."))
	default:
		sb.WriteString("\n")
		sb.WriteString(f.text("coach.book_exhausted", nil, "End of the prepared line."))
	}
	if m.Deviation != nil {
		sb.WriteString("\n")
		sb.WriteString(f.deviation(m.Deviation))
	}
	if m.EvaluationCP != nil {
		sb.WriteString("\n")
		sb.WriteString(f.Evaluation(*m.EvaluationCP))
	}
}

func (f *Formatter) deviation(d *coachdto.Deviation) string {
	structure := d.Structure
	if structure == "" {
		structure = "unclassified"
	}
	out := f.text("coach.deviation", map[string]any{"SAN": d.SAN, "Structure": structure}, "Deviation: "+d.SAN)
	if d.TranspositionID != "" {
		out += "\n" + f.text("coach.transposition", map[string]any{
			"Name": d.TranspositionName,
			"ID":   d.TranspositionID,
		}, "Transposes to "+d.TranspositionName)
	}
	return out
}

func (f *Formatter) metrics(d coachdto.MetricsDelta) string {
	return f.text("coach.metrics", map[string]any{
		"Activity":    signed(d.Activity),
		"Center":      signed(d.Center),
		"King":        signed(d.King),
		"PawnChanged": d.PawnChanged,
	}, "")
}

func (f *Formatter) finished(state *coachdto.SessionState) string {
	method := state.OutcomeMeta
	if method == "" || method == "nomethod" {
		method = "agreement"
	}
	return f.text("coach.finished", map[string]any{"Outcome": state.Outcome, "Method": method}, "Game over: "+state.Outcome)
}

func (f *Formatter) writeHint(sb *strings.Builder, state *coachdto.SessionState) {
	if state.Phase != "opening" || len(state.TheoryMoves) == 0 || state.Turn != state.PlayerSide {
		return
	}
	sb.WriteString("\n")
	sb.WriteString(f.text("coach.theory_hint", map[string]any{"Moves": strings.Join(state.TheoryMoves, ", ")}, ""))
}

func formatScore(cp int) string {
	return fmt.Sprintf("%+.2f", float64(cp)/100)
}

func signed(v int) string {
	return fmt.Sprintf("%+d", v)
}

func formatLine(san []string) string {
	if len(san) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, mv := range san {
		if i%2 == 0 {
			if i > 0 {
				sb.WriteString(" ")
			}
			sb.WriteString(fmt.Sprintf("%d. ", i/2+1))
		} else {
			sb.WriteString(" ")
		}
		sb.WriteString(mv)
	}
	return sb.String()
}
