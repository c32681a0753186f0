package coachpresenter

import (
	"strings"

	"github.com/park285/cheese-opening-coach/pkg/coachdto"
)

// Presenter delivers formatted messages without coupling to the command layer.
type Presenter struct {
	formatter   *Formatter
	sendMessage func(message string) error
}

func NewPresenter(formatter *Formatter, sendMessage func(message string) error) *Presenter {
	if formatter == nil {
		formatter = NewFormatter(nil)
	}
	return &Presenter{formatter: formatter, sendMessage: sendMessage}
}

func (p *Presenter) Formatter() *Formatter {
	if p == nil {
		return nil
	}
	return p.formatter
}

func (p *Presenter) Send(message string) error {
	if p == nil || p.sendMessage == nil {
		return nil
	}
	if strings.TrimSpace(message) == "" {
		return nil
	}
	return p.sendMessage(message)
}

func (p *Presenter) Start(summary *coachdto.TurnSummary) error {
	return p.Send(p.formatter.Start(summary))
}

// Turn sends what was applied before reporting err, so a player move that
// went through is shown even when the opponent failed to reply.
func (p *Presenter) Turn(summary *coachdto.TurnSummary, err error, input string) error {
	if summary != nil {
		if sendErr := p.Send(p.formatter.Turn(summary)); sendErr != nil {
			return sendErr
		}
	}
	if err != nil {
		return p.Error(err, input)
	}
	return nil
}

func (p *Presenter) Status(state *coachdto.SessionState) error {
	return p.Send(p.formatter.Status(state))
}

func (p *Presenter) Error(err error, input string) error {
	if err == nil {
		return nil
	}
	return p.Send(p.formatter.Error(ToDomainError(err), input))
}
