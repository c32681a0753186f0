package commentary

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/park285/cheese-opening-coach/internal/msgcat"
)

// Generator turns a prompt into commentary text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Service produces the commentary line shown after a move. It never fails:
// problems degrade to a short notice.
type Service struct {
	gen      Generator
	messages *msgcat.Catalog
	enabled  bool
	logger   *zap.Logger
}

func NewService(gen Generator, messages *msgcat.Catalog, enabled bool, logger *zap.Logger) *Service {
	if messages == nil {
		messages = msgcat.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{gen: gen, messages: messages, enabled: enabled && gen != nil, logger: logger}
}

func (s *Service) Enabled() bool { return s != nil && s.enabled }

// Comment returns book commentary when the position has it, otherwise asks
// the generator. Disabled services return "" for off-book moves.
func (s *Service) Comment(ctx context.Context, book string, in Context) string {
	if book = strings.TrimSpace(book); book != "" {
		return book
	}
	if !s.Enabled() {
		return ""
	}
	prompt, err := BuildPrompt(s.messages, in)
	if err != nil {
		s.logger.Warn("commentary prompt failed", zap.Error(err))
		return s.unavailable()
	}
	text, err := s.gen.Generate(ctx, prompt)
	switch {
	case errors.Is(err, ErrRateLimited):
		return s.messages.Text("commentary.rate_limited", nil, "Commentary limit reached. Try again in a minute.")
	case err != nil:
		s.logger.Warn("commentary request failed", zap.String("move", in.Move), zap.Error(err))
		return s.unavailable()
	case strings.TrimSpace(text) == "":
		return s.messages.Text("commentary.empty", nil, "No commentary generated.")
	}
	return strings.TrimSpace(text)
}

func (s *Service) unavailable() string {
	return s.messages.Text("commentary.unavailable", nil, "Commentary unavailable.")
}
