package commentary

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"github.com/park285/cheese-opening-coach/internal/msgcat"
)

var (
	serverRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coach_commentary_requests_total",
			Help: "Commentary endpoint requests by response status",
		},
		[]string{"status"},
	)

	generationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coach_commentary_generation_seconds",
			Help:    "Time spent waiting for the commentary model",
			Buckets: prometheus.DefBuckets,
		},
	)
)

const (
	PathCommentary = "/commentary"
	PathMetrics    = "/metrics"
	PathHealth     = "/healthz"
)

// ServerConfig configures the commentary HTTP endpoint.
type ServerConfig struct {
	RateLimit  int
	RateWindow time.Duration
	Timeout    time.Duration
	Messages   *msgcat.Catalog
	Logger     *zap.Logger
}

// Server proxies prompts to a Generator behind a per-client rate limit.
// A nil generator answers every valid request with a not-configured error.
type Server struct {
	gen      Generator
	limiter  *ipLimiter
	timeout  time.Duration
	messages *msgcat.Catalog
	logger   *zap.Logger
	metrics  fasthttp.RequestHandler
}

func NewServer(gen Generator, cfg ServerConfig) *Server {
	if cfg.Messages == nil {
		cfg.Messages = msgcat.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Server{
		gen:      gen,
		limiter:  newIPLimiter(cfg.RateLimit, cfg.RateWindow),
		timeout:  cfg.Timeout,
		messages: cfg.Messages,
		logger:   cfg.Logger,
		metrics:  fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler()),
	}
}

// Handler routes the commentary, metrics and health paths.
func (s *Server) Handler(ctx *fasthttp.RequestCtx) {
	switch string(ctx.Path()) {
	case PathCommentary, "/":
		s.handleCommentary(ctx)
	case PathMetrics:
		s.metrics(ctx)
	case PathHealth:
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &fasthttp.Server{
		Handler:      s.Handler,
		Name:         "opening-coach-commentary",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: s.timeout + 5*time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("commentary server listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		if err := srv.Shutdown(); err != nil {
			return err
		}
		return nil
	}
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleCommentary(ctx *fasthttp.RequestCtx) {
	if !ctx.IsPost() {
		s.reply(ctx, fasthttp.StatusMethodNotAllowed, "error", s.messages.Text("commentary.server.method_not_allowed", nil, "Method not allowed"))
		return
	}

	client := clientKey(ctx)
	if !s.limiter.Allow(client) {
		msg := s.messages.Text("commentary.server.too_many_requests", map[string]any{
			"Limit":  s.limiter.limit,
			"Window": s.limiter.window.String(),
		}, "Too many requests.")
		s.reply(ctx, fasthttp.StatusTooManyRequests, "error", msg)
		return
	}

	var body promptRequest
	if err := json.Unmarshal(ctx.PostBody(), &body); err != nil {
		s.reply(ctx, fasthttp.StatusBadRequest, "error", s.messages.Text("commentary.server.invalid_json", nil, "Invalid JSON"))
		return
	}
	if strings.TrimSpace(body.Prompt) == "" {
		s.reply(ctx, fasthttp.StatusBadRequest, "error", s.messages.Text("commentary.server.missing_prompt", nil, "Missing prompt"))
		return
	}

	if s.gen == nil {
		s.reply(ctx, fasthttp.StatusInternalServerError, "text", s.messages.Text("commentary.server.not_configured", nil, "Commentary service not configured."))
		return
	}

	genCtx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	started := time.Now()
	text, err := s.gen.Generate(genCtx, body.Prompt)
	generationSeconds.Observe(time.Since(started).Seconds())
	if err != nil {
		s.logger.Warn("commentary generation failed", zap.String("client", client), zap.Error(err))
		status := fasthttp.StatusBadGateway
		if errors.Is(err, ErrRateLimited) {
			status = fasthttp.StatusTooManyRequests
		}
		s.reply(ctx, status, "text", s.messages.Text("commentary.server.generation_failed", nil, "Commentary generation failed."))
		return
	}
	if strings.TrimSpace(text) == "" {
		text = s.messages.Text("commentary.empty", nil, "No commentary generated.")
	}
	s.reply(ctx, fasthttp.StatusOK, "text", text)
}

func (s *Server) reply(ctx *fasthttp.RequestCtx, status int, field, msg string) {
	serverRequests.WithLabelValues(fasthttp.StatusMessage(status)).Inc()
	payload, _ := json.Marshal(map[string]string{field: msg})
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(payload)
}

// clientKey prefers the first X-Forwarded-For entry over the socket address.
func clientKey(ctx *fasthttp.RequestCtx) string {
	if fwd := string(ctx.Request.Header.Peek("X-Forwarded-For")); fwd != "" {
		if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); first != "" {
			return first
		}
	}
	if ip := ctx.RemoteIP(); ip != nil {
		return ip.String()
	}
	return "unknown"
}
