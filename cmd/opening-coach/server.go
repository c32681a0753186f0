package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/park285/cheese-opening-coach/internal/commentary"
	"github.com/park285/cheese-opening-coach/internal/msgcat"
	"github.com/park285/cheese-opening-coach/internal/obslog"
)

func newCommentaryServerCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "commentary-server",
		Short: "Serve LLM move commentary over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := obslog.Named("commentary")
			messages, err := msgcat.New(cfg.MessagesDir)
			if err != nil {
				return err
			}

			var gen commentary.Generator
			if cfg.OpenAIAPIKey != "" {
				g, err := commentary.NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIModel)
				if err != nil {
					return err
				}
				gen = g
			} else {
				logger.Warn("OPENAI_API_KEY not set; requests will be answered with a configuration error")
			}

			if addr == "" {
				addr = cfg.CommentaryListenAddr
			}
			srv := commentary.NewServer(gen, commentary.ServerConfig{
				RateLimit:  cfg.CommentaryRateLimit,
				RateWindow: cfg.CommentaryRateWindow,
				Timeout:    cfg.CommentaryTimeout,
				Messages:   messages,
				Logger:     logger,
			})

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := srv.ListenAndServe(ctx, addr); err != nil {
				return err
			}
			logger.Info("commentary server stopped", zap.String("addr", addr))
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default COMMENTARY_LISTEN_ADDR)")
	return cmd
}
