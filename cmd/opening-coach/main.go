package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/park285/cheese-opening-coach/internal/config"
	"github.com/park285/cheese-opening-coach/internal/obslog"
)

var (
	cfg *config.AppConfig

	rootCmd = &cobra.Command{
		Use:           "opening-coach",
		Short:         "Practice chess openings against a book-aware engine opponent",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := obslog.InitFromEnv(); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			loaded, err := config.Load()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			cfg = loaded
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = obslog.L().Sync()
		},
	}
)

func init() {
	rootCmd.AddCommand(newPlayCmd(), newOpeningsCmd(), newVerifyCmd(), newCommentaryServerCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		obslog.L().Error("command failed", zap.Error(err))
		log.Printf("opening-coach: %v", err)
		os.Exit(1)
	}
}
