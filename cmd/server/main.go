// Study relay server: forwards WhatsApp study doubts to an AI tutor.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ashureev/studyrelay/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version is set via ldflags at build time.
var Version = "dev"

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "studyrelay",
	Short: "WhatsApp study relay backed by an AI tutor",
	Long: `studyrelay receives WhatsApp Cloud API webhooks, runs each sender through
a small login and command state machine, and answers study questions with
Gemini or OpenAI.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := godotenv.Load(); err != nil {
			slog.Info("No .env file found, using environment variables")
		}
		if cfgFile == "" {
			cfgFile = os.Getenv("CONFIG_FILE")
		}

		loaded, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		cfg = loaded
		setupLogger(cfg.LogLevel)
		return nil
	},
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (default $CONFIG_FILE)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func setupLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	}))
	slog.SetDefault(logger)
}
