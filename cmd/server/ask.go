package main

import (
	"fmt"
	"strings"

	"github.com/ashureev/studyrelay/internal/agent"
	"github.com/ashureev/studyrelay/internal/domain"
	"github.com/spf13/cobra"
)

var askLanguage string

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask the answer engine one question and print the result",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, err := agent.NewProvider(cmd.Context(), agentConfig(cfg))
		if err != nil {
			return fmt.Errorf("create answer engine: %w", err)
		}
		answers := agent.NewService(provider, cfg.AI.Timeout)
		defer answers.Close()

		result := answers.Ask(cmd.Context(), strings.Join(args, " "), askLanguage)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Short:\n%s\n\nDetailed:\n%s\n", result.ShortAnswer, result.DetailedAnswer)
		if result.DiagramSource != "" {
			fmt.Fprintf(out, "\nDiagram:\n%s\n", result.DiagramSource)
		}
		if len(result.VideoLinks) > 0 {
			fmt.Fprintf(out, "\nVideos:\n%s\n", strings.Join(result.VideoLinks, "\n"))
		}
		return nil
	},
}

func init() {
	askCmd.Flags().StringVar(&askLanguage, "lang", domain.DefaultLanguage, "answer language")
	rootCmd.AddCommand(askCmd)
}
