package main

import (
	"fmt"

	"github.com/spf13/cobra"
	yamlv3 "gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML with secrets masked",
	RunE: func(cmd *cobra.Command, _ []string) error {
		data, err := yamlv3.Marshal(cfg.Redacted())
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
