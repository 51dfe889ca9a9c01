// Package main is the entry point for the tablevec CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tablevec/tablevec/internal/config"
)

// Version information set via ldflags during build.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tablevec",
		Short: "Tablevec embedding server",
		Long:  `Tablevec generates, stores, and analyzes embeddings of tabular data, and answers natural language questions over uploaded tables.`,
	}

	cmd.AddCommand(serveCmd())
	cmd.AddCommand(versionCmd())

	return cmd
}

// loadConfig loads configuration from a .env file and environment variables.
func loadConfig(envFile string) (config.AppConfig, error) {
	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		return config.AppConfig{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
