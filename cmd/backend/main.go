// Package main provides the entry point for the shortlink service.
package main

import (
	lg "log"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"shortlink/internal/config"
	"shortlink/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "shortlink",
	Short: "URL shortener service",
	Example: `shortlink serve
shortlink migrate
shortlink reap`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reapCmd())
	rootCmd.SetHelpCommand(&cobra.Command{Use: "no-help", Hidden: true})

	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	cobra.EnableCommandSorting = false
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// bootstrap loads configuration and builds the logger shared by every command.
func bootstrap() (*config.Config, *zap.Logger, func()) {
	cfg := config.MustLoad()
	log := logger.New(cfg.Env)
	return cfg, log, func() {
		if err := log.Sync(); err != nil {
			lg.Printf("ERROR: failed to sync zap logger: %v\n", err)
		}
	}
}
