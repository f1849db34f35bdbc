/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/qrpass/apiserver/config"
	"github.com/qrpass/apiserver/internal/logging"
)

const serviceName = "qrpass-apiserver"

// version is set at build time with -ldflags "-X github.com/qrpass/apiserver/cmd.version=...".
var version = "dev"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "apiserver",
	Short:   "QR access code and identity backend",
	Version: version,
	Long: `apiserver authenticates users, issues bearer tokens and manages
QR access codes.

	apiserver server
	apiserver migrate up
	apiserver events tail --channel qr.consumed
`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the configuration and installs the process logger.
func loadConfig() (config.Config, *slog.Logger) {
	cfg := config.LoadConfig()
	logger := logging.Setup(serviceName, version, cfg.Log.Format, cfg.Log.Level, os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger
}
