// Package main provides the CLI entry point for Flingr.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is set at build time
	Version = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "flingr",
		Short: "Flingr - fling a file to your own machine by activation code",
		Long: `Flingr uploads a single file over SFTP to a host identified by a short
activation code. The code is resolved through the Flingr lookup service
to the host's local and WAN addresses; the local address is tried first.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to YAML config file")
	flags.StringVarP(&opts.dataDir, "data-dir", "d", "", "Directory for history and keys (overrides config)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	flags.StringVar(&opts.logFormat, "log-format", "", "Log format: text, json (overrides config)")

	rootCmd.AddCommand(resolveCmd(opts))
	rootCmd.AddCommand(sendCmd(opts))
	rootCmd.AddCommand(registerCmd(opts))
	rootCmd.AddCommand(unregisterCmd(opts))
	rootCmd.AddCommand(historyCmd(opts))

	return rootCmd
}
