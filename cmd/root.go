// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/portward/internal/config"
)

var (
	// Global flags
	configFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "portward",
	Short: "Portward - transparent UDP destination-port redirect agent",
	Long: `Portward taps a network interface through an AF_PACKET ring and transparently
retargets IPv4/UDP datagrams addressed to a watched destination port (default 9875)
to a rewrite port (default 9876). Everything else passes through untouched.

The classifier is stateless and bounds-checked: per frame it performs at most one
in-place 2-byte mutation, never reads or writes outside the captured frame, and
fails open on any parse ambiguity.`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (built-in defaults when omitted)")
}

// loadConfig resolves the effective configuration for the current invocation.
func loadConfig() (*config.GlobalConfig, error) {
	if configFile == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", configFile, err)
	}
	return cfg, nil
}
