// Package cmd implements the CLI commands for keysyncd.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/exmg/keysync/internal/version"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "keysyncd",
	Short:   "Secure-Sync key-publication pipeline daemon",
	Version: version.Short(),
	Long: `keysyncd drives a Secure-Sync Session against a synthetic fragment
source, exercising the Fragment Handler, Delay Queue, Polling Worker, and
Publisher Pool end to end. It is a smoke-test harness for embedders, not a
production muxer.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (YAML)")
	rootCmd.AddCommand(runCmd)
}
