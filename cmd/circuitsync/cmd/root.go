package cmd

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/circuit-synth/circuitsync/internal/config"
)

var (
	// Global flags
	verbose    bool
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "circuitsync",
	Short: "circuitsync - bidirectional circuit/schematic synchronization",
	Long: `circuitsync keeps a generated circuit description and a KiCad
schematic hierarchy in sync, in both directions, without destroying
manual layout work.

Examples:
  circuitsync sync design.yaml main.kicad_sch   # Merge design into schematic
  circuitsync sync --dry-run design.yaml main.kicad_sch
  circuitsync netlist main.kicad_sch            # Export engine netlist
  circuitsync info main.kicad_sch               # Show imported graph summary
  circuitsync erc main.kicad_sch                # Run and summarize ERC`,
	Version: "0.3.0",
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "configuration file (default: circuitsync.yaml next to the schematic)")
}

// loadConfig resolves the configuration for a schematic file path.
func loadConfig(schematicFile string) (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	return config.Discover(filepath.Dir(schematicFile))
}

// sessionLogger returns the progress logger implied by --verbose.
func sessionLogger() *log.Logger {
	if verbose {
		return log.New(os.Stderr, "", 0)
	}
	return log.New(io.Discard, "", 0)
}
