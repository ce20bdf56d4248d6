package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/circuit-synth/circuitsync/pkg/kicad/netlist"
	"github.com/circuit-synth/circuitsync/pkg/sync"
)

var netlistOutput string

var netlistCmd = &cobra.Command{
	Use:   "netlist <schematic_file>",
	Short: "Export the resolved netlist of a schematic hierarchy",
	Long: `Import the schematic hierarchy, resolve its connectivity and write
a KiCad netlist. Writes to stdout unless --output is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runNetlist,
}

func init() {
	rootCmd.AddCommand(netlistCmd)
	netlistCmd.Flags().StringVarP(&netlistOutput, "output", "o", "", "output file (default stdout)")
}

func runNetlist(cmd *cobra.Command, args []string) error {
	rootFile := args[0]
	g, err := sync.Import(rootFile)
	if err != nil {
		return fmt.Errorf("importing schematic: %w", err)
	}

	out := os.Stdout
	if netlistOutput != "" {
		f, err := os.Create(netlistOutput)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	return netlist.Write(out, g, rootFile)
}
