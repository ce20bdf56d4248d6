package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export <format> <input_file>",
	Short: "Export manufacturing outputs via kicad-cli",
	Long: `Run kicad-cli export for a supported format.

Formats:
  pdf      schematic plot           (input: .kicad_sch)
  netlist  tool-native netlist      (input: .kicad_sch)
  bom      bill of materials CSV    (input: .kicad_sch)
  gerbers  fabrication layers      (input: .kicad_pcb, --output is a directory)
  drill    Excellon drill files    (input: .kicad_pcb, --output is a directory)
  pos      pick-and-place file     (input: .kicad_pcb)`,
	Args: cobra.ExactArgs(2),
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file or directory (required)")
	exportCmd.MarkFlagRequired("output")
}

func runExport(cmd *cobra.Command, args []string) error {
	format := strings.ToLower(args[0])
	input := args[1]
	cfg, err := loadConfig(input)
	if err != nil {
		return err
	}
	runner := runnerFromConfig(cfg)
	ctx := context.Background()

	switch format {
	case "pdf":
		err = runner.ExportPDF(ctx, input, exportOutput)
	case "netlist":
		err = runner.ExportNetlist(ctx, input, exportOutput)
	case "bom":
		err = runner.ExportBOM(ctx, input, exportOutput)
	case "gerbers":
		err = runner.ExportGerbers(ctx, input, exportOutput)
	case "drill":
		err = runner.ExportDrill(ctx, input, exportOutput)
	case "pos":
		err = runner.ExportPos(ctx, input, exportOutput)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
	if err != nil {
		return fmt.Errorf("export %s failed: %w", format, err)
	}
	fmt.Printf("Exported %s to %s\n", format, exportOutput)
	return nil
}
