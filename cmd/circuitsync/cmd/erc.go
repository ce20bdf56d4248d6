package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/circuit-synth/circuitsync/internal/config"
	"github.com/circuit-synth/circuitsync/pkg/kicad/cli"
	"github.com/circuit-synth/circuitsync/pkg/kicad/erc"
)

var ercReportFile string

var ercCmd = &cobra.Command{
	Use:   "erc <schematic_file>",
	Short: "Run the electrical rule check and summarize the report",
	Long: `Run kicad-cli's electrical rule check on a schematic and print a
parsed summary of the violations. Requires kicad-cli on PATH or a
configured tool binary.

Exit codes:
  0  no errors (warnings allowed)
  2  the report contains errors
  1  the check could not run`,
	Args: cobra.ExactArgs(1),
	RunE: runERC,
}

func init() {
	rootCmd.AddCommand(ercCmd)
	ercCmd.Flags().StringVarP(&ercReportFile, "output", "o", "", "keep the raw report at this path")
}

func runERC(cmd *cobra.Command, args []string) error {
	schematicFile := args[0]
	cfg, err := loadConfig(schematicFile)
	if err != nil {
		return err
	}
	runner := runnerFromConfig(cfg)
	if !runner.Available() {
		return fmt.Errorf("%s not found on PATH", cli.DefaultBinary)
	}

	reportFile := ercReportFile
	if reportFile == "" {
		tmp, err := os.MkdirTemp("", "circuitsync-erc")
		if err != nil {
			return err
		}
		defer os.RemoveAll(tmp)
		reportFile = filepath.Join(tmp, "erc.rpt")
	}

	if err := runner.ERC(context.Background(), schematicFile, reportFile); err != nil {
		return fmt.Errorf("erc run failed: %w", err)
	}

	parser, err := erc.NewParser()
	if err != nil {
		return err
	}
	report, err := parser.ParseFile(reportFile)
	if err != nil {
		return fmt.Errorf("parsing report: %w", err)
	}

	printReport(report)
	if report.ErrorCount() > 0 {
		os.Exit(2)
	}
	return nil
}

func printReport(report *erc.Report) {
	for _, sheet := range report.Sheets {
		if len(sheet.Violations) == 0 {
			continue
		}
		fmt.Printf("Sheet %s:\n", sheet.Path)
		for _, v := range sheet.Violations {
			fmt.Printf("  [%s] %s: %s\n", v.Severity, v.Code, v.Message)
			for _, loc := range v.Locations {
				fmt.Printf("    at (%.2f, %.2f) %s\n", loc.X, loc.Y, loc.Detail)
			}
		}
	}
	fmt.Printf("ERC: %d errors, %d warnings\n", report.ErrorCount(), report.WarningCount())
}

func runnerFromConfig(cfg *config.Config) *cli.Runner {
	return &cli.Runner{
		Binary:  cfg.Tool.Binary,
		Timeout: time.Duration(cfg.Tool.Timeout),
	}
}
