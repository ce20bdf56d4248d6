package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/circuit-synth/circuitsync/internal/config"
	"github.com/circuit-synth/circuitsync/pkg/design"
	"github.com/circuit-synth/circuitsync/pkg/kicad/pcb"
	"github.com/circuit-synth/circuitsync/pkg/kicad/sexp"
	"github.com/circuit-synth/circuitsync/pkg/place"
	"github.com/circuit-synth/circuitsync/pkg/sync"
)

var (
	syncDryRun bool
	syncBoard  bool
)

var syncCmd = &cobra.Command{
	Use:   "sync <design_file> [schematic_file]",
	Short: "Merge a design file into a schematic hierarchy",
	Long: `Merge a YAML design file into the KiCad schematic hierarchy rooted
at schematic_file, creating it when missing. Existing layout (positions,
wires, untouched text) is preserved; only elements the design changed
are rewritten.

Exit codes:
  0  schematic already matched the design, nothing written
  2  changes were applied (or would be, with --dry-run)
  1  error`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "compute the plan without writing files")
	syncCmd.Flags().BoolVar(&syncBoard, "board", false, "also sync footprints into the configured board file")
}

func runSync(cmd *cobra.Command, args []string) error {
	designFile := args[0]

	desc, err := design.Load(designFile)
	if err != nil {
		return fmt.Errorf("loading design: %w", err)
	}

	cfg, schematicFile, err := resolveProject(args)
	if err != nil {
		return err
	}

	session := sync.NewSession(sync.Options{
		Placer: placerFromConfig(cfg),
		Logger: sessionLogger(),
		DryRun: syncDryRun,
	})
	res, err := session.SyncProject(schematicFile, desc)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	printPlanSummary(res)

	if !res.Changed {
		fmt.Println("Schematic is up to date.")
		return nil
	}
	if syncDryRun {
		fmt.Println("Dry run: no files written.")
	} else {
		fmt.Println("Changes applied.")
		if syncBoard && cfg.Project.Board != "" {
			if err := syncBoardFile(cfg, schematicFile); err != nil {
				return err
			}
		}
	}
	os.Exit(2)
	return nil
}

// resolveProject picks the schematic root from the argument list or the
// configuration, in that order.
func resolveProject(args []string) (*config.Config, string, error) {
	if len(args) >= 2 {
		cfg, err := loadConfig(args[1])
		return cfg, args[1], err
	}
	cfg, err := loadConfig(".")
	if err != nil {
		return nil, "", err
	}
	return cfg, cfg.Project.Schematic, nil
}

func placerFromConfig(cfg *config.Config) place.Placer {
	p := place.NewGridPlacer()
	if cfg.Sync.GridPitch > 0 {
		p.PitchX = cfg.Sync.GridPitch
		p.PitchY = cfg.Sync.GridPitch
	}
	if cfg.Sync.GridColumns > 0 {
		p.Columns = cfg.Sync.GridColumns
	}
	if cfg.Sync.GridOriginX > 0 || cfg.Sync.GridOriginY > 0 {
		p.Origin = sexp.Position{X: cfg.Sync.GridOriginX, Y: cfg.Sync.GridOriginY}
	}
	return p
}

func printPlanSummary(res *sync.Result) {
	fmt.Printf("Plan: %d add, %d update, %d remove, %d keep\n",
		res.Added, res.Updated, res.Removed, res.Kept)
	if !verbose {
		return
	}
	for _, d := range res.Plan.Sheets {
		if d.Action != sync.Keep {
			fmt.Printf("  sheet %-8s %s\n", d.Action, d.Path)
		}
	}
	for _, d := range res.Plan.Components {
		if d.Action == sync.Keep {
			continue
		}
		switch d.Action {
		case sync.Remove:
			fmt.Printf("  comp  %-8s %s\n", d.Action, d.Old.Reference)
		default:
			fmt.Printf("  comp  %-8s %s\n", d.Action, d.New.Reference)
		}
	}
	for _, d := range res.Plan.Nets {
		if d.Action == sync.Keep {
			continue
		}
		switch d.Action {
		case sync.Remove:
			fmt.Printf("  net   %-8s %s\n", d.Action, d.Old.Name)
		default:
			fmt.Printf("  net   %-8s %s\n", d.Action, d.New.Name)
		}
	}
	for _, d := range res.Plan.Ports {
		if d.Action != sync.Keep {
			fmt.Printf("  port  %-8s %s:%s\n", d.Action, d.ChildPath, d.Port.Name)
		}
	}
}

// syncBoardFile forwards reference/value/footprint changes to the board
// without moving anything already placed.
func syncBoardFile(cfg *config.Config, schematicFile string) error {
	g, err := sync.Import(schematicFile)
	if err != nil {
		return fmt.Errorf("re-importing schematic: %w", err)
	}
	board, err := pcb.ParseFile(cfg.Project.Board)
	if errors.Is(err, fs.ErrNotExist) {
		board = pcb.NewBoard("circuitsync")
		err = nil
	}
	if err != nil {
		return fmt.Errorf("loading board: %w", err)
	}
	res := pcb.SyncFootprints(board, g)
	if !res.Changed() {
		fmt.Println("Board is up to date.")
		return nil
	}
	if err := board.WriteFile(cfg.Project.Board); err != nil {
		return err
	}
	fmt.Printf("Board: %d footprints added, %d updated, %d removed\n",
		len(res.Added), len(res.Updated), len(res.Removed))
	return nil
}
