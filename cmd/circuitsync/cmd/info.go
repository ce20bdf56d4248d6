package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/circuit-synth/circuitsync/pkg/circuit"
	"github.com/circuit-synth/circuitsync/pkg/sync"
)

var infoCmd = &cobra.Command{
	Use:   "info <schematic_file> [reference]",
	Short: "Show the circuit graph imported from a schematic",
	Long: `Display the canonical circuit graph resolved from a schematic
hierarchy.

Without reference: shows a hierarchy and net summary
With reference: shows details for that specific component`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	g, err := sync.Import(args[0])
	if err != nil {
		return fmt.Errorf("importing schematic: %w", err)
	}
	if len(args) >= 2 {
		return showComponent(g, args[1])
	}
	showGraphSummary(g, args[0])
	return nil
}

func showGraphSummary(g *circuit.Graph, filename string) {
	fmt.Printf("Project: %s\n", filename)
	fmt.Printf("Sheets: %d  Components: %d  Nets: %d\n\n",
		len(g.Sheets), len(g.Components), len(g.Nets))

	fmt.Println("Hierarchy:")
	for _, s := range g.Sheets {
		indent := strings.Repeat("  ", strings.Count(s.Path, "/"))
		fmt.Printf("%s%s (%s): %d components, %d ports\n",
			indent, s.Path, s.File, len(s.Components), len(s.Ports))
	}
	fmt.Println()

	// Group references by prefix
	byPrefix := make(map[string][]string)
	for _, c := range g.Components {
		prefix := refPrefix(c.Reference)
		byPrefix[prefix] = append(byPrefix[prefix], c.Reference)
	}
	var prefixes []string
	for p := range byPrefix {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)
	if len(prefixes) > 0 {
		fmt.Println("Components:")
		for _, p := range prefixes {
			refs := byPrefix[p]
			sort.Strings(refs)
			fmt.Printf("  %s: %s\n", p, strings.Join(refs, ", "))
		}
		fmt.Println()
	}

	fmt.Println("Nets:")
	nets := make([]*circuit.Net, len(g.Nets))
	copy(nets, g.Nets)
	sort.Slice(nets, func(i, j int) bool { return nets[i].Name < nets[j].Name })
	for _, n := range nets {
		var members []string
		for _, m := range n.Members {
			members = append(members, m.String())
		}
		fmt.Printf("  %-20s [%s] %s\n", n.Name, n.Scope, strings.Join(members, " "))
	}
}

func showComponent(g *circuit.Graph, ref string) error {
	for _, c := range g.Components {
		if c.Reference != ref {
			continue
		}
		fmt.Printf("Component: %s\n", c.Reference)
		fmt.Printf("Library: %s\n", c.LibID)
		fmt.Printf("Value: %s\n", c.Value)
		if c.Footprint != "" {
			fmt.Printf("Footprint: %s\n", c.Footprint)
		}
		fmt.Printf("Position: (%.2f, %.2f)", c.Position.X, c.Position.Y)
		if c.Rotation != 0 {
			fmt.Printf(" rotated %d", c.Rotation)
		}
		fmt.Println()
		if c.Token != "" {
			fmt.Printf("Token: %s\n", c.Token)
		}
		if len(c.Pins) > 0 {
			fmt.Println("Pins:")
			for _, p := range c.Pins {
				fmt.Printf("  %s (%s) %s\n", p.Number, p.Name, p.Direction)
			}
		}
		return nil
	}
	return fmt.Errorf("component %q not found", ref)
}

func refPrefix(ref string) string {
	for i, c := range ref {
		if c >= '0' && c <= '9' {
			return ref[:i]
		}
	}
	return ref
}
