// Package design loads a resolved circuit description from a YAML
// design file. The file is the hand-off format between the authoring
// surface and the synchronization engine: by the time it is written,
// every subcircuit instance is expanded and every net is named.
package design

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/circuit-synth/circuitsync/pkg/circuit"
	"github.com/circuit-synth/circuitsync/pkg/kicad/sexp"
)

// fileRoot is the top-level YAML document.
type fileRoot struct {
	Circuit sheetNode `yaml:"circuit"`
}

type sheetNode struct {
	Name       string          `yaml:"name"`
	File       string          `yaml:"file,omitempty"`
	Components []componentNode `yaml:"components,omitempty"`
	Nets       []netNode       `yaml:"nets,omitempty"`
	Ports      []portNode      `yaml:"ports,omitempty"`
	Sheets     []sheetNode     `yaml:"sheets,omitempty"`
}

type componentNode struct {
	Reference string    `yaml:"reference"`
	Value     string    `yaml:"value,omitempty"`
	Footprint string    `yaml:"footprint,omitempty"`
	Symbol    string    `yaml:"symbol"`
	Token     string    `yaml:"token,omitempty"`
	Pins      []pinNode `yaml:"pins,omitempty"`
	At        []float64 `yaml:"at,omitempty"` // x, y and optional rotation
}

type pinNode struct {
	Number    string `yaml:"number"`
	Name      string `yaml:"name,omitempty"`
	Direction string `yaml:"direction,omitempty"`
}

type netNode struct {
	Name    string   `yaml:"name"`
	Global  bool     `yaml:"global,omitempty"`
	Members []string `yaml:"members"` // "R1.2" form
}

type portNode struct {
	Net       string `yaml:"net"`
	Direction string `yaml:"direction,omitempty"`
}

// Load reads a design file and resolves it into a Description.
func Load(path string) (circuit.Description, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse resolves YAML design bytes into a Description.
func Parse(data []byte) (circuit.Description, error) {
	var root fileRoot
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("design file: %w", err)
	}
	if root.Circuit.Name == "" && len(root.Circuit.Components) == 0 && len(root.Circuit.Sheets) == 0 {
		return nil, fmt.Errorf("design file: missing circuit section")
	}
	sheet, err := convertSheet(&root.Circuit, "/")
	if err != nil {
		return nil, err
	}
	return &circuit.Design{Sheet: *sheet}, nil
}

func convertSheet(n *sheetNode, path string) (*circuit.SheetDesc, error) {
	sd := &circuit.SheetDesc{Name: n.Name, File: n.File}
	for i := range n.Components {
		cd, err := convertComponent(&n.Components[i], path)
		if err != nil {
			return nil, err
		}
		sd.Components = append(sd.Components, *cd)
	}
	for _, nn := range n.Nets {
		nd := circuit.NetDesc{Name: nn.Name, Global: nn.Global}
		for _, m := range nn.Members {
			ref, pin, ok := strings.Cut(m, ".")
			if !ok || ref == "" || pin == "" {
				return nil, fmt.Errorf("design file: net %q at %s: bad member %q, want ref.pin", nn.Name, path, m)
			}
			nd.Members = append(nd.Members, circuit.NetMember{Reference: ref, Pin: pin})
		}
		sd.Nets = append(sd.Nets, nd)
	}
	for _, p := range n.Ports {
		sd.Ports = append(sd.Ports, circuit.PortDesc{Net: p.Net, Direction: p.Direction})
	}
	for i := range n.Sheets {
		child := &n.Sheets[i]
		if child.Name == "" {
			return nil, fmt.Errorf("design file: unnamed subsheet at %s", path)
		}
		cd, err := convertSheet(child, path+child.Name+"/")
		if err != nil {
			return nil, err
		}
		sd.Children = append(sd.Children, cd)
	}
	return sd, nil
}

func convertComponent(n *componentNode, path string) (*circuit.ComponentDesc, error) {
	if n.Symbol == "" {
		return nil, fmt.Errorf("design file: component %q at %s: missing symbol", n.Reference, path)
	}
	cd := &circuit.ComponentDesc{
		Reference: n.Reference,
		Value:     n.Value,
		Footprint: n.Footprint,
		LibID:     n.Symbol,
		Token:     n.Token,
	}
	for _, p := range n.Pins {
		cd.Pins = append(cd.Pins, circuit.Pin{Number: p.Number, Name: p.Name, Direction: p.Direction})
	}
	switch len(n.At) {
	case 0:
	case 2:
		cd.Position = sexp.Position{X: n.At[0], Y: n.At[1]}
		cd.Placed = true
	case 3:
		cd.Position = sexp.Position{X: n.At[0], Y: n.At[1]}
		cd.Rotation = int(n.At[2])
		cd.Placed = true
	default:
		return nil, fmt.Errorf("design file: component %q at %s: at wants [x, y] or [x, y, rotation]", n.Reference, path)
	}
	return cd, nil
}
