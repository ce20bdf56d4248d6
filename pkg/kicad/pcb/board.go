// Package pcb provides a typed footprint view over KiCad board files
// (.kicad_pcb). Like the schematic layer it keeps node backrefs into the
// S-expression tree, so board edits stay local and routed copper is
// never rewritten.
package pcb

import (
	"fmt"
	"os"

	"github.com/circuit-synth/circuitsync/internal/atomicfile"
	"github.com/circuit-synth/circuitsync/pkg/kicad/sexp"
)

// Board is one parsed .kicad_pcb file.
type Board struct {
	Doc *sexp.Document

	Version    int
	Generator  string
	Footprints []*Footprint
}

// Footprint is a placed footprint with its identity fields.
type Footprint struct {
	Node      *sexp.Node
	LibID     string // e.g. "Resistor_SMD:R_0603_1608Metric"
	Reference string
	Value     string
	Layer     string
	Position  sexp.Position
	Rotation  sexp.Angle
	Locked    bool
	UUID      string
	Pads      []Pad
}

// Pad is one pad with its net binding.
type Pad struct {
	Node    *sexp.Node
	Number  string
	NetCode int
	NetName string
}

// ParseFile reads and parses a board file.
func ParseFile(filename string) (*Board, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open board: %w", err)
	}
	b, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return b, nil
}

// Parse parses a board from raw bytes.
func Parse(data []byte) (*Board, error) {
	doc, err := sexp.Parse(data)
	if err != nil {
		return nil, err
	}
	root := doc.Root()
	if root == nil || root.Name() != "kicad_pcb" {
		return nil, fmt.Errorf("not a KiCad board file")
	}

	b := &Board{Doc: doc}
	if n, ok := root.Find("version"); ok {
		b.Version, _ = n.IntAt(1)
	}
	if n, ok := root.Find("generator"); ok {
		b.Generator, _ = n.AtomAt(1)
	}
	for _, n := range root.FindAll("footprint") {
		b.Footprints = append(b.Footprints, parseFootprint(n))
	}
	return b, nil
}

func parseFootprint(n *sexp.Node) *Footprint {
	fp := &Footprint{Node: n}
	fp.LibID, _ = n.AtomAt(1)
	fp.Locked = n.HasSymbol("locked")

	if at, ok := n.Find("at"); ok {
		pa, _ := sexp.GetPosition(at)
		fp.Position = pa.Position
		fp.Rotation = pa.Angle
	}
	if layer, ok := n.Find("layer"); ok {
		fp.Layer, _ = layer.AtomAt(1)
	}
	if u, ok := n.Find("uuid"); ok {
		fp.UUID, _ = u.AtomAt(1)
	}
	for _, prop := range n.FindAll("property") {
		key, _ := prop.AtomAt(1)
		value, _ := prop.AtomAt(2)
		switch key {
		case "Reference":
			fp.Reference = value
		case "Value":
			fp.Value = value
		}
	}
	for _, pad := range n.FindAll("pad") {
		p := Pad{Node: pad}
		p.Number, _ = pad.AtomAt(1)
		if net, ok := pad.Find("net"); ok {
			p.NetCode, _ = net.IntAt(1)
			p.NetName, _ = net.AtomAt(2)
		}
		fp.Pads = append(fp.Pads, p)
	}
	return fp
}

// ByReference returns the footprint carrying the given reference.
func (b *Board) ByReference(ref string) *Footprint {
	for _, fp := range b.Footprints {
		if fp.Reference == ref {
			return fp
		}
	}
	return nil
}

// NewBoard builds an empty board document.
func NewBoard(generator string) *Board {
	root := sexp.NewList("kicad_pcb",
		sexp.NewList("version", sexp.NewInt(20241229)),
		sexp.NewList("generator", sexp.NewString(generator)),
		sexp.NewList("general",
			sexp.NewList("thickness", sexp.NewNumber(1.6))),
		sexp.NewList("layers",
			sexp.NewList("0", sexp.NewString("F.Cu"), sexp.NewSymbol("signal")),
			sexp.NewList("2", sexp.NewString("B.Cu"), sexp.NewSymbol("signal")),
		),
	)
	sexp.Layout(root, 0)
	return &Board{
		Doc:       sexp.NewDocument(root),
		Version:   20241229,
		Generator: generator,
	}
}

// Bytes returns the full serialized file contents.
func (b *Board) Bytes() []byte {
	return b.Doc.Bytes()
}

// WriteFile writes the board through a temp file and rename, so routed
// copper is never lost to a partial write.
func (b *Board) WriteFile(filename string) error {
	return atomicfile.WriteFile(filename, b.Bytes(), 0o644)
}
