package schematic

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/circuit-synth/circuitsync/pkg/kicad/sexp"
)

// ParseFile reads and parses a KiCad schematic file.
func ParseFile(filename string) (*Schematic, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open schematic: %w", err)
	}
	sch, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return sch, nil
}

// Parse parses a KiCad schematic from raw bytes.
func Parse(data []byte) (*Schematic, error) {
	doc, err := sexp.Parse(data)
	if err != nil {
		return nil, err
	}

	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("empty file or no valid s-expressions found")
	}
	if root.Name() != "kicad_sch" {
		return nil, fmt.Errorf("not a KiCad schematic file: expected 'kicad_sch', got '%s'", root.Name())
	}

	sch := &Schematic{Doc: doc}
	parseHeader(root, sch)

	if libs, ok := root.Find("lib_symbols"); ok {
		for _, n := range libs.FindAll("symbol") {
			sch.LibSymbols = append(sch.LibSymbols, parseLibSymbol(n))
		}
	}

	for _, n := range root.FindAll("symbol") {
		sch.Symbols = append(sch.Symbols, parseSymbolInstance(n))
	}
	for _, n := range root.FindAll("wire") {
		if w := parseWire(n); w != nil {
			sch.Wires = append(sch.Wires, w)
		}
	}
	for _, n := range root.FindAll("junction") {
		sch.Junctions = append(sch.Junctions, &Junction{
			Node:     n,
			Position: nodePosition(n),
			UUID:     nodeUUID(n),
		})
	}
	for _, n := range root.FindAll("no_connect") {
		sch.NoConnects = append(sch.NoConnects, &NoConnect{
			Node:     n,
			Position: nodePosition(n),
			UUID:     nodeUUID(n),
		})
	}
	for _, n := range root.FindAll("label") {
		sch.Labels = append(sch.Labels, parseLabel(n))
	}
	for _, n := range root.FindAll("global_label") {
		sch.GlobalLabels = append(sch.GlobalLabels, parseLabel(n))
	}
	for _, n := range root.FindAll("hierarchical_label") {
		sch.HierLabels = append(sch.HierLabels, parseHierLabel(n))
	}
	for _, n := range root.FindAll("sheet") {
		sch.Sheets = append(sch.Sheets, parseSheetRef(n))
	}

	return sch, nil
}

func parseHeader(root *sexp.Node, sch *Schematic) {
	if n, ok := root.Find("version"); ok {
		sch.Version, _ = n.IntAt(1)
	}
	if n, ok := root.Find("generator"); ok {
		sch.Generator, _ = n.AtomAt(1)
	}
	if n, ok := root.Find("generator_version"); ok {
		sch.GeneratorVer, _ = n.AtomAt(1)
	}
	if n, ok := root.Find("uuid"); ok {
		sch.UUID, _ = n.AtomAt(1)
	}
	if n, ok := root.Find("paper"); ok {
		sch.Paper, _ = n.AtomAt(1)
	}
}

func parseLibSymbol(n *sexp.Node) *LibSymbol {
	ls := &LibSymbol{Node: n}
	ls.Name, _ = n.AtomAt(1)

	// Pins live either directly on the symbol or inside sub-unit symbols
	// named "<name>_<unit>_<style>".
	for _, pinNode := range n.FindAll("pin") {
		ls.Pins = append(ls.Pins, parseLibPin(pinNode, 0))
	}
	for _, sub := range n.FindAll("symbol") {
		subName, _ := sub.AtomAt(1)
		unit := subUnitNumber(ls.Name, subName)
		for _, pinNode := range sub.FindAll("pin") {
			ls.Pins = append(ls.Pins, parseLibPin(pinNode, unit))
		}
	}
	return ls
}

// subUnitNumber extracts the unit from a sub-symbol name like
// "74HC00_2_1" (unit 2, body style 1).
func subUnitNumber(symName, subName string) int {
	base := symName
	if i := strings.LastIndex(base, ":"); i >= 0 {
		base = base[i+1:]
	}
	rest := strings.TrimPrefix(subName, base+"_")
	parts := strings.SplitN(rest, "_", 2)
	if len(parts) == 0 {
		return 0
	}
	unit, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0
	}
	return unit
}

func parseLibPin(n *sexp.Node, unit int) LibPin {
	pin := LibPin{Unit: unit}
	pin.Type, _ = n.AtomAt(1)

	if at, ok := n.Find("at"); ok {
		pa, _ := sexp.GetPosition(at)
		pin.Position = pa.Position
		pin.Angle = pa.Angle
	}
	if l, ok := n.Find("length"); ok {
		pin.Length, _ = l.FloatAt(1)
	}
	if name, ok := n.Find("name"); ok {
		pin.Name, _ = name.AtomAt(1)
	}
	if num, ok := n.Find("number"); ok {
		pin.Number, _ = num.AtomAt(1)
	}
	return pin
}

func parseSymbolInstance(n *sexp.Node) *SymbolInstance {
	sym := &SymbolInstance{Node: n, Unit: 1}

	if lib, ok := n.Find("lib_id"); ok {
		sym.LibID, _ = lib.AtomAt(1)
	}
	if at, ok := n.Find("at"); ok {
		pa, _ := sexp.GetPosition(at)
		sym.Position = pa.Position
		sym.Angle = pa.Angle
	}
	if m, ok := n.Find("mirror"); ok {
		sym.Mirror, _ = m.AtomAt(1)
	}
	if u, ok := n.Find("unit"); ok {
		sym.Unit, _ = u.IntAt(1)
	}
	sym.UUID = nodeUUID(n)

	for _, prop := range n.FindAll("property") {
		key, _ := prop.AtomAt(1)
		value, _ := prop.AtomAt(2)
		switch key {
		case "Reference":
			sym.Reference = value
		case "Value":
			sym.Value = value
		case "Footprint":
			sym.Footprint = value
		}
	}
	return sym
}

func parseWire(n *sexp.Node) *Wire {
	pts, ok := n.Find("pts")
	if !ok {
		return nil
	}
	xys := pts.FindAll("xy")
	if len(xys) < 2 {
		return nil
	}
	start, _ := sexp.GetXY(xys[0])
	end, _ := sexp.GetXY(xys[len(xys)-1])
	return &Wire{Node: n, Start: start, End: end, UUID: nodeUUID(n)}
}

func parseLabel(n *sexp.Node) *Label {
	l := &Label{Node: n, UUID: nodeUUID(n)}
	l.Text, _ = n.AtomAt(1)
	if at, ok := n.Find("at"); ok {
		pa, _ := sexp.GetPosition(at)
		l.Position = pa.Position
		l.Angle = pa.Angle
	}
	return l
}

func parseHierLabel(n *sexp.Node) *HierLabel {
	h := &HierLabel{Node: n, UUID: nodeUUID(n)}
	h.Text, _ = n.AtomAt(1)
	if shape, ok := n.Find("shape"); ok {
		h.Shape, _ = shape.AtomAt(1)
	}
	if at, ok := n.Find("at"); ok {
		pa, _ := sexp.GetPosition(at)
		h.Position = pa.Position
		h.Angle = pa.Angle
	}
	return h
}

func parseSheetRef(n *sexp.Node) *SheetRef {
	sh := &SheetRef{Node: n, UUID: nodeUUID(n)}

	if at, ok := n.Find("at"); ok {
		pa, _ := sexp.GetPosition(at)
		sh.Position = pa.Position
	}
	if size, ok := n.Find("size"); ok {
		sh.Width, _ = size.FloatAt(1)
		sh.Height, _ = size.FloatAt(2)
	}
	for _, prop := range n.FindAll("property") {
		key, _ := prop.AtomAt(1)
		value, _ := prop.AtomAt(2)
		switch key {
		case "Sheetname", "Sheet name":
			sh.Name = value
		case "Sheetfile", "Sheet file":
			sh.File = value
		}
	}
	for _, pinNode := range n.FindAll("pin") {
		pin := &SheetPin{Node: pinNode, UUID: nodeUUID(pinNode)}
		pin.Name, _ = pinNode.AtomAt(1)
		pin.Shape, _ = pinNode.AtomAt(2)
		if at, ok := pinNode.Find("at"); ok {
			pa, _ := sexp.GetPosition(at)
			pin.Position = pa.Position
			pin.Angle = pa.Angle
		}
		sh.Pins = append(sh.Pins, pin)
	}
	return sh
}

func nodePosition(n *sexp.Node) Position {
	if at, ok := n.Find("at"); ok {
		pa, _ := sexp.GetPosition(at)
		return pa.Position
	}
	return Position{}
}

func nodeUUID(n *sexp.Node) string {
	if u, ok := n.Find("uuid"); ok {
		s, _ := u.AtomAt(1)
		return s
	}
	return ""
}
