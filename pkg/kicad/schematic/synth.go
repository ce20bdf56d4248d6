package schematic

import (
	"github.com/circuit-synth/circuitsync/pkg/kicad/sexp"
)

// Synthesis of new schematic subtrees. Generated nodes are inserted before
// the sheet_instances block so the file keeps KiCad's customary section
// order.

// NewSchematic builds an empty schematic document.
func NewSchematic(uuid, paper string) *Schematic {
	root := sexp.NewList("kicad_sch",
		sexp.NewList("version", sexp.NewInt(20250114)),
		sexp.NewList("generator", sexp.NewString("circuitsync")),
		sexp.NewList("uuid", sexp.NewString(uuid)),
		sexp.NewList("paper", sexp.NewString(paper)),
		sexp.NewList("lib_symbols"),
		sexp.NewList("sheet_instances",
			sexp.NewList("path", sexp.NewString("/"),
				sexp.NewList("page", sexp.NewString("1")))),
	)
	sexp.Layout(root, 0)
	doc := sexp.NewDocument(root)

	return &Schematic{
		Doc:       doc,
		Version:   20250114,
		Generator: "circuitsync",
		UUID:      uuid,
		Paper:     paper,
	}
}

// insert places a synthesized top-level element before sheet_instances.
func (s *Schematic) insert(n *sexp.Node) {
	root := s.Doc.Root()
	idx := len(root.Children)
	for i, c := range root.Children {
		if c.IsList() && c.Name() == "sheet_instances" {
			idx = i
			break
		}
	}
	sexp.Layout(n, 1)
	root.InsertChild(idx, n, sexp.Indent(1))
}

// AddSymbol synthesizes a symbol instance subtree and registers it.
func (s *Schematic) AddSymbol(inst *SymbolInstance, pins []LibPin) *SymbolInstance {
	n := sexp.NewList("symbol",
		sexp.NewList("lib_id", sexp.NewString(inst.LibID)),
		sexp.NewAt(inst.Position, inst.Angle),
		sexp.NewList("unit", sexp.NewInt(inst.Unit)),
		sexp.NewList("in_bom", sexp.NewSymbol("yes")),
		sexp.NewList("on_board", sexp.NewSymbol("yes")),
		sexp.NewList("uuid", sexp.NewString(inst.UUID)),
	)
	n.AppendChild(propertyNode("Reference", inst.Reference,
		Position{X: inst.Position.X + 2.54, Y: inst.Position.Y - 1.27}, false), "")
	n.AppendChild(propertyNode("Value", inst.Value,
		Position{X: inst.Position.X + 2.54, Y: inst.Position.Y + 1.27}, false), "")
	n.AppendChild(propertyNode("Footprint", inst.Footprint,
		inst.Position, true), "")
	for _, pin := range pins {
		n.AppendChild(sexp.NewList("pin", sexp.NewString(pin.Number)), "")
	}

	s.insert(n)
	inst.Node = n
	s.Symbols = append(s.Symbols, inst)
	return inst
}

func propertyNode(key, value string, pos Position, hide bool) *sexp.Node {
	effects := sexp.NewList("effects",
		sexp.NewList("font",
			sexp.NewList("size", sexp.NewNumber(1.27), sexp.NewNumber(1.27))))
	if hide {
		effects.AppendChild(sexp.NewList("hide", sexp.NewSymbol("yes")), "")
	}
	return sexp.NewList("property",
		sexp.NewString(key), sexp.NewString(value),
		sexp.NewAt(pos, 0),
		effects,
	)
}

// AddWire synthesizes a wire segment between two points.
func (s *Schematic) AddWire(start, end Position, uuid string) *Wire {
	n := sexp.NewList("wire",
		sexp.NewList("pts", sexp.NewXY(start), sexp.NewXY(end)),
		sexp.NewList("stroke",
			sexp.NewList("width", sexp.NewInt(0)),
			sexp.NewList("type", sexp.NewSymbol("default"))),
		sexp.NewList("uuid", sexp.NewString(uuid)),
	)
	s.insert(n)
	w := &Wire{Node: n, Start: start, End: end, UUID: uuid}
	s.Wires = append(s.Wires, w)
	return w
}

// AddJunction synthesizes a junction marker.
func (s *Schematic) AddJunction(pos Position, uuid string) *Junction {
	n := sexp.NewList("junction",
		sexp.NewAt(pos, 0),
		sexp.NewList("diameter", sexp.NewInt(0)),
		sexp.NewList("color", sexp.NewInt(0), sexp.NewInt(0), sexp.NewInt(0), sexp.NewInt(0)),
		sexp.NewList("uuid", sexp.NewString(uuid)),
	)
	s.insert(n)
	j := &Junction{Node: n, Position: pos, UUID: uuid}
	s.Junctions = append(s.Junctions, j)
	return j
}

// AddLabel synthesizes a local net label.
func (s *Schematic) AddLabel(text string, pos Position, uuid string) *Label {
	n := labelNode("label", text, pos, uuid)
	s.insert(n)
	l := &Label{Node: n, Text: text, Position: pos, UUID: uuid}
	s.Labels = append(s.Labels, l)
	return l
}

// AddGlobalLabel synthesizes a global (power-scope) label.
func (s *Schematic) AddGlobalLabel(text string, pos Position, uuid string) *Label {
	n := labelNode("global_label", text, pos, uuid)
	n.InsertChild(2, sexp.NewList("shape", sexp.NewSymbol("input")), " ")
	s.insert(n)
	l := &Label{Node: n, Text: text, Position: pos, UUID: uuid}
	s.GlobalLabels = append(s.GlobalLabels, l)
	return l
}

func labelNode(kind, text string, pos Position, uuid string) *sexp.Node {
	return sexp.NewList(kind,
		sexp.NewString(text),
		sexp.NewAt(pos, 0),
		sexp.NewList("effects",
			sexp.NewList("font",
				sexp.NewList("size", sexp.NewNumber(1.27), sexp.NewNumber(1.27)))),
		sexp.NewList("uuid", sexp.NewString(uuid)),
	)
}

// AddHierLabel synthesizes a hierarchical label on this sheet.
func (s *Schematic) AddHierLabel(text, shape string, pos Position, uuid string) *HierLabel {
	n := sexp.NewList("hierarchical_label",
		sexp.NewString(text),
		sexp.NewList("shape", sexp.NewSymbol(shape)),
		sexp.NewAt(pos, 0),
		sexp.NewList("effects",
			sexp.NewList("font",
				sexp.NewList("size", sexp.NewNumber(1.27), sexp.NewNumber(1.27)))),
		sexp.NewList("uuid", sexp.NewString(uuid)),
	)
	s.insert(n)
	h := &HierLabel{Node: n, Text: text, Shape: shape, Position: pos, UUID: uuid}
	s.HierLabels = append(s.HierLabels, h)
	return h
}

// AddSheet synthesizes a sheet-symbol instance referencing a child sheet
// file.
func (s *Schematic) AddSheet(name, file string, pos Position, w, h float64, uuid string) *SheetRef {
	n := sexp.NewList("sheet",
		sexp.NewAt(pos, 0),
		sexp.NewList("size", sexp.NewNumber(w), sexp.NewNumber(h)),
		sexp.NewList("stroke",
			sexp.NewList("width", sexp.NewNumber(0.1524)),
			sexp.NewList("type", sexp.NewSymbol("solid"))),
		sexp.NewList("fill", sexp.NewList("color", sexp.NewInt(0), sexp.NewInt(0), sexp.NewInt(0), sexp.NewInt(0))),
		sexp.NewList("uuid", sexp.NewString(uuid)),
		propertyNode("Sheetname", name, pos, false),
		propertyNode("Sheetfile", file, Position{X: pos.X, Y: pos.Y + h + 1.27}, false),
	)
	s.insert(n)
	sh := &SheetRef{Node: n, Name: name, File: file, Position: pos, Width: w, Height: h, UUID: uuid}
	s.Sheets = append(s.Sheets, sh)
	return sh
}

// AddSheetPin synthesizes a hierarchical pin on the border of an existing
// sheet symbol.
func (sh *SheetRef) AddSheetPin(name, shape string, pos Position, uuid string) *SheetPin {
	n := sexp.NewList("pin",
		sexp.NewString(name), sexp.NewSymbol(shape),
		sexp.NewAt(pos, 0),
		sexp.NewList("effects",
			sexp.NewList("font",
				sexp.NewList("size", sexp.NewNumber(1.27), sexp.NewNumber(1.27)))),
		sexp.NewList("uuid", sexp.NewString(uuid)),
	)
	sexp.Layout(n, sh.Node.Depth()+1)
	sh.Node.AppendChild(n, sexp.Indent(sh.Node.Depth()+1))
	pin := &SheetPin{Node: n, Name: name, Shape: shape, Position: pos, UUID: uuid}
	sh.Pins = append(sh.Pins, pin)
	return pin
}

// EnsureLibSymbol adds a minimal library symbol definition when the sheet
// does not embed one yet. The stub carries the pin set so connectivity can
// be rebuilt from the file; users typically relink the full drawing from
// their library in the EDA tool.
func (s *Schematic) EnsureLibSymbol(name string, pins []LibPin) *LibSymbol {
	if ls := s.LibSymbol(name); ls != nil {
		return ls
	}

	n := sexp.NewList("symbol", sexp.NewString(name),
		sexp.NewList("pin_numbers", sexp.NewList("hide", sexp.NewSymbol("yes"))),
		sexp.NewList("pin_names", sexp.NewList("offset", sexp.NewNumber(0))),
		sexp.NewList("exclude_from_sim", sexp.NewSymbol("no")),
		sexp.NewList("in_bom", sexp.NewSymbol("yes")),
		sexp.NewList("on_board", sexp.NewSymbol("yes")),
	)
	for _, p := range pins {
		pinNode := sexp.NewList("pin",
			sexp.NewSymbol(orDefault(p.Type, "passive")),
			sexp.NewSymbol("line"),
			sexp.NewAt(p.Position, p.Angle),
			sexp.NewList("length", sexp.NewNumber(orDefaultF(p.Length, 2.54))),
			sexp.NewList("name", sexp.NewString(p.Name)),
			sexp.NewList("number", sexp.NewString(p.Number)),
		)
		n.AppendChild(pinNode, "")
	}

	root := s.Doc.Root()
	libs, ok := root.Find("lib_symbols")
	if !ok {
		libs = sexp.NewList("lib_symbols")
		root.InsertChild(0, libs, sexp.Indent(1))
	}
	sexp.Layout(n, libs.Depth()+1)
	libs.AppendChild(n, sexp.Indent(libs.Depth()+1))

	ls := &LibSymbol{Node: n, Name: name, Pins: pins}
	s.LibSymbols = append(s.LibSymbols, ls)
	return ls
}

// RemoveSymbol deletes a symbol instance subtree.
func (s *Schematic) RemoveSymbol(sym *SymbolInstance) {
	sym.Node.Detach()
	s.Symbols = removeElem(s.Symbols, sym)
}

// RemoveWire deletes a wire segment.
func (s *Schematic) RemoveWire(w *Wire) {
	w.Node.Detach()
	s.Wires = removeElem(s.Wires, w)
}

// RemoveJunction deletes a junction marker.
func (s *Schematic) RemoveJunction(j *Junction) {
	j.Node.Detach()
	s.Junctions = removeElem(s.Junctions, j)
}

// RemoveLabel deletes a local or global label.
func (s *Schematic) RemoveLabel(l *Label) {
	l.Node.Detach()
	s.Labels = removeElem(s.Labels, l)
	s.GlobalLabels = removeElem(s.GlobalLabels, l)
}

// RemoveHierLabel deletes a hierarchical label.
func (s *Schematic) RemoveHierLabel(h *HierLabel) {
	h.Node.Detach()
	s.HierLabels = removeElem(s.HierLabels, h)
}

// RemoveSheet deletes a sheet-symbol instance. The child sheet file it
// referenced stays on disk.
func (s *Schematic) RemoveSheet(sh *SheetRef) {
	sh.Node.Detach()
	s.Sheets = removeElem(s.Sheets, sh)
}

// RemoveSheetPin deletes a hierarchical pin from a sheet symbol.
func (sh *SheetRef) RemoveSheetPin(pin *SheetPin) {
	pin.Node.Detach()
	sh.Pins = removeElem(sh.Pins, pin)
}

func removeElem[T comparable](s []T, v T) []T {
	for i, e := range s {
		if e == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func orDefaultF(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}
