package sync

import (
	"fmt"
	"log"
	"strings"

	"github.com/circuit-synth/circuitsync/pkg/circuit"
	"github.com/circuit-synth/circuitsync/pkg/kicad/schematic"
	"github.com/circuit-synth/circuitsync/pkg/kicad/sexp"
	"github.com/circuit-synth/circuitsync/pkg/place"
)

// The merge generator applies a matcher plan onto the loaded project.
// Kept elements are never rewritten; updates edit single atoms in place;
// additions synthesize fresh subtrees; removals prune the wires, labels
// and junction markers that realized the removed connectivity, leaving
// every unrelated byte of the files untouched.

type merger struct {
	p      *Project
	prev   *circuit.Graph
	next   *circuit.Graph
	idx    *fileIndex
	plan   *Plan
	placer place.Placer
	log    *log.Logger

	prevPath map[string]string // reference -> sheet path in the previous graph
	nextPath map[string]string // reference -> sheet path in the new graph

	touched  map[string]bool // sheets needing a junction pass
	hubs     []anchoredPoint // candidate junction points from star wiring
	sheetSeq map[string]int  // parent path -> placed sheet symbols this run
	portSeq  map[string]int  // child path -> free-standing hier labels this run
}

type anchoredPoint struct {
	path string
	pos  schematic.Position
}

func applyPlan(p *Project, plan *Plan, idx *fileIndex, prev, next *circuit.Graph, placer place.Placer, logger *log.Logger) error {
	m := &merger{
		p: p, prev: prev, next: next, idx: idx, plan: plan,
		placer: placer, log: logger,
		prevPath: make(map[string]string),
		nextPath: make(map[string]string),
		touched:  make(map[string]bool),
		sheetSeq: make(map[string]int),
		portSeq:  make(map[string]int),
	}
	for _, c := range prev.Components {
		m.prevPath[c.Reference] = prev.Sheets[c.Sheet].Path
	}
	for _, c := range next.Components {
		m.nextPath[c.Reference] = next.Sheets[c.Sheet].Path
	}

	for _, d := range plan.Sheets {
		if d.Action == Add {
			if err := m.addSheet(d.New); err != nil {
				return err
			}
		}
	}
	for _, d := range plan.Components {
		if err := m.applyComponent(d); err != nil {
			return err
		}
	}
	for _, d := range plan.Nets {
		if err := m.applyNet(d); err != nil {
			return err
		}
	}
	for _, d := range plan.Ports {
		if err := m.applyPort(d); err != nil {
			return err
		}
	}
	m.fixupJunctions()
	for _, d := range plan.Sheets {
		if d.Action == Remove {
			m.removeSheet(d.Old)
		}
	}
	return nil
}

// sheetIndexFor returns the geometry index of a sheet, creating an empty
// one for sheets added this run.
func (m *merger) sheetIndexFor(path string) *sheetIndex {
	si, ok := m.idx.sheets[path]
	if !ok {
		si = &sheetIndex{
			path: path, file: m.p.Sheets[path],
			geoms:        make(map[string]*netGeom),
			wireEnds:     make(map[string]int),
			wiresThrough: make(map[string]int),
			pinsAt:       make(map[string]int),
			pinPoint:     make(map[circuit.NetMember]schematic.Position),
		}
		m.idx.sheets[path] = si
	}
	return si
}

// Sheets

func (m *merger) addSheet(s *circuit.Sheet) error {
	if s.Parent == circuit.NoSheet {
		return nil // root always exists
	}
	parentPath := m.next.Sheets[s.Parent].Path
	parent, ok := m.p.Sheets[parentPath]
	if !ok {
		return fmt.Errorf("add sheet %q: parent sheet %q not loaded", s.Path, parentPath)
	}

	token := s.Token
	if token == "" {
		token = circuit.NewToken()
	}
	k := m.sheetSeq[parentPath]
	m.sheetSeq[parentPath]++
	pos := schematic.Position{X: 152.4, Y: 25.4 + 38.1*float64(k)}

	ref := parent.Sch.AddSheet(s.Name, s.File, pos, 25.4, 20.32, token)
	sch := schematic.NewSchematic(circuit.NewToken(), "A4")

	m.p.Sheets[s.Path] = &SheetFile{
		Path:   s.Path,
		File:   s.File,
		Parent: parentPath,
		Sch:    sch,
		Ref:    ref,
	}
	m.sheetIndexFor(s.Path)
	m.log.Printf("sheet %s: created (%s)", s.Path, s.File)
	return nil
}

func (m *merger) removeSheet(s *circuit.Sheet) {
	sf, ok := m.p.Sheets[s.Path]
	if !ok {
		return
	}
	if sf.Ref != nil {
		parent := m.p.Sheets[sf.Parent]
		parent.Sch.RemoveSheet(sf.Ref)
	}
	delete(m.p.Sheets, s.Path)
	delete(m.idx.sheets, s.Path)
	m.log.Printf("sheet %s: removed", s.Path)
}

// Components

func (m *merger) applyComponent(d ComponentDecision) error {
	switch d.Action {
	case Update:
		return m.updateComponent(d.Old, d.New)
	case Add:
		return m.addComponent(d.New)
	case Remove:
		m.removeComponent(d.Old)
	}
	return nil
}

func (m *merger) updateComponent(old, new *circuit.Component) error {
	path := m.prevPath[old.Reference]
	sf := m.p.Sheets[path]
	if sf == nil {
		return fmt.Errorf("update %s: sheet %q not loaded", old.Reference, path)
	}
	for _, sym := range sf.Sch.SymbolByRef(old.Reference) {
		if sym.Reference != new.Reference {
			setProperty(sym.Node, "Reference", new.Reference)
			sym.Reference = new.Reference
		}
		if sym.Value != new.Value {
			setProperty(sym.Node, "Value", new.Value)
			sym.Value = new.Value
		}
		if sym.Footprint != new.Footprint {
			setProperty(sym.Node, "Footprint", new.Footprint)
			sym.Footprint = new.Footprint
		}
		if sym.LibID != new.LibID {
			if lib, ok := sym.Node.Find("lib_id"); ok {
				lib.SetAtom(1, new.LibID)
			}
			sym.LibID = new.LibID
		}
	}
	if old.Reference != new.Reference {
		// Net decisions name members by the new designator, but the
		// geometry index was built under the old one. Keep both keys
		// alive so removed members of the old graph still resolve.
		si := m.sheetIndexFor(path)
		renamed := make(map[circuit.NetMember]schematic.Position)
		for member, pos := range si.pinPoint {
			if member.Reference == old.Reference {
				renamed[circuit.NetMember{Reference: new.Reference, Pin: member.Pin}] = pos
			}
		}
		for member, pos := range renamed {
			si.pinPoint[member] = pos
		}
	}
	m.log.Printf("component %s: updated (%s %s)", new.Reference, new.Value, new.Footprint)
	return nil
}

// setProperty rewrites the value atom of a (property "Key" "Value" ...)
// child, adding the property when the symbol lacks it.
func setProperty(sym *sexp.Node, key, value string) {
	for _, c := range sym.FindAll("property") {
		if k, ok := c.AtomAt(1); ok && k == key {
			c.SetAtom(2, value)
			return
		}
	}
	prop := sexp.NewList("property", sexp.NewString(key), sexp.NewString(value))
	sexp.Layout(prop, sym.Depth()+1)
	sym.AppendChild(prop, sexp.Indent(sym.Depth()+1))
}

func (m *merger) addComponent(c *circuit.Component) error {
	path := m.nextPath[c.Reference]
	sf := m.p.Sheets[path]
	if sf == nil {
		return fmt.Errorf("add %s: sheet %q not loaded", c.Reference, path)
	}
	si := m.sheetIndexFor(path)

	pos := c.Position
	angle := schematic.Angle(c.Rotation)
	if !c.Placed {
		pos = m.placer.Place(c.Reference)
		angle = 0
	}

	pins := stubPins(c)
	lib := sf.Sch.EnsureLibSymbol(c.LibID, pins)

	token := c.Token
	if token == "" {
		token = circuit.NewToken()
	}
	inst := sf.Sch.AddSymbol(&schematic.SymbolInstance{
		LibID:     c.LibID,
		Reference: c.Reference,
		Value:     c.Value,
		Footprint: c.Footprint,
		Position:  pos,
		Angle:     angle,
		Unit:      1,
		UUID:      token,
	}, lib.Pins)

	for _, pin := range lib.PinsForUnit(1) {
		end := inst.PinEndpoint(pin)
		si.pinsAt[ptKey(path, end)]++
		si.pinPoint[circuit.NetMember{Reference: c.Reference, Pin: pin.Number}] = end
	}
	m.touched[path] = true
	m.log.Printf("component %s: placed at (%.2f, %.2f)", c.Reference, pos.X, pos.Y)
	return nil
}

// stubPins converts graph pins to library pins, synthesizing a left-edge
// column of offsets when the source carries none.
func stubPins(c *circuit.Component) []schematic.LibPin {
	haveOffsets := false
	for _, p := range c.Pins {
		if p.Offset != (sexp.Position{}) {
			haveOffsets = true
			break
		}
	}
	pins := make([]schematic.LibPin, 0, len(c.Pins))
	for i, p := range c.Pins {
		lp := schematic.LibPin{
			Number:   p.Number,
			Name:     p.Name,
			Type:     p.Direction,
			Position: p.Offset,
			Angle:    p.Angle,
			Unit:     1,
		}
		if !haveOffsets {
			lp.Position = sexp.Position{X: -5.08, Y: 2.54 * float64(i)}
			lp.Angle = 0
		}
		pins = append(pins, lp)
	}
	return pins
}

func (m *merger) removeComponent(c *circuit.Component) {
	path := m.prevPath[c.Reference]
	sf := m.p.Sheets[path]
	if sf == nil {
		return // whole sheet is going away
	}
	si := m.sheetIndexFor(path)

	for _, sym := range sf.Sch.SymbolByRef(c.Reference) {
		if lib := sf.Sch.LibSymbol(sym.LibID); lib != nil {
			for _, pin := range lib.PinsForUnit(sym.Unit) {
				si.pinsAt[ptKey(path, sym.PinEndpoint(pin))]--
			}
		}
		sf.Sch.RemoveSymbol(sym)
	}
	m.touched[path] = true
	m.log.Printf("component %s: removed", c.Reference)
}

// Nets

// autoNamed reports whether a net carries the generated fallback name and
// therefore has no label to maintain.
func autoNamed(name string) bool {
	return strings.HasPrefix(name, "Net-(")
}

func (m *merger) applyNet(d NetDecision) error {
	switch d.Action {
	case Update:
		return m.updateNet(d)
	case Add:
		return m.addNet(d.New)
	case Remove:
		m.removeNet(d.Old)
	}
	return nil
}

func (m *merger) removeNet(n *circuit.Net) {
	for _, path := range m.p.Paths() {
		si := m.idx.sheets[path]
		if si == nil {
			continue
		}
		geom := si.geoms[n.Name]
		if geom == nil {
			continue
		}
		sch := si.file.Sch
		for _, w := range geom.wires {
			m.removeWire(si, sch, w)
		}
		for _, l := range geom.labels {
			if l.Node.Parent != nil {
				sch.RemoveLabel(l)
			}
		}
		for _, l := range geom.globals {
			if l.Node.Parent != nil {
				sch.RemoveLabel(l)
			}
		}
		for _, j := range geom.junctions {
			if j.Node.Parent != nil {
				sch.RemoveJunction(j)
			}
		}
		// Hierarchical labels and sheet pins belong to port decisions.
		delete(si.geoms, n.Name)
		m.touched[path] = true
	}
	m.log.Printf("net %s: removed", n.Name)
}

func (m *merger) updateNet(d NetDecision) error {
	name := d.New.Name

	for _, member := range d.Removed {
		path, ok := m.prevPath[member.Reference]
		if !ok {
			continue
		}
		si := m.idx.sheets[path]
		if si == nil {
			continue
		}
		pos, ok := si.pinPoint[member]
		if !ok {
			continue
		}
		m.detachPoint(si, name, pos)
		m.log.Printf("net %s: disconnected %s", name, member)
	}

	for _, member := range d.Added {
		path, ok := m.nextPath[member.Reference]
		if !ok {
			return fmt.Errorf("net %s: member %s names no component", name, member)
		}
		si := m.sheetIndexFor(path)
		pos, ok := si.pinPoint[member]
		if !ok {
			return fmt.Errorf("net %s: member %s has no pin endpoint on %s", name, member, path)
		}
		if err := m.connectMember(si, d.New, member, pos); err != nil {
			return err
		}
		m.log.Printf("net %s: connected %s", name, member)
	}
	return nil
}

// connectMember joins one pin endpoint into an existing net: named nets
// get a label at the pin, unnamed local nets get a wire to the net's
// existing geometry.
func (m *merger) connectMember(si *sheetIndex, n *circuit.Net, member circuit.NetMember, pos schematic.Position) error {
	sch := si.file.Sch
	switch {
	case n.Scope == circuit.ScopeGlobalPower:
		sch.AddGlobalLabel(n.Name, pos, circuit.NewToken())
	case !autoNamed(n.Name):
		sch.AddLabel(n.Name, pos, circuit.NewToken())
	default:
		geom := si.geoms[n.Name]
		if geom == nil || len(geom.members) == 0 {
			return fmt.Errorf("net %s: no geometry on %s to extend", n.Name, si.path)
		}
		anchor := firstMemberPoint(geom)
		m.addWire(si, sch, anchor, pos)
		m.hubs = append(m.hubs, anchoredPoint{si.path, anchor})
	}
	m.touched[si.path] = true
	return nil
}

func firstMemberPoint(geom *netGeom) schematic.Position {
	var best circuit.NetMember
	first := true
	for member := range geom.members {
		if first || member.Reference < best.Reference ||
			(member.Reference == best.Reference && member.Pin < best.Pin) {
			best = member
			first = false
		}
	}
	return geom.members[best]
}

func (m *merger) addNet(n *circuit.Net) error {
	// Group member pin endpoints by sheet.
	type sheetMembers struct {
		si     *sheetIndex
		points []schematic.Position
	}
	bySheet := make(map[string]*sheetMembers)
	order := []string{}
	for _, member := range n.Members {
		path, ok := m.nextPath[member.Reference]
		if !ok {
			return fmt.Errorf("net %s: member %s names no component", n.Name, member)
		}
		si := m.sheetIndexFor(path)
		pos, ok := si.pinPoint[member]
		if !ok {
			return fmt.Errorf("net %s: member %s has no pin endpoint on %s", n.Name, member, path)
		}
		sm := bySheet[path]
		if sm == nil {
			sm = &sheetMembers{si: si}
			bySheet[path] = sm
			order = append(order, path)
		}
		sm.points = append(sm.points, pos)
	}

	for _, path := range order {
		sm := bySheet[path]
		sch := sm.si.file.Sch
		switch {
		case n.Scope == circuit.ScopeGlobalPower:
			for _, pos := range sm.points {
				sch.AddGlobalLabel(n.Name, pos, circuit.NewToken())
			}
		case n.Scope == circuit.ScopeHierarchical:
			for _, pos := range sm.points {
				sch.AddLabel(n.Name, pos, circuit.NewToken())
			}
		default:
			// Star wiring from the first member's pin. Labels only for
			// real names; generated fallback names stay implicit.
			hub := sm.points[0]
			for _, pos := range sm.points[1:] {
				m.addWire(sm.si, sch, hub, pos)
			}
			if !autoNamed(n.Name) {
				sch.AddLabel(n.Name, hub, circuit.NewToken())
			}
			m.hubs = append(m.hubs, anchoredPoint{path, hub})
		}
		m.touched[path] = true
	}
	m.log.Printf("net %s: created with %d pins", n.Name, len(n.Members))
	return nil
}

// Ports

func (m *merger) applyPort(d PortDecision) error {
	switch d.Action {
	case Update:
		return m.updatePort(d)
	case Add:
		return m.addPort(d)
	case Remove:
		m.removePort(d)
	}
	return nil
}

func portShape(direction string) string {
	switch direction {
	case "output":
		return "output"
	case "bidirectional":
		return "bidirectional"
	default:
		return "input"
	}
}

func (m *merger) addPort(d PortDecision) error {
	child, ok := m.p.Sheets[d.ChildPath]
	if !ok || child.Ref == nil {
		return fmt.Errorf("add port %q: child sheet %q has no sheet symbol", d.Port.Name, d.ChildPath)
	}
	parent := m.p.Sheets[child.Parent]
	shape := portShape(d.Port.Direction)

	// Parent half: a pin on the sheet symbol border plus a local label
	// tying it into the parent net of the same name.
	pinPos := schematic.Position{
		X: child.Ref.Position.X,
		Y: child.Ref.Position.Y + 2.54*float64(len(child.Ref.Pins)+1),
	}
	child.Ref.AddSheetPin(d.Port.Name, shape, pinPos, circuit.NewToken())
	parent.Sch.AddLabel(d.Port.Name, pinPos, circuit.NewToken())

	// Child half: a hierarchical label, anchored on the first member pin
	// of the net it exposes when one exists on the child sheet.
	pos, found := m.childPortAnchor(d.ChildPath, d.Port.Name)
	if !found {
		k := m.portSeq[d.ChildPath]
		m.portSeq[d.ChildPath]++
		pos = schematic.Position{X: 12.7, Y: 12.7 + 2.54*float64(k)}
	}
	child.Sch.AddHierLabel(d.Port.Name, shape, pos, circuit.NewToken())

	m.touched[d.ChildPath] = true
	m.touched[child.Parent] = true
	m.log.Printf("port %s%s: created", d.ChildPath, d.Port.Name)
	return nil
}

// childPortAnchor finds the child-sheet pin endpoint of the net a port
// exposes.
func (m *merger) childPortAnchor(childPath, portName string) (schematic.Position, bool) {
	sheet, ok := m.next.SheetByPath(childPath)
	if !ok {
		return schematic.Position{}, false
	}
	si := m.idx.sheets[childPath]
	if si == nil {
		return schematic.Position{}, false
	}
	for _, n := range m.next.Nets {
		crosses := false
		for _, c := range n.Crossings {
			if c.Child == sheet.ID && c.Port == portName {
				crosses = true
				break
			}
		}
		if !crosses {
			continue
		}
		for _, member := range n.Members {
			if m.nextPath[member.Reference] != childPath {
				continue
			}
			if pos, ok := si.pinPoint[member]; ok {
				return pos, true
			}
		}
	}
	return schematic.Position{}, false
}

func (m *merger) removePort(d PortDecision) {
	child, ok := m.p.Sheets[d.ChildPath]
	if !ok {
		return
	}

	for _, h := range append([]*schematic.HierLabel(nil), child.Sch.HierLabels...) {
		if h.Text == d.Port.Name {
			child.Sch.RemoveHierLabel(h)
		}
	}

	if child.Ref != nil {
		parent := m.p.Sheets[child.Parent]
		for _, pin := range append([]*schematic.SheetPin(nil), child.Ref.Pins...) {
			if pin.Name != d.Port.Name {
				continue
			}
			for _, l := range append([]*schematic.Label(nil), parent.Sch.Labels...) {
				if l.Text == d.Port.Name && samePoint(l.Position, pin.Position) && l.Node.Parent != nil {
					parent.Sch.RemoveLabel(l)
				}
			}
			child.Ref.RemoveSheetPin(pin)
		}
		m.touched[child.Parent] = true
	}
	m.touched[d.ChildPath] = true
	m.log.Printf("port %s%s: removed", d.ChildPath, d.Port.Name)
}

func (m *merger) updatePort(d PortDecision) error {
	child, ok := m.p.Sheets[d.ChildPath]
	if !ok {
		return fmt.Errorf("update port %q: child sheet %q not loaded", d.Port.Name, d.ChildPath)
	}
	shape := portShape(d.Port.Direction)

	for _, h := range child.Sch.HierLabels {
		if h.Text != d.Port.Name {
			continue
		}
		if s, ok := h.Node.Find("shape"); ok {
			s.SetAtom(1, shape)
		}
		h.Shape = shape
	}
	if child.Ref != nil {
		for _, pin := range child.Ref.Pins {
			if pin.Name == d.Port.Name {
				pin.Node.SetAtom(2, shape)
				pin.Shape = shape
			}
		}
	}
	m.log.Printf("port %s%s: direction now %s", d.ChildPath, d.Port.Name, shape)
	return nil
}

// Wire and junction bookkeeping

func (m *merger) addWire(si *sheetIndex, sch *schematic.Schematic, a, b schematic.Position) {
	sch.AddWire(a, b, circuit.NewToken())
	si.wireEnds[ptKey(si.path, a)]++
	si.wireEnds[ptKey(si.path, b)]++
}

func (m *merger) removeWire(si *sheetIndex, sch *schematic.Schematic, w *schematic.Wire) {
	if w.Node.Parent == nil {
		return
	}
	sch.RemoveWire(w)
	si.wireEnds[ptKey(si.path, w.Start)]--
	si.wireEnds[ptKey(si.path, w.End)]--
	m.touched[si.path] = true
}

// detachPoint removes the named net's attachment at a pin endpoint:
// labels placed there and any wires reaching it, pruning segments left
// dangling by the removal.
func (m *merger) detachPoint(si *sheetIndex, name string, pos schematic.Position) {
	geom := si.geoms[name]
	if geom == nil {
		return
	}
	sch := si.file.Sch

	for _, l := range geom.labels {
		if l.Node.Parent != nil && samePoint(l.Position, pos) {
			sch.RemoveLabel(l)
		}
	}
	for _, l := range geom.globals {
		if l.Node.Parent != nil && samePoint(l.Position, pos) {
			sch.RemoveLabel(l)
		}
	}

	queue := []schematic.Position{pos}
	for len(queue) > 0 {
		pt := queue[0]
		queue = queue[1:]
		for _, w := range geom.wires {
			if w.Node.Parent == nil {
				continue
			}
			var other schematic.Position
			switch {
			case samePoint(w.Start, pt):
				other = w.End
			case samePoint(w.End, pt):
				other = w.Start
			default:
				continue
			}
			m.removeWire(si, sch, w)
			if m.dangling(si, geom, other) {
				queue = append(queue, other)
			}
		}
	}
	m.touched[si.path] = true
}

// dangling reports whether a point is held only by a single remaining
// wire end: no pin, no label, nothing else to justify the segment.
func (m *merger) dangling(si *sheetIndex, geom *netGeom, pos schematic.Position) bool {
	k := ptKey(si.path, pos)
	if si.pinsAt[k] > 0 || si.wireEnds[k] != 1 || si.wiresThrough[k] > 0 {
		return false
	}
	for _, l := range geom.labels {
		if l.Node.Parent != nil && samePoint(l.Position, pos) {
			return false
		}
	}
	for _, l := range geom.globals {
		if l.Node.Parent != nil && samePoint(l.Position, pos) {
			return false
		}
	}
	for _, h := range geom.hiers {
		if h.Node.Parent != nil && samePoint(h.Position, pos) {
			return false
		}
	}
	return true
}

// fixupJunctions drops junction markers whose point fell below three
// electrical ends and adds markers where star wiring created new three-way
// joins.
func (m *merger) fixupJunctions() {
	for _, path := range m.p.Paths() {
		if !m.touched[path] {
			continue
		}
		si := m.idx.sheets[path]
		if si == nil {
			continue
		}
		sch := si.file.Sch
		for _, j := range append([]*schematic.Junction(nil), sch.Junctions...) {
			if si.incidence(j.Position) < 3 {
				sch.RemoveJunction(j)
				m.log.Printf("sheet %s: junction at (%.2f, %.2f) no longer needed", path, j.Position.X, j.Position.Y)
			}
		}
	}

	for _, hub := range m.hubs {
		si := m.idx.sheets[hub.path]
		if si == nil || si.incidence(hub.pos) < 3 {
			continue
		}
		sch := si.file.Sch
		exists := false
		for _, j := range sch.Junctions {
			if samePoint(j.Position, hub.pos) {
				exists = true
				break
			}
		}
		if !exists {
			sch.AddJunction(hub.pos, circuit.NewToken())
		}
	}
}
