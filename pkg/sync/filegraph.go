package sync

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/circuit-synth/circuitsync/pkg/circuit"
	"github.com/circuit-synth/circuitsync/pkg/kicad/schematic"
)

// The file-side builder converts a loaded project back into the canonical
// circuit graph. Connectivity is resolved with a union-find over wire
// endpoints, junctions, labels and symbol pin endpoints; hierarchy levels
// bridge through (child path, port name) keys shared by the child's
// hierarchical label and the parent's sheet pin.

// fileIndex maps canonical nets back onto the geometry realizing them,
// per sheet. The merge generator consults it to mutate only the affected
// wires, labels and junctions.
type fileIndex struct {
	sheets map[string]*sheetIndex
}

type sheetIndex struct {
	path string
	file *SheetFile

	geoms map[string]*netGeom // canonical net name -> this sheet's geometry

	wireEnds     map[string]int // point key -> wire endpoints here
	wiresThrough map[string]int // point key -> wires passing through interior
	pinsAt       map[string]int // point key -> symbol pins here
	pinPoint     map[circuit.NetMember]schematic.Position
}

type netGeom struct {
	wires     []*schematic.Wire
	labels    []*schematic.Label
	globals   []*schematic.Label
	hiers     []*schematic.HierLabel
	junctions []*schematic.Junction
	points    []schematic.Position
	members   map[circuit.NetMember]schematic.Position
}

func newNetGeom() *netGeom {
	return &netGeom{members: make(map[circuit.NetMember]schematic.Position)}
}

// incidence counts the electrical ends meeting at a point: wire endpoints,
// wires crossing the interior (two ends each) and symbol pins. A junction
// marker is justified only at incidence >= 3.
func (si *sheetIndex) incidence(pos schematic.Position) int {
	k := ptKey(si.path, pos)
	return si.wireEnds[k] + 2*si.wiresThrough[k] + si.pinsAt[k]
}

func ptKey(path string, p schematic.Position) string {
	return fmt.Sprintf("pt|%s|%.2f,%.2f", path, p.X, p.Y)
}

func pinKey(path, ref, pin string) string {
	return fmt.Sprintf("pin|%s|%s|%s", path, ref, pin)
}

func localKey(path, name string) string {
	return fmt.Sprintf("loc|%s|%s", path, name)
}

func globalKey(name string) string {
	return "glob|" + name
}

func hierKey(path, name string) string {
	return fmt.Sprintf("hier|%s|%s", path, name)
}

// onSegmentInterior reports whether p lies strictly inside segment a-b.
func onSegmentInterior(p, a, b schematic.Position) bool {
	const eps = 1e-3
	if samePoint(p, a) || samePoint(p, b) {
		return false
	}
	cross := (b.X-a.X)*(p.Y-a.Y) - (b.Y-a.Y)*(p.X-a.X)
	seg := math.Hypot(b.X-a.X, b.Y-a.Y)
	if seg < eps || math.Abs(cross)/seg > eps {
		return false
	}
	dot := (p.X-a.X)*(b.X-a.X) + (p.Y-a.Y)*(b.Y-a.Y)
	return dot > eps && dot < seg*seg-eps
}

func samePoint(a, b schematic.Position) bool {
	return math.Abs(a.X-b.X) < 1e-3 && math.Abs(a.Y-b.Y) < 1e-3
}

// attachToWires joins a point into any wire whose interior it sits on.
func attachToWires(uf *unionFind, path string, pos schematic.Position, sch *schematic.Schematic) {
	for _, w := range sch.Wires {
		if onSegmentInterior(pos, w.Start, w.End) {
			uf.union(ptKey(path, pos), ptKey(path, w.Start))
		}
	}
}

// buildFileGraph resolves a loaded project into the canonical circuit
// graph plus the geometry index used by the merge generator.
func buildFileGraph(p *Project) (*circuit.Graph, *fileIndex, error) {
	g := circuit.NewGraph()
	idx := &fileIndex{sheets: make(map[string]*sheetIndex)}
	uf := newUnionFind()

	sheetIDs := make(map[string]circuit.SheetID)

	// Sheets, root first.
	for _, path := range p.Paths() {
		sf := p.Sheets[path]
		parent := circuit.NoSheet
		if sf.Parent != "" {
			parent = sheetIDs[sf.Parent]
		}
		name := "root"
		token := sf.Sch.UUID
		if sf.Ref != nil {
			name = sf.Ref.Name
			token = sf.Ref.UUID
		}
		id := g.AddSheet(&circuit.Sheet{
			Name: name, Path: path, File: sf.File,
			Parent: parent, Token: token,
		})
		sheetIDs[path] = id

		idx.sheets[path] = &sheetIndex{
			path: path, file: sf,
			geoms:        make(map[string]*netGeom),
			wireEnds:     make(map[string]int),
			wiresThrough: make(map[string]int),
			pinsAt:       make(map[string]int),
			pinPoint:     make(map[circuit.NetMember]schematic.Position),
		}
	}

	// Ports: the hierarchical labels declared inside each child sheet,
	// plus any pin already on its sheet symbol. A pin without a matching
	// label is an orphan, and it still has to surface here so a later
	// diff can prune it.
	portSeen := make(map[string]map[string]bool)
	for _, path := range p.Paths() {
		portSeen[path] = map[string]bool{}
	}
	for _, path := range p.Paths() {
		sheet := g.Sheets[sheetIDs[path]]
		for _, h := range p.Sheets[path].Sch.HierLabels {
			if !portSeen[path][h.Text] {
				portSeen[path][h.Text] = true
				sheet.Ports = append(sheet.Ports, circuit.Port{
					Name:      h.Text,
					Direction: portDirection(h.Shape),
				})
			}
		}
	}
	for _, path := range p.Paths() {
		for _, ref := range p.Sheets[path].Sch.Sheets {
			childPath := path + ref.Name + "/"
			id, ok := sheetIDs[childPath]
			if !ok {
				continue
			}
			sheet := g.Sheets[id]
			for _, pin := range ref.Pins {
				if !portSeen[childPath][pin.Name] {
					portSeen[childPath][pin.Name] = true
					sheet.Ports = append(sheet.Ports, circuit.Port{
						Name:      pin.Name,
						Direction: portDirection(pin.Shape),
					})
				}
			}
		}
	}
	for _, path := range p.Paths() {
		sheet := g.Sheets[sheetIDs[path]]
		sort.Slice(sheet.Ports, func(i, j int) bool { return sheet.Ports[i].Name < sheet.Ports[j].Name })
	}

	// Wire topology.
	for _, path := range p.Paths() {
		si := idx.sheets[path]
		sch := si.file.Sch

		for _, w := range sch.Wires {
			uf.union(ptKey(path, w.Start), ptKey(path, w.End))
			si.wireEnds[ptKey(path, w.Start)]++
			si.wireEnds[ptKey(path, w.End)]++
		}

		// A wire endpoint landing on another wire's interior joins it.
		for _, w := range sch.Wires {
			for _, other := range sch.Wires {
				if other == w {
					continue
				}
				for _, end := range []schematic.Position{w.Start, w.End} {
					if onSegmentInterior(end, other.Start, other.End) {
						uf.union(ptKey(path, end), ptKey(path, other.Start))
					}
				}
			}
		}

		// Junction markers join every wire passing through the point.
		for _, j := range sch.Junctions {
			jk := ptKey(path, j.Position)
			for _, w := range sch.Wires {
				if samePoint(j.Position, w.Start) || samePoint(j.Position, w.End) {
					uf.union(jk, ptKey(path, w.Start))
				} else if onSegmentInterior(j.Position, w.Start, w.End) {
					uf.union(jk, ptKey(path, w.Start))
					si.wiresThrough[jk]++
				}
			}
		}

		// Labels bind names to points. A label sitting on a wire's
		// interior joins that wire like an endpoint would.
		for _, l := range sch.Labels {
			uf.union(ptKey(path, l.Position), localKey(path, l.Text))
			attachToWires(uf, path, l.Position, sch)
		}
		for _, l := range sch.GlobalLabels {
			uf.union(ptKey(path, l.Position), globalKey(l.Text))
			attachToWires(uf, path, l.Position, sch)
		}
		for _, h := range sch.HierLabels {
			uf.union(ptKey(path, h.Position), hierKey(path, h.Text))
			attachToWires(uf, path, h.Position, sch)
		}

		// Sheet pins bridge into the child sheet's hierarchical label.
		for _, ref := range sch.Sheets {
			childPath := path + ref.Name + "/"
			for _, pin := range ref.Pins {
				uf.union(ptKey(path, pin.Position), hierKey(childPath, pin.Name))
				attachToWires(uf, path, pin.Position, sch)
			}
		}
	}

	// Components and pin endpoints.
	type refKey struct {
		path string
		ref  string
	}
	comps := make(map[refKey]*circuit.Component)

	for _, path := range p.Paths() {
		si := idx.sheets[path]
		sch := si.file.Sch

		for _, sym := range sch.Symbols {
			if sym.Reference == "" {
				continue
			}
			lib := sch.LibSymbol(sym.LibID)
			if lib == nil {
				return nil, nil, fmt.Errorf("sheet %s: symbol %s: library symbol %q not embedded", path, sym.Reference, sym.LibID)
			}

			power := strings.HasPrefix(sym.Reference, "#")

			for _, pin := range lib.PinsForUnit(sym.Unit) {
				end := sym.PinEndpoint(pin)
				pk := ptKey(path, end)
				si.pinsAt[pk]++
				if power {
					// Power symbols carry their net in the Value field and
					// connect it globally.
					uf.union(pk, globalKey(sym.Value))
					attachToWires(uf, path, end, sch)
					continue
				}
				member := circuit.NetMember{Reference: sym.Reference, Pin: pin.Number}
				si.pinPoint[member] = end
				uf.union(pinKey(path, sym.Reference, pin.Number), pk)
				attachToWires(uf, path, end, sch)
			}

			if power {
				continue
			}

			key := refKey{path, sym.Reference}
			c, ok := comps[key]
			if !ok {
				c = &circuit.Component{
					Reference: sym.Reference,
					Value:     sym.Value,
					Footprint: sym.Footprint,
					LibID:     sym.LibID,
					Sheet:     sheetIDs[path],
					Placed:    true,
				}
				for _, pin := range lib.Pins {
					c.Pins = append(c.Pins, circuit.Pin{
						Number: pin.Number, Name: pin.Name,
						Direction: pin.Type,
						Offset:    pin.Position, Angle: pin.Angle,
					})
				}
				comps[key] = c
			}
			if sym.Unit == 1 || c.Token == "" {
				c.Position = sym.Position
				c.Rotation = normalizedRotation(sym.Angle)
				c.Token = sym.UUID
			}
		}
	}

	// Deterministic component registration order.
	keys := make([]refKey, 0, len(comps))
	for k := range comps {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].path != keys[j].path {
			return keys[i].path < keys[j].path
		}
		return keys[i].ref < keys[j].ref
	})
	for _, k := range keys {
		if _, err := g.AddComponent(comps[k]); err != nil {
			return nil, nil, err
		}
	}

	// Resolve groups into nets.
	if err := resolveNets(g, idx, uf, sheetIDs); err != nil {
		return nil, nil, err
	}

	if err := g.Validate(); err != nil {
		return nil, nil, err
	}
	return g, idx, nil
}

// resolveNets converts union-find groups into canonical nets and fills the
// per-sheet geometry index.
func resolveNets(g *circuit.Graph, idx *fileIndex, uf *unionFind, sheetIDs map[string]circuit.SheetID) error {
	type hierRef struct{ path, name string }

	type group struct {
		root    string
		members []circuit.NetMember
		locals  map[string][]string // sheet path -> distinct local names
		globals []string
		hiers   []hierRef
		sheets  map[string]bool
	}

	groups := make(map[string]*group)
	get := func(root string) *group {
		grp, ok := groups[root]
		if !ok {
			grp = &group{
				root:   root,
				locals: make(map[string][]string),
				sheets: make(map[string]bool),
			}
			groups[root] = grp
		}
		return grp
	}

	for key, root := range allRoots(uf) {
		grp := get(root)
		parts := strings.SplitN(key, "|", 3)
		switch parts[0] {
		case "pt":
			grp.sheets[parts[1]] = true
		case "pin":
			sub := strings.SplitN(parts[2], "|", 2)
			grp.members = append(grp.members, circuit.NetMember{Reference: sub[0], Pin: sub[1]})
			grp.sheets[parts[1]] = true
		case "loc":
			if !contains(grp.locals[parts[1]], parts[2]) {
				grp.locals[parts[1]] = append(grp.locals[parts[1]], parts[2])
			}
			grp.sheets[parts[1]] = true
		case "glob":
			name := strings.TrimPrefix(key, "glob|")
			if !contains(grp.globals, name) {
				grp.globals = append(grp.globals, name)
			}
		case "hier":
			grp.hiers = append(grp.hiers, hierRef{path: parts[1], name: parts[2]})
			grp.sheets[parts[1]] = true
		}
	}

	roots := make([]string, 0, len(groups))
	for root := range groups {
		roots = append(roots, root)
	}
	sort.Strings(roots)

	for _, root := range roots {
		grp := groups[root]

		// Contradictory topology checks.
		for path, names := range grp.locals {
			if len(names) > 1 {
				sort.Strings(names)
				return &circuit.AmbiguousConnectivityError{
					Sheet:    path,
					Position: labelPosition(idx, path, names[0]),
					Names:    names,
				}
			}
		}
		if len(grp.globals) > 1 {
			sort.Strings(grp.globals)
			sheet := rootMost(grp.sheets)
			return &circuit.AmbiguousConnectivityError{
				Sheet:    sheet,
				Position: labelPosition(idx, sheet, grp.globals[0]),
				Names:    grp.globals,
			}
		}

		sort.Slice(grp.members, func(i, j int) bool {
			if grp.members[i].Reference != grp.members[j].Reference {
				return grp.members[i].Reference < grp.members[j].Reference
			}
			return grp.members[i].Pin < grp.members[j].Pin
		})
		grp.members = dedupeMembers(grp.members)

		if len(grp.members) == 0 {
			continue // label-only or floating geometry, not a net
		}
		// A lone pin with no name attached is unconnected, not a
		// one-member net.
		if len(grp.members) == 1 && len(grp.globals) == 0 && len(grp.hiers) == 0 && len(grp.locals) == 0 {
			continue
		}

		// Canonical name precedence: global, then root-most port name,
		// then root-most local label, then auto-generated.
		var name string
		scope := circuit.ScopeLocal
		switch {
		case len(grp.globals) == 1:
			name = grp.globals[0]
			scope = circuit.ScopeGlobalPower
		case len(grp.hiers) > 0:
			sort.Slice(grp.hiers, func(i, j int) bool {
				if len(grp.hiers[i].path) != len(grp.hiers[j].path) {
					return len(grp.hiers[i].path) < len(grp.hiers[j].path)
				}
				if grp.hiers[i].path != grp.hiers[j].path {
					return grp.hiers[i].path < grp.hiers[j].path
				}
				return grp.hiers[i].name < grp.hiers[j].name
			})
			name = grp.hiers[0].name
			scope = circuit.ScopeHierarchical
		default:
			if localName := rootMostLocal(grp.locals); localName != "" {
				name = localName
			} else {
				name = fmt.Sprintf("Net-(%s-Pad%s)", grp.members[0].Reference, grp.members[0].Pin)
			}
			if len(grp.sheets) > 1 {
				scope = circuit.ScopeHierarchical
			}
		}

		net := &circuit.Net{
			Name:    name,
			Scope:   scope,
			Sheet:   sheetIDs[rootMost(grp.sheets)],
			Members: grp.members,
		}
		for _, h := range grp.hiers {
			net.Crossings = append(net.Crossings, circuit.Crossing{
				Child: sheetIDs[h.path], Port: h.name,
			})
		}
		sort.Slice(net.Crossings, func(i, j int) bool {
			if net.Crossings[i].Child != net.Crossings[j].Child {
				return net.Crossings[i].Child < net.Crossings[j].Child
			}
			return net.Crossings[i].Port < net.Crossings[j].Port
		})
		g.AddNet(net)

		// Geometry index for the merge generator.
		indexGeometry(idx, uf, root, name)
	}

	return nil
}

// labelPosition finds where a net name is written on a sheet, so a
// connectivity conflict can point at the offending spot.
func labelPosition(idx *fileIndex, path, name string) schematic.Position {
	si := idx.sheets[path]
	if si == nil {
		return schematic.Position{}
	}
	sch := si.file.Sch
	for _, l := range sch.Labels {
		if l.Text == name {
			return l.Position
		}
	}
	for _, l := range sch.GlobalLabels {
		if l.Text == name {
			return l.Position
		}
	}
	return schematic.Position{}
}

// indexGeometry attaches every geometry element of the group to its sheet
// entry under the canonical net name.
func indexGeometry(idx *fileIndex, uf *unionFind, root, name string) {
	for _, si := range idx.sheets {
		geom := newNetGeom()
		sch := si.file.Sch

		for _, w := range sch.Wires {
			if uf.find(ptKey(si.path, w.Start)) == root {
				geom.wires = append(geom.wires, w)
				geom.points = append(geom.points, w.Start, w.End)
			}
		}
		for _, j := range sch.Junctions {
			if uf.find(ptKey(si.path, j.Position)) == root {
				geom.junctions = append(geom.junctions, j)
			}
		}
		for _, l := range sch.Labels {
			if uf.find(ptKey(si.path, l.Position)) == root {
				geom.labels = append(geom.labels, l)
				geom.points = append(geom.points, l.Position)
			}
		}
		for _, l := range sch.GlobalLabels {
			if uf.find(ptKey(si.path, l.Position)) == root {
				geom.globals = append(geom.globals, l)
				geom.points = append(geom.points, l.Position)
			}
		}
		for _, h := range sch.HierLabels {
			if uf.find(ptKey(si.path, h.Position)) == root {
				geom.hiers = append(geom.hiers, h)
				geom.points = append(geom.points, h.Position)
			}
		}
		for member, pos := range si.pinPoint {
			if uf.find(pinKey(si.path, member.Reference, member.Pin)) == root {
				geom.members[member] = pos
				geom.points = append(geom.points, pos)
			}
		}

		if len(geom.wires)+len(geom.labels)+len(geom.globals)+len(geom.hiers)+len(geom.junctions)+len(geom.members) > 0 {
			si.geoms[name] = geom
		}
	}
}

// allRoots resolves every key to its representative.
func allRoots(uf *unionFind) map[string]string {
	out := make(map[string]string, len(uf.parent))
	for key := range uf.parent {
		out[key] = uf.find(key)
	}
	return out
}

func contains(s []string, v string) bool {
	for _, e := range s {
		if e == v {
			return true
		}
	}
	return false
}

func dedupeMembers(members []circuit.NetMember) []circuit.NetMember {
	out := members[:0]
	var last circuit.NetMember
	for i, m := range members {
		if i == 0 || m != last {
			out = append(out, m)
		}
		last = m
	}
	return out
}

// rootMost returns the shortest (closest to root) sheet path in the set.
func rootMost(sheets map[string]bool) string {
	best := ""
	for path := range sheets {
		if best == "" || len(path) < len(best) || (len(path) == len(best) && path < best) {
			best = path
		}
	}
	return best
}

// rootMostLocal returns the local label name on the root-most sheet that
// carries one.
func rootMostLocal(locals map[string][]string) string {
	best := ""
	bestPath := ""
	for path, names := range locals {
		if len(names) == 0 {
			continue
		}
		if bestPath == "" || len(path) < len(bestPath) || (len(path) == len(bestPath) && path < bestPath) {
			bestPath = path
			best = names[0]
		}
	}
	return best
}

func normalizedRotation(a schematic.Angle) int {
	deg := int(math.Round(float64(a)))
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg
}

func portDirection(shape string) string {
	switch shape {
	case "output":
		return "output"
	case "bidirectional", "tri_state":
		return "bidirectional"
	default:
		return "input"
	}
}
