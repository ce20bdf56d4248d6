package sync

import (
	"fmt"
	"sort"
	"strings"

	"github.com/circuit-synth/circuitsync/pkg/circuit"
)

// The source-side builder maps an already-resolved description into the
// same circuit graph shape the file-side builder produces. No authoring
// syntax is interpreted here; nets merge across hierarchy levels when a
// child sheet exposes a net name as a port, and global power nets merge
// by name everywhere.

func buildSourceGraph(desc circuit.Description) (*circuit.Graph, error) {
	g := circuit.NewGraph()
	root := desc.Root()
	if root == nil {
		return nil, fmt.Errorf("description has no root sheet")
	}

	b := &sourceBuilder{
		graph:    g,
		uf:       newUnionFind(),
		netDescs: make(map[string]*circuit.NetDesc),
		netSheet: make(map[string]circuit.SheetID),
		refSeq:   make(map[string]int),
	}

	// Seed the annotation counters with every fixed reference first, so
	// assignment order cannot collide with explicit designators anywhere
	// in the tree.
	b.seedSequences(root)
	if err := b.addSheet(root, "/", "", circuit.NoSheet); err != nil {
		return nil, err
	}
	if err := b.resolve(); err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

type sourceBuilder struct {
	graph    *circuit.Graph
	uf       *unionFind
	netDescs map[string]*circuit.NetDesc // net key -> declaration
	netSheet map[string]circuit.SheetID  // net key -> declaring sheet
	refSeq   map[string]int              // designator prefix -> highest assigned number
}

func sourceNetKey(path, name string, global bool) string {
	if global {
		return "glob|" + name
	}
	return "net|" + path + "|" + name
}

func (b *sourceBuilder) seedSequences(sd *circuit.SheetDesc) {
	for i := range sd.Components {
		ref := sd.Components[i].Reference
		if ref != "" && !strings.HasSuffix(ref, "?") {
			b.bumpSequence(ref)
		}
	}
	for _, child := range sd.Children {
		b.seedSequences(child)
	}
}

func (b *sourceBuilder) addSheet(sd *circuit.SheetDesc, path, parentPath string, parent circuit.SheetID) error {
	file := sd.File
	if file == "" {
		file = sheetFileName(sd.Name, path)
	}
	id := b.graph.AddSheet(&circuit.Sheet{
		Name: sd.Name, Path: path, File: file, Parent: parent,
	})

	for i := range sd.Components {
		cd := &sd.Components[i]
		ref := cd.Reference
		if ref == "" || strings.HasSuffix(ref, "?") {
			ref = b.annotate(ref, cd.LibID)
		}
		b.bumpSequence(ref)
		comp := &circuit.Component{
			Reference: ref,
			Value:     cd.Value,
			Footprint: cd.Footprint,
			LibID:     cd.LibID,
			Position:  cd.Position,
			Rotation:  cd.Rotation,
			Placed:    cd.Placed,
			Token:     cd.Token,
			Sheet:     id,
			Pins:      cd.Pins,
		}
		if _, err := b.graph.AddComponent(comp); err != nil {
			return err
		}
	}

	for i := range sd.Nets {
		nd := &sd.Nets[i]
		key := sourceNetKey(path, nd.Name, nd.Global)
		b.uf.add(key)
		if prev, dup := b.netDescs[key]; dup {
			// Same net declared twice (e.g. a global rail on two sheets):
			// memberships accumulate.
			prev.Members = append(prev.Members, nd.Members...)
			continue
		}
		clone := *nd
		b.netDescs[key] = &clone
		b.netSheet[key] = id
	}

	// Ports bridge a child net to the parent net of the same name.
	for _, port := range sd.Ports {
		if parentPath == "" {
			return fmt.Errorf("sheet %q: port %q declared on the root sheet", sd.Name, port.Net)
		}
		childKey := sourceNetKey(path, port.Net, false)
		parentKey := sourceNetKey(parentPath, port.Net, false)
		b.uf.add(childKey)
		b.uf.add(parentKey)
		b.uf.union(childKey, parentKey)
		if _, ok := b.netDescs[parentKey]; !ok {
			b.netDescs[parentKey] = &circuit.NetDesc{Name: port.Net}
			b.netSheet[parentKey] = parent
		}
		if _, ok := b.netDescs[childKey]; !ok {
			b.netDescs[childKey] = &circuit.NetDesc{Name: port.Net}
			b.netSheet[childKey] = id
		}

		sheet := b.graph.Sheets[id]
		dir := port.Direction
		if dir == "" {
			dir = b.inferDirection(sd, port.Net)
		}
		sheet.Ports = append(sheet.Ports, circuit.Port{Name: port.Net, Direction: dir})
	}
	sheet := b.graph.Sheets[id]
	sort.Slice(sheet.Ports, func(i, j int) bool { return sheet.Ports[i].Name < sheet.Ports[j].Name })

	for _, child := range sd.Children {
		if err := b.addSheet(child, path+child.Name+"/", path, id); err != nil {
			return err
		}
	}
	return nil
}

// resolve folds merged net declarations into canonical nets.
func (b *sourceBuilder) resolve() error {
	groups := make(map[string][]string)
	for key := range b.netDescs {
		root := b.uf.find(key)
		groups[root] = append(groups[root], key)
	}

	roots := make([]string, 0, len(groups))
	for root := range groups {
		roots = append(roots, root)
	}
	sort.Strings(roots)

	for _, root := range roots {
		keys := groups[root]
		sort.Strings(keys)

		first := b.netDescs[keys[0]]
		net := &circuit.Net{
			Name:  first.Name,
			Sheet: b.netSheet[keys[0]],
		}

		global := false
		rootMostSheet := b.netSheet[keys[0]]
		rootMostLen := len(b.graph.Sheets[rootMostSheet].Path)
		for _, key := range keys {
			nd := b.netDescs[key]
			net.Members = append(net.Members, nd.Members...)
			if nd.Global {
				global = true
			}
			sheetID := b.netSheet[key]
			if l := len(b.graph.Sheets[sheetID].Path); l < rootMostLen {
				rootMostLen = l
				rootMostSheet = sheetID
			}
			// A key below the root-most sheet realizes a crossing into
			// that child.
			if sheetID != circuit.NoSheet {
				sheet := b.graph.Sheets[sheetID]
				for _, port := range sheet.Ports {
					if port.Name == nd.Name {
						net.Crossings = append(net.Crossings, circuit.Crossing{
							Child: sheetID, Port: port.Name,
						})
					}
				}
			}
		}

		net.Sheet = rootMostSheet
		switch {
		case global:
			net.Scope = circuit.ScopeGlobalPower
		case len(net.Crossings) > 0:
			net.Scope = circuit.ScopeHierarchical
		default:
			net.Scope = circuit.ScopeLocal
		}
		sort.Slice(net.Crossings, func(i, j int) bool {
			if net.Crossings[i].Child != net.Crossings[j].Child {
				return net.Crossings[i].Child < net.Crossings[j].Child
			}
			return net.Crossings[i].Port < net.Crossings[j].Port
		})
		net.SortMembers()
		net.Members = dedupeMembers(net.Members)
		b.graph.AddNet(net)
	}
	return nil
}

// annotate assigns the next free reference for an unnumbered designator
// ("R?" or empty), deterministic per prefix.
func (b *sourceBuilder) annotate(ref, libID string) string {
	prefix := strings.TrimSuffix(ref, "?")
	if prefix == "" {
		prefix = designatorPrefix(libID)
	}
	b.refSeq[prefix]++
	return fmt.Sprintf("%s%d", prefix, b.refSeq[prefix])
}

// bumpSequence keeps the per-prefix counter ahead of explicit references
// so annotation never collides with them.
func (b *sourceBuilder) bumpSequence(ref string) {
	i := len(ref)
	for i > 0 && ref[i-1] >= '0' && ref[i-1] <= '9' {
		i--
	}
	if i == len(ref) {
		return
	}
	prefix := ref[:i]
	var num int
	fmt.Sscanf(ref[i:], "%d", &num)
	if num > b.refSeq[prefix] {
		b.refSeq[prefix] = num
	}
}

func designatorPrefix(libID string) string {
	name := libID
	if i := strings.LastIndex(name, ":"); i >= 0 {
		name = name[i+1:]
	}
	switch {
	case strings.HasPrefix(name, "R"):
		return "R"
	case strings.HasPrefix(name, "C"):
		return "C"
	case strings.HasPrefix(name, "L"):
		return "L"
	case strings.HasPrefix(name, "D"):
		return "D"
	case strings.HasPrefix(name, "Q"):
		return "Q"
	default:
		return "U"
	}
}

// inferDirection derives a port's direction from the pin directions of the
// child-side members.
func (b *sourceBuilder) inferDirection(sd *circuit.SheetDesc, netName string) string {
	var nd *circuit.NetDesc
	for i := range sd.Nets {
		if sd.Nets[i].Name == netName {
			nd = &sd.Nets[i]
			break
		}
	}
	if nd == nil {
		return "input"
	}

	hasOut, hasIn := false, false
	for _, m := range nd.Members {
		for i := range sd.Components {
			cd := &sd.Components[i]
			if cd.Reference != m.Reference {
				continue
			}
			for _, pin := range cd.Pins {
				if pin.Number != m.Pin {
					continue
				}
				switch pin.Direction {
				case "output", "power_out":
					hasOut = true
				case "input", "power_in":
					hasIn = true
				case "bidirectional":
					hasOut, hasIn = true, true
				}
			}
		}
	}
	switch {
	case hasOut && hasIn:
		return "bidirectional"
	case hasOut:
		return "output"
	default:
		return "input"
	}
}

// sheetFileName derives a child sheet's file name from its name.
func sheetFileName(name, path string) string {
	if path == "/" {
		return "main.kicad_sch"
	}
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, name)
	return clean + ".kicad_sch"
}
