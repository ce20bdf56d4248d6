package sync

import (
	"sort"

	"github.com/circuit-synth/circuitsync/pkg/circuit"
	"gonum.org/v1/gonum/spatial/r2"
)

// The identity matcher correlates a previous circuit graph (read back from
// the files on disk) with a new one (from the latest source) and decides,
// per element, whether it is kept, updated, added or removed. Matching is
// a pure function of the two graphs: the same inputs always yield the
// same plan.

// Action is a matcher decision for one element.
type Action int

const (
	Keep Action = iota
	Update
	Add
	Remove
)

func (a Action) String() string {
	switch a {
	case Update:
		return "update"
	case Add:
		return "add"
	case Remove:
		return "remove"
	default:
		return "keep"
	}
}

// ComponentDecision pairs a previous and a new component. Old is nil for
// Add, New is nil for Remove.
type ComponentDecision struct {
	Action Action
	Old    *circuit.Component
	New    *circuit.Component
}

// NetDecision matches nets as a unit: a renamed net is one Remove of the
// old name plus one Add of the new, never an Add alongside a stale old
// label.
type NetDecision struct {
	Action  Action
	Old     *circuit.Net
	New     *circuit.Net
	Added   []circuit.NetMember // memberships gained (Update only)
	Removed []circuit.NetMember // memberships lost (Update only)
}

// PortDecision is a hierarchical label/pin pair decision, matched as one
// unit across both sides of the sheet boundary.
type PortDecision struct {
	Action    Action
	ChildPath string
	Port      circuit.Port
}

// SheetDecision tracks subcircuit sheets by hierarchical path.
type SheetDecision struct {
	Action Action
	Path   string
	Old    *circuit.Sheet
	New    *circuit.Sheet
}

// Plan is the complete matcher output driving the merge generator.
type Plan struct {
	Sheets     []SheetDecision
	Components []ComponentDecision
	Nets       []NetDecision
	Ports      []PortDecision
}

// Changed reports whether the plan contains anything but Keep decisions.
func (p *Plan) Changed() bool {
	for _, d := range p.Sheets {
		if d.Action != Keep {
			return true
		}
	}
	for _, d := range p.Components {
		if d.Action != Keep {
			return true
		}
	}
	for _, d := range p.Nets {
		if d.Action != Keep {
			return true
		}
	}
	for _, d := range p.Ports {
		if d.Action != Keep {
			return true
		}
	}
	return false
}

// Match computes the sync plan taking the previous graph to the new one.
func Match(prev, next *circuit.Graph) *Plan {
	plan := &Plan{}
	matchSheets(plan, prev, next)
	matchComponents(plan, prev, next)
	matchNets(plan, prev, next)
	matchPorts(plan, prev, next)
	return plan
}

func matchSheets(plan *Plan, prev, next *circuit.Graph) {
	prevByPath := make(map[string]*circuit.Sheet)
	for _, s := range prev.Sheets {
		prevByPath[s.Path] = s
	}

	for _, s := range next.Sheets {
		if old, ok := prevByPath[s.Path]; ok {
			plan.Sheets = append(plan.Sheets, SheetDecision{Action: Keep, Path: s.Path, Old: old, New: s})
			delete(prevByPath, s.Path)
		} else {
			plan.Sheets = append(plan.Sheets, SheetDecision{Action: Add, Path: s.Path, New: s})
		}
	}

	removed := make([]*circuit.Sheet, 0, len(prevByPath))
	for _, s := range prevByPath {
		removed = append(removed, s)
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].Path < removed[j].Path })
	for _, s := range removed {
		plan.Sheets = append(plan.Sheets, SheetDecision{Action: Remove, Path: s.Path, Old: s})
	}
}

func matchComponents(plan *Plan, prev, next *circuit.Graph) {
	prevPath := func(c *circuit.Component) string { return prev.Sheets[c.Sheet].Path }
	nextPath := func(c *circuit.Component) string { return next.Sheets[c.Sheet].Path }

	prevHasTokens := false
	for _, c := range prev.Components {
		if c.Token != "" {
			prevHasTokens = true
			break
		}
	}

	claimed := make(map[circuit.ComponentID]bool)
	matched := make(map[*circuit.Component]*circuit.Component) // new -> old

	// Priority 1: exact identity-token match.
	for _, c := range next.Components {
		if c.Token == "" {
			continue
		}
		if old, ok := prev.ByToken(c.Token); ok && !claimed[old.ID] {
			matched[c] = old
			claimed[old.ID] = true
		}
	}

	// Priority 2: reference designator within the same sheet path, for
	// elements without a usable token (first import of hand-authored
	// files, or source that never persisted tokens).
	for _, c := range next.Components {
		if _, done := matched[c]; done {
			continue
		}
		for _, old := range prev.Components {
			if claimed[old.ID] {
				continue
			}
			if old.Reference == c.Reference && prevPath(old) == nextPath(c) {
				matched[c] = old
				claimed[old.ID] = true
				break
			}
		}
	}

	// Priority 3: best-effort (library, footprint, value) with closest
	// position tie-break. Only meaningful on first import, when nothing
	// on the previous side carries a token yet.
	if !prevHasTokens {
		for _, c := range next.Components {
			if _, done := matched[c]; done {
				continue
			}
			var best *circuit.Component
			bestDist := 0.0
			for _, old := range prev.Components {
				if claimed[old.ID] {
					continue
				}
				if old.LibID != c.LibID || old.Footprint != c.Footprint || old.Value != c.Value {
					continue
				}
				d := r2.Norm(r2.Sub(old.Position.Vec(), c.Position.Vec()))
				if best == nil || d < bestDist {
					best = old
					bestDist = d
				}
			}
			if best != nil {
				matched[c] = best
				claimed[best.ID] = true
			}
		}
	}

	for _, c := range next.Components {
		old, ok := matched[c]
		if !ok {
			plan.Components = append(plan.Components, ComponentDecision{Action: Add, New: c})
			continue
		}
		// Layout stays file-owned for matched parts: position and rotation
		// never trigger an update.
		action := Keep
		if old.Reference != c.Reference || old.Value != c.Value ||
			old.Footprint != c.Footprint || old.LibID != c.LibID {
			action = Update
		}
		plan.Components = append(plan.Components, ComponentDecision{Action: action, Old: old, New: c})
	}

	for _, old := range prev.Components {
		if !claimed[old.ID] {
			plan.Components = append(plan.Components, ComponentDecision{Action: Remove, Old: old})
		}
	}
}

// netKey identifies a net for unit matching: name within scope, with
// local nets further scoped to their sheet path.
func netKey(g *circuit.Graph, n *circuit.Net) string {
	switch n.Scope {
	case circuit.ScopeGlobalPower:
		return "glob|" + n.Name
	case circuit.ScopeHierarchical:
		return "hier|" + n.Name
	default:
		return "loc|" + g.Sheets[n.Sheet].Path + "|" + n.Name
	}
}

func matchNets(plan *Plan, prev, next *circuit.Graph) {
	prevByKey := make(map[string]*circuit.Net)
	for _, n := range prev.Nets {
		prevByKey[netKey(prev, n)] = n
	}

	for _, n := range next.Nets {
		key := netKey(next, n)
		old, ok := prevByKey[key]
		if !ok {
			plan.Nets = append(plan.Nets, NetDecision{Action: Add, New: n})
			continue
		}
		delete(prevByKey, key)

		added, removed := diffMembers(old.Members, n.Members)
		if len(added) == 0 && len(removed) == 0 {
			plan.Nets = append(plan.Nets, NetDecision{Action: Keep, Old: old, New: n})
		} else {
			plan.Nets = append(plan.Nets, NetDecision{Action: Update, Old: old, New: n, Added: added, Removed: removed})
		}
	}

	removed := make([]*circuit.Net, 0, len(prevByKey))
	for _, n := range prevByKey {
		removed = append(removed, n)
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].Name < removed[j].Name })
	for _, n := range removed {
		plan.Nets = append(plan.Nets, NetDecision{Action: Remove, Old: n})
	}
}

// diffMembers computes the symmetric difference of two sorted member
// sets.
func diffMembers(old, new []circuit.NetMember) (added, removed []circuit.NetMember) {
	oldSet := make(map[circuit.NetMember]bool, len(old))
	for _, m := range old {
		oldSet[m] = true
	}
	for _, m := range new {
		if oldSet[m] {
			delete(oldSet, m)
		} else {
			added = append(added, m)
		}
	}
	for _, m := range old {
		if oldSet[m] {
			removed = append(removed, m)
		}
	}
	return added, removed
}

func matchPorts(plan *Plan, prev, next *circuit.Graph) {
	type portKey struct {
		path string
		name string
	}

	prevPorts := make(map[portKey]circuit.Port)
	for _, s := range prev.Sheets {
		for _, port := range s.Ports {
			prevPorts[portKey{s.Path, port.Name}] = port
		}
	}

	for _, s := range next.Sheets {
		for _, port := range s.Ports {
			key := portKey{s.Path, port.Name}
			if old, ok := prevPorts[key]; ok {
				delete(prevPorts, key)
				action := Keep
				if old.Direction != port.Direction {
					action = Update
				}
				plan.Ports = append(plan.Ports, PortDecision{Action: action, ChildPath: s.Path, Port: port})
			} else {
				plan.Ports = append(plan.Ports, PortDecision{Action: Add, ChildPath: s.Path, Port: port})
			}
		}
	}

	removed := make([]PortDecision, 0, len(prevPorts))
	for key, port := range prevPorts {
		removed = append(removed, PortDecision{Action: Remove, ChildPath: key.path, Port: port})
	}
	sort.Slice(removed, func(i, j int) bool {
		if removed[i].ChildPath != removed[j].ChildPath {
			return removed[i].ChildPath < removed[j].ChildPath
		}
		return removed[i].Port.Name < removed[j].Port.Name
	})
	plan.Ports = append(plan.Ports, removed...)
}
