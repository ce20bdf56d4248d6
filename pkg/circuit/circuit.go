// Package circuit defines the canonical in-memory circuit graph shared by
// both synchronization directions: components, nets and hierarchical
// sheets, indexed by arena IDs so cross-references are lookups instead of
// owning pointers.
package circuit

import (
	"crypto/rand"
	"fmt"
	"sort"

	"github.com/circuit-synth/circuitsync/pkg/kicad/sexp"
)

// NetScope classifies how far a net is visible.
type NetScope int

const (
	// ScopeLocal nets exist on a single sheet.
	ScopeLocal NetScope = iota
	// ScopeHierarchical nets cross a sheet boundary through a matched
	// hierarchical label/pin pair.
	ScopeHierarchical
	// ScopeGlobalPower nets are visible everywhere (power rails).
	ScopeGlobalPower
)

func (s NetScope) String() string {
	switch s {
	case ScopeHierarchical:
		return "hierarchical"
	case ScopeGlobalPower:
		return "global"
	default:
		return "local"
	}
}

// Arena indices. Negative values mean "none".
type (
	ComponentID int
	NetID       int
	SheetID     int
)

const NoSheet SheetID = -1

// Pin is one pin of a component.
type Pin struct {
	Number    string
	Name      string
	Direction string // input, output, bidirectional, passive, power_in, ...
	// Offset is the pin position in symbol-local coordinates, used when a
	// library stub has to be synthesized. Zero when unknown.
	Offset sexp.Position
	Angle  sexp.Angle
}

// Component is a placed part.
type Component struct {
	ID        ComponentID
	Reference string
	Value     string
	Footprint string
	LibID     string
	Position  sexp.Position
	Rotation  int // 0, 90, 180, 270
	Placed    bool
	Token     string // stable identity token, persists across regenerations
	Sheet     SheetID
	Pins      []Pin
}

// Pin returns the pin with the given number.
func (c *Component) Pin(number string) (Pin, bool) {
	for _, p := range c.Pins {
		if p.Number == number {
			return p, true
		}
	}
	return Pin{}, false
}

// NetMember is one (component reference, pin number) membership.
type NetMember struct {
	Reference string
	Pin       string
}

func (m NetMember) String() string { return m.Reference + "." + m.Pin }

// Crossing records one hierarchy boundary a net passes through: the child
// sheet and the port (label/pin pair) name realizing it.
type Crossing struct {
	Child SheetID
	Port  string
}

// Net is a set of electrically joined pins. Member order is irrelevant;
// the slice is kept sorted for deterministic comparison.
type Net struct {
	ID        NetID
	Name      string
	Scope     NetScope
	Sheet     SheetID // sheet owning the name; root-most sheet for hierarchical nets
	Members   []NetMember
	Crossings []Crossing
}

// SortMembers normalizes member ordering.
func (n *Net) SortMembers() {
	sort.Slice(n.Members, func(i, j int) bool {
		if n.Members[i].Reference != n.Members[j].Reference {
			return n.Members[i].Reference < n.Members[j].Reference
		}
		return n.Members[i].Pin < n.Members[j].Pin
	})
}

// HasMember reports whether the net contains the membership.
func (n *Net) HasMember(m NetMember) bool {
	for _, e := range n.Members {
		if e == m {
			return true
		}
	}
	return false
}

// Port is a hierarchical label/pin pair seen from the child sheet.
type Port struct {
	Name      string
	Direction string // input, output, bidirectional
}

// Sheet is one circuit or subcircuit. Parent is a weak lookup key, never
// an owning pointer.
type Sheet struct {
	ID         SheetID
	Name       string
	Path       string // hierarchical path, "/" for root
	File       string // sheet file name
	Parent     SheetID
	Children   []SheetID
	Components []ComponentID
	Nets       []NetID
	Ports      []Port
	Token      string
}

// Graph is the canonical circuit graph. All elements live in arenas; IDs
// index into them.
type Graph struct {
	Sheets     []*Sheet
	Components []*Component
	Nets       []*Net

	byToken map[string]ComponentID
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{byToken: make(map[string]ComponentID)}
}

// AddSheet appends a sheet to the arena and wires it under its parent.
func (g *Graph) AddSheet(s *Sheet) SheetID {
	s.ID = SheetID(len(g.Sheets))
	g.Sheets = append(g.Sheets, s)
	if s.Parent != NoSheet {
		p := g.Sheets[s.Parent]
		p.Children = append(p.Children, s.ID)
	}
	return s.ID
}

// AddComponent appends a component. Duplicate identity tokens are an
// IdentityConflictError.
func (g *Graph) AddComponent(c *Component) (ComponentID, error) {
	if c.Token != "" {
		if prev, ok := g.byToken[c.Token]; ok {
			return 0, &IdentityConflictError{
				Token: c.Token,
				RefA:  g.Components[prev].Reference,
				RefB:  c.Reference,
			}
		}
	}
	c.ID = ComponentID(len(g.Components))
	g.Components = append(g.Components, c)
	if c.Token != "" {
		g.byToken[c.Token] = c.ID
	}
	if c.Sheet != NoSheet {
		sh := g.Sheets[c.Sheet]
		sh.Components = append(sh.Components, c.ID)
	}
	return c.ID, nil
}

// AddNet appends a net.
func (g *Graph) AddNet(n *Net) NetID {
	n.ID = NetID(len(g.Nets))
	n.SortMembers()
	g.Nets = append(g.Nets, n)
	if n.Sheet != NoSheet {
		sh := g.Sheets[n.Sheet]
		sh.Nets = append(sh.Nets, n.ID)
	}
	return n.ID
}

// ByToken returns the component carrying the identity token.
func (g *Graph) ByToken(token string) (*Component, bool) {
	id, ok := g.byToken[token]
	if !ok {
		return nil, false
	}
	return g.Components[id], true
}

// ByReference returns the component with the given reference on the given
// sheet. Multi-unit parts share one component entry.
func (g *Graph) ByReference(sheet SheetID, ref string) (*Component, bool) {
	for _, id := range g.Sheets[sheet].Components {
		if g.Components[id].Reference == ref {
			return g.Components[id], true
		}
	}
	return nil, false
}

// SheetByPath returns the sheet with the given hierarchical path.
func (g *Graph) SheetByPath(path string) (*Sheet, bool) {
	for _, s := range g.Sheets {
		if s.Path == path {
			return s, true
		}
	}
	return nil, false
}

// Root returns the root sheet, or nil for an empty graph.
func (g *Graph) Root() *Sheet {
	for _, s := range g.Sheets {
		if s.Parent == NoSheet {
			return s
		}
	}
	return nil
}

// Validate checks referential integrity: every net member must name an
// existing component and pin.
func (g *Graph) Validate() error {
	refs := make(map[string]*Component, len(g.Components))
	for _, c := range g.Components {
		refs[c.Reference] = c
	}
	for _, n := range g.Nets {
		for _, m := range n.Members {
			c, ok := refs[m.Reference]
			if !ok {
				return &UnresolvedReferenceError{Net: n.Name, Member: m, Missing: "component"}
			}
			if len(c.Pins) > 0 {
				if _, ok := c.Pin(m.Pin); !ok {
					return &UnresolvedReferenceError{Net: n.Name, Member: m, Missing: "pin"}
				}
			}
		}
	}
	return nil
}

// NewToken mints a fresh identity token in UUIDv4 text form.
func NewToken() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("entropy source unavailable: %v", err))
	}
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
