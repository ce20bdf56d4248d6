package circuit

import "github.com/circuit-synth/circuitsync/pkg/kicad/sexp"

// The authoring surface hands the engine an already-resolved description
// of the design. Any syntax or object model used to produce it is outside
// the engine's contract; all it needs is something that can enumerate
// components, nets and the subcircuit tree.

// Description is the capability contract satisfied by the authoring
// surface.
type Description interface {
	// Root returns the root of the resolved sheet tree.
	Root() *SheetDesc
}

// SheetDesc is one resolved circuit or subcircuit.
type SheetDesc struct {
	Name       string
	File       string // target sheet file name; derived from Name when empty
	Components []ComponentDesc
	Nets       []NetDesc
	Children   []*SheetDesc
	// Ports exposes nets of this sheet to the parent as hierarchical
	// label/pin pairs.
	Ports []PortDesc
}

// ComponentDesc is a resolved component.
type ComponentDesc struct {
	Reference string
	Value     string
	Footprint string
	LibID     string
	Pins      []Pin
	// Token carries a previously assigned identity token when the
	// authoring surface persisted one; empty for new components.
	Token string
	// Position is honored only when Placed is true (explicit relocation).
	Position sexp.Position
	Rotation int
	Placed   bool
}

// NetDesc is a resolved net on one sheet.
type NetDesc struct {
	Name    string
	Global  bool // global power net, visible everywhere
	Members []NetMember
}

// PortDesc exposes a named net across the sheet boundary.
type PortDesc struct {
	Net       string
	Direction string // input, output, bidirectional; inferred when empty
}

// Design is a plain-struct Description implementation, convenient for
// embedding the engine and for tests.
type Design struct {
	Sheet SheetDesc
}

// Root implements Description.
func (d *Design) Root() *SheetDesc { return &d.Sheet }
