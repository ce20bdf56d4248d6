// Package schematic provides a typed view over parsed KiCad schematic
// files (.kicad_sch). Every element keeps a reference to its node in the
// underlying S-expression tree so edits stay local to the element.
package schematic

import (
	"math"

	"github.com/circuit-synth/circuitsync/pkg/kicad/sexp"
)

// Re-export shared geometry types for convenience
type Position = sexp.Position
type Angle = sexp.Angle

// Schematic represents one sheet file of a KiCad schematic.
type Schematic struct {
	Doc *sexp.Document

	Version      int
	Generator    string
	GeneratorVer string
	UUID         string
	Paper        string

	LibSymbols   []*LibSymbol
	Symbols      []*SymbolInstance
	Wires        []*Wire
	Junctions    []*Junction
	NoConnects   []*NoConnect
	Labels       []*Label
	GlobalLabels []*Label
	HierLabels   []*HierLabel
	Sheets       []*SheetRef
}

// LibSymbol is an embedded library symbol definition.
type LibSymbol struct {
	Node *sexp.Node
	Name string // e.g. "Device:R"
	Pins []LibPin
}

// LibPin is a pin definition in symbol-local coordinates (Y up).
type LibPin struct {
	Number   string
	Name     string
	Type     string // electrical type: passive, input, output, bidirectional, power_in, ...
	Position Position
	Angle    Angle
	Length   float64
	Unit     int // owning unit for multi-unit symbols, 0 = common
}

// SymbolInstance is a symbol placed on the sheet.
type SymbolInstance struct {
	Node      *sexp.Node
	LibID     string
	Reference string
	Value     string
	Footprint string
	Position  Position
	Angle     Angle
	Mirror    string // "", "x" or "y"
	Unit      int
	UUID      string
}

// Wire is a two-point wire segment.
type Wire struct {
	Node  *sexp.Node
	Start Position
	End   Position
	UUID  string
}

// Junction marks three or more wire ends electrically joined at a point.
type Junction struct {
	Node     *sexp.Node
	Position Position
	UUID     string
}

// NoConnect marks a deliberately unconnected pin.
type NoConnect struct {
	Node     *sexp.Node
	Position Position
	UUID     string
}

// Label is a local or global net label.
type Label struct {
	Node     *sexp.Node
	Text     string
	Position Position
	Angle    Angle
	UUID     string
}

// HierLabel is a hierarchical label: the child-sheet half of a port that
// crosses a hierarchy boundary.
type HierLabel struct {
	Node     *sexp.Node
	Text     string
	Shape    string // input, output, bidirectional, tri_state, passive
	Position Position
	Angle    Angle
	UUID     string
}

// SheetRef is a sheet-symbol instance referencing a child sheet file.
type SheetRef struct {
	Node     *sexp.Node
	Name     string
	File     string
	Position Position
	Width    float64
	Height   float64
	UUID     string
	Pins     []*SheetPin
}

// SheetPin is the parent-side half of a hierarchical port, placed on the
// sheet symbol's border.
type SheetPin struct {
	Node     *sexp.Node
	Name     string
	Shape    string
	Position Position
	Angle    Angle
	UUID     string
}

// SymbolByRef returns the symbol instances carrying the given reference
// designator. Multi-unit parts yield one instance per placed unit.
func (s *Schematic) SymbolByRef(ref string) []*SymbolInstance {
	var out []*SymbolInstance
	for _, sym := range s.Symbols {
		if sym.Reference == ref {
			out = append(out, sym)
		}
	}
	return out
}

// LibSymbol returns the embedded library symbol with the given name.
func (s *Schematic) LibSymbol(name string) *LibSymbol {
	for _, ls := range s.LibSymbols {
		if ls.Name == name {
			return ls
		}
	}
	return nil
}

// PinsForUnit returns the pins belonging to the given unit, including pins
// common to all units.
func (ls *LibSymbol) PinsForUnit(unit int) []LibPin {
	var out []LibPin
	for _, p := range ls.Pins {
		if p.Unit == 0 || p.Unit == unit {
			out = append(out, p)
		}
	}
	return out
}

// Pin returns the lib pin with the given number.
func (ls *LibSymbol) Pin(number string) (LibPin, bool) {
	for _, p := range ls.Pins {
		if p.Number == number {
			return p, true
		}
	}
	return LibPin{}, false
}

// PinEndpoint computes the sheet-space position of a pin's connection
// point for a placed symbol instance. Symbol space is Y-up, sheet space is
// Y-down; rotation uses exact right-angle arithmetic so generated wires
// land on the same coordinates a re-parse observes.
func (sym *SymbolInstance) PinEndpoint(pin LibPin) Position {
	px, py := pin.Position.X, pin.Position.Y

	switch sym.Mirror {
	case "y":
		px = -px
	case "x":
		py = -py
	}

	var rx, ry float64
	switch normalizeAngle(sym.Angle) {
	case 90:
		rx, ry = -py, px
	case 180:
		rx, ry = -px, -py
	case 270:
		rx, ry = py, -px
	default:
		rx, ry = px, py
	}

	return Position{
		X: round2(sym.Position.X + rx),
		Y: round2(sym.Position.Y - ry),
	}
}

func normalizeAngle(a Angle) int {
	deg := int(math.Round(float64(a)))
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg
}

// round2 clamps coordinate noise from the transform so positions compare
// exactly against parsed file coordinates.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
