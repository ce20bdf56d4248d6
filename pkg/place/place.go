// Package place chooses sheet positions for parts that arrive without
// layout information.
package place

import (
	"math"

	"github.com/circuit-synth/circuitsync/pkg/kicad/sexp"
)

// Placer assigns a sheet position to an unplaced part. Implementations
// must be deterministic: the same call sequence yields the same
// positions.
type Placer interface {
	Place(ref string) sexp.Position
}

// GridPlacer lays unplaced parts on a coarse grid, left to right then top
// to bottom, leaving the upper-left region free for manual layout work.
type GridPlacer struct {
	Origin  sexp.Position
	PitchX  float64
	PitchY  float64
	Columns int

	count int
}

// NewGridPlacer returns a placer with KiCad-friendly defaults: one part
// per inch starting an inch in from the sheet corner.
func NewGridPlacer() *GridPlacer {
	return &GridPlacer{
		Origin:  sexp.Position{X: 25.4, Y: 25.4},
		PitchX:  25.4,
		PitchY:  25.4,
		Columns: 8,
	}
}

func (g *GridPlacer) Place(ref string) sexp.Position {
	col := g.count % g.Columns
	row := g.count / g.Columns
	g.count++
	return sexp.Position{
		X: Snap(g.Origin.X+float64(col)*g.PitchX, 1.27),
		Y: Snap(g.Origin.Y+float64(row)*g.PitchY, 1.27),
	}
}

// Snap rounds a coordinate onto the given grid pitch so synthesized pins
// land on wire-reachable points.
func Snap(v, pitch float64) float64 {
	return math.Round(v/pitch) * pitch
}
