package sexp

import "gonum.org/v1/gonum/spatial/r2"

// Position is a 2D coordinate in millimeters, KiCad's schematic unit.
type Position struct {
	X float64
	Y float64
}

// Vec converts the position to a gonum vector for distance math.
func (p Position) Vec() r2.Vec {
	return r2.Vec{X: p.X, Y: p.Y}
}

// Angle is a rotation in degrees.
type Angle float64

// PositionAngle combines a position with a rotation.
type PositionAngle struct {
	Position
	Angle Angle
}

// GetPosition extracts position and optional angle from an (at X Y [angle])
// node.
func GetPosition(n *Node) (PositionAngle, bool) {
	x, okX := n.FloatAt(1)
	y, okY := n.FloatAt(2)
	if !okX || !okY {
		return PositionAngle{}, false
	}
	pa := PositionAngle{Position: Position{X: x, Y: y}}
	if a, ok := n.FloatAt(3); ok {
		pa.Angle = Angle(a)
	}
	return pa, true
}

// GetXY extracts the coordinates of a (keyword X Y) node such as (xy ...),
// (start ...) or (end ...).
func GetXY(n *Node) (Position, bool) {
	x, okX := n.FloatAt(1)
	y, okY := n.FloatAt(2)
	if !okX || !okY {
		return Position{}, false
	}
	return Position{X: x, Y: y}, true
}

// NewAt builds an (at X Y [angle]) node; the angle is omitted when zero.
func NewAt(pos Position, angle Angle) *Node {
	n := NewList("at", NewNumber(pos.X), NewNumber(pos.Y))
	if angle != 0 {
		n.append(NewNumber(float64(angle)))
	}
	return n
}

// NewXY builds an (xy X Y) node.
func NewXY(pos Position) *Node {
	return NewList("xy", NewNumber(pos.X), NewNumber(pos.Y))
}
