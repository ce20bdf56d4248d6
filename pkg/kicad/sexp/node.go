// Package sexp implements the S-expression grammar shared by KiCad
// schematic, PCB and netlist files.
//
// The parser produces a mutable tree in which every node remembers the
// exact source bytes it was parsed from. The writer emits those bytes
// verbatim for any subtree that has not been modified, so regenerating a
// file touches only the regions a merge actually changed. Node kinds the
// package does not understand are carried opaquely and round-trip
// unchanged.
package sexp

import (
	"strconv"
	"strings"
)

// Kind identifies the node variant.
type Kind int

const (
	KindList Kind = iota
	KindSymbol
	KindString
)

// Node is one element of a parsed S-expression tree: a parenthesized list,
// an unquoted symbol, or a quoted string.
type Node struct {
	Kind     Kind
	Value    string // decoded atom value; unused for lists
	Children []*Node
	Parent   *Node

	Line int
	Col  int

	// Source fidelity. raw is the exact source text of the node
	// (delimiters included); lead is the trivia run before its first
	// token; closeLead is the trivia before a list's closing paren.
	// Synthesized nodes have raw == "" and are always formatted fresh.
	raw       string
	lead      string
	closeLead string
	dirty     bool
}

// NewList creates a synthesized list node whose first child is the symbol
// name, followed by the given children.
func NewList(name string, children ...*Node) *Node {
	n := &Node{Kind: KindList, dirty: true}
	n.append(NewSymbol(name))
	for _, c := range children {
		n.append(c)
	}
	return n
}

// NewSymbol creates a synthesized unquoted atom.
func NewSymbol(value string) *Node {
	return &Node{Kind: KindSymbol, Value: value, dirty: true}
}

// NewString creates a synthesized quoted-string atom.
func NewString(value string) *Node {
	return &Node{Kind: KindString, Value: value, dirty: true}
}

// NewNumber creates a synthesized numeric atom with KiCad's minimal
// decimal formatting.
func NewNumber(v float64) *Node {
	return NewSymbol(FormatNumber(v))
}

// NewInt creates a synthesized integer atom.
func NewInt(v int) *Node {
	return NewSymbol(strconv.Itoa(v))
}

// FormatNumber renders a float the way KiCad writes coordinates: no
// exponent, no trailing zeros.
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// IsList reports whether the node is a parenthesized list.
func (n *Node) IsList() bool { return n.Kind == KindList }

// Name returns the first symbol of a list (the node type), or the value of
// an atom. Returns "" for an empty list.
func (n *Node) Name() string {
	if n.Kind != KindList {
		return n.Value
	}
	if len(n.Children) == 0 {
		return ""
	}
	return n.Children[0].Value
}

// Find returns the first child list (or bare symbol) whose name matches
// key. This mirrors searching for (at ...), (uuid ...) etc. inside a node.
func (n *Node) Find(key string) (*Node, bool) {
	for _, c := range n.Children {
		if c.Kind == KindList {
			if c.Name() == key {
				return c, true
			}
		} else if c.Kind == KindSymbol && c.Value == key {
			return c, true
		}
	}
	return nil, false
}

// FindAll returns every child list whose name matches key.
func (n *Node) FindAll(key string) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Kind == KindList && c.Name() == key {
			out = append(out, c)
		}
	}
	return out
}

// HasSymbol reports whether the list contains a bare symbol child with the
// given value (used for flags like "hide" or "bold").
func (n *Node) HasSymbol(value string) bool {
	for _, c := range n.Children {
		if c.Kind == KindSymbol && c.Value == value {
			return true
		}
	}
	return false
}

// AtomAt returns the decoded value of the child at index i. Index 0 is the
// list's name symbol, 1 the first argument, and so on.
func (n *Node) AtomAt(i int) (string, bool) {
	if i < 0 || i >= len(n.Children) {
		return "", false
	}
	c := n.Children[i]
	if c.Kind == KindList {
		return "", false
	}
	return c.Value, true
}

// FloatAt parses the child at index i as a float64.
func (n *Node) FloatAt(i int) (float64, bool) {
	s, ok := n.AtomAt(i)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// IntAt parses the child at index i as an int.
func (n *Node) IntAt(i int) (int, bool) {
	s, ok := n.AtomAt(i)
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}

// markDirty flags the node and all its ancestors so the writer reformats
// this path instead of replaying raw source bytes.
func (n *Node) markDirty() {
	for p := n; p != nil && !p.dirty; p = p.Parent {
		p.dirty = true
	}
}

// SetAtom replaces the decoded value of the child atom at index i,
// preserving its quoting style.
func (n *Node) SetAtom(i int, value string) bool {
	if i < 0 || i >= len(n.Children) {
		return false
	}
	c := n.Children[i]
	if c.Kind == KindList {
		return false
	}
	if c.Value == value {
		return true
	}
	c.Value = value
	c.raw = ""
	c.markDirty()
	return true
}

// append adds a child without dirty-tracking; used by constructors and the
// parser.
func (n *Node) append(c *Node) {
	c.Parent = n
	n.Children = append(n.Children, c)
}

// AppendChild adds a child at the end of the list and marks the node
// modified. The child is separated from its predecessor by lead, which the
// caller chooses to match the surrounding indentation.
func (n *Node) AppendChild(c *Node, lead string) {
	c.lead = lead
	n.append(c)
	n.markDirty()
}

// InsertChild inserts a child at index i.
func (n *Node) InsertChild(i int, c *Node, lead string) {
	if i < 0 || i > len(n.Children) {
		i = len(n.Children)
	}
	c.lead = lead
	c.Parent = n
	n.Children = append(n.Children, nil)
	copy(n.Children[i+1:], n.Children[i:])
	n.Children[i] = c
	n.markDirty()
}

// RemoveChild removes the given child node. Returns false if c is not a
// direct child.
func (n *Node) RemoveChild(c *Node) bool {
	for i, child := range n.Children {
		if child == c {
			n.Children = append(n.Children[:i], n.Children[i+1:]...)
			c.Parent = nil
			n.markDirty()
			return true
		}
	}
	return false
}

// Detach removes the node from its parent.
func (n *Node) Detach() bool {
	if n.Parent == nil {
		return false
	}
	return n.Parent.RemoveChild(n)
}

// Index returns the position of the node within its parent, or -1.
func (n *Node) Index() int {
	if n.Parent == nil {
		return -1
	}
	for i, c := range n.Parent.Children {
		if c == n {
			return i
		}
	}
	return -1
}

// Depth returns the nesting depth of the node (0 for a top-level node).
func (n *Node) Depth() int {
	d := 0
	for p := n.Parent; p != nil; p = p.Parent {
		d++
	}
	return d
}

// Clone returns a deep copy of the subtree. The copy is detached and
// synthesized (no raw source), so it is formatted fresh when written.
func (n *Node) Clone() *Node {
	c := &Node{Kind: n.Kind, Value: n.Value, dirty: true}
	for _, child := range n.Children {
		c.append(child.Clone())
	}
	return c
}

// Indent returns the lead string placing a child on its own line at the
// given nesting depth, matching KiCad's tab indentation.
func Indent(depth int) string {
	return "\n" + strings.Repeat("\t", depth)
}
