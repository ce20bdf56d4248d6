package pcb

import (
	"sort"

	"github.com/circuit-synth/circuitsync/pkg/circuit"
	"github.com/circuit-synth/circuitsync/pkg/kicad/sexp"
)

// SyncResult reports what a footprint sync changed.
type SyncResult struct {
	Added   []string
	Updated []string
	Removed []string
}

// Changed reports whether the board was modified.
func (r *SyncResult) Changed() bool {
	return len(r.Added)+len(r.Updated)+len(r.Removed) > 0
}

// SyncFootprints updates the board's footprint set from the circuit
// graph. Footprints are matched by reference; positions, rotations and
// layers of existing footprints are never touched, so routed layout
// survives. Components without a footprint assignment are skipped.
func SyncFootprints(b *Board, g *circuit.Graph) *SyncResult {
	res := &SyncResult{}

	want := make(map[string]*circuit.Component)
	for _, c := range g.Components {
		if c.Footprint != "" {
			want[c.Reference] = c
		}
	}

	for _, fp := range append([]*Footprint(nil), b.Footprints...) {
		c, ok := want[fp.Reference]
		if !ok {
			fp.Node.Detach()
			b.Footprints = removeFootprint(b.Footprints, fp)
			res.Removed = append(res.Removed, fp.Reference)
			continue
		}
		delete(want, fp.Reference)

		changed := false
		if fp.Value != c.Value {
			setFootprintProperty(fp.Node, "Value", c.Value)
			fp.Value = c.Value
			changed = true
		}
		if fp.LibID != c.Footprint {
			fp.Node.SetAtom(1, c.Footprint)
			fp.LibID = c.Footprint
			changed = true
		}
		if changed {
			res.Updated = append(res.Updated, fp.Reference)
		}
	}

	missing := make([]*circuit.Component, 0, len(want))
	for _, c := range want {
		missing = append(missing, c)
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i].Reference < missing[j].Reference })
	for i, c := range missing {
		b.addFootprint(c, i)
		res.Added = append(res.Added, c.Reference)
	}

	sort.Strings(res.Updated)
	sort.Strings(res.Removed)
	return res
}

// addFootprint places a stub footprint outside the board origin area for
// the user to drag into place. Pads carry the component's pin numbers so
// the ratsnest is usable immediately.
func (b *Board) addFootprint(c *circuit.Component, seq int) {
	pos := sexp.Position{X: 200 + 15*float64(seq%10), Y: 200 + 15*float64(seq/10)}
	token := c.Token
	if token == "" {
		token = circuit.NewToken()
	}

	n := sexp.NewList("footprint", sexp.NewString(c.Footprint),
		sexp.NewList("layer", sexp.NewString("F.Cu")),
		sexp.NewList("uuid", sexp.NewString(token)),
		sexp.NewAt(pos, 0),
		footprintProperty("Reference", c.Reference, pos),
		footprintProperty("Value", c.Value, sexp.Position{X: pos.X, Y: pos.Y + 2}),
	)
	for i, p := range c.Pins {
		pad := sexp.NewList("pad",
			sexp.NewString(p.Number),
			sexp.NewSymbol("smd"),
			sexp.NewSymbol("rect"),
			sexp.NewAt(sexp.Position{X: 1.5 * float64(i)}, 0),
			sexp.NewList("size", sexp.NewNumber(1), sexp.NewNumber(1)),
			sexp.NewList("layers", sexp.NewString("F.Cu"), sexp.NewString("F.Mask")),
		)
		n.AppendChild(pad, "")
	}

	root := b.Doc.Root()
	sexp.Layout(n, 1)
	root.AppendChild(n, sexp.Indent(1))

	fp := parseFootprint(n)
	b.Footprints = append(b.Footprints, fp)
}

func footprintProperty(key, value string, pos sexp.Position) *sexp.Node {
	return sexp.NewList("property",
		sexp.NewString(key), sexp.NewString(value),
		sexp.NewAt(pos, 0),
		sexp.NewList("layer", sexp.NewString("F.SilkS")),
		sexp.NewList("effects",
			sexp.NewList("font",
				sexp.NewList("size", sexp.NewNumber(1), sexp.NewNumber(1)))),
	)
}

func setFootprintProperty(n *sexp.Node, key, value string) {
	for _, prop := range n.FindAll("property") {
		if k, ok := prop.AtomAt(1); ok && k == key {
			prop.SetAtom(2, value)
			return
		}
	}
	prop := footprintProperty(key, value, sexp.Position{})
	sexp.Layout(prop, n.Depth()+1)
	n.AppendChild(prop, sexp.Indent(n.Depth()+1))
}

func removeFootprint(s []*Footprint, fp *Footprint) []*Footprint {
	for i, e := range s {
		if e == fp {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}
