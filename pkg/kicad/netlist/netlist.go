// Package netlist exports a circuit graph in KiCad's netlist exchange
// format and reads such files back into a graph.
package netlist

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/circuit-synth/circuitsync/pkg/circuit"
	"github.com/circuit-synth/circuitsync/pkg/kicad/sexp"
)

// Document renders the graph as a KiCad netlist S-expression document.
// Components sort by reference and nets by name, so the same graph
// always yields the same bytes.
func Document(g *circuit.Graph, source string) *sexp.Document {
	design := sexp.NewList("design",
		sexp.NewList("source", sexp.NewString(source)),
		sexp.NewList("tool", sexp.NewString("circuitsync")),
	)

	comps := sexp.NewList("components")
	sorted := append([]*circuit.Component(nil), g.Components...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Reference < sorted[j].Reference })
	for _, c := range sorted {
		comp := sexp.NewList("comp",
			sexp.NewList("ref", sexp.NewString(c.Reference)),
			sexp.NewList("value", sexp.NewString(c.Value)),
		)
		if c.Footprint != "" {
			comp.AppendChild(sexp.NewList("footprint", sexp.NewString(c.Footprint)), "")
		}
		if lib, part, ok := splitLibID(c.LibID); ok {
			comp.AppendChild(sexp.NewList("libsource",
				sexp.NewList("lib", sexp.NewString(lib)),
				sexp.NewList("part", sexp.NewString(part))), "")
		}
		if c.Sheet != circuit.NoSheet {
			comp.AppendChild(sexp.NewList("sheetpath",
				sexp.NewList("names", sexp.NewString(g.Sheets[c.Sheet].Path))), "")
		}
		if c.Token != "" {
			comp.AppendChild(sexp.NewList("tstamps", sexp.NewString(c.Token)), "")
		}
		comps.AppendChild(comp, "")
	}

	nets := sexp.NewList("nets")
	sortedNets := append([]*circuit.Net(nil), g.Nets...)
	sort.Slice(sortedNets, func(i, j int) bool { return sortedNets[i].Name < sortedNets[j].Name })
	for i, n := range sortedNets {
		net := sexp.NewList("net",
			sexp.NewList("code", sexp.NewInt(i+1)),
			sexp.NewList("name", sexp.NewString(n.Name)),
		)
		for _, m := range n.Members {
			node := sexp.NewList("node",
				sexp.NewList("ref", sexp.NewString(m.Reference)),
				sexp.NewList("pin", sexp.NewString(m.Pin)),
			)
			if c, ok := componentByRef(g, m.Reference); ok {
				if p, ok := c.Pin(m.Pin); ok && p.Direction != "" {
					node.AppendChild(sexp.NewList("pintype", sexp.NewString(p.Direction)), "")
				}
			}
			net.AppendChild(node, "")
		}
		nets.AppendChild(net, "")
	}

	root := sexp.NewList("export",
		sexp.NewList("version", sexp.NewString("E")),
		design, comps, nets,
	)
	sexp.Layout(root, 0)
	return sexp.NewDocument(root)
}

// Write serializes the graph's netlist to w.
func Write(w io.Writer, g *circuit.Graph, source string) error {
	return sexp.Write(w, Document(g, source))
}

func componentByRef(g *circuit.Graph, ref string) (*circuit.Component, bool) {
	for _, c := range g.Components {
		if c.Reference == ref {
			return c, true
		}
	}
	return nil, false
}

func splitLibID(libID string) (lib, part string, ok bool) {
	i := strings.IndexByte(libID, ':')
	if i < 0 {
		return "", libID, libID != ""
	}
	return libID[:i], libID[i+1:], true
}

// Parse reads a KiCad netlist back into a flat circuit graph. Sheet
// structure is reduced to the sheetpath strings the file carries.
func Parse(data []byte) (*circuit.Graph, error) {
	doc, err := sexp.Parse(data)
	if err != nil {
		return nil, err
	}
	root := doc.Root()
	if root == nil || root.Name() != "export" {
		return nil, fmt.Errorf("not a KiCad netlist: missing export node")
	}

	g := circuit.NewGraph()
	sheetIDs := map[string]circuit.SheetID{}
	ensureSheet := func(path string) circuit.SheetID {
		if id, ok := sheetIDs[path]; ok {
			return id
		}
		parent := circuit.NoSheet
		if path != "/" {
			// Parent paths appear before children in exported order; fall
			// back to the root for detached paths.
			if id, ok := sheetIDs["/"]; ok {
				parent = id
			}
		}
		id := g.AddSheet(&circuit.Sheet{Name: path, Path: path, Parent: parent})
		sheetIDs[path] = id
		return id
	}
	ensureSheet("/")

	if comps, ok := root.Find("components"); ok {
		for _, c := range comps.FindAll("comp") {
			comp := &circuit.Component{Sheet: sheetIDs["/"]}
			if n, ok := c.Find("ref"); ok {
				comp.Reference, _ = n.AtomAt(1)
			}
			if n, ok := c.Find("value"); ok {
				comp.Value, _ = n.AtomAt(1)
			}
			if n, ok := c.Find("footprint"); ok {
				comp.Footprint, _ = n.AtomAt(1)
			}
			if n, ok := c.Find("libsource"); ok {
				lib := ""
				part := ""
				if l, ok := n.Find("lib"); ok {
					lib, _ = l.AtomAt(1)
				}
				if p, ok := n.Find("part"); ok {
					part, _ = p.AtomAt(1)
				}
				if lib != "" {
					comp.LibID = lib + ":" + part
				} else {
					comp.LibID = part
				}
			}
			if n, ok := c.Find("sheetpath"); ok {
				if names, ok := n.Find("names"); ok {
					if path, ok := names.AtomAt(1); ok && path != "" {
						comp.Sheet = ensureSheet(path)
					}
				}
			}
			if n, ok := c.Find("tstamps"); ok {
				comp.Token, _ = n.AtomAt(1)
			}
			if _, err := g.AddComponent(comp); err != nil {
				return nil, err
			}
		}
	}

	if nets, ok := root.Find("nets"); ok {
		for _, n := range nets.FindAll("net") {
			net := &circuit.Net{Sheet: sheetIDs["/"]}
			if name, ok := n.Find("name"); ok {
				net.Name, _ = name.AtomAt(1)
			}
			for _, node := range n.FindAll("node") {
				var m circuit.NetMember
				if r, ok := node.Find("ref"); ok {
					m.Reference, _ = r.AtomAt(1)
				}
				if p, ok := node.Find("pin"); ok {
					m.Pin, _ = p.AtomAt(1)
				}
				net.Members = append(net.Members, m)
			}
			g.AddNet(net)
		}
	}

	return g, nil
}
