package sync

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/circuit-synth/circuitsync/pkg/circuit"
	"github.com/circuit-synth/circuitsync/pkg/kicad/schematic"
	"github.com/circuit-synth/circuitsync/pkg/kicad/sexp"
)

func resistor(ref, value string) circuit.ComponentDesc {
	return circuit.ComponentDesc{
		Reference: ref,
		Value:     value,
		Footprint: "Resistor_SMD:R_0603_1608Metric",
		LibID:     "Device:R",
		Pins: []circuit.Pin{
			{Number: "1", Name: "~", Direction: "passive", Offset: sexp.Position{X: 0, Y: 3.81}, Angle: 270},
			{Number: "2", Name: "~", Direction: "passive", Offset: sexp.Position{X: 0, Y: -3.81}, Angle: 90},
		},
	}
}

func member(ref, pin string) circuit.NetMember {
	return circuit.NetMember{Reference: ref, Pin: pin}
}

func syncOnce(t *testing.T, root string, d *circuit.Design) *Result {
	t.Helper()
	res, err := NewSession(Options{}).SyncProject(root, d)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	return res
}

func importGraph(t *testing.T, root string) *circuit.Graph {
	t.Helper()
	g, err := Import(root)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	return g
}

func findNet(g *circuit.Graph, name string) *circuit.Net {
	for _, n := range g.Nets {
		if n.Name == name {
			return n
		}
	}
	return nil
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return data
}

func TestSyncCreatesProjectAndIsIdempotent(t *testing.T) {
	root := filepath.Join(t.TempDir(), "main.kicad_sch")
	design := &circuit.Design{Sheet: circuit.SheetDesc{
		Name:       "main",
		Components: []circuit.ComponentDesc{resistor("R1", "10k"), resistor("R2", "4.7k")},
		Nets: []circuit.NetDesc{
			{Name: "SIG", Members: []circuit.NetMember{member("R1", "1"), member("R2", "1")}},
			{Name: "GND", Global: true, Members: []circuit.NetMember{member("R1", "2"), member("R2", "2")}},
		},
	}}

	res := syncOnce(t, root, design)
	if !res.Changed || !res.Written {
		t.Fatalf("first run: Changed=%v Written=%v, want both true", res.Changed, res.Written)
	}

	g := importGraph(t, root)
	if len(g.Components) != 2 {
		t.Fatalf("got %d components, want 2", len(g.Components))
	}
	sig := findNet(g, "SIG")
	if sig == nil || len(sig.Members) != 2 || sig.Scope != circuit.ScopeLocal {
		t.Fatalf("net SIG = %+v, want 2 local members", sig)
	}
	gnd := findNet(g, "GND")
	if gnd == nil || len(gnd.Members) != 2 || gnd.Scope != circuit.ScopeGlobalPower {
		t.Fatalf("net GND = %+v, want 2 global members", gnd)
	}

	first := readFile(t, root)
	res2 := syncOnce(t, root, design)
	if res2.Changed {
		t.Fatalf("second run reported changes: +%d ~%d -%d", res2.Added, res2.Updated, res2.Removed)
	}
	if !bytes.Equal(first, readFile(t, root)) {
		t.Fatal("second run modified the file")
	}
}

func TestDryRunWritesNothing(t *testing.T) {
	root := filepath.Join(t.TempDir(), "main.kicad_sch")
	design := &circuit.Design{Sheet: circuit.SheetDesc{
		Name:       "main",
		Components: []circuit.ComponentDesc{resistor("R1", "10k")},
	}}

	res, err := NewSession(Options{DryRun: true}).SyncProject(root, design)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !res.Changed || res.Written {
		t.Fatalf("Changed=%v Written=%v, want changed without write", res.Changed, res.Written)
	}
	if _, err := os.Stat(root); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("dry run created the root file")
	}
}

// A three-pin junction must disappear, and nothing else move, when the
// net splits down to two pins.
func TestJunctionRemovedWhenNetSplits(t *testing.T) {
	root := filepath.Join(t.TempDir(), "main.kicad_sch")
	three := &circuit.Design{Sheet: circuit.SheetDesc{
		Name: "main",
		Components: []circuit.ComponentDesc{
			resistor("R1", "1k"), resistor("R2", "1k"), resistor("R3", "1k"),
		},
		Nets: []circuit.NetDesc{
			{Name: "N3", Members: []circuit.NetMember{member("R1", "1"), member("R2", "1"), member("R3", "1")}},
		},
	}}
	syncOnce(t, root, three)

	sch, err := schematic.ParseFile(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(sch.Junctions) != 1 {
		t.Fatalf("after first sync: %d junctions, want 1", len(sch.Junctions))
	}
	posBefore := symbolPositions(sch)

	two := &circuit.Design{Sheet: circuit.SheetDesc{
		Name:       "main",
		Components: three.Sheet.Components,
		Nets: []circuit.NetDesc{
			{Name: "N3", Members: []circuit.NetMember{member("R1", "1"), member("R2", "1")}},
		},
	}}
	res := syncOnce(t, root, two)
	if !res.Changed {
		t.Fatal("split reported no changes")
	}

	sch, err = schematic.ParseFile(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(sch.Junctions) != 0 {
		t.Fatalf("after split: %d junctions, want 0", len(sch.Junctions))
	}
	for ref, pos := range symbolPositions(sch) {
		if pos != posBefore[ref] {
			t.Fatalf("symbol %s moved from %v to %v", ref, posBefore[ref], pos)
		}
	}

	g := importGraph(t, root)
	n3 := findNet(g, "N3")
	if n3 == nil || len(n3.Members) != 2 {
		t.Fatalf("net N3 = %+v, want 2 members", n3)
	}

	if syncOnce(t, root, two).Changed {
		t.Fatal("resync after split still reports changes")
	}
}

func symbolPositions(sch *schematic.Schematic) map[string]schematic.Position {
	out := make(map[string]schematic.Position)
	for _, sym := range sch.Symbols {
		out[sym.Reference] = sym.Position
	}
	return out
}

// Renaming a hierarchical port must replace the old label/pin pair with
// exactly one new pair, never leave the stale name behind.
func TestHierarchicalPortRename(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "main.kicad_sch")

	design := func(port string) *circuit.Design {
		return &circuit.Design{Sheet: circuit.SheetDesc{
			Name:       "main",
			Components: []circuit.ComponentDesc{resistor("R2", "1k")},
			Nets: []circuit.NetDesc{
				{Name: port, Members: []circuit.NetMember{member("R2", "1")}},
			},
			Children: []*circuit.SheetDesc{{
				Name:       "spi",
				File:       "spi.kicad_sch",
				Components: []circuit.ComponentDesc{resistor("R1", "33")},
				Nets: []circuit.NetDesc{
					{Name: port, Members: []circuit.NetMember{member("R1", "1")}},
				},
				Ports: []circuit.PortDesc{{Net: port, Direction: "input"}},
			}},
		}}
	}

	syncOnce(t, root, design("DATA_IN"))
	g := importGraph(t, root)
	if n := findNet(g, "DATA_IN"); n == nil || n.Scope != circuit.ScopeHierarchical || len(n.Members) != 2 {
		t.Fatalf("net DATA_IN = %+v, want hierarchical with 2 members", n)
	}
	if syncOnce(t, root, design("DATA_IN")).Changed {
		t.Fatal("resync before rename reports changes")
	}

	res := syncOnce(t, root, design("SPI_MOSI"))
	var netAdds, netRemoves int
	for _, d := range res.Plan.Nets {
		switch d.Action {
		case Add:
			netAdds++
		case Remove:
			netRemoves++
		}
	}
	if netAdds != 1 || netRemoves != 1 {
		t.Fatalf("rename planned %d net adds, %d net removes, want 1 and 1", netAdds, netRemoves)
	}

	child, err := schematic.ParseFile(filepath.Join(dir, "spi.kicad_sch"))
	if err != nil {
		t.Fatal(err)
	}
	if len(child.HierLabels) != 1 || child.HierLabels[0].Text != "SPI_MOSI" {
		t.Fatalf("child hier labels = %+v, want exactly one SPI_MOSI", child.HierLabels)
	}
	for _, path := range []string{root, filepath.Join(dir, "spi.kicad_sch")} {
		if bytes.Contains(readFile(t, path), []byte("DATA_IN")) {
			t.Fatalf("%s still mentions the old port name", path)
		}
	}

	g = importGraph(t, root)
	if n := findNet(g, "SPI_MOSI"); n == nil || len(n.Members) != 2 {
		t.Fatalf("net SPI_MOSI = %+v, want 2 members", n)
	}
	if findNet(g, "DATA_IN") != nil {
		t.Fatal("old net DATA_IN survived the rename")
	}

	if syncOnce(t, root, design("SPI_MOSI")).Changed {
		t.Fatal("resync after rename reports changes")
	}
}

// Multi-unit fixture: one NAND package placed as two units, unit 1 already
// labeled net A.
const multiUnitFixture = `(kicad_sch
	(version 20250114)
	(generator "eeschema")
	(uuid "6f3a1c2e-9a4b-4f0d-8e57-0b1d2c3a4f55")
	(paper "A4")
	(lib_symbols
		(symbol "Sim:NAND2"
			(pin_numbers (hide yes))
			(symbol "NAND2_1_1"
				(pin input line (at -7.62 2.54 0) (length 2.54)
					(name "A") (number "1"))
				(pin output line (at 7.62 0 180) (length 2.54)
					(name "Y") (number "2"))
			)
			(symbol "NAND2_2_1"
				(pin input line (at -7.62 2.54 0) (length 2.54)
					(name "A") (number "3"))
				(pin output line (at 7.62 0 180) (length 2.54)
					(name "Y") (number "4"))
			)
		)
	)
	(label "A" (at 55.88 60.96 0)
		(effects (font (size 1.27 1.27)))
		(uuid "0d1e2f30-4142-4344-8546-474849404142")
	)
	(symbol
		(lib_id "Sim:NAND2")
		(at 63.5 63.5 0)
		(unit 1)
		(uuid "11111111-2222-4333-8444-555555555555")
		(property "Reference" "U1" (at 66.04 62.23 0))
		(property "Value" "74HC00" (at 66.04 64.77 0))
		(property "Footprint" "" (at 63.5 63.5 0))
	)
	(symbol
		(lib_id "Sim:NAND2")
		(at 63.5 88.9 0)
		(unit 2)
		(uuid "aaaaaaaa-bbbb-4ccc-8ddd-eeeeeeeeeeee")
		(property "Reference" "U1" (at 66.04 87.63 0))
		(property "Value" "74HC00" (at 66.04 90.17 0))
		(property "Footprint" "" (at 63.5 88.9 0))
	)
	(sheet_instances
		(path "/" (page "1"))
	)
)
`

func nandGate() circuit.ComponentDesc {
	return circuit.ComponentDesc{
		Reference: "U1",
		Value:     "74HC00",
		LibID:     "Sim:NAND2",
		Pins: []circuit.Pin{
			{Number: "1", Name: "A", Direction: "input"},
			{Number: "2", Name: "Y", Direction: "output"},
			{Number: "3", Name: "A", Direction: "input"},
			{Number: "4", Name: "Y", Direction: "output"},
		},
	}
}

// Connecting one unit of a multi-unit part must not disturb the placed
// geometry of its sibling units.
func TestMultiUnitSiblingGeometryUntouched(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "main.kicad_sch")
	if err := os.WriteFile(root, []byte(multiUnitFixture), 0o644); err != nil {
		t.Fatal(err)
	}

	design := &circuit.Design{Sheet: circuit.SheetDesc{
		Name:       "main",
		Components: []circuit.ComponentDesc{nandGate()},
		Nets: []circuit.NetDesc{
			{Name: "A", Members: []circuit.NetMember{member("U1", "1")}},
			{Name: "B", Members: []circuit.NetMember{member("U1", "3")}},
		},
	}}

	res := syncOnce(t, root, design)
	if !res.Changed {
		t.Fatal("adding net B reported no changes")
	}

	after := readFile(t, root)
	// Unit 1 and its existing label survive byte for byte.
	for _, fragment := range []string{
		`(at 63.5 63.5 0)`,
		`(at 63.5 88.9 0)`,
		`(label "A" (at 55.88 60.96 0)`,
	} {
		if !bytes.Contains(after, []byte(fragment)) {
			t.Fatalf("placed geometry %q was rewritten", fragment)
		}
	}

	g := importGraph(t, root)
	b := findNet(g, "B")
	if b == nil || len(b.Members) != 1 || b.Members[0] != member("U1", "3") {
		t.Fatalf("net B = %+v, want single member U1.3", b)
	}
	if len(g.Components) != 1 {
		t.Fatalf("got %d components, want 1 (units share the reference)", len(g.Components))
	}

	if syncOnce(t, root, design).Changed {
		t.Fatal("resync reports changes")
	}
}

// A value change must edit the property atom and nothing else.
func TestValueUpdatePreservesLayout(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "main.kicad_sch")
	if err := os.WriteFile(root, []byte(multiUnitFixture), 0o644); err != nil {
		t.Fatal(err)
	}

	gate := nandGate()
	gate.Value = "74HC132"
	design := &circuit.Design{Sheet: circuit.SheetDesc{
		Name:       "main",
		Components: []circuit.ComponentDesc{gate},
		Nets: []circuit.NetDesc{
			{Name: "A", Members: []circuit.NetMember{member("U1", "1")}},
		},
	}}

	res := syncOnce(t, root, design)
	var updated int
	for _, d := range res.Plan.Components {
		if d.Action == Update {
			updated++
		}
	}
	if updated != 1 {
		t.Fatalf("planned %d component updates, want 1", updated)
	}

	after := string(readFile(t, root))
	if strings.Contains(after, "74HC00") {
		t.Fatal("old value still present")
	}
	if strings.Count(after, "74HC132") != 2 {
		t.Fatalf("new value appears %d times, want 2 (one per unit)", strings.Count(after, "74HC132"))
	}
	for _, fragment := range []string{
		`(at 63.5 63.5 0)`,
		`(at 63.5 88.9 0)`,
		`(label "A" (at 55.88 60.96 0)`,
	} {
		if !strings.Contains(after, fragment) {
			t.Fatalf("layout fragment %q was rewritten", fragment)
		}
	}
}

// Renumbering a token-carrying component must survive into the net
// pass, which addresses members by the new designator.
func TestTokenRenameKeepsNetMembership(t *testing.T) {
	root := filepath.Join(t.TempDir(), "main.kicad_sch")
	design := func(ref string) *circuit.Design {
		a := resistor(ref, "10k")
		a.Token = "aa8c1c2e-6a4f-4c21-9d2a-3f5b7c9d1e0f"
		b := resistor("R2", "4.7k")
		b.Token = "bb9d2d3f-7b50-4d32-8e3b-4a6c8dae2f10"
		return &circuit.Design{Sheet: circuit.SheetDesc{
			Name:       "main",
			Components: []circuit.ComponentDesc{a, b},
			Nets: []circuit.NetDesc{
				{Name: "SIG", Members: []circuit.NetMember{member(ref, "1"), member("R2", "1")}},
			},
		}}
	}

	syncOnce(t, root, design("R1"))

	res := syncOnce(t, root, design("R5"))
	var compUpdates int
	for _, d := range res.Plan.Components {
		if d.Action == Update {
			compUpdates++
		}
	}
	if !res.Changed || compUpdates != 1 {
		t.Fatalf("rename run: Changed=%v component updates=%d, want one", res.Changed, compUpdates)
	}
	data := readFile(t, root)
	if !bytes.Contains(data, []byte(`"R5"`)) || bytes.Contains(data, []byte(`"R1"`)) {
		t.Fatal("file does not carry the renamed designator")
	}
	g := importGraph(t, root)
	n := findNet(g, "SIG")
	if n == nil || len(n.Members) != 2 {
		t.Fatalf("net SIG = %+v, want 2 members", n)
	}
	refs := map[string]bool{}
	for _, mb := range n.Members {
		refs[mb.Reference] = true
	}
	if !refs["R5"] || !refs["R2"] {
		t.Fatalf("net SIG members = %v, want R5 and R2", n.Members)
	}

	if syncOnce(t, root, design("R5")).Changed {
		t.Fatal("resync after rename reports changes")
	}
}

// Removing a component prunes its wiring but leaves the rest alone.
func TestComponentRemovalPrunesWiring(t *testing.T) {
	root := filepath.Join(t.TempDir(), "main.kicad_sch")
	full := &circuit.Design{Sheet: circuit.SheetDesc{
		Name: "main",
		Components: []circuit.ComponentDesc{
			resistor("R1", "1k"), resistor("R2", "1k"), resistor("R3", "1k"),
		},
		Nets: []circuit.NetDesc{
			{Name: "SIG", Members: []circuit.NetMember{member("R1", "1"), member("R2", "1")}},
			{Name: "AUX", Members: []circuit.NetMember{member("R2", "2"), member("R3", "1")}},
		},
	}}
	syncOnce(t, root, full)

	trimmed := &circuit.Design{Sheet: circuit.SheetDesc{
		Name:       "main",
		Components: []circuit.ComponentDesc{resistor("R1", "1k"), resistor("R2", "1k")},
		Nets: []circuit.NetDesc{
			{Name: "SIG", Members: []circuit.NetMember{member("R1", "1"), member("R2", "1")}},
		},
	}}
	res := syncOnce(t, root, trimmed)
	if !res.Changed {
		t.Fatal("removal reported no changes")
	}

	g := importGraph(t, root)
	if len(g.Components) != 2 {
		t.Fatalf("got %d components, want 2", len(g.Components))
	}
	if findNet(g, "AUX") != nil {
		t.Fatal("net AUX survived its removal")
	}
	sig := findNet(g, "SIG")
	if sig == nil || len(sig.Members) != 2 {
		t.Fatalf("net SIG = %+v, want 2 members", sig)
	}
	if bytes.Contains(readFile(t, root), []byte(`"R3"`)) {
		t.Fatal("R3 still present in the file")
	}

	if syncOnce(t, root, trimmed).Changed {
		t.Fatal("resync after removal reports changes")
	}
}

const conflictFixture = `(kicad_sch
	(version 20250114)
	(generator "eeschema")
	(uuid "3c9f0a1b-2d4e-4f60-8172-93a4b5c6d7e8")
	(paper "A4")
	(lib_symbols)
	(wire (pts (xy 25.4 25.4) (xy 50.8 25.4))
		(stroke (width 0) (type default))
		(uuid "01020304-0506-4708-8910-111213141516")
	)
	(label "N1" (at 25.4 25.4 0)
		(effects (font (size 1.27 1.27)))
		(uuid "21222324-2526-4728-8930-313233343536")
	)
	(label "N2" (at 50.8 25.4 0)
		(effects (font (size 1.27 1.27)))
		(uuid "41424344-4546-4748-8950-515253545556")
	)
	(sheet_instances
		(path "/" (page "1"))
	)
)
`

func TestConflictingLabelsRejected(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "main.kicad_sch")
	if err := os.WriteFile(root, []byte(conflictFixture), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Import(root)
	var conflict *circuit.AmbiguousConnectivityError
	if !errors.As(err, &conflict) {
		t.Fatalf("got %v, want AmbiguousConnectivityError", err)
	}
	if len(conflict.Names) != 2 {
		t.Fatalf("conflict names = %v, want both labels", conflict.Names)
	}
	if conflict.Sheet != "/" {
		t.Fatalf("conflict sheet = %q, want the root sheet", conflict.Sheet)
	}
	if conflict.Position.X != 25.4 || conflict.Position.Y != 25.4 {
		t.Fatalf("conflict position = %+v, want the first label's spot", conflict.Position)
	}
}

// A sheet pin left on the parent symbol with no matching label inside
// the child must surface in the diff and be pruned, not silently wired
// under a phantom name.
func TestOrphanSheetPinIsPruned(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "main.kicad_sch")

	parent := schematic.NewSchematic(circuit.NewToken(), "A4")
	ref := parent.AddSheet("sub", "sub.kicad_sch",
		schematic.Position{X: 50.8, Y: 50.8}, 25.4, 20.32, circuit.NewToken())
	ref.AddSheetPin("GHOST", "input", schematic.Position{X: 50.8, Y: 55.88}, circuit.NewToken())
	child := schematic.NewSchematic(circuit.NewToken(), "A4")
	if err := os.WriteFile(root, parent.Doc.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub.kicad_sch"), child.Doc.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	design := &circuit.Design{Sheet: circuit.SheetDesc{
		Name:     "main",
		Children: []*circuit.SheetDesc{{Name: "sub", File: "sub.kicad_sch"}},
	}}

	res := syncOnce(t, root, design)
	var portRemoves int
	for _, d := range res.Plan.Ports {
		if d.Action == Remove {
			portRemoves++
		}
	}
	if portRemoves != 1 {
		t.Fatalf("planned %d port removes, want 1", portRemoves)
	}
	if bytes.Contains(readFile(t, root), []byte("GHOST")) {
		t.Fatal("orphan pin still present in the parent")
	}

	if syncOnce(t, root, design).Changed {
		t.Fatal("resync after pruning reports changes")
	}
}

func TestAnnotationAssignsReferences(t *testing.T) {
	root := filepath.Join(t.TempDir(), "main.kicad_sch")
	unnumbered := resistor("R?", "10k")
	fixed := resistor("R7", "1k")
	design := &circuit.Design{Sheet: circuit.SheetDesc{
		Name:       "main",
		Components: []circuit.ComponentDesc{fixed, unnumbered},
	}}

	syncOnce(t, root, design)
	g := importGraph(t, root)
	refs := map[string]bool{}
	for _, c := range g.Components {
		refs[c.Reference] = true
	}
	if !refs["R7"] || !refs["R8"] {
		t.Fatalf("references = %v, want R7 and R8", refs)
	}
}
