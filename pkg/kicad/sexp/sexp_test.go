package sexp

import (
	"errors"
	"strings"
	"testing"
)

// Helper to parse a document from a string
func parseDoc(t *testing.T, input string) *Document {
	t.Helper()
	doc, err := Parse([]byte(input))
	if err != nil {
		t.Fatalf("Failed to parse %q: %v", input, err)
	}
	if len(doc.Nodes) == 0 {
		t.Fatalf("No expressions parsed from %q", input)
	}
	return doc
}

func TestParseAtoms(t *testing.T) {
	tests := []struct {
		name  string
		input string
		index int
		want  string
	}{
		{"symbol", "(layer F.Cu)", 1, "F.Cu"},
		{"quoted string", `(generator "eeschema")`, 1, "eeschema"},
		{"number keeps text", "(at 100.50 50)", 1, "100.50"},
		{"escaped quote", `(value "10k \"precision\"")`, 1, `10k "precision"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := parseDoc(t, tt.input)
			got, ok := doc.Root().AtomAt(tt.index)
			if !ok {
				t.Fatalf("AtomAt(%d) failed", tt.index)
			}
			if got != tt.want {
				t.Errorf("AtomAt(%d) = %q, want %q", tt.index, got, tt.want)
			}
		})
	}
}

func TestParseNested(t *testing.T) {
	doc := parseDoc(t, `(kicad_sch (version 20250114) (symbol (lib_id "Device:R") (at 100 50 90)))`)

	root := doc.Root()
	if root.Name() != "kicad_sch" {
		t.Errorf("root name = %q, want kicad_sch", root.Name())
	}

	ver, ok := root.Find("version")
	if !ok {
		t.Fatal("version node not found")
	}
	if v, _ := ver.IntAt(1); v != 20250114 {
		t.Errorf("version = %d, want 20250114", v)
	}

	sym, ok := root.Find("symbol")
	if !ok {
		t.Fatal("symbol node not found")
	}
	at, ok := sym.Find("at")
	if !ok {
		t.Fatal("at node not found")
	}
	pa, ok := GetPosition(at)
	if !ok {
		t.Fatal("GetPosition failed")
	}
	if pa.X != 100 || pa.Y != 50 || pa.Angle != 90 {
		t.Errorf("position = %+v, want 100,50,90", pa)
	}
}

func TestSyntaxErrorLocation(t *testing.T) {
	tests := []struct {
		name  string
		input string
		line  int
	}{
		{"unclosed list", "(kicad_sch\n\t(version 20250114)", 1},
		{"stray close", "(a))\n", 1},
		{"unterminated string", "(a \"oops", 1},
		{"stray close later line", "(a)\n\n)", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.input))
			if err == nil {
				t.Fatal("expected error")
			}
			var serr *SyntaxError
			if !errors.As(err, &serr) {
				t.Fatalf("expected *SyntaxError, got %T", err)
			}
			if serr.Line != tt.line {
				t.Errorf("error line = %d, want %d (%v)", serr.Line, tt.line, serr)
			}
		})
	}
}

const roundTripInput = `(kicad_sch
	(version 20250114)
	(generator "eeschema")
	(uuid "862335ee-c981-4fe1-9eb9-84db19301dd4")
	(paper "A4")
	(lib_symbols)
	(symbol
		(lib_id "Device:R")
		(at 115.57 73.66 0)
		(unit 1)
		(future_node_kind "keep me" (nested 1.00))
		(property "Reference" "R1"
			(at 118.11 72.39 0)
		)
	)
	(sheet_instances
		(path "/"
			(page "1")
		)
	)
)
`

func TestRoundTripByteExact(t *testing.T) {
	doc := parseDoc(t, roundTripInput)
	out := string(doc.Bytes())
	if out != roundTripInput {
		t.Errorf("round trip not byte-exact:\n--- in ---\n%s\n--- out ---\n%s", roundTripInput, out)
	}
}

func TestUnknownNodesPreserved(t *testing.T) {
	doc := parseDoc(t, roundTripInput)

	// A node kind this package knows nothing about still round-trips.
	sym, _ := doc.Root().Find("symbol")
	if _, ok := sym.Find("future_node_kind"); !ok {
		t.Fatal("unknown node dropped during parse")
	}
	if !strings.Contains(string(doc.Bytes()), `(future_node_kind "keep me" (nested 1.00))`) {
		t.Error("unknown node not serialized verbatim")
	}
}

func TestSetAtomLocalizedRewrite(t *testing.T) {
	doc := parseDoc(t, roundTripInput)

	sym, _ := doc.Root().Find("symbol")
	prop, _ := sym.Find("property")
	if !prop.SetAtom(2, "R7") {
		t.Fatal("SetAtom failed")
	}

	out := string(doc.Bytes())
	want := strings.Replace(roundTripInput, `"Reference" "R1"`, `"Reference" "R7"`, 1)
	if out != want {
		t.Errorf("edit was not byte-local:\n--- got ---\n%s\n--- want ---\n%s", out, want)
	}

	// Numeric formatting elsewhere must be untouched.
	if !strings.Contains(out, "(at 115.57 73.66 0)") {
		t.Error("unrelated numeric formatting changed")
	}
	if !strings.Contains(out, "(nested 1.00)") {
		t.Error("trailing-zero formatting of unaffected node changed")
	}
}

func TestRemoveChildKeepsSurroundings(t *testing.T) {
	doc := parseDoc(t, roundTripInput)

	sym, _ := doc.Root().Find("symbol")
	unknown, _ := sym.Find("future_node_kind")
	if !unknown.Detach() {
		t.Fatal("Detach failed")
	}

	out := string(doc.Bytes())
	if strings.Contains(out, "future_node_kind") {
		t.Error("removed node still present")
	}
	for _, keep := range []string{
		"(at 115.57 73.66 0)",
		`(property "Reference" "R1"`,
		"(sheet_instances",
	} {
		if !strings.Contains(out, keep) {
			t.Errorf("unaffected content lost: %s", keep)
		}
	}
}

func TestAppendChildFormatting(t *testing.T) {
	doc := parseDoc(t, roundTripInput)

	root := doc.Root()
	junc := NewList("junction", NewAt(Position{X: 120.65, Y: 73.66}, 0))
	root.InsertChild(indexOf(root, "sheet_instances"), junc, Indent(1))

	out := string(doc.Bytes())
	if !strings.Contains(out, "(junction (at 120.65 73.66))") {
		t.Errorf("synthesized node misformatted:\n%s", out)
	}

	// Re-parsing and writing again is stable.
	doc2 := parseDoc(t, out)
	if string(doc2.Bytes()) != out {
		t.Error("second round trip not byte-exact")
	}
}

// indexOf returns the index of the first child list named name, or the
// child count when absent.
func indexOf(n *Node, name string) int {
	for i, c := range n.Children {
		if c.Kind == KindList && c.Name() == name {
			return i
		}
	}
	return len(n.Children)
}
