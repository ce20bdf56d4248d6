package circuit

import (
	"errors"
	"regexp"
	"testing"
)

func oneSheetGraph(t *testing.T) (*Graph, SheetID) {
	t.Helper()
	g := NewGraph()
	id := g.AddSheet(&Sheet{Name: "main", Path: "/", Parent: NoSheet})
	return g, id
}

func TestDuplicateTokenIsIdentityConflict(t *testing.T) {
	g, sheet := oneSheetGraph(t)
	if _, err := g.AddComponent(&Component{Reference: "R1", Token: "tok", Sheet: sheet}); err != nil {
		t.Fatal(err)
	}
	_, err := g.AddComponent(&Component{Reference: "R2", Token: "tok", Sheet: sheet})
	var conflict *IdentityConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v", err)
	}
	if conflict.RefA != "R1" || conflict.RefB != "R2" {
		t.Fatalf("conflict = %+v", conflict)
	}
}

func TestByTokenLookup(t *testing.T) {
	g, sheet := oneSheetGraph(t)
	if _, err := g.AddComponent(&Component{Reference: "U3", Token: "tok-u3", Sheet: sheet}); err != nil {
		t.Fatal(err)
	}
	c, ok := g.ByToken("tok-u3")
	if !ok || c.Reference != "U3" {
		t.Fatalf("ByToken = %v %v", c, ok)
	}
	if _, ok := g.ByToken("absent"); ok {
		t.Fatal("phantom token resolved")
	}
}

func TestValidateCatchesDanglingMember(t *testing.T) {
	g, sheet := oneSheetGraph(t)
	if _, err := g.AddComponent(&Component{
		Reference: "R1", Sheet: sheet,
		Pins: []Pin{{Number: "1"}, {Number: "2"}},
	}); err != nil {
		t.Fatal(err)
	}

	g.AddNet(&Net{Name: "OK", Sheet: sheet, Members: []NetMember{{Reference: "R1", Pin: "1"}}})
	if err := g.Validate(); err != nil {
		t.Fatalf("valid graph rejected: %v", err)
	}

	g.AddNet(&Net{Name: "BAD", Sheet: sheet, Members: []NetMember{{Reference: "R9", Pin: "1"}}})
	var unresolved *UnresolvedReferenceError
	if err := g.Validate(); !errors.As(err, &unresolved) {
		t.Fatalf("err = %v", err)
	}
	if unresolved.Missing != "component" {
		t.Fatalf("Missing = %q", unresolved.Missing)
	}
}

func TestValidateCatchesMissingPin(t *testing.T) {
	g, sheet := oneSheetGraph(t)
	if _, err := g.AddComponent(&Component{
		Reference: "R1", Sheet: sheet, Pins: []Pin{{Number: "1"}},
	}); err != nil {
		t.Fatal(err)
	}
	g.AddNet(&Net{Name: "N", Sheet: sheet, Members: []NetMember{{Reference: "R1", Pin: "7"}}})
	var unresolved *UnresolvedReferenceError
	if err := g.Validate(); !errors.As(err, &unresolved) || unresolved.Missing != "pin" {
		t.Fatalf("err = %v", err)
	}
}

func TestAddNetSortsMembers(t *testing.T) {
	g, sheet := oneSheetGraph(t)
	n := &Net{Name: "N", Sheet: sheet, Members: []NetMember{
		{Reference: "R2", Pin: "1"},
		{Reference: "R1", Pin: "2"},
		{Reference: "R1", Pin: "1"},
	}}
	g.AddNet(n)
	want := []NetMember{{"R1", "1"}, {"R1", "2"}, {"R2", "1"}}
	for i, m := range n.Members {
		if m != want[i] {
			t.Fatalf("members = %v", n.Members)
		}
	}
}

func TestSheetTreeWiring(t *testing.T) {
	g := NewGraph()
	root := g.AddSheet(&Sheet{Name: "main", Path: "/", Parent: NoSheet})
	child := g.AddSheet(&Sheet{Name: "psu", Path: "/psu/", Parent: root})

	if got := g.Root(); got == nil || got.ID != root {
		t.Fatalf("Root = %v", got)
	}
	if len(g.Sheets[root].Children) != 1 || g.Sheets[root].Children[0] != child {
		t.Fatalf("children = %v", g.Sheets[root].Children)
	}
	if s, ok := g.SheetByPath("/psu/"); !ok || s.Name != "psu" {
		t.Fatalf("SheetByPath = %v %v", s, ok)
	}
}

var uuidForm = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

func TestNewTokenShape(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok := NewToken()
		if !uuidForm.MatchString(tok) {
			t.Fatalf("token %q is not UUIDv4-shaped", tok)
		}
		if seen[tok] {
			t.Fatalf("token %q repeated", tok)
		}
		seen[tok] = true
	}
}
