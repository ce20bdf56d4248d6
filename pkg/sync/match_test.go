package sync

import (
	"testing"

	"github.com/circuit-synth/circuitsync/pkg/circuit"
	"github.com/circuit-synth/circuitsync/pkg/kicad/sexp"
)

// graphWith builds a one-sheet graph from components and nets.
func graphWith(t *testing.T, comps []*circuit.Component, nets []*circuit.Net) *circuit.Graph {
	t.Helper()
	g := circuit.NewGraph()
	root := g.AddSheet(&circuit.Sheet{Name: "main", Path: "/", File: "main.kicad_sch", Parent: circuit.NoSheet})
	for _, c := range comps {
		c.Sheet = root
		if _, err := g.AddComponent(c); err != nil {
			t.Fatal(err)
		}
	}
	for _, n := range nets {
		n.Sheet = root
		g.AddNet(n)
	}
	return g
}

func componentDecisions(p *Plan, action Action) []ComponentDecision {
	var out []ComponentDecision
	for _, d := range p.Components {
		if d.Action == action {
			out = append(out, d)
		}
	}
	return out
}

func netDecisions(p *Plan, action Action) []NetDecision {
	var out []NetDecision
	for _, d := range p.Nets {
		if d.Action == action {
			out = append(out, d)
		}
	}
	return out
}

func TestMatchTokenSurvivesReferenceRename(t *testing.T) {
	prev := graphWith(t, []*circuit.Component{
		{Reference: "R1", Value: "10k", LibID: "Device:R", Token: "tok-a"},
	}, nil)
	next := graphWith(t, []*circuit.Component{
		{Reference: "R5", Value: "10k", LibID: "Device:R", Token: "tok-a"},
	}, nil)

	plan := Match(prev, next)
	if len(plan.Components) != 1 {
		t.Fatalf("decisions = %d", len(plan.Components))
	}
	d := plan.Components[0]
	if d.Action != Update {
		t.Fatalf("action = %v, want update for renamed reference", d.Action)
	}
	if d.Old.Reference != "R1" || d.New.Reference != "R5" {
		t.Fatalf("pairing = %s -> %s", d.Old.Reference, d.New.Reference)
	}
}

func TestMatchLayoutChangeIsKeep(t *testing.T) {
	prev := graphWith(t, []*circuit.Component{
		{Reference: "R1", Value: "10k", LibID: "Device:R", Token: "tok-a",
			Position: sexp.Position{X: 50, Y: 50}},
	}, nil)
	next := graphWith(t, []*circuit.Component{
		{Reference: "R1", Value: "10k", LibID: "Device:R", Token: "tok-a",
			Position: sexp.Position{X: 120, Y: 80}, Rotation: 90},
	}, nil)

	plan := Match(prev, next)
	if plan.Components[0].Action != Keep {
		t.Fatalf("action = %v, position must stay file-owned", plan.Components[0].Action)
	}
	if plan.Changed() {
		t.Fatal("layout-only difference produced a changed plan")
	}
}

func TestMatchFallsBackToReferenceWithoutTokens(t *testing.T) {
	prev := graphWith(t, []*circuit.Component{
		{Reference: "U1", Value: "74HC00", LibID: "Logic:NAND"},
	}, nil)
	next := graphWith(t, []*circuit.Component{
		{Reference: "U1", Value: "74HC132", LibID: "Logic:NAND", Token: "tok-new"},
	}, nil)

	plan := Match(prev, next)
	d := plan.Components[0]
	if d.Action != Update || d.Old == nil {
		t.Fatalf("decision = %+v, want update pairing by reference", d)
	}
}

func TestMatchFirstImportUsesClosestPosition(t *testing.T) {
	// Two identical parts, no tokens anywhere. Each new part must claim
	// the nearest old one.
	prev := graphWith(t, []*circuit.Component{
		{Reference: "C1", Value: "100n", LibID: "Device:C", Footprint: "C_0603",
			Position: sexp.Position{X: 10, Y: 10}},
		{Reference: "C2", Value: "100n", LibID: "Device:C", Footprint: "C_0603",
			Position: sexp.Position{X: 90, Y: 90}},
	}, nil)
	next := graphWith(t, []*circuit.Component{
		{Reference: "C9", Value: "100n", LibID: "Device:C", Footprint: "C_0603",
			Position: sexp.Position{X: 88, Y: 91}},
	}, nil)

	plan := Match(prev, next)
	updates := componentDecisions(plan, Update)
	if len(updates) != 1 {
		t.Fatalf("updates = %d", len(updates))
	}
	if updates[0].Old.Reference != "C2" {
		t.Fatalf("claimed %s, want the closer C2", updates[0].Old.Reference)
	}
	removes := componentDecisions(plan, Remove)
	if len(removes) != 1 || removes[0].Old.Reference != "C1" {
		t.Fatalf("removes = %+v", removes)
	}
}

func TestMatchPositionFallbackDisabledOnceTokensExist(t *testing.T) {
	// prev carries a token on another part, so the engine has synced
	// before. An unmatched new part must become Add, not claim an old
	// part by proximity.
	prev := graphWith(t, []*circuit.Component{
		{Reference: "R1", Value: "10k", LibID: "Device:R", Token: "tok-a"},
		{Reference: "R2", Value: "1k", LibID: "Device:R"},
	}, nil)
	next := graphWith(t, []*circuit.Component{
		{Reference: "R1", Value: "10k", LibID: "Device:R", Token: "tok-a"},
		{Reference: "R9", Value: "1k", LibID: "Device:R", Token: "tok-b"},
	}, nil)

	plan := Match(prev, next)
	adds := componentDecisions(plan, Add)
	if len(adds) != 1 || adds[0].New.Reference != "R9" {
		t.Fatalf("adds = %+v", adds)
	}
	removes := componentDecisions(plan, Remove)
	if len(removes) != 1 || removes[0].Old.Reference != "R2" {
		t.Fatalf("removes = %+v", removes)
	}
}

func TestMatchNetRenameIsRemovePlusAdd(t *testing.T) {
	members := []circuit.NetMember{{Reference: "R1", Pin: "1"}, {Reference: "R2", Pin: "2"}}
	prev := graphWith(t, nil, []*circuit.Net{
		{Name: "DATA_IN", Scope: circuit.ScopeLocal, Members: members},
	})
	next := graphWith(t, nil, []*circuit.Net{
		{Name: "SPI_MOSI", Scope: circuit.ScopeLocal, Members: members},
	})

	plan := Match(prev, next)
	adds := netDecisions(plan, Add)
	removes := netDecisions(plan, Remove)
	if len(adds) != 1 || adds[0].New.Name != "SPI_MOSI" {
		t.Fatalf("adds = %+v", adds)
	}
	if len(removes) != 1 || removes[0].Old.Name != "DATA_IN" {
		t.Fatalf("removes = %+v", removes)
	}
	if len(netDecisions(plan, Update)) != 0 {
		t.Fatal("rename must not surface as a membership update")
	}
}

func TestMatchNetMembershipDiff(t *testing.T) {
	prev := graphWith(t, nil, []*circuit.Net{
		{Name: "N1", Scope: circuit.ScopeLocal, Members: []circuit.NetMember{
			{Reference: "R1", Pin: "1"}, {Reference: "R2", Pin: "1"},
		}},
	})
	next := graphWith(t, nil, []*circuit.Net{
		{Name: "N1", Scope: circuit.ScopeLocal, Members: []circuit.NetMember{
			{Reference: "R1", Pin: "1"}, {Reference: "R3", Pin: "2"},
		}},
	})

	plan := Match(prev, next)
	if len(plan.Nets) != 1 || plan.Nets[0].Action != Update {
		t.Fatalf("plan.Nets = %+v", plan.Nets)
	}
	d := plan.Nets[0]
	if len(d.Added) != 1 || d.Added[0] != (circuit.NetMember{Reference: "R3", Pin: "2"}) {
		t.Fatalf("Added = %+v", d.Added)
	}
	if len(d.Removed) != 1 || d.Removed[0] != (circuit.NetMember{Reference: "R2", Pin: "1"}) {
		t.Fatalf("Removed = %+v", d.Removed)
	}
}

func TestMatchGlobalNetSpansSheets(t *testing.T) {
	// A global power net keeps its identity regardless of which sheet
	// the builder attributed it to.
	prev := graphWith(t, nil, []*circuit.Net{
		{Name: "GND", Scope: circuit.ScopeGlobalPower, Members: []circuit.NetMember{{Reference: "R1", Pin: "2"}}},
	})
	next := graphWith(t, nil, []*circuit.Net{
		{Name: "GND", Scope: circuit.ScopeGlobalPower, Members: []circuit.NetMember{{Reference: "R1", Pin: "2"}}},
	})

	plan := Match(prev, next)
	if plan.Changed() {
		t.Fatal("identical global nets produced a changed plan")
	}
}

func TestMatchPortDirectionChangeIsUpdate(t *testing.T) {
	build := func(dir string) *circuit.Graph {
		g := circuit.NewGraph()
		root := g.AddSheet(&circuit.Sheet{Name: "main", Path: "/", Parent: circuit.NoSheet})
		g.AddSheet(&circuit.Sheet{
			Name: "spi", Path: "/spi/", Parent: root,
			Ports: []circuit.Port{{Name: "MOSI", Direction: dir}},
		})
		return g
	}

	plan := Match(build("input"), build("output"))
	if len(plan.Ports) != 1 {
		t.Fatalf("ports = %+v", plan.Ports)
	}
	d := plan.Ports[0]
	if d.Action != Update || d.ChildPath != "/spi/" || d.Port.Direction != "output" {
		t.Fatalf("decision = %+v", d)
	}
}

func TestMatchSheetRemoval(t *testing.T) {
	prev := circuit.NewGraph()
	root := prev.AddSheet(&circuit.Sheet{Name: "main", Path: "/", Parent: circuit.NoSheet})
	prev.AddSheet(&circuit.Sheet{Name: "old", Path: "/old/", Parent: root})

	next := circuit.NewGraph()
	next.AddSheet(&circuit.Sheet{Name: "main", Path: "/", Parent: circuit.NoSheet})

	plan := Match(prev, next)
	var removed []string
	for _, d := range plan.Sheets {
		if d.Action == Remove {
			removed = append(removed, d.Path)
		}
	}
	if len(removed) != 1 || removed[0] != "/old/" {
		t.Fatalf("removed sheets = %v", removed)
	}
}
