package circuit

import (
	"fmt"
	"strings"

	"github.com/circuit-synth/circuitsync/pkg/kicad/sexp"
)

// AmbiguousConnectivityError reports contradictory wire/label topology: a
// single connectivity group claimed by more than one explicit net name.
type AmbiguousConnectivityError struct {
	Sheet    string
	Position sexp.Position
	Names    []string
}

func (e *AmbiguousConnectivityError) Error() string {
	return fmt.Sprintf("ambiguous connectivity on sheet %q near (%s, %s): one wire group carries conflicting net names %s",
		e.Sheet, sexp.FormatNumber(e.Position.X), sexp.FormatNumber(e.Position.Y),
		strings.Join(e.Names, ", "))
}

// IdentityConflictError reports a duplicate identity token within one
// project.
type IdentityConflictError struct {
	Token string
	RefA  string
	RefB  string
}

func (e *IdentityConflictError) Error() string {
	return fmt.Sprintf("identity token %s is claimed by both %s and %s", e.Token, e.RefA, e.RefB)
}

// UnresolvedReferenceError reports a net membership naming a component or
// pin that does not exist.
type UnresolvedReferenceError struct {
	Net     string
	Member  NetMember
	Missing string // "component" or "pin"
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("net %q references %s: no such %s", e.Net, e.Member, e.Missing)
}
