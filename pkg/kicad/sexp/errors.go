package sexp

import "fmt"

// SyntaxError reports a malformed S-expression with the location and the
// offending token.
type SyntaxError struct {
	Line  int
	Col   int
	Token string
	Msg   string
}

func (e *SyntaxError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("syntax error at %d:%d near %q: %s", e.Line, e.Col, e.Token, e.Msg)
	}
	return fmt.Sprintf("syntax error at %d:%d: %s", e.Line, e.Col, e.Msg)
}
