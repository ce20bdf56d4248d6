package sexp

import (
	"io"
	"strings"
)

// Write serializes the document. Subtrees untouched since parsing emit
// their original source bytes; modified or synthesized subtrees are
// formatted fresh.
func Write(w io.Writer, doc *Document) error {
	var sb strings.Builder
	for _, n := range doc.Nodes {
		writeNode(&sb, n)
	}
	sb.WriteString(doc.tail)
	_, err := io.WriteString(w, sb.String())
	return err
}

// Bytes serializes the document to a byte slice.
func (d *Document) Bytes() []byte {
	var sb strings.Builder
	for _, n := range d.Nodes {
		writeNode(&sb, n)
	}
	sb.WriteString(d.tail)
	return []byte(sb.String())
}

func writeNode(sb *strings.Builder, n *Node) {
	sb.WriteString(n.lead)

	if !n.dirty && n.raw != "" {
		sb.WriteString(n.raw)
		return
	}

	switch n.Kind {
	case KindSymbol:
		sb.WriteString(n.Value)

	case KindString:
		sb.WriteString(Quote(n.Value))

	case KindList:
		sb.WriteByte('(')
		for i, c := range n.Children {
			if c.lead == "" && i > 0 {
				// Synthesized sibling with no explicit separator
				sb.WriteByte(' ')
			}
			writeNode(sb, c)
		}
		sb.WriteString(n.closeLead)
		sb.WriteByte(')')
	}
}

// Layout assigns KiCad-style indentation to a synthesized subtree: list
// children go on their own line one level deeper, atoms stay inline. Lists
// without list children stay on one line.
func Layout(n *Node, depth int) {
	n.dirty = true
	hasListChild := false
	for _, c := range n.Children {
		if c.Kind == KindList {
			hasListChild = true
			break
		}
	}
	if !hasListChild {
		return
	}
	for _, c := range n.Children {
		if c.Kind == KindList {
			c.lead = Indent(depth + 1)
			Layout(c, depth+1)
		}
	}
	n.closeLead = Indent(depth)
}

// Quote renders a string atom with KiCad's escaping.
func Quote(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\r':
			sb.WriteString(`\r`)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}
