package sexp

// Document is a parsed S-expression file: one or more top-level nodes plus
// any trailing trivia after the last closing paren.
type Document struct {
	Nodes []*Node
	tail  string
}

// NewDocument builds a synthesized document ending with a final newline.
func NewDocument(nodes ...*Node) *Document {
	return &Document{Nodes: nodes, tail: "\n"}
}

// Root returns the first top-level node, or nil for an empty document.
func (d *Document) Root() *Node {
	if len(d.Nodes) == 0 {
		return nil
	}
	return d.Nodes[0]
}

// Parser parses S-expressions from a lexer.
type Parser struct {
	lexer *Lexer
	src   []byte
}

// NewParser creates a parser over src.
func NewParser(src []byte) *Parser {
	return &Parser{lexer: NewLexer(src), src: src}
}

// Parse parses a complete document from src.
func Parse(src []byte) (*Document, error) {
	return NewParser(src).ParseDocument()
}

// ParseDocument parses all top-level S-expressions until EOF.
func (p *Parser) ParseDocument() (*Document, error) {
	doc := &Document{}

	for {
		tok, err := p.lexer.NextToken()
		if err != nil {
			return nil, err
		}
		if tok.Type == TokenEOF {
			doc.tail = tok.Lead
			return doc, nil
		}
		if tok.Type == TokenRightParen {
			return nil, &SyntaxError{Line: tok.Line, Col: tok.Col, Token: ")", Msg: "unexpected ')'"}
		}

		node, err := p.parseExpr(tok)
		if err != nil {
			return nil, err
		}
		doc.Nodes = append(doc.Nodes, node)
	}
}

// parseExpr parses a single expression starting at tok.
func (p *Parser) parseExpr(tok Token) (*Node, error) {
	switch tok.Type {
	case TokenLeftParen:
		return p.parseList(tok)

	case TokenSymbol:
		return &Node{
			Kind: KindSymbol, Value: tok.Value,
			raw: tok.Text, lead: tok.Lead,
			Line: tok.Line, Col: tok.Col,
		}, nil

	case TokenString:
		return &Node{
			Kind: KindString, Value: tok.Value,
			raw: tok.Text, lead: tok.Lead,
			Line: tok.Line, Col: tok.Col,
		}, nil

	default:
		return nil, &SyntaxError{Line: tok.Line, Col: tok.Col, Token: tok.Text, Msg: "unexpected token"}
	}
}

// parseList parses ( ... ) with open already consumed.
func (p *Parser) parseList(open Token) (*Node, error) {
	n := &Node{
		Kind: KindList,
		lead: open.Lead,
		Line: open.Line, Col: open.Col,
	}

	var body []byte
	body = append(body, '(')

	for {
		tok, err := p.lexer.NextToken()
		if err != nil {
			return nil, err
		}

		switch tok.Type {
		case TokenRightParen:
			n.closeLead = tok.Lead
			body = append(body, tok.Lead...)
			body = append(body, ')')
			n.raw = string(body)
			return n, nil

		case TokenEOF:
			return nil, &SyntaxError{Line: open.Line, Col: open.Col, Token: "(", Msg: "unclosed list"}

		default:
			child, err := p.parseExpr(tok)
			if err != nil {
				return nil, err
			}
			body = append(body, child.lead...)
			body = append(body, child.raw...)
			n.append(child)
		}
	}
}
