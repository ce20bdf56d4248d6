package sexp

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// TokenType represents the type of a token
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenLeftParen
	TokenRightParen
	TokenSymbol
	TokenString
)

// Token represents a lexical token. Text holds the exact source bytes of
// the token (quotes and escapes included for strings); Value holds the
// decoded form. Lead is the run of whitespace and comments that preceded
// the token, kept so output can reproduce the input byte-for-byte.
type Token struct {
	Type  TokenType
	Text  string
	Value string
	Lead  string
	Line  int
	Col   int
}

// Lexer tokenizes S-expressions from a byte buffer, tracking line and
// column for error reporting.
type Lexer struct {
	src  []byte
	pos  int
	line int
	col  int
}

// NewLexer creates a new lexer over src.
func NewLexer(src []byte) *Lexer {
	return &Lexer{src: src, line: 1, col: 1}
}

// NextToken reads the next token from the input.
func (l *Lexer) NextToken() (Token, error) {
	lead := l.skipTrivia()

	tok := Token{Lead: lead, Line: l.line, Col: l.col}

	if l.pos >= len(l.src) {
		tok.Type = TokenEOF
		return tok, nil
	}

	switch l.src[l.pos] {
	case '(':
		l.advance(1)
		tok.Type = TokenLeftParen
		tok.Text = "("
		tok.Value = "("
		return tok, nil

	case ')':
		l.advance(1)
		tok.Type = TokenRightParen
		tok.Text = ")"
		tok.Value = ")"
		return tok, nil

	case '"':
		return l.readString(tok)

	default:
		return l.readSymbol(tok)
	}
}

// skipTrivia consumes whitespace and line comments (# to end of line),
// returning the consumed bytes verbatim.
func (l *Lexer) skipTrivia() string {
	start := l.pos
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '#' {
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.advance(1)
			}
			continue
		}
		r, size := utf8.DecodeRune(l.src[l.pos:])
		if !unicode.IsSpace(r) {
			break
		}
		l.advance(size)
	}
	return string(l.src[start:l.pos])
}

// advance moves n bytes forward, updating line/column counters.
func (l *Lexer) advance(n int) {
	for i := 0; i < n; i++ {
		if l.src[l.pos] == '\n' {
			l.line++
			l.col = 1
		} else {
			l.col++
		}
		l.pos++
	}
}

// readString reads a quoted string with backslash escapes.
func (l *Lexer) readString(tok Token) (Token, error) {
	start := l.pos
	l.advance(1) // opening quote

	var value strings.Builder
	for {
		if l.pos >= len(l.src) {
			return Token{}, &SyntaxError{
				Line: tok.Line, Col: tok.Col,
				Token: string(l.src[start:l.pos]),
				Msg:   "unterminated string",
			}
		}

		c := l.src[l.pos]
		if c == '"' {
			l.advance(1)
			break
		}

		if c == '\\' {
			if l.pos+1 >= len(l.src) {
				return Token{}, &SyntaxError{
					Line: l.line, Col: l.col,
					Token: "\\",
					Msg:   "unexpected end of input after backslash",
				}
			}
			next := l.src[l.pos+1]
			switch next {
			case 'n':
				value.WriteByte('\n')
			case 't':
				value.WriteByte('\t')
			case 'r':
				value.WriteByte('\r')
			case '\\':
				value.WriteByte('\\')
			case '"':
				value.WriteByte('"')
			default:
				// Unknown escape, keep it as written
				value.WriteByte('\\')
				value.WriteByte(next)
			}
			l.advance(2)
			continue
		}

		value.WriteByte(c)
		l.advance(1)
	}

	tok.Type = TokenString
	tok.Text = string(l.src[start:l.pos])
	tok.Value = value.String()
	return tok, nil
}

// readSymbol reads an unquoted atom (identifier, number, uuid, etc.).
func (l *Lexer) readSymbol(tok Token) (Token, error) {
	start := l.pos
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '(' || c == ')' || c == '"' || c == '#' {
			break
		}
		r, size := utf8.DecodeRune(l.src[l.pos:])
		if unicode.IsSpace(r) {
			break
		}
		l.advance(size)
	}

	if l.pos == start {
		return Token{}, &SyntaxError{
			Line: tok.Line, Col: tok.Col,
			Token: string(l.src[l.pos]),
			Msg:   "empty symbol",
		}
	}

	tok.Type = TokenSymbol
	tok.Text = string(l.src[start:l.pos])
	tok.Value = tok.Text
	return tok, nil
}
