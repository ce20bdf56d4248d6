// Package erc parses electrical rule check reports produced by
// kicad-cli ("sch erc"). The report is a line-oriented text format:
// sheet sections, violation entries with a severity, and indented
// location lines.
package erc

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// Severity of one violation.
type Severity string

const (
	SeverityError     Severity = "error"
	SeverityWarning   Severity = "warning"
	SeverityExclusion Severity = "exclusion"
)

// Location is a sheet coordinate a violation points at.
type Location struct {
	X      float64
	Y      float64
	Detail string
}

// Violation is one reported rule violation.
type Violation struct {
	Code      string // e.g. "pin_not_connected"
	Message   string
	Severity  Severity
	Locations []Location
}

// SheetReport groups the violations of one sheet.
type SheetReport struct {
	Path       string
	Violations []Violation
}

// Report is a parsed ERC report.
type Report struct {
	Header string
	Sheets []SheetReport
}

// ErrorCount returns the number of error-severity violations.
func (r *Report) ErrorCount() int { return r.count(SeverityError) }

// WarningCount returns the number of warning-severity violations.
func (r *Report) WarningCount() int { return r.count(SeverityWarning) }

func (r *Report) count(sev Severity) int {
	n := 0
	for _, s := range r.Sheets {
		for _, v := range s.Violations {
			if v.Severity == sev {
				n++
			}
		}
	}
	return n
}

var reportLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Header", Pattern: `ERC report[^\n]*`},
	{Name: "SheetHeader", Pattern: `\*\*\*\*\* Sheet [^\n]*`},
	{Name: "Summary", Pattern: `\*\* ERC messages:[^\n]*`},
	{Name: "Violation", Pattern: `\[[a-z0-9_]+\]:[^\n]*`},
	{Name: "Severity", Pattern: `; ?[^\n]*`},
	{Name: "Location", Pattern: `@\([^\n]*`},
	{Name: "Whitespace", Pattern: `[ \t\r\n]+`},
})

type reportFile struct {
	Header  string          `parser:"@Header"`
	Sheets  []*sheetSection `parser:"@@*"`
	Summary string          `parser:"@Summary?"`
}

type sheetSection struct {
	Title      string            `parser:"@SheetHeader"`
	Violations []*violationEntry `parser:"@@*"`
}

type violationEntry struct {
	Message   string   `parser:"@Violation"`
	Severity  string   `parser:"@Severity?"`
	Locations []string `parser:"@Location*"`
}

// Parser parses ERC report files.
type Parser struct {
	parser *participle.Parser[reportFile]
}

// NewParser builds an ERC report parser.
func NewParser() (*Parser, error) {
	parser, err := participle.Build[reportFile](
		participle.Lexer(reportLexer),
		participle.Elide("Whitespace"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build parser: %w", err)
	}
	return &Parser{parser: parser}, nil
}

// Parse parses a report from a reader.
func (p *Parser) Parse(r io.Reader) (*Report, error) {
	file, err := p.parser.Parse("", r)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	return convert(file), nil
}

// ParseString parses a report from a string.
func (p *Parser) ParseString(input string) (*Report, error) {
	file, err := p.parser.ParseString("", input)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	return convert(file), nil
}

// ParseFile parses a report file from disk.
func (p *Parser) ParseFile(filename string) (*Report, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open report: %w", err)
	}
	defer f.Close()
	return p.Parse(f)
}

func convert(file *reportFile) *Report {
	r := &Report{Header: file.Header}
	for _, s := range file.Sheets {
		sheet := SheetReport{Path: strings.TrimPrefix(s.Title, "***** Sheet ")}
		for _, v := range s.Violations {
			sheet.Violations = append(sheet.Violations, convertViolation(v))
		}
		r.Sheets = append(r.Sheets, sheet)
	}
	return r
}

func convertViolation(v *violationEntry) Violation {
	out := Violation{Severity: SeverityWarning}

	// "[code]: message"
	text := v.Message
	if end := strings.Index(text, "]:"); end > 0 {
		out.Code = strings.TrimPrefix(text[:end], "[")
		out.Message = strings.TrimSpace(text[end+2:])
	} else {
		out.Message = text
	}

	sev := strings.TrimSpace(strings.TrimPrefix(v.Severity, ";"))
	switch {
	case strings.HasPrefix(sev, "error"):
		out.Severity = SeverityError
	case strings.HasPrefix(sev, "exclusion"):
		out.Severity = SeverityExclusion
	}

	for _, loc := range v.Locations {
		out.Locations = append(out.Locations, parseLocation(loc))
	}
	return out
}

// parseLocation decodes "@(254.0000 mm, 88.9000 mm): detail".
func parseLocation(s string) Location {
	loc := Location{}
	body := strings.TrimPrefix(s, "@(")
	end := strings.Index(body, ")")
	if end < 0 {
		loc.Detail = s
		return loc
	}
	coords := strings.SplitN(body[:end], ",", 2)
	if len(coords) == 2 {
		loc.X = parseMM(coords[0])
		loc.Y = parseMM(coords[1])
	}
	loc.Detail = strings.TrimSpace(strings.TrimPrefix(body[end+1:], ":"))
	return loc
}

func parseMM(s string) float64 {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "mm"))
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
