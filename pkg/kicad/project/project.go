// Package project provides KiCad project file (.kicad_pro) handling and
// persistence. The file is JSON owned mostly by the EDA tool; everything
// this package does not touch is written back byte for byte, in the
// tool's own key order and whitespace.
package project

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/circuit-synth/circuitsync/internal/atomicfile"
)

// File is one loaded .kicad_pro document. raw holds the bytes as loaded;
// edits names the top-level keys whose values changed since then. Save
// splices only the edited values into raw, so untouched sections keep
// their original text.
type File struct {
	raw   []byte
	data  map[string]any
	edits map[string]bool
}

// SheetEntry is one entry of the project's sheet registry: the root
// schematic and every child sheet file, each with its identity token.
type SheetEntry struct {
	Token string
	Name  string
}

// New creates a minimal project document for a schematic of the given
// file name.
func New(schematicFile string) *File {
	return &File{
		data: map[string]any{
			"meta": map[string]any{
				"filename": strings.TrimSuffix(schematicFile, filepath.Ext(schematicFile)) + ".kicad_pro",
				"version":  3,
			},
			"sheets":         []any{},
			"text_variables": map[string]any{},
		},
		edits: map[string]bool{},
	}
}

// Load loads a project from a .kicad_pro file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f := File{raw: data, edits: map[string]bool{}}
	if err := json.Unmarshal(data, &f.data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &f, nil
}

// Save writes the project to a file. A loaded document is written back
// verbatim except for the top-level keys set through this package; a
// document built with New is marshaled whole. The write goes through a
// temp file and rename.
func (f *File) Save(path string) error {
	data, err := f.render()
	if err != nil {
		return err
	}
	return atomicfile.WriteFile(path, data, 0o644)
}

func (f *File) render() ([]byte, error) {
	if f.raw == nil {
		data, err := json.MarshalIndent(f.data, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	}
	out := f.raw
	keys := make([]string, 0, len(f.edits))
	for k := range f.edits {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		var err error
		out, err = spliceKey(out, key, f.data[key])
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// spliceKey replaces the value of one top-level key in raw JSON object
// text, appending the key when absent. Everything outside the value is
// carried over untouched.
func spliceKey(raw []byte, key string, value any) ([]byte, error) {
	enc, err := json.MarshalIndent(value, "  ", "  ")
	if err != nil {
		return nil, err
	}

	start, end, found, err := keyValueSpan(raw, key)
	if err != nil {
		return nil, err
	}
	if found {
		out := make([]byte, 0, len(raw)+len(enc))
		out = append(out, raw[:start]...)
		out = append(out, ": "...)
		out = append(out, enc...)
		out = append(out, raw[end:]...)
		return out, nil
	}

	objEnd := bytes.LastIndexByte(raw, '}')
	if objEnd < 0 {
		return nil, fmt.Errorf("project file is not a JSON object")
	}
	quoted, err := json.Marshal(key)
	if err != nil {
		return nil, err
	}
	var seg bytes.Buffer
	if hasMembers(raw) {
		// Back up over trailing whitespace of the last member before
		// appending, so the comma lands right after its value.
		for objEnd > 0 && isSpace(raw[objEnd-1]) {
			objEnd--
		}
		seg.WriteByte(',')
	}
	seg.WriteString("\n  ")
	seg.Write(quoted)
	seg.WriteString(": ")
	seg.Write(enc)
	seg.WriteString("\n")

	out := make([]byte, 0, len(raw)+seg.Len())
	out = append(out, raw[:objEnd]...)
	out = append(out, seg.Bytes()...)
	out = append(out, bytes.TrimLeft(raw[objEnd:], " \t\n\r")...)
	return out, nil
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// keyValueSpan locates the byte span of ": <value>" for a top-level key,
// from just past the key's closing quote to the end of its value.
func keyValueSpan(raw []byte, key string) (start, end int64, found bool, err error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return 0, 0, false, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return 0, 0, false, fmt.Errorf("project file is not a JSON object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return 0, 0, false, err
		}
		name, _ := tok.(string)
		valueStart := dec.InputOffset()
		if err := skipValue(dec); err != nil {
			return 0, 0, false, err
		}
		if name == key {
			return valueStart, dec.InputOffset(), true, nil
		}
	}
	return 0, 0, false, nil
}

// skipValue consumes one complete JSON value from the decoder.
func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	d, ok := tok.(json.Delim)
	if !ok || (d != '{' && d != '[') {
		return nil
	}
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}

func hasMembers(raw []byte) bool {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return false
	}
	return dec.More()
}

// Name returns the project file name from the meta section.
func (f *File) Name() string {
	meta, _ := f.data["meta"].(map[string]any)
	name, _ := meta["filename"].(string)
	return name
}

// Sheets returns the registered sheet entries.
func (f *File) Sheets() []SheetEntry {
	raw, _ := f.data["sheets"].([]any)
	out := make([]SheetEntry, 0, len(raw))
	for _, e := range raw {
		pair, ok := e.([]any)
		if !ok || len(pair) < 2 {
			continue
		}
		token, _ := pair[0].(string)
		name, _ := pair[1].(string)
		out = append(out, SheetEntry{Token: token, Name: name})
	}
	return out
}

// SetSheets replaces the sheet registry. A registry identical to the
// loaded one is not recorded as an edit, keeping a no-op save byte
// stable.
func (f *File) SetSheets(entries []SheetEntry) {
	if sheetsEqual(entries, f.Sheets()) {
		return
	}
	raw := make([]any, 0, len(entries))
	for _, e := range entries {
		raw = append(raw, []any{e.Token, e.Name})
	}
	f.data["sheets"] = raw
	f.edits["sheets"] = true
}

func sheetsEqual(a, b []SheetEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// NetClassNames returns the names of the net classes defined under
// net_settings, in file order.
func (f *File) NetClassNames() []string {
	settings, _ := f.data["net_settings"].(map[string]any)
	classes, _ := settings["classes"].([]any)
	var out []string
	for _, c := range classes {
		class, ok := c.(map[string]any)
		if !ok {
			continue
		}
		if name, ok := class["name"].(string); ok {
			out = append(out, name)
		}
	}
	return out
}

// TextVariables returns the project's text variable map.
func (f *File) TextVariables() map[string]string {
	raw, _ := f.data["text_variables"].(map[string]any)
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// SetTextVariable sets one text variable.
func (f *File) SetTextVariable(key, value string) {
	raw, ok := f.data["text_variables"].(map[string]any)
	if !ok {
		raw = map[string]any{}
		f.data["text_variables"] = raw
	}
	if cur, ok := raw[key].(string); ok && cur == value {
		return
	}
	raw[key] = value
	f.edits["text_variables"] = true
}
