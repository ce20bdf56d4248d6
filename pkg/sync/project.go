package sync

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/circuit-synth/circuitsync/internal/atomicfile"
	"github.com/circuit-synth/circuitsync/pkg/kicad/project"
	"github.com/circuit-synth/circuitsync/pkg/kicad/schematic"
)

// Project is one loaded schematic hierarchy: the root sheet file plus
// every child sheet file it references, keyed by hierarchical path.
type Project struct {
	Dir      string
	RootFile string
	Sheets   map[string]*SheetFile
}

// SheetFile is one loaded .kicad_sch with its place in the hierarchy.
type SheetFile struct {
	Path   string // hierarchical path, "/" for root
	File   string // file name relative to the project dir
	Parent string // parent path, "" for root
	Sch    *schematic.Schematic
	Ref    *schematic.SheetRef // sheet symbol in the parent, nil for root
}

// LoadProject reads the root schematic and, recursively, every referenced
// child sheet file.
func LoadProject(rootFile string) (*Project, error) {
	p := &Project{
		Dir:      filepath.Dir(rootFile),
		RootFile: filepath.Base(rootFile),
		Sheets:   make(map[string]*SheetFile),
	}

	root, err := schematic.ParseFile(rootFile)
	if err != nil {
		return nil, err
	}
	p.Sheets["/"] = &SheetFile{
		Path: "/", File: p.RootFile, Sch: root,
	}

	if err := p.loadChildren(p.Sheets["/"]); err != nil {
		return nil, err
	}
	return p, nil
}

// NewProject creates an empty in-memory project with a fresh root sheet.
func NewProject(dir, rootFile, uuid string) *Project {
	p := &Project{
		Dir:      dir,
		RootFile: rootFile,
		Sheets:   make(map[string]*SheetFile),
	}
	p.Sheets["/"] = &SheetFile{
		Path: "/", File: rootFile,
		Sch: schematic.NewSchematic(uuid, "A4"),
	}
	return p
}

func (p *Project) loadChildren(parent *SheetFile) error {
	for _, ref := range parent.Sch.Sheets {
		childPath := parent.Path + ref.Name + "/"
		if _, dup := p.Sheets[childPath]; dup {
			return fmt.Errorf("duplicate sheet path %q in %s", childPath, parent.File)
		}

		sch, err := schematic.ParseFile(filepath.Join(p.Dir, ref.File))
		if err != nil {
			return fmt.Errorf("child sheet %q: %w", ref.Name, err)
		}

		child := &SheetFile{
			Path:   childPath,
			File:   ref.File,
			Parent: parent.Path,
			Sch:    sch,
			Ref:    ref,
		}
		p.Sheets[childPath] = child

		if err := p.loadChildren(child); err != nil {
			return err
		}
	}
	return nil
}

// Paths returns sheet paths in deterministic order, root first.
func (p *Project) Paths() []string {
	paths := make([]string, 0, len(p.Sheets))
	for path := range p.Sheets {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// WriteAll serializes every sheet file and atomically replaces the
// on-disk copies. Output is built fully in memory first so a failure
// leaves every original file unmodified.
func (p *Project) WriteAll() error {
	type pending struct {
		target string
		data   []byte
	}

	var outputs []pending
	for _, path := range p.Paths() {
		sf := p.Sheets[path]
		outputs = append(outputs, pending{
			target: filepath.Join(p.Dir, sf.File),
			data:   sf.Sch.Doc.Bytes(),
		})
	}

	for _, out := range outputs {
		if err := atomicfile.WriteFile(out.target, out.data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// WriteProjectFile keeps the .kicad_pro sheet registry in step with the
// hierarchy: the root plus every child sheet, each under its schematic's
// identity token. A missing project file is created; every setting the
// EDA tool owns is preserved.
func (p *Project) WriteProjectFile() error {
	proPath := filepath.Join(p.Dir,
		strings.TrimSuffix(p.RootFile, filepath.Ext(p.RootFile))+".kicad_pro")

	pro, err := project.Load(proPath)
	if errors.Is(err, fs.ErrNotExist) {
		pro = project.New(p.RootFile)
		err = nil
	}
	if err != nil {
		return err
	}

	var entries []project.SheetEntry
	for _, path := range p.Paths() {
		sf := p.Sheets[path]
		name := "Root"
		if sf.Ref != nil {
			name = sf.Ref.Name
		}
		entries = append(entries, project.SheetEntry{Token: sf.Sch.UUID, Name: name})
	}
	pro.SetSheets(entries)
	return pro.Save(proPath)
}
