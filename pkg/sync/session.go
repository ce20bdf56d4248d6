// Package sync implements bidirectional synchronization between a
// resolved circuit description and a KiCad schematic hierarchy on disk.
package sync

import (
	"errors"
	"io"
	"io/fs"
	"log"
	"path/filepath"

	"github.com/circuit-synth/circuitsync/pkg/circuit"
	"github.com/circuit-synth/circuitsync/pkg/place"
)

// Options configures one synchronization session.
type Options struct {
	// Placer positions parts that arrive without layout. Defaults to a
	// deterministic grid.
	Placer place.Placer
	// Logger receives per-element progress. Defaults to a silent logger.
	Logger *log.Logger
	// DryRun computes the plan without writing any file.
	DryRun bool
}

// Result reports what a sync run decided and did.
type Result struct {
	Plan    *Plan
	Changed bool
	Written bool

	Added   int
	Updated int
	Removed int
	Kept    int
}

func (r *Result) tally() {
	count := func(a Action) {
		switch a {
		case Add:
			r.Added++
		case Update:
			r.Updated++
		case Remove:
			r.Removed++
		default:
			r.Kept++
		}
	}
	for _, d := range r.Plan.Sheets {
		count(d.Action)
	}
	for _, d := range r.Plan.Components {
		count(d.Action)
	}
	for _, d := range r.Plan.Nets {
		count(d.Action)
	}
	for _, d := range r.Plan.Ports {
		count(d.Action)
	}
}

// Session is one synchronization invocation. Sessions hold no global
// state: concurrent sessions over different projects are independent.
type Session struct {
	opts Options
}

// NewSession creates a session, filling in option defaults.
func NewSession(opts Options) *Session {
	if opts.Placer == nil {
		opts.Placer = place.NewGridPlacer()
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	return &Session{opts: opts}
}

// SyncProject merges a circuit description into the schematic hierarchy
// rooted at rootFile, creating the root file when it does not exist yet.
// On success the changed sheet files are replaced atomically; on any
// error the files on disk are left exactly as they were.
func (s *Session) SyncProject(rootFile string, desc circuit.Description) (*Result, error) {
	p, err := LoadProject(rootFile)
	if errors.Is(err, fs.ErrNotExist) {
		p = NewProject(filepath.Dir(rootFile), filepath.Base(rootFile), circuit.NewToken())
		err = nil
	}
	if err != nil {
		return nil, err
	}
	return s.syncLoaded(p, desc)
}

func (s *Session) syncLoaded(p *Project, desc circuit.Description) (*Result, error) {
	prev, idx, err := buildFileGraph(p)
	if err != nil {
		return nil, err
	}
	next, err := buildSourceGraph(desc)
	if err != nil {
		return nil, err
	}

	plan := Match(prev, next)
	res := &Result{Plan: plan, Changed: plan.Changed()}
	res.tally()

	if !res.Changed || s.opts.DryRun {
		return res, nil
	}

	if err := applyPlan(p, plan, idx, prev, next, s.opts.Placer, s.opts.Logger); err != nil {
		return nil, err
	}
	if err := p.WriteAll(); err != nil {
		return nil, err
	}
	if err := p.WriteProjectFile(); err != nil {
		return nil, err
	}
	res.Written = true
	return res, nil
}

// Import builds the canonical circuit graph from the schematic hierarchy
// rooted at rootFile. This is the file-to-source direction: the returned
// graph carries every component, net and port the files realize.
func Import(rootFile string) (*circuit.Graph, error) {
	p, err := LoadProject(rootFile)
	if err != nil {
		return nil, err
	}
	g, _, err := buildFileGraph(p)
	return g, err
}
