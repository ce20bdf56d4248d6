// Package cli drives the kicad-cli executable for the operations the
// engine delegates to the EDA tool itself: rule checks and fabrication
// exports.
package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultBinary is the executable name resolved from PATH when no
// explicit path is configured.
const DefaultBinary = "kicad-cli"

// ExternalToolError wraps a failed tool invocation with its captured
// output.
type ExternalToolError struct {
	Cmd    string
	Output string
	Err    error
}

func (e *ExternalToolError) Error() string {
	msg := fmt.Sprintf("external tool failed: %s: %v", e.Cmd, e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *ExternalToolError) Unwrap() error { return e.Err }

// Runner invokes kicad-cli with a per-call timeout.
type Runner struct {
	// Binary is the executable to run; DefaultBinary when empty.
	Binary string
	// Timeout bounds each invocation. Zero means one minute.
	Timeout time.Duration
}

func (r *Runner) binary() string {
	if r.Binary != "" {
		return r.Binary
	}
	return DefaultBinary
}

func (r *Runner) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return time.Minute
}

// Available reports whether the tool can be resolved.
func (r *Runner) Available() bool {
	_, err := exec.LookPath(r.binary())
	return err == nil
}

func (r *Runner) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	cmd := exec.CommandContext(ctx, r.binary(), args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.String(), &ExternalToolError{
			Cmd:    r.binary() + " " + strings.Join(args, " "),
			Output: out.String(),
			Err:    err,
		}
	}
	return out.String(), nil
}

// Version returns the tool's version string.
func (r *Runner) Version(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "version")
	return strings.TrimSpace(out), err
}

// ERC runs the electrical rule check on a schematic, writing the text
// report to reportFile. kicad-cli exits nonzero when violations exist;
// that is not an invocation failure, so the report path is returned for
// parsing either way when the report was produced.
func (r *Runner) ERC(ctx context.Context, schematicFile, reportFile string) error {
	_, err := r.run(ctx, "sch", "erc",
		"--output", reportFile,
		"--severity-all",
		"--exit-code-violations",
		schematicFile)
	if err != nil {
		// Exit code 5 marks violations, not tool failure.
		var exit *exec.ExitError
		if errors.As(err, &exit) && exit.ExitCode() == 5 {
			return nil
		}
		return err
	}
	return nil
}

// ExportPDF plots a schematic to PDF.
func (r *Runner) ExportPDF(ctx context.Context, schematicFile, outputFile string) error {
	_, err := r.run(ctx, "sch", "export", "pdf", "--output", outputFile, schematicFile)
	return err
}

// ExportNetlist exports the tool's own netlist view of a schematic,
// useful for cross-checking the engine's connectivity resolution.
func (r *Runner) ExportNetlist(ctx context.Context, schematicFile, outputFile string) error {
	_, err := r.run(ctx, "sch", "export", "netlist", "--output", outputFile, schematicFile)
	return err
}

// ExportGerbers plots all board layers into outputDir.
func (r *Runner) ExportGerbers(ctx context.Context, boardFile, outputDir string) error {
	_, err := r.run(ctx, "pcb", "export", "gerbers", "--output", outputDir, boardFile)
	return err
}

// ExportDrill writes Excellon drill files into outputDir.
func (r *Runner) ExportDrill(ctx context.Context, boardFile, outputDir string) error {
	_, err := r.run(ctx, "pcb", "export", "drill", "--output", outputDir, boardFile)
	return err
}

// ExportBOM writes a CSV bill of materials for a schematic.
func (r *Runner) ExportBOM(ctx context.Context, schematicFile, outputFile string) error {
	_, err := r.run(ctx, "sch", "export", "bom", "--output", outputFile, schematicFile)
	return err
}

// ExportPos writes a pick-and-place placement file for a board.
func (r *Runner) ExportPos(ctx context.Context, boardFile, outputFile string) error {
	_, err := r.run(ctx, "pcb", "export", "pos", "--output", outputFile, boardFile)
	return err
}
