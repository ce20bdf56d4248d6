package cli

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// fakeTool writes a shell script standing in for kicad-cli.
func fakeTool(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake not portable to windows")
	}
	path := filepath.Join(t.TempDir(), "kicad-cli")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVersion(t *testing.T) {
	r := &Runner{Binary: fakeTool(t, `echo "9.0.2"`)}
	v, err := r.Version(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v != "9.0.2" {
		t.Fatalf("Version() = %q", v)
	}
}

func TestFailureWrapsOutput(t *testing.T) {
	r := &Runner{Binary: fakeTool(t, `echo "boom" >&2; exit 1`)}
	_, err := r.Version(context.Background())
	var toolErr *ExternalToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("got %v, want ExternalToolError", err)
	}
	if !strings.Contains(toolErr.Output, "boom") {
		t.Fatalf("Output = %q, want captured stderr", toolErr.Output)
	}
}

func TestERCViolationExitIsNotAFailure(t *testing.T) {
	r := &Runner{Binary: fakeTool(t, `exit 5`)}
	if err := r.ERC(context.Background(), "main.kicad_sch", "out.rpt"); err != nil {
		t.Fatalf("exit code 5 treated as failure: %v", err)
	}

	r = &Runner{Binary: fakeTool(t, `exit 2`)}
	if err := r.ERC(context.Background(), "main.kicad_sch", "out.rpt"); err == nil {
		t.Fatal("real failure exit code swallowed")
	}
}

func TestTimeout(t *testing.T) {
	r := &Runner{Binary: fakeTool(t, `sleep 5`), Timeout: 50 * time.Millisecond}
	start := time.Now()
	_, err := r.Version(context.Background())
	if err == nil {
		t.Fatal("timed-out invocation reported success")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("timeout not enforced")
	}
}

func TestAvailable(t *testing.T) {
	r := &Runner{Binary: fakeTool(t, `exit 0`)}
	if !r.Available() {
		t.Fatal("existing binary reported unavailable")
	}
	r = &Runner{Binary: filepath.Join(t.TempDir(), "missing-binary")}
	if r.Available() {
		t.Fatal("missing binary reported available")
	}
}
