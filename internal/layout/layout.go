// Package layout describes the on-disk structure of a run directory. The
// names are part of the persisted state and must stay stable across
// restarts.
package layout

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Stage directories.
const (
	CorsikaInput     = "corsika_input"
	CorsikaOutput    = "corsika_output"
	DethinningOutput = "dethinning_output"
	C2GOutput        = "c2g_output"
	Events           = "events"
	Reconstruction   = "reconstruction"
	Final            = "final"
	InputHashes      = "input_hashes"
	PipelinesFailed  = "pipelines_failed"

	LedgerFile    = "ledger.db"
	ResourcesFile = "resources.csv"
	LogFile       = "showerflow.log"
)

// ErrRunExists is returned when a fresh run is requested on a directory
// that already holds run state.
var ErrRunExists = errors.New("run directory already initialised; use continue")

// Layout resolves paths inside one run directory.
type Layout struct {
	Root string
}

// New returns a layout rooted at dir, made absolute.
func New(dir string) (Layout, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Layout{}, fmt.Errorf("resolve run dir: %w", err)
	}
	return Layout{Root: abs}, nil
}

func (l Layout) Dir(name string) string { return filepath.Join(l.Root, name) }

// Path joins elem under the stage directory.
func (l Layout) Path(stageDir string, elem ...string) string {
	return filepath.Join(append([]string{l.Root, stageDir}, elem...)...)
}

func (l Layout) Ledger() string    { return filepath.Join(l.Root, LedgerFile) }
func (l Layout) Resources() string { return filepath.Join(l.Root, ResourcesFile) }
func (l Layout) Log() string       { return filepath.Join(l.Root, LogFile) }

// Dirs lists every directory a run needs.
func (l Layout) Dirs() []string {
	names := []string{CorsikaInput, CorsikaOutput, DethinningOutput, C2GOutput, Events, Reconstruction, Final, InputHashes, PipelinesFailed}
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = l.Dir(n)
	}
	return out
}

// Ensure creates the directory tree. It is idempotent.
func (l Layout) Ensure() error {
	for _, d := range l.Dirs() {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}

// Initialised reports whether the run directory already holds run state.
func (l Layout) Initialised() bool {
	entries, err := os.ReadDir(l.Dir(InputHashes))
	if err == nil && len(entries) > 0 {
		return true
	}
	_, err = os.Stat(l.Ledger())
	return err == nil
}

// Rel returns path relative to the run root, falling back to path itself
// when it lies outside the run directory.
func (l Layout) Rel(path string) string {
	rel, err := filepath.Rel(l.Root, path)
	if err != nil || rel == ".." || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator) {
		return path
	}
	return filepath.ToSlash(rel)
}
