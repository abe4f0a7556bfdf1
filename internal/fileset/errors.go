package fileset

import (
	"fmt"
	"strings"
)

// FilesCheckFailed reports a FileSet that is missing paths or failed a
// content check. It is always recoverable by rerunning the producing step.
type FilesCheckFailed struct {
	Kind    string
	Missing []string
	Reason  error
}

func (e *FilesCheckFailed) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("%s: files check failed: missing %s", e.Kind, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("%s: files check failed: %v", e.Kind, e.Reason)
}

func (e *FilesCheckFailed) Unwrap() error { return e.Reason }

// HashComputationFailed reports that a content hash could not be derived
// because a file and its deletion sidecar are both absent or corrupt.
// Callers treat it as "input hash unknown" and rerun.
type HashComputationFailed struct {
	Path   string
	Reason error
}

func (e *HashComputationFailed) Error() string {
	return fmt.Sprintf("hash computation failed for %s: %v", e.Path, e.Reason)
}

func (e *HashComputationFailed) Unwrap() error { return e.Reason }
