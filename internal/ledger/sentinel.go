package ledger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fentz26/showerflow/internal/fileset"
)

// SentinelSuffix names a pipeline failure sentinel.
const SentinelSuffix = ".failed"

// Sentinels manages the pipeline failure markers of a run. A sentinel's
// existence alone means the pipeline must not continue.
type Sentinels struct {
	dir string
}

// NewSentinels returns the sentinels kept in dir.
func NewSentinels(dir string) *Sentinels {
	return &Sentinels{dir: dir}
}

func (s *Sentinels) path(pipeline string) string {
	return filepath.Join(s.dir, pipeline+SentinelSuffix)
}

// Write marks pipeline failed with the captured failure text. An existing
// sentinel is kept so the first failure wins.
func (s *Sentinels) Write(pipeline, text string) error {
	if s.Failed(pipeline) {
		return nil
	}
	if err := fileset.WriteFileAtomic(s.path(pipeline), []byte(text+"\n")); err != nil {
		return fmt.Errorf("write failure sentinel for %s: %w", pipeline, err)
	}
	return nil
}

// Failed reports whether pipeline carries a sentinel.
func (s *Sentinels) Failed(pipeline string) bool {
	_, err := os.Stat(s.path(pipeline))
	return err == nil
}

// Read returns the failure text of pipeline.
func (s *Sentinels) Read(pipeline string) (string, error) {
	data, err := os.ReadFile(s.path(pipeline))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Clear removes the sentinel of pipeline.
func (s *Sentinels) Clear(pipeline string) error {
	err := os.Remove(s.path(pipeline))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// List returns the failed pipelines in lexical order.
func (s *Sentinels) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), SentinelSuffix); ok && !e.IsDir() {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}
