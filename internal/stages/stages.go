// Package stages defines every stage of a shower pipeline: its files, how
// its external routine is invoked and its pre-flight checks. Factory
// builds the corresponding steps.
package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fentz26/showerflow/internal/config"
	"github.com/fentz26/showerflow/internal/connectors"
	"github.com/fentz26/showerflow/internal/fileset"
	"github.com/fentz26/showerflow/internal/layout"
	"github.com/fentz26/showerflow/internal/step"
)

// Stage kinds.
const (
	KindCorsika     = "corsika"
	KindSplit       = "split"
	KindDethin      = "dethin"
	KindC2G         = "c2g"
	KindNThrows     = "nthrows"
	KindThrow       = "throw"
	KindResample    = "resample"
	KindReconstruct = "reconstruct"
	KindDump        = "dump"
	KindFinalize    = "finalize"
	KindAggregate   = "aggregate"
)

// AggregatePipeline is the pseudo pipeline owning the aggregation steps.
const AggregatePipeline = "aggregate"

// Factory builds steps for pipelines of one run.
type Factory struct {
	cfg    *config.Config
	layout layout.Layout
	hasher *fileset.Hasher
}

// NewFactory returns a factory for cfg laid out in l.
func NewFactory(cfg *config.Config, l layout.Layout) *Factory {
	return &Factory{cfg: cfg, layout: l, hasher: cfg.Tuning.Hasher()}
}

// Config returns the run configuration.
func (f *Factory) Config() *config.Config { return f.cfg }

// Layout returns the run layout.
func (f *Factory) Layout() layout.Layout { return f.layout }

// Paths returns the file names of pipeline id.
func (f *Factory) Paths(id string) Paths { return Paths{L: f.layout, ID: id} }

func (f *Factory) set(kind string, files []string, opts ...fileset.Option) *fileset.Set {
	return fileset.New(kind, f.layout.Root, files, append(opts, fileset.WithHasher(f.hasher))...)
}

func invoke(ctx context.Context, env *step.Env, inv connectors.Invocation) error {
	inv.CheckErrors = true
	res, err := env.Exec.Execute(ctx, inv)
	return connectors.Outcome(inv, res, err)
}

// checkExecutable verifies that path names an executable regular file.
func checkExecutable(key, path string) error {
	if path == "" {
		return &config.BadConfigValue{Key: key, Value: path, Reason: "not configured"}
	}
	fi, err := os.Stat(path)
	if err != nil {
		return &config.BadConfigValue{Key: key, Value: path, Reason: err.Error()}
	}
	if !fi.Mode().IsRegular() || fi.Mode().Perm()&0o111 == 0 {
		return &config.BadConfigValue{Key: key, Value: path, Reason: "not an executable file"}
	}
	return nil
}

// external is embedded by stages that run one configured executable.
type external struct {
	key string
	exe string
}

func (e external) ValidateConfig() error {
	return checkExecutable(e.key, e.exe)
}

func readTrimmed(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func writeLog(path, text string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(text), 0o644)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func stepName(kind string, parts ...string) string {
	if len(parts) == 0 {
		return kind
	}
	return fmt.Sprintf("%s.%s", kind, strings.Join(parts, "."))
}
