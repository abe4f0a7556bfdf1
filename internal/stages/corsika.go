package stages

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/fentz26/showerflow/internal/config"
	"github.com/fentz26/showerflow/internal/connectors"
	"github.com/fentz26/showerflow/internal/fileset"
	"github.com/fentz26/showerflow/internal/layout"
	"github.com/fentz26/showerflow/internal/step"
)

// RunEnd terminates every complete CORSIKA particle file.
var RunEnd = []byte("RUNE")

var benignStderr = []*regexp.Regexp{
	regexp.MustCompile(`^Note: The following floating-point exceptions are signalling`),
}

// Corsika simulates the air shower from the steering card.
type Corsika struct {
	external
	options []string
	paths   Paths
}

func (c *Corsika) Kind() string { return KindCorsika }

// ValidateConfig also requires the compile options, which CORSIKA builds
// carry in the executable name.
func (c *Corsika) ValidateConfig() error {
	if err := c.external.ValidateConfig(); err != nil {
		return err
	}
	name := strings.ToLower(filepath.Base(c.exe))
	for _, opt := range c.options {
		if !strings.Contains(name, strings.ToLower(opt)) {
			return &config.BadConfigValue{Key: c.key, Value: c.exe, Reason: "not compiled with option " + opt}
		}
	}
	return nil
}

func (c *Corsika) Run(ctx context.Context, env *step.Env, in, out *fileset.Set) error {
	return invoke(ctx, env, connectors.Invocation{
		Executable: c.exe,
		Dir:        c.paths.L.Dir(layout.CorsikaOutput),
		Stdin:      c.paths.Card(),
		Stdout:     c.paths.CorsikaLog(),
		Stderr:     c.paths.CorsikaErr(),
	})
}

// Corsika builds the first step of pipeline id.
func (f *Factory) Corsika(id string) *step.Step {
	p := f.Paths(id)
	in := f.set("corsika-input", []string{p.Card()})
	out := f.set("corsika-output",
		[]string{p.Particle(), p.Long(), p.CorsikaLog(), p.CorsikaErr()},
		fileset.WithNotRetained(p.Particle()),
		fileset.WithIDPaths(p.Particle(), p.Long()),
		fileset.WithValidators(
			fileset.EndsWith(p.Particle(), RunEnd),
			fileset.LastLineContains(p.CorsikaLog(), "END OF RUN"),
			fileset.StderrBenign(p.CorsikaErr(), benignStderr...),
		))
	stage := &Corsika{
		external: external{key: "executables.corsika", exe: f.cfg.Executables.Corsika},
		options:  f.cfg.Corsika.RequiredOptions,
		paths:    p,
	}
	return step.New(id, KindCorsika, stage, in, out)
}
