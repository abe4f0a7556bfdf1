package stages

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/fentz26/showerflow/internal/connectors"
	"github.com/fentz26/showerflow/internal/fileset"
	"github.com/fentz26/showerflow/internal/step"
)

// Split cuts the particle file into parts dethinned in parallel.
type Split struct {
	external
	paths Paths
	parts int
}

func (s *Split) Kind() string { return KindSplit }

func (s *Split) Run(ctx context.Context, env *step.Env, in, out *fileset.Set) error {
	return invoke(ctx, env, connectors.Invocation{
		Executable: s.exe,
		Args:       []string{s.paths.Particle(), s.paths.PartPrefix(), strconv.Itoa(s.parts)},
		Stdout:     s.paths.SplitLog(),
		Stderr:     s.paths.SplitLog(),
		Append:     true,
	})
}

// Prepare removes the parts and truncates the shared log.
func (s *Split) Prepare(out *fileset.Set) error {
	if err := out.Remove(); err != nil {
		return err
	}
	return writeLog(s.paths.SplitLog(), "")
}

// Split follows the CORSIKA step c.
func (f *Factory) Split(c *step.Step) *step.Step {
	p := f.Paths(c.Pipeline)
	k := f.cfg.Parallelism.SplitParts
	parts := make([]string, k)
	for i := range parts {
		parts[i] = p.Part(i + 1)
	}
	in := c.Output.Subset("split-input", p.Particle())
	out := f.set("split-output", append(append([]string(nil), parts...), p.SplitLog()),
		fileset.WithNotRetained(parts...),
		fileset.WithIDPaths(parts...))
	stage := &Split{
		external: external{key: "executables.splitter", exe: f.cfg.Executables.Splitter},
		paths:    p,
		parts:    k,
	}
	return step.New(c.Pipeline, KindSplit, stage, in, out, c)
}

// Dethin restores thinned particles of one split part.
type Dethin struct {
	external
	paths Paths
	part  int
}

func (d *Dethin) Kind() string { return KindDethin }

func (d *Dethin) Run(ctx context.Context, env *step.Env, in, out *fileset.Set) error {
	return invoke(ctx, env, connectors.Invocation{
		Executable: d.exe,
		Args:       []string{d.paths.Part(d.part), d.paths.Dethinned(d.part)},
		Stdout:     d.paths.DethinLog(d.part),
		Stderr:     d.paths.DethinLog(d.part),
		Append:     true,
	})
}

func (d *Dethin) Prepare(out *fileset.Set) error {
	if err := out.Remove(); err != nil {
		return err
	}
	return writeLog(d.paths.DethinLog(d.part), "")
}

// Dethin processes part (counted from 1) written by the split step s.
func (f *Factory) Dethin(s *step.Step, part int) *step.Step {
	p := f.Paths(s.Pipeline)
	in := s.Output.Subset("dethin-input", p.Part(part))
	out := f.set("dethin-output", []string{p.Dethinned(part), p.DethinLog(part)},
		fileset.WithNotRetained(p.Dethinned(part)),
		fileset.WithIDPaths(p.Dethinned(part)))
	stage := &Dethin{
		external: external{key: "executables.dethinning", exe: f.cfg.Executables.Dethinning},
		paths:    p,
		part:     part,
	}
	return step.New(s.Pipeline, stepName(KindDethin, fmt.Sprintf("p%02d", part)), stage, in, out, s)
}

// C2G merges the dethinned parts into one ground tile file.
type C2G struct {
	external
	paths Paths
	parts []string
}

func (c *C2G) Kind() string { return KindC2G }

func (c *C2G) Run(ctx context.Context, env *step.Env, in, out *fileset.Set) error {
	if err := writeLog(c.paths.TileList(), strings.Join(c.parts, "\n")+"\n"); err != nil {
		return fmt.Errorf("write tile list: %w", err)
	}
	return invoke(ctx, env, connectors.Invocation{
		Executable: c.exe,
		Args:       []string{c.paths.TileList(), c.paths.Tile()},
		Stdout:     c.paths.C2GLog(),
		Stderr:     c.paths.C2GLog(),
		Append:     true,
	})
}

func (c *C2G) Prepare(out *fileset.Set) error {
	if err := out.Remove(); err != nil {
		return err
	}
	return writeLog(c.paths.C2GLog(), "")
}

// C2G is the fan-in of the dethinning steps of one pipeline.
func (f *Factory) C2G(dethins []*step.Step) *step.Step {
	id := dethins[0].Pipeline
	p := f.Paths(id)
	members := make([]*fileset.Set, len(dethins))
	parts := make([]string, len(dethins))
	for i, d := range dethins {
		parts[i] = p.Dethinned(i + 1)
		members[i] = d.Output.Subset("dethin-output", parts[i])
	}
	in := fileset.Join("c2g-input", members...)
	out := f.set("c2g-output", []string{p.Tile(), p.TileList(), p.C2GLog()},
		fileset.WithIDPaths(p.Tile()),
		fileset.WithValidators(fileset.NonEmpty(p.Tile())))
	stage := &C2G{
		external: external{key: "executables.corsika2geant", exe: f.cfg.Executables.Corsika2Geant},
		paths:    p,
		parts:    parts,
	}
	return step.New(id, KindC2G, stage, in, out, dethins...)
}
