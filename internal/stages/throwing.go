package stages

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/fentz26/showerflow/internal/cards"
	"github.com/fentz26/showerflow/internal/connectors"
	"github.com/fentz26/showerflow/internal/fileset"
	"github.com/fentz26/showerflow/internal/step"
)

// referenceLog10Energy is the energy at which a shower is thrown
// base_throws times; the count grows with the square root of the energy.
const referenceLog10Energy = 18.5

// Throws returns how many events to throw for a shower of energy lgE.
func Throws(base int, lgE float64) int {
	f := math.Pow(10, (lgE-referenceLog10Energy)/2)
	if f < 1 {
		f = 1
	}
	return int(math.Ceil(float64(base) * f))
}

// NThrows computes the throw count from the steering card. It runs in
// process.
type NThrows struct {
	base  int
	paths Paths
}

func (n *NThrows) Kind() string { return KindNThrows }

func (n *NThrows) Run(ctx context.Context, env *step.Env, in, out *fileset.Set) error {
	card, err := cards.Parse(n.paths.Card())
	if err != nil {
		return err
	}
	return fileset.WriteFileAtomic(n.paths.NThrows(), []byte(strconv.Itoa(Throws(n.base, card.Log10Energy))+"\n"))
}

// NThrows follows the tile step c.
func (f *Factory) NThrows(c *step.Step) *step.Step {
	p := f.Paths(c.Pipeline)
	in := fileset.Join("nthrows-input",
		f.set("card", []string{p.Card()}),
		c.Output.Subset("c2g-output", p.Tile()))
	out := f.set("nthrows-output", []string{p.NThrows()}, fileset.WithValidators(fileset.NonEmpty(p.NThrows())))
	stage := &NThrows{base: f.cfg.Throwing.BaseThrows, paths: p}
	return step.New(c.Pipeline, KindNThrows, stage, in, out, c)
}

// Throw places the shower tile over the detector for one calibration
// epoch.
type Throw struct {
	external
	paths Paths
	epoch string
}

func (t *Throw) Kind() string { return KindThrow }

func (t *Throw) Run(ctx context.Context, env *step.Env, in, out *fileset.Set) error {
	n, err := readTrimmed(t.paths.NThrows())
	if err != nil {
		return err
	}
	if _, err := strconv.Atoi(n); err != nil {
		return fmt.Errorf("bad throw count in %s: %q", t.paths.NThrows(), n)
	}
	return invoke(ctx, env, connectors.Invocation{
		Executable: t.exe,
		Args:       []string{"-c", t.paths.Tile(), "-n", n, "-e", t.epoch, "-o", t.paths.Events(t.epoch)},
		Stdout:     t.paths.ThrowLog(t.epoch),
		Stderr:     t.paths.ThrowLog(t.epoch),
		Append:     true,
	})
}

func (t *Throw) Prepare(out *fileset.Set) error {
	if err := out.Remove(); err != nil {
		return err
	}
	return writeLog(t.paths.ThrowLog(t.epoch), "")
}

// Throw follows the tile step c and the throw count step n.
func (f *Factory) Throw(c, n *step.Step, epoch string) *step.Step {
	p := f.Paths(c.Pipeline)
	// every epoch reads the same files; the kind keeps their stored hashes apart
	in := fileset.Join(stepName("throw-input", epoch), c.Output.Subset("c2g-output", p.Tile()), n.Output)
	out := f.set("throw-output", []string{p.Events(epoch), p.ThrowLog(epoch)},
		fileset.WithIDPaths(p.Events(epoch)),
		fileset.WithValidators(fileset.LastLineContains(p.ThrowLog(epoch), "THROWING DONE")))
	stage := &Throw{
		external: external{key: "executables.throwing", exe: f.cfg.Executables.Throwing},
		paths:    p,
		epoch:    epoch,
	}
	return step.New(c.Pipeline, stepName(KindThrow, epoch), stage, in, out, c, n)
}
