package stages

import (
	"context"
	"strconv"

	"github.com/fentz26/showerflow/internal/connectors"
	"github.com/fentz26/showerflow/internal/fileset"
	"github.com/fentz26/showerflow/internal/step"
)

// Resample reweights thrown events to the spectrum above a threshold.
// Showers with no surviving events produce no spectrum file.
type Resample struct {
	external
	paths Paths
	epoch string
	thr   float64
}

func (r *Resample) Kind() string { return KindResample }

func (r *Resample) Run(ctx context.Context, env *step.Env, in, out *fileset.Set) error {
	return invoke(ctx, env, connectors.Invocation{
		Executable: r.exe,
		Args: []string{"-i", r.paths.Events(r.epoch), "-t", strconv.FormatFloat(r.thr, 'f', -1, 64),
			"-o", r.paths.Spectrum(r.epoch, r.thr)},
		Stdout: r.paths.ResampleLog(r.epoch, r.thr),
		Stderr: r.paths.ResampleLog(r.epoch, r.thr),
		Append: true,
	})
}

func (r *Resample) Prepare(out *fileset.Set) error {
	if err := out.Remove(); err != nil {
		return err
	}
	return writeLog(r.paths.ResampleLog(r.epoch, r.thr), "")
}

// Resample follows the throw step t of the same epoch.
func (f *Factory) Resample(t *step.Step, epoch string, thr float64) *step.Step {
	p := f.Paths(t.Pipeline)
	spctr := p.Spectrum(epoch, thr)
	in := t.Output.Subset(stepName("resample-input", Threshold(thr)), p.Events(epoch))
	out := f.set("resample-output", []string{p.ResampleLog(epoch, thr)},
		fileset.WithOptional(spctr),
		fileset.WithIDPaths(spctr),
		fileset.WithValidators(fileset.NonEmpty(spctr)))
	stage := &Resample{
		external: external{key: "executables.resample", exe: f.cfg.Executables.Resample},
		paths:    p,
		epoch:    epoch,
		thr:      thr,
	}
	return step.New(t.Pipeline, stepName(KindResample, epoch, Threshold(thr)), stage, in, out, t)
}

// Reconstruct fits shower parameters from the resampled spectrum.
type Reconstruct struct {
	external
	paths Paths
	epoch string
	thr   float64
}

func (r *Reconstruct) Kind() string { return KindReconstruct }

func (r *Reconstruct) Run(ctx context.Context, env *step.Env, in, out *fileset.Set) error {
	log := r.paths.ReconstructionLog(r.epoch, r.thr)
	spctr := r.paths.Spectrum(r.epoch, r.thr)
	if !exists(spctr) {
		return writeLog(log, "no spectrum above threshold, nothing to reconstruct\n")
	}
	return invoke(ctx, env, connectors.Invocation{
		Executable: r.exe,
		Args:       []string{"-i", spctr, "-o", r.paths.Reconstruction(r.epoch, r.thr)},
		Stdout:     log,
		Stderr:     log,
		Append:     true,
	})
}

func (r *Reconstruct) Prepare(out *fileset.Set) error {
	if err := out.Remove(); err != nil {
		return err
	}
	return writeLog(r.paths.ReconstructionLog(r.epoch, r.thr), "")
}

// Reconstruct follows the resample step r.
func (f *Factory) Reconstruct(r *step.Step, epoch string, thr float64) *step.Step {
	p := f.Paths(r.Pipeline)
	rec := p.Reconstruction(epoch, thr)
	in := r.Output.Subset("reconstruct-input", p.Spectrum(epoch, thr), p.ResampleLog(epoch, thr))
	out := f.set("reconstruct-output", []string{p.ReconstructionLog(epoch, thr)},
		fileset.WithOptional(rec),
		fileset.WithIDPaths(rec),
		fileset.WithValidators(fileset.HasRecords(rec)))
	stage := &Reconstruct{
		external: external{key: "executables.reconstruction", exe: f.cfg.Executables.Reconstruction},
		paths:    p,
		epoch:    epoch,
		thr:      thr,
	}
	return step.New(r.Pipeline, stepName(KindReconstruct, epoch, Threshold(thr)), stage, in, out, r)
}

// Dump writes the reconstruction in the text format the aggregation
// merges.
type Dump struct {
	external
	paths Paths
	epoch string
	thr   float64
}

func (d *Dump) Kind() string { return KindDump }

func (d *Dump) Run(ctx context.Context, env *step.Env, in, out *fileset.Set) error {
	log := d.paths.DumpLog(d.epoch, d.thr)
	rec := d.paths.Reconstruction(d.epoch, d.thr)
	if !exists(rec) {
		return writeLog(log, "no reconstruction, nothing to dump\n")
	}
	return invoke(ctx, env, connectors.Invocation{
		Executable: d.exe,
		Args:       []string{"-i", rec, "-o", d.paths.Dump(d.epoch, d.thr)},
		Stdout:     log,
		Stderr:     log,
		Append:     true,
	})
}

func (d *Dump) Prepare(out *fileset.Set) error {
	if err := out.Remove(); err != nil {
		return err
	}
	return writeLog(d.paths.DumpLog(d.epoch, d.thr), "")
}

// Dump follows the reconstruction step r.
func (f *Factory) Dump(r *step.Step, epoch string, thr float64) *step.Step {
	p := f.Paths(r.Pipeline)
	in := r.Output.Subset("dump-input", p.Reconstruction(epoch, thr), p.ReconstructionLog(epoch, thr))
	out := f.set("dump-output", []string{p.DumpLog(epoch, thr)},
		fileset.WithOptional(p.Dump(epoch, thr)),
		fileset.WithIDPaths(p.Dump(epoch, thr)))
	stage := &Dump{
		external: external{key: "executables.dump", exe: f.cfg.Executables.Dump},
		paths:    p,
		epoch:    epoch,
		thr:      thr,
	}
	return step.New(r.Pipeline, stepName(KindDump, epoch, Threshold(thr)), stage, in, out, r)
}
