package stages

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/fentz26/showerflow/internal/fileset"
	"github.com/fentz26/showerflow/internal/layout"
	"github.com/fentz26/showerflow/internal/step"
)

// Finalize replaces the pipeline's not-retained intermediates by their
// sidecars and marks the pipeline done.
type Finalize struct {
	paths     Paths
	transient []*fileset.Set
}

func (f *Finalize) Kind() string { return KindFinalize }

func (f *Finalize) Run(ctx context.Context, env *step.Env, in, out *fileset.Set) error {
	for _, s := range f.transient {
		if err := s.DeleteNotRetained(); err != nil {
			return fmt.Errorf("delete intermediates: %w", err)
		}
	}
	var b bytes.Buffer
	for _, p := range in.AllFiles() {
		if exists(p) {
			fmt.Fprintln(&b, f.paths.L.Rel(p))
		}
	}
	return fileset.WriteFileAtomic(f.paths.Done(), b.Bytes())
}

// Finalize follows the last steps of a pipeline. transient lists the
// steps whose not-retained outputs are deleted.
func (f *Factory) Finalize(last []*step.Step, transient []*step.Step) *step.Step {
	id := last[0].Pipeline
	p := f.Paths(id)
	members := make([]*fileset.Set, len(last))
	for i, s := range last {
		members[i] = s.Output
	}
	in := fileset.Join("finalize-input", members...)
	out := f.set("finalize-output", []string{p.Done()})
	sets := make([]*fileset.Set, len(transient))
	for i, s := range transient {
		sets[i] = s.Output
	}
	return step.New(id, KindFinalize, &Finalize{paths: p, transient: sets}, in, out, last...)
}

// Aggregate concatenates the dumps of every pipeline for one threshold.
type Aggregate struct {
	layout layout.Layout
	thr    float64
}

func (a *Aggregate) Kind() string { return KindAggregate }

func (a *Aggregate) Run(ctx context.Context, env *step.Env, in, out *fileset.Set) error {
	paths := in.AllFiles()
	sort.Strings(paths)
	var b bytes.Buffer
	fmt.Fprintf(&b, "# merged dumps above %s\n", Threshold(a.thr))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(&b, "# %s\n", a.layout.Rel(p))
		b.Write(data)
		if len(data) > 0 && data[len(data)-1] != '\n' {
			b.WriteByte('\n')
		}
	}
	return fileset.WriteFileAtomic(Merged(a.layout, a.thr), b.Bytes())
}

// Aggregate merges the dumps of threshold thr. The dump steps are
// previous steps for ordering only; every dump is optional.
func (f *Factory) Aggregate(thr float64, dumps []*step.Step) *step.Step {
	var optional []string
	for _, d := range dumps {
		optional = append(optional, d.Output.Optional()...)
	}
	in := f.set("aggregate-input", nil, fileset.WithOptional(optional...))
	out := f.set("aggregate-output", []string{Merged(f.layout, thr)})
	return step.New(AggregatePipeline, Threshold(thr), &Aggregate{layout: f.layout, thr: thr}, in, out, dumps...)
}
