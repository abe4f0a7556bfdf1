// Package pipeline builds the step graph of a run: one chain of steps per
// steering card, emitted in batches, followed by the cross-pipeline
// aggregation steps.
package pipeline

import (
	"sort"

	"github.com/fentz26/showerflow/internal/stages"
	"github.com/fentz26/showerflow/internal/step"
)

// Graph is the ordered step list of a run. Steps appear after every step
// they depend on.
type Graph struct {
	Steps     []*step.Step
	Pipelines []string
}

// Options control graph construction.
type Options struct {
	// BatchSize is the number of pipelines whose stages are interleaved;
	// normally the worker count.
	BatchSize int
	// Only keeps the steps of these pipelines when non-empty.
	Only []string
}

// Build returns the graph for the given pipeline ids in their given order.
func Build(f *stages.Factory, ids []string, opts Options) *Graph {
	batch := opts.BatchSize
	if batch < 1 {
		batch = 1
	}
	chains := make([]*built, len(ids))
	for i, id := range ids {
		chains[i] = chain(f, id)
	}

	g := &Graph{}
	for start := 0; start < len(chains); start += batch {
		end := min(start+batch, len(chains))
		levels := 0
		for _, c := range chains[start:end] {
			levels = max(levels, len(c.levels))
		}
		for lvl := 0; lvl < levels; lvl++ {
			for _, c := range chains[start:end] {
				if lvl < len(c.levels) {
					g.Steps = append(g.Steps, c.levels[lvl]...)
				}
			}
		}
	}
	g.Steps = append(g.Steps, aggregations(f, chains)...)

	if len(opts.Only) > 0 {
		g.Steps = Filter(g.Steps, opts.Only...)
	}
	seen := map[string]bool{}
	for _, s := range g.Steps {
		if !seen[s.Pipeline] {
			seen[s.Pipeline] = true
			g.Pipelines = append(g.Pipelines, s.Pipeline)
		}
	}
	return g
}

// built holds the steps of one pipeline grouped by stage level.
type built struct {
	levels [][]*step.Step
	dumps  map[float64][]*step.Step
}

func chain(f *stages.Factory, id string) *built {
	cfg := f.Config()
	corsika := f.Corsika(id)
	split := f.Split(corsika)
	dethins := make([]*step.Step, cfg.Parallelism.SplitParts)
	for i := range dethins {
		dethins[i] = f.Dethin(split, i+1)
	}
	c2g := f.C2G(dethins)
	nthrows := f.NThrows(c2g)

	var throws, resamples, recs, dumps []*step.Step
	byThr := map[float64][]*step.Step{}
	for _, epoch := range cfg.Throwing.Epochs {
		t := f.Throw(c2g, nthrows, epoch)
		throws = append(throws, t)
		for _, thr := range cfg.Spectral.Thresholds {
			r := f.Resample(t, epoch, thr)
			rec := f.Reconstruct(r, epoch, thr)
			resamples = append(resamples, r)
			recs = append(recs, rec)
			if cfg.Dump.Enabled {
				d := f.Dump(rec, epoch, thr)
				dumps = append(dumps, d)
				byThr[thr] = append(byThr[thr], d)
			}
		}
	}
	last := recs
	if cfg.Dump.Enabled {
		last = dumps
	}
	transient := append([]*step.Step{corsika, split}, dethins...)
	finalize := f.Finalize(last, transient)

	levels := [][]*step.Step{
		{corsika}, {split}, dethins, {c2g}, {nthrows}, throws, resamples, recs,
	}
	if cfg.Dump.Enabled {
		levels = append(levels, dumps)
	}
	return &built{levels: append(levels, []*step.Step{finalize}), dumps: byThr}
}

// aggregations returns one step per threshold merging the dumps of every
// pipeline.
func aggregations(f *stages.Factory, chains []*built) []*step.Step {
	cfg := f.Config()
	if !cfg.Dump.Enabled || len(chains) == 0 {
		return nil
	}
	var out []*step.Step
	for _, thr := range cfg.Spectral.Thresholds {
		var dumps []*step.Step
		for _, c := range chains {
			dumps = append(dumps, c.dumps[thr]...)
		}
		out = append(out, f.Aggregate(thr, dumps))
	}
	return out
}

// Filter keeps the steps belonging to the given pipelines, preserving
// order.
func Filter(steps []*step.Step, pipelines ...string) []*step.Step {
	want := make(map[string]bool, len(pipelines))
	for _, p := range pipelines {
		want[p] = true
	}
	var out []*step.Step
	for _, s := range steps {
		if want[s.Pipeline] {
			out = append(out, s)
		}
	}
	return out
}

// Kinds returns one step per stage kind, in first-seen order.
func (g *Graph) Kinds() []*step.Step {
	seen := map[string]bool{}
	var out []*step.Step
	for _, s := range g.Steps {
		if !seen[s.Kind()] {
			seen[s.Kind()] = true
			out = append(out, s)
		}
	}
	return out
}

// Pipeline returns the steps of one pipeline in graph order.
func (g *Graph) Pipeline(id string) []*step.Step {
	return Filter(g.Steps, id)
}

// SortedPipelines returns the pipeline ids in lexical order.
func (g *Graph) SortedPipelines() []string {
	out := append([]string(nil), g.Pipelines...)
	sort.Strings(out)
	return out
}
