package inspect

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/showerflow/internal/cards"
	"github.com/fentz26/showerflow/internal/config"
	"github.com/fentz26/showerflow/internal/connectors"
	"github.com/fentz26/showerflow/internal/ctxlog"
	"github.com/fentz26/showerflow/internal/fileset"
	"github.com/fentz26/showerflow/internal/layout"
	"github.com/fentz26/showerflow/internal/ledger"
	"github.com/fentz26/showerflow/internal/models"
	"github.com/fentz26/showerflow/internal/pipeline"
	"github.com/fentz26/showerflow/internal/scheduler"
	"github.com/fentz26/showerflow/internal/stages"
	"github.com/fentz26/showerflow/internal/stages/stagestest"
	"github.com/fentz26/showerflow/internal/step"
)

type run struct {
	cfg       *config.Config
	layout    layout.Layout
	sim       *stagestest.Simulator
	hashes    *fileset.HashStore
	sentinels *ledger.Sentinels
	id        string
}

func newRun(t *testing.T) *run {
	t.Helper()
	cfg := stagestest.Config(t)
	cfg.Cards.FirstRun = 70
	lay, err := cfg.Layout()
	require.NoError(t, err)
	require.NoError(t, lay.Ensure())
	paths, err := cards.Generate(cfg.Cards, lay.Dir(layout.CorsikaInput))
	require.NoError(t, err)
	require.Len(t, paths, 1)
	return &run{
		cfg:       cfg,
		layout:    lay,
		sim:       stagestest.NewSimulator(cfg),
		hashes:    fileset.NewHashStore(lay.Dir(layout.InputHashes)),
		sentinels: ledger.NewSentinels(lay.Dir(layout.PipelinesFailed)),
		id:        cards.PipelineID(paths[0]),
	}
}

func (r *run) steps() []*step.Step {
	f := stages.NewFactory(r.cfg, r.layout)
	return pipeline.Build(f, []string{r.id}, pipeline.Options{Only: []string{r.id}}).Steps
}

func (r *run) execute(t *testing.T, continueMode bool) {
	t.Helper()
	f := stages.NewFactory(r.cfg, r.layout)
	g := pipeline.Build(f, []string{r.id}, pipeline.Options{BatchSize: 2})
	env := &step.Env{Exec: r.sim, Hashes: r.hashes}
	sch := scheduler.New(g.Steps, env, r.sentinels, nil, &scheduler.Config{
		Workers: 2, Continue: continueMode, PollInterval: 20 * time.Millisecond,
	})
	ctx, cancel := context.WithTimeout(ctxlog.WithLogger(context.Background(), ctxlog.Discard()), time.Minute)
	defer cancel()
	_, err := sch.Run(ctx)
	require.NoError(t, err)
}

func (r *run) inspect() Report {
	return New(r.hashes, r.sentinels).Inspect(r.id, r.steps())
}

func statuses(rep Report) map[string]models.StepStatus {
	out := map[string]models.StepStatus{}
	for _, s := range rep.Steps {
		out[s.Step] = s.Status
	}
	return out
}

func notOK(rep Report) []string {
	var out []string
	for _, s := range rep.Steps {
		if s.Status != models.StepStatusOK {
			out = append(out, s.Step+"="+string(s.Status))
		}
	}
	return out
}

func TestFreshPipelineIsReadyThenPending(t *testing.T) {
	r := newRun(t)
	st := statuses(r.inspect())
	assert.Equal(t, models.StepStatusReady, st["corsika"])
	assert.Equal(t, models.StepStatusPending, st["split"])
	assert.Equal(t, models.StepStatusPending, st["c2g"])
}

func TestCompletedPipelineIsOK(t *testing.T) {
	r := newRun(t)
	r.execute(t, false)
	assert.Empty(t, notOK(r.inspect()))
}

func TestSplitStaysOKWithSidecarOnlyParts(t *testing.T) {
	r := newRun(t)
	require.Equal(t, "DAT000070", r.id)
	r.execute(t, false)

	p := stages.Paths{L: r.layout, ID: r.id}
	assert.True(t, strings.HasSuffix(p.Part(1), "dethinning_output/DAT000070.p01"))
	assert.NoFileExists(t, p.Part(1))
	assert.NoFileExists(t, p.Part(2))
	body, err := os.ReadFile(fileset.SidecarPath(p.Part(1)))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "size "))

	st := statuses(r.inspect())
	assert.Equal(t, models.StepStatusOK, st["split"])
	assert.Equal(t, models.StepStatusOK, st["dethin.p01"])
	assert.Equal(t, models.StepStatusOK, st["dethin.p02"])
}

func TestHashSensitivity(t *testing.T) {
	r := newRun(t)
	r.execute(t, false)

	tile := stages.Paths{L: r.layout, ID: r.id}.Tile()
	data, err := os.ReadFile(tile)
	require.NoError(t, err)
	data[0] ^= 0x01
	require.NoError(t, os.WriteFile(tile, data, 0o644))

	assert.ElementsMatch(t, []string{
		"nthrows=RERUN_REQUIRED",
		"throw.2008-2011=RERUN_REQUIRED",
	}, notOK(r.inspect()))
}

func TestMemoisedUntilForget(t *testing.T) {
	r := newRun(t)
	steps := r.steps()
	in := New(r.hashes, r.sentinels)
	assert.Equal(t, models.StepStatusReady, in.Classify(steps[0]))

	r.execute(t, false)
	assert.Equal(t, models.StepStatusReady, in.Classify(steps[0]))
	in.Forget()
	assert.Equal(t, models.StepStatusOK, in.Classify(steps[0]))
}

func TestFixRegeneratesDeletedIntermediates(t *testing.T) {
	r := newRun(t)
	r.execute(t, false)

	steps := r.steps()
	var c2g *step.Step
	for _, s := range steps {
		if s.Kind() == stages.KindC2G {
			c2g = s
		}
	}
	require.NoError(t, r.hashes.Forget(c2g.Input))
	require.NoError(t, r.sentinels.Write(r.id, "step c2g failed"))
	assert.Equal(t, models.StepStatusPrevStepRerunNeeded, statuses(r.inspect())["c2g"])

	res, err := New(r.hashes, r.sentinels).Fix(r.id, steps)
	require.NoError(t, err)
	assert.True(t, res.SentinelCleared)
	assert.ElementsMatch(t, []string{
		r.id + "/dethin.p01", r.id + "/dethin.p02", r.id + "/split", r.id + "/corsika", r.id + "/finalize",
	}, res.Removed)

	r.sim.Reset()
	r.execute(t, true)
	assert.Equal(t, 1, r.sim.Count(r.cfg.Executables.Corsika))
	assert.Equal(t, 2, r.sim.Count(r.cfg.Executables.Dethinning))
	assert.Equal(t, 1, r.sim.Count(r.cfg.Executables.Corsika2Geant))
	assert.Zero(t, r.sim.Count(r.cfg.Executables.Throwing))
	assert.Empty(t, notOK(r.inspect()))
	assert.NoFileExists(t, stages.Paths{L: r.layout, ID: r.id}.Particle())
}

func TestFixRegeneratesSiblingParts(t *testing.T) {
	r := newRun(t)
	r.execute(t, false)

	p := stages.Paths{L: r.layout, ID: r.id}
	require.NoError(t, os.Remove(fileset.SidecarPath(p.Dethinned(1))))
	require.NoError(t, r.sentinels.Write(r.id, "step dethin.p01 failed"))
	assert.Equal(t, models.StepStatusPrevStepRerunNeeded, statuses(r.inspect())["dethin.p01"])

	res, err := New(r.hashes, r.sentinels).Fix(r.id, r.steps())
	require.NoError(t, err)
	assert.Contains(t, res.Removed, r.id+"/dethin.p02")
	assert.NoFileExists(t, fileset.SidecarPath(p.Dethinned(2)))

	// a rerun of dethinning does not reproduce the previous bytes
	r.sim.Handle(r.cfg.Executables.Dethinning, func(_ context.Context, inv connectors.Invocation) (int, error) {
		data, err := os.ReadFile(inv.Args[0])
		if err != nil {
			return 1, nil
		}
		if err := os.WriteFile(inv.Stdout, []byte("dethinning done\n"), 0o644); err != nil {
			return 1, nil
		}
		if err := os.WriteFile(inv.Args[1], append([]byte("dethinned again\n"), data...), 0o644); err != nil {
			return 1, nil
		}
		return 0, nil
	})
	r.sim.Reset()
	r.execute(t, true)

	assert.False(t, r.sentinels.Failed(r.id))
	assert.Equal(t, 2, r.sim.Count(r.cfg.Executables.Dethinning))
	assert.Equal(t, 1, r.sim.Count(r.cfg.Executables.Corsika2Geant))
	assert.Empty(t, notOK(r.inspect()))
}

func TestHardFixKeepsOnlyCard(t *testing.T) {
	r := newRun(t)
	r.execute(t, false)
	require.NoError(t, r.sentinels.Write(r.id, "boom"))

	res, err := New(r.hashes, r.sentinels).HardFix(r.id, r.steps())
	require.NoError(t, err)
	assert.True(t, res.SentinelCleared)
	assert.False(t, r.sentinels.Failed(r.id))

	p := stages.Paths{L: r.layout, ID: r.id}
	assert.FileExists(t, p.Card())
	assert.NoFileExists(t, p.Tile())
	assert.NoFileExists(t, fileset.SidecarPath(p.Particle()))
	assert.NoFileExists(t, p.Done())
	for _, s := range r.steps() {
		stored, err := r.hashes.Load(s.Input)
		require.NoError(t, err)
		assert.Empty(t, stored, s.ID())
	}

	st := statuses(r.inspect())
	assert.Equal(t, models.StepStatusReady, st["corsika"])

	r.sim.Reset()
	r.execute(t, true)
	assert.Equal(t, 1, r.sim.Count(r.cfg.Executables.Corsika))
	assert.Empty(t, notOK(r.inspect()))
}
