package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fentz26/showerflow/internal/ctxlog"
	"github.com/fentz26/showerflow/internal/ledger"
	"github.com/fentz26/showerflow/internal/metrics"
	"github.com/fentz26/showerflow/internal/models"
	"github.com/fentz26/showerflow/internal/step"
)

// Stats is a snapshot of scheduler progress.
type Stats struct {
	Workers   int `json:"workers"`
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Abandoned int `json:"abandoned"`
	// Executed and Skipped split Completed by outcome.
	Executed int64 `json:"executed"`
	Skipped  int64 `json:"skipped"`
}

// Scheduler runs a flat step list on a fixed-size worker pool. A failing
// step marks its pipeline failed and never stops the pool.
type Scheduler struct {
	steps     []*step.Step
	env       *step.Env
	sentinels *ledger.Sentinels
	metrics   *metrics.Metrics
	config    *Config

	status   *StatusArray
	executed atomic.Int64
	skipped  atomic.Int64
}

// New creates a scheduler for steps, which must be in dependency order.
// The env's Continue and PollInterval are taken from cfg.
func New(steps []*step.Step, env *step.Env, sentinels *ledger.Sentinels, m *metrics.Metrics, cfg *Config) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	env.Continue = cfg.Continue
	env.PollInterval = cfg.PollInterval
	if env.Failures == nil {
		env.Failures = sentinels
	}
	sch := &Scheduler{
		steps:     steps,
		env:       env,
		sentinels: sentinels,
		metrics:   m,
		config:    cfg,
		status:    NewStatusArray(len(steps)),
	}
	m.SetWorkers(cfg.Workers)
	if m != nil {
		sch.status.OnChange(m.SetSlots)
	}
	return sch
}

// Running returns the ids of the steps currently holding a worker.
func (sch *Scheduler) Running() []string {
	var out []string
	for i, st := range sch.status.Snapshot() {
		if st == models.SlotRunning {
			out = append(out, sch.steps[i].ID())
		}
	}
	return out
}

// Validate runs every stage kind's pre-flight check once. It executes no
// step and is the whole of a dry run.
func (sch *Scheduler) Validate() error {
	seen := map[string]bool{}
	for _, s := range sch.steps {
		kind := s.Kind()
		if seen[kind] {
			continue
		}
		seen[kind] = true
		if v, ok := s.Stage.(step.ConfigValidator); ok {
			if err := v.ValidateConfig(); err != nil {
				return fmt.Errorf("%s: %w", kind, err)
			}
		}
	}
	return nil
}

// Run validates the configuration, then executes every step. It returns
// when all steps are done or ctx is cancelled; step failures are recorded,
// not returned.
func (sch *Scheduler) Run(ctx context.Context) (Stats, error) {
	logger := ctxlog.FromContext(ctx)
	if err := sch.Validate(); err != nil {
		return sch.Stats(), err
	}

	scheduled := make(map[*step.Step]bool, len(sch.steps))
	for _, s := range sch.steps {
		scheduled[s] = true
	}
	for _, s := range sch.steps {
		for _, p := range s.Previous {
			if !scheduled[p] {
				p.Finish()
			}
		}
	}

	logger.Info("scheduling steps", "steps", len(sch.steps), "workers", sch.config.Workers, "continue", sch.config.Continue)
	start := time.Now()

	// Submission blocks while the pool is full, so steps enter the pool in
	// list order and every waiting step's previous steps hold a slot or
	// have finished.
	var g errgroup.Group
	g.SetLimit(sch.config.Workers)
	for i, s := range sch.steps {
		if ctx.Err() != nil {
			break
		}
		i, s := i, s
		g.Go(func() error {
			sch.execute(ctx, i, s)
			return nil
		})
	}
	g.Wait()

	stats := sch.Stats()
	logger.Info("run finished",
		"elapsed", time.Since(start).Round(time.Millisecond),
		"executed", stats.Executed, "skipped", stats.Skipped,
		"failed", stats.Failed, "abandoned", stats.Abandoned)
	return stats, ctx.Err()
}

// execute runs one step body and converts any failure into a pipeline
// failure sentinel.
func (sch *Scheduler) execute(ctx context.Context, i int, s *step.Step) {
	defer s.Finish()
	logger := ctxlog.FromContext(ctx).With("pipeline", s.Pipeline, "step", s.Name)

	if sch.sentinels.Failed(s.Pipeline) {
		sch.status.Set(i, models.SlotAbandoned)
		return
	}
	sch.status.Set(i, models.SlotRunning)
	start := time.Now()
	ev, err := sch.runStep(ctx, s)

	switch {
	case err == nil:
		if ev == models.EventSkipped {
			sch.skipped.Add(1)
		} else {
			sch.executed.Add(1)
		}
		sch.metrics.ObserveStep(s.Kind(), ev, time.Since(start))
		sch.status.Set(i, models.SlotCompleted)
	case errors.Is(err, step.ErrPipelineFailed):
		logger.Debug("abandoned, pipeline failed")
		sch.status.Set(i, models.SlotAbandoned)
	case ctx.Err() != nil:
		logger.Warn("interrupted", "error", err)
		sch.status.Set(i, models.SlotPending)
	default:
		logger.Error("step failed", "error", err)
		if werr := sch.sentinels.Write(s.Pipeline, fmt.Sprintf("step %s failed: %v", s.ID(), err)); werr != nil {
			logger.Error("failure sentinel not written", "error", werr)
		}
		if sch.env.Ledger != nil {
			// empty when the input never became complete
			hash, _ := s.Input.ContentHash()
			if lerr := sch.env.Ledger.Record(ctx, models.LedgerEntry{
				Timestamp: time.Now(),
				Pipeline:  s.Pipeline,
				Step:      s.Name,
				Event:     models.EventFailed,
				InputHash: hash,
				Value:     err.Error(),
			}); lerr != nil {
				logger.Warn("ledger write failed", "error", lerr)
			}
		}
		sch.metrics.ObserveStep(s.Kind(), models.EventFailed, time.Since(start))
		sch.status.Set(i, models.SlotFailed)
	}
}

func (sch *Scheduler) runStep(ctx context.Context, s *step.Step) (ev models.EventType, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return s.Run(ctx, sch.env, false)
}

// Stats returns current scheduler statistics.
func (sch *Scheduler) Stats() Stats {
	c := sch.status.Counts()
	return Stats{
		Workers:   sch.config.Workers,
		Total:     sch.status.Len(),
		Pending:   c[models.SlotPending],
		Running:   c[models.SlotRunning],
		Completed: c[models.SlotCompleted],
		Failed:    c[models.SlotFailed],
		Abandoned: c[models.SlotAbandoned],
		Executed:  sch.executed.Load(),
		Skipped:   sch.skipped.Load(),
	}
}
