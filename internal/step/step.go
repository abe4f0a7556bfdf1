// Package step implements the unit of work of a pipeline: one external
// routine turning an input FileSet into an output FileSet, skipped when
// its input is unchanged since the last successful run.
package step

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fentz26/showerflow/internal/connectors"
	"github.com/fentz26/showerflow/internal/ctxlog"
	"github.com/fentz26/showerflow/internal/fileset"
	"github.com/fentz26/showerflow/internal/models"
)

// ErrPipelineFailed is returned by a step whose pipeline was marked failed
// while it was waiting. It abandons the step and is not itself a failure.
var ErrPipelineFailed = errors.New("pipeline already failed")

// inputChecks is how many poll intervals a step waits for its input after
// every previous step has finished.
const inputChecks = 3

// Stage is the per-kind behaviour of a step.
type Stage interface {
	// Kind names the stage; steps of the same kind share config checks.
	Kind() string
	// Run produces out from in.
	Run(ctx context.Context, env *Env, in, out *fileset.Set) error
}

// ConfigValidator is implemented by stages with a pre-flight check. It is
// called once per kind before anything is scheduled.
type ConfigValidator interface {
	ValidateConfig() error
}

// Preparer is implemented by stages that clean their output differently
// from the default of removing every output path.
type Preparer interface {
	Prepare(out *fileset.Set) error
}

// Recorder appends ledger events.
type Recorder interface {
	Record(ctx context.Context, e models.LedgerEntry) error
}

// FailureChecker reports whether a pipeline carries a failure sentinel.
type FailureChecker interface {
	Failed(pipeline string) bool
}

// Env is what a step body needs from the run.
type Env struct {
	Exec     connectors.Connector
	Hashes   *fileset.HashStore
	Ledger   Recorder
	Failures FailureChecker
	// Continue enables skipping steps whose input is unchanged.
	Continue     bool
	PollInterval time.Duration
	// Now is the clock used for ledger timestamps.
	Now func() time.Time
}

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Env) failed(pipeline string) bool {
	return e.Failures != nil && e.Failures.Failed(pipeline)
}

func (e *Env) record(ctx context.Context, s *Step, ev models.EventType, hash, value string) {
	if e.Ledger == nil {
		return
	}
	err := e.Ledger.Record(ctx, models.LedgerEntry{
		Timestamp: e.now(),
		Pipeline:  s.Pipeline,
		Step:      s.Name,
		InputHash: hash,
		Event:     ev,
		Value:     value,
	})
	if err != nil {
		ctxlog.FromContext(ctx).Warn("ledger write failed", "step", s.ID(), "error", err)
	}
}

// Step is one node of the pipeline graph.
type Step struct {
	Pipeline string
	Name     string
	Input    *fileset.Set
	Output   *fileset.Set
	// Previous are the steps producing Input. For aggregation steps
	// they only order execution.
	Previous []*Step
	Stage    Stage

	once sync.Once
	done chan struct{}
}

// New returns a step of pipeline running stage.
func New(pipeline, name string, stage Stage, in, out *fileset.Set, previous ...*Step) *Step {
	return &Step{
		Pipeline: pipeline,
		Name:     name,
		Input:    in,
		Output:   out,
		Previous: previous,
		Stage:    stage,
		done:     make(chan struct{}),
	}
}

// ID is unique across the graph.
func (s *Step) ID() string { return s.Pipeline + "/" + s.Name }

// Kind returns the stage kind.
func (s *Step) Kind() string { return s.Stage.Kind() }

func (s *Step) String() string { return s.ID() }

// Done is closed once the step has finished in this process, whatever the
// outcome.
func (s *Step) Done() <-chan struct{} { return s.done }

// Finish closes Done. It is safe to call more than once.
func (s *Step) Finish() { s.once.Do(func() { close(s.done) }) }

// Run executes the step body synchronously and reports whether it was
// skipped or completed. Errors propagate to the caller; the step does not
// retry.
func (s *Step) Run(ctx context.Context, env *Env, force bool) (models.EventType, error) {
	logger := ctxlog.FromContext(ctx).With("pipeline", s.Pipeline, "step", s.Name)
	ctx = ctxlog.WithLogger(ctx, logger)

	if err := s.waitPrevious(ctx, env); err != nil {
		return "", err
	}
	s.Input.Refresh()

	if !force && env.Continue && env.Hashes.Matches(s.Input) && s.Output.WasProduced() {
		hash, _ := s.Input.ContentHash()
		logger.Info("skipped, input unchanged")
		env.record(ctx, s, models.EventSkipped, hash, "")
		return models.EventSkipped, nil
	}

	if err := s.waitInput(ctx, env); err != nil {
		return "", err
	}
	if err := s.Input.AssertReady(); err != nil {
		return "", fmt.Errorf("input of %s not ready: %w", s.ID(), err)
	}
	hash, err := s.Input.ContentHash()
	if err != nil {
		return "", err
	}

	if p, ok := s.Stage.(Preparer); ok {
		err = p.Prepare(s.Output)
	} else {
		err = s.Output.Remove()
	}
	if err != nil {
		return "", fmt.Errorf("prepare output of %s: %w", s.ID(), err)
	}

	env.record(ctx, s, models.EventStarted, hash, "")
	logger.Info("started")
	if err := s.Stage.Run(ctx, env, s.Input, s.Output); err != nil {
		return "", err
	}
	s.Output.Refresh()
	if err := s.Output.AssertReady(); err != nil {
		return "", err
	}
	if err := env.Hashes.Save(s.Input); err != nil {
		return "", fmt.Errorf("store input hash of %s: %w", s.ID(), err)
	}
	size := s.Output.Size()
	env.record(ctx, s, models.EventCompleted, hash, fmt.Sprint(size))
	logger.Info("completed", "output_bytes", size)
	return models.EventCompleted, nil
}

// waitPrevious blocks until every previous step has finished, waking each
// poll interval to log and to look for the failure sentinel.
func (s *Step) waitPrevious(ctx context.Context, env *Env) error {
	if len(s.Previous) == 0 {
		return nil
	}
	ticker := time.NewTicker(pollInterval(env))
	defer ticker.Stop()
	logger := ctxlog.FromContext(ctx)
	for _, p := range s.Previous {
	wait:
		for {
			select {
			case <-p.Done():
				break wait
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if env.failed(s.Pipeline) {
					return ErrPipelineFailed
				}
				logger.Debug("waiting for previous step", "previous", p.ID())
			}
		}
	}
	if env.failed(s.Pipeline) {
		return ErrPipelineFailed
	}
	return nil
}

// waitInput gives an input produced outside this process a few poll
// intervals to appear.
func (s *Step) waitInput(ctx context.Context, env *Env) error {
	for i := 0; i < inputChecks && !s.Input.WasProduced(); i++ {
		ctxlog.FromContext(ctx).Debug("waiting for input", "input", s.Input.String())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval(env)):
		}
		if env.failed(s.Pipeline) {
			return ErrPipelineFailed
		}
		s.Input.Refresh()
	}
	return nil
}

func pollInterval(env *Env) time.Duration {
	if env.PollInterval > 0 {
		return env.PollInterval
	}
	return 30 * time.Second
}
