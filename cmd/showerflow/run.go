package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/oklog/run"
	"github.com/spf13/cobra"

	"github.com/fentz26/showerflow/internal/connectors/localexec"
	"github.com/fentz26/showerflow/internal/controlplane"
	"github.com/fentz26/showerflow/internal/ctxlog"
	"github.com/fentz26/showerflow/internal/layout"
	"github.com/fentz26/showerflow/internal/ledger"
	"github.com/fentz26/showerflow/internal/metrics"
	"github.com/fentz26/showerflow/internal/models"
	"github.com/fentz26/showerflow/internal/scheduler"
	"github.com/fentz26/showerflow/internal/step"
	"github.com/fentz26/showerflow/internal/tui"
)

type runFlags struct {
	workers   int
	listen    string
	progress  bool
	noMonitor bool
	pipelines []string
}

func (c *cli) runCmd(continueMode bool) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a fresh run",
		Long: `Generates the steering cards and runs every pipeline. The run directory
must not hold state from an earlier run; use continue to resume one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.execute(cmd, f, continueMode)
		},
	}
	if continueMode {
		cmd.Use = "continue"
		cmd.Short = "Resume a run, skipping steps whose inputs are unchanged"
		cmd.Long = `Resumes the run in the run directory. Steps whose input hash matches
the stored one and whose outputs exist are skipped; everything else runs
again. Failed pipelines stay failed until fixed.`
	}
	cmd.Flags().IntVar(&f.workers, "workers", 0, "worker pool size (default from resources)")
	cmd.Flags().StringVar(&f.listen, "listen", "", "serve the status API on this address")
	cmd.Flags().BoolVar(&f.progress, "progress", false, "show the progress view; logs go to the run log file")
	cmd.Flags().BoolVar(&f.noMonitor, "no-monitor", false, "do not start the resources monitor")
	cmd.Flags().StringSliceVar(&f.pipelines, "pipeline", nil, "only run these pipelines")
	return cmd
}

func (c *cli) execute(cmd *cobra.Command, f *runFlags, continueMode bool) error {
	ctx := cmd.Context()
	w, err := c.workspace()
	if err != nil {
		return err
	}
	if !continueMode && w.layout.Initialised() {
		return fmt.Errorf("%s: %w", w.layout.Root, layout.ErrRunExists)
	}
	if err := w.layout.Ensure(); err != nil {
		return err
	}
	ids, err := w.generateCards()
	if err != nil {
		return err
	}

	schedCfg := scheduler.FromRun(w.cfg, continueMode)
	if f.workers > 0 {
		schedCfg.Workers = f.workers
	}
	g := w.graph(ids, schedCfg.Workers, f.pipelines)

	if f.progress {
		logFile, err := os.OpenFile(w.layout.Log(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer logFile.Close()
		ctx = ctxlog.WithLogger(ctx, ctxlog.New(logFile, c.logLevel, c.logFormat))
	}
	logger := ctxlog.FromContext(ctx)

	store, err := ledger.Open(w.layout.Ledger())
	if err != nil {
		return err
	}
	defer store.Close()
	record, err := store.BeginRun(ctx, cmd.Name(), os.Args[1:])
	if err != nil {
		return err
	}

	m := metrics.New()
	env := &step.Env{
		Exec:   localexec.New(w.cfg.Executables.All(), localexec.WithVerbose(w.cfg.Debug.VerboseCommands)),
		Hashes: w.hashes,
		Ledger: ledger.NewRecorder(store, ledger.SinkFunc(logEvent)),
	}
	sch := scheduler.New(g.Steps, env, w.sentinels, m, schedCfg)

	if !f.noMonitor {
		if err := startMonitor(w.layout); err != nil {
			logger.Warn("resources monitor not started", "error", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		stats  scheduler.Stats
		runErr error
		view   *tea.Program
		group  run.Group
	)
	if f.progress {
		view = tui.New(sch, cmd.Name(), cancel).Program()
	}

	group.Add(func() error {
		stats, runErr = sch.Run(runCtx)
		if view != nil {
			view.Send(tui.DoneMsg{Stats: stats, Err: runErr})
		}
		return runErr
	}, func(error) {
		cancel()
	})

	group.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	if f.listen != "" {
		service := controlplane.NewService(store, w.sentinels, sch, expected(g))
		srv := controlplane.NewServer(service, f.listen, version, m.Handler())
		group.Add(func() error {
			return srv.Start(ctx)
		}, func(error) {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			srv.Shutdown(shutdownCtx)
		})
	}

	if view != nil {
		group.Add(func() error {
			_, err := view.Run()
			return err
		}, func(error) {
			view.Quit()
		})
	}

	groupErr := group.Run()

	failed, _ := w.sentinels.List()
	outcome := "completed"
	var sig run.SignalError
	switch {
	case runErr != nil && !errors.Is(runErr, context.Canceled):
		outcome = "error: " + runErr.Error()
	case errors.As(groupErr, &sig), errors.Is(runErr, context.Canceled):
		outcome = "interrupted"
	case len(failed) > 0:
		outcome = fmt.Sprintf("%d pipelines failed", len(failed))
	}
	if err := store.EndRun(context.Background(), record.ID, outcome); err != nil {
		logger.Warn("run record not closed", "error", err)
	}

	printStats(cmd, stats)
	switch {
	case runErr != nil && !errors.Is(runErr, context.Canceled):
		return runErr
	case outcome == "interrupted":
		return errors.New("run interrupted; resume with continue")
	case groupErr != nil && !errors.As(groupErr, &sig) && !errors.Is(groupErr, context.Canceled):
		return groupErr
	case len(failed) > 0:
		for _, p := range failed {
			text, _ := w.sentinels.Read(p)
			fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s\n", p, text)
		}
		return fmt.Errorf("%d pipelines failed; see inspect and fix", len(failed))
	}
	return nil
}

func printStats(cmd *cobra.Command, s scheduler.Stats) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s steps on %d workers: %s executed, %s skipped, %d failed, %d abandoned, %d not run\n",
		humanize.Comma(int64(s.Total)), s.Workers,
		humanize.Comma(s.Executed), humanize.Comma(s.Skipped),
		s.Failed, s.Abandoned, s.Pending+s.Running)
}

func logEvent(ctx context.Context, e models.LedgerEntry) error {
	ctxlog.FromContext(ctx).Debug("ledger event", "pipeline", e.Pipeline, "step", e.Step, "event", e.Event, "value", e.Value)
	return nil
}

func (c *cli) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the run document and executables without running anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := c.workspace()
			if err != nil {
				return err
			}
			plan, err := w.plannedCards()
			if err != nil {
				return err
			}
			schedCfg := scheduler.FromRun(w.cfg, false)
			g := w.graph(plan, schedCfg.Workers, nil)
			env := &step.Env{Exec: localexec.New(w.cfg.Executables.All())}
			if err := scheduler.New(g.Kinds(), env, w.sentinels, nil, schedCfg).Validate(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration OK: %d pipelines, %s steps, %d workers\n",
				len(g.Pipelines), humanize.Comma(int64(len(g.Steps))), schedCfg.Workers)
			return nil
		},
	}
}
