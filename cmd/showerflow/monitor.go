package main

import (
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/showerflow/internal/layout"
	"github.com/fentz26/showerflow/internal/monitor"
)

func (c *cli) monitorCmd() *cobra.Command {
	var (
		pid      int
		out      string
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:    "monitor",
		Short:  "Sample resource usage of a running showerflow process",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			s, err := monitor.New(pid, out, interval)
			if err != nil {
				return err
			}
			return s.Run(ctx)
		},
	}
	cmd.Flags().IntVar(&pid, "pid", 0, "process to watch")
	cmd.Flags().StringVar(&out, "out", layout.ResourcesFile, "CSV file to append samples to")
	cmd.Flags().DurationVar(&interval, "interval", monitor.DefaultInterval, "sampling interval")
	cmd.MarkFlagRequired("pid")
	return cmd
}

// startMonitor forks "showerflow monitor" for this process in its own
// session, so it outlives a lost controlling terminal.
func startMonitor(l layout.Layout) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	cmd := exec.Command(exe, "monitor", "--pid", strconv.Itoa(os.Getpid()), "--out", l.Resources())
	configureMonitorProc(cmd)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return err
	}
	go cmd.Wait()
	return nil
}

