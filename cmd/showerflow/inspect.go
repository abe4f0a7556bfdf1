package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fentz26/showerflow/internal/inspect"
	"github.com/fentz26/showerflow/internal/models"
)

func (c *cli) inspectCmd() *cobra.Command {
	var (
		asJSON     bool
		failedOnly bool
	)
	cmd := &cobra.Command{
		Use:   "inspect [pipeline...]",
		Short: "Show the on-disk state of every step",
		Long: `Classifies every step of the given pipelines (all when none is given)
from the files on disk and the stored input hashes:

  PENDING                   input not produced yet
  READY                     input produced, step never ran
  OK                        output produced from the current input
  RERUN_REQUIRED            input changed or output incomplete
  PREV_STEP_RERUN_REQUIRED  like RERUN_REQUIRED, but deleted intermediates
                            must be regenerated first; see fix`,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := c.workspace()
			if err != nil {
				return err
			}
			ids, err := w.existingCards()
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no steering cards in %s\n", w.layout.Root)
				return nil
			}
			g := w.graph(ids, 1, args)
			in := inspect.New(w.hashes, w.sentinels)

			var reports []inspect.Report
			for _, p := range g.SortedPipelines() {
				r := in.Inspect(p, g.Steps)
				if failedOnly && !r.Failed {
					continue
				}
				reports = append(reports, r)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(reports)
			}
			for _, r := range reports {
				printReport(cmd, r)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the reports as JSON")
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "only show pipelines with a failure sentinel")
	return cmd
}

func printReport(cmd *cobra.Command, r inspect.Report) {
	out := cmd.OutOrStdout()
	header := r.Pipeline
	if r.Failed {
		header += "  FAILED: " + strings.TrimSpace(r.Failure)
	}
	fmt.Fprintln(out, header)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  STEP\tSTATUS\tOUTPUT\t")
	for _, s := range r.Steps {
		size := "-"
		if s.OutputSize > 0 {
			size = humanize.Bytes(uint64(s.OutputSize))
		}
		status := string(s.Status)
		if s.Status == models.StepStatusPrevStepRerunNeeded && len(s.SidecarOnly) > 0 {
			status += fmt.Sprintf(" (%d deleted inputs)", len(s.SidecarOnly))
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t\n", s.Step, status, size)
	}
	tw.Flush()
	fmt.Fprintln(out)
}

func (c *cli) fixCmd() *cobra.Command {
	var hard bool
	cmd := &cobra.Command{
		Use:   "fix [pipeline...]",
		Short: "Prepare failed pipelines to run again",
		Long: `Fixes the given pipelines, or every pipeline with a failure sentinel when
none is given, so that the next continue regenerates what they need.

The default fix removes the outputs of the steps that feed a step whose
intermediate inputs were already deleted, and clears the failure sentinel.
With --hard every output of the pipeline except its steering card is
removed together with its stored input hashes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := c.workspace()
			if err != nil {
				return err
			}
			targets := args
			if len(targets) == 0 {
				if targets, err = w.sentinels.List(); err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()
			if len(targets) == 0 {
				fmt.Fprintln(out, "no failed pipelines")
				return nil
			}
			ids, err := w.existingCards()
			if err != nil {
				return err
			}
			g := w.graph(ids, 1, targets)
			in := inspect.New(w.hashes, w.sentinels)

			for _, p := range targets {
				var res inspect.FixResult
				if hard {
					res, err = in.HardFix(p, g.Steps)
				} else {
					res, err = in.Fix(p, g.Steps)
				}
				if err != nil {
					return fmt.Errorf("fix %s: %w", p, err)
				}
				msg := fmt.Sprintf("%s: removed %d step outputs", p, len(res.Removed))
				if res.ForgottenHashes > 0 {
					msg += fmt.Sprintf(", forgot %d input hashes", res.ForgottenHashes)
				}
				if res.SentinelCleared {
					msg += ", failure cleared"
				}
				fmt.Fprintln(out, msg)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&hard, "hard", false, "remove every artifact except the steering card")
	return cmd
}
