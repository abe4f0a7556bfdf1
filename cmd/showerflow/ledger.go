package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fentz26/showerflow/internal/ledger"
)

func (c *cli) ledgerCmd() *cobra.Command {
	var runs bool
	cmd := &cobra.Command{
		Use:   "ledger [pipeline]",
		Short: "Show ledger events and per-pipeline progress",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := c.workspace()
			if err != nil {
				return err
			}
			store, err := ledger.OpenExisting(w.layout.Ledger())
			if err != nil {
				return fmt.Errorf("%s: %w", w.layout.Root, err)
			}
			defer store.Close()

			ctx := cmd.Context()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			defer tw.Flush()

			switch {
			case runs:
				records, err := store.Runs(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(tw, "STARTED\tCOMMAND\tPID\tDURATION\tOUTCOME\t")
				for _, r := range records {
					duration, outcome := "-", r.Outcome
					if r.EndedAt != nil {
						duration = r.EndedAt.Sub(r.StartedAt).Round(time.Second).String()
					}
					if outcome == "" {
						outcome = "running or killed"
					}
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t\n", r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Command, r.PID, duration, outcome)
				}

			case len(args) == 1:
				entries, err := store.Entries(ctx, args[0])
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					return fmt.Errorf("no ledger events for %s", args[0])
				}
				fmt.Fprintln(tw, "TIME\tSTEP\tEVENT\tINPUT\tVALUE\t")
				for _, e := range entries {
					value := e.Value
					if i := strings.IndexByte(value, '\n'); i >= 0 {
						value = value[:i]
					}
					hash := e.InputHash
					if len(hash) > 12 {
						hash = hash[:12]
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t\n", e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Step, e.Event, hash, value)
				}

			default:
				var exp map[string][]string
				if ids, err := w.existingCards(); err == nil && len(ids) > 0 {
					exp = expected(w.graph(ids, 1, nil))
				}
				summaries, err := store.Summaries(ctx, w.sentinels, exp)
				if err != nil {
					return err
				}
				fmt.Fprintln(tw, "PIPELINE\tSTATUS\tCOMPLETED\tSKIPPED\tLAST EVENT\tDETAIL\t")
				for _, s := range summaries {
					last := "-"
					if s.LastEvent != nil {
						last = humanize.Time(*s.LastEvent)
					}
					detail := s.Failure
					if detail == "" && len(s.Running) > 0 {
						detail = "running " + strings.Join(s.Running, ", ")
					}
					fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\t\n", s.Pipeline, s.Status, s.Completed, s.Skipped, last, detail)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&runs, "runs", false, "list run invocations instead")
	return cmd
}
