package ledger

import (
	"context"
	"sort"
	"strings"

	"github.com/fentz26/showerflow/internal/models"
)

// Summarize reconstructs the state of one pipeline from its events.
// expected lists the steps the pipeline consists of; when nil only the
// steps seen in the ledger are considered. failure is the sentinel text,
// empty when the pipeline has none.
func Summarize(pipeline string, entries []models.LedgerEntry, expected []string, failed bool, failure string) models.PipelineSummary {
	sum := models.PipelineSummary{Pipeline: pipeline}
	last := map[string]models.EventType{}
	var order []string
	for _, e := range entries {
		if e.Pipeline != pipeline {
			continue
		}
		if _, ok := last[e.Step]; !ok {
			order = append(order, e.Step)
		}
		last[e.Step] = e.Event
		ts := e.Timestamp
		sum.LastEvent = &ts
	}
	done := 0
	for _, name := range order {
		switch last[name] {
		case models.EventCompleted:
			sum.Completed++
			done++
		case models.EventSkipped:
			sum.Skipped++
			done++
		case models.EventStarted:
			sum.Running = append(sum.Running, name)
		}
	}
	if expected != nil {
		done = 0
		for _, name := range expected {
			if ev := last[name]; ev == models.EventCompleted || ev == models.EventSkipped {
				done++
			}
		}
	}

	want := len(order)
	if expected != nil {
		want = len(expected)
	}
	switch {
	case failed:
		sum.Status = models.PipelineStatusFailed
		sum.Failure = firstLine(failure)
	case len(order) == 0:
		sum.Status = models.PipelineStatusPending
	case done == want && len(sum.Running) == 0:
		sum.Status = models.PipelineStatusCompleted
	default:
		sum.Status = models.PipelineStatusRunning
	}
	return sum
}

// Summaries summarizes every pipeline with events or a sentinel. expected
// maps pipeline ids to their step names and may be nil.
func (s *Store) Summaries(ctx context.Context, sentinels *Sentinels, expected map[string][]string) ([]models.PipelineSummary, error) {
	entries, err := s.Entries(ctx, "")
	if err != nil {
		return nil, err
	}
	byPipeline := map[string][]models.LedgerEntry{}
	for _, e := range entries {
		byPipeline[e.Pipeline] = append(byPipeline[e.Pipeline], e)
	}
	ids := map[string]bool{}
	for p := range byPipeline {
		ids[p] = true
	}
	for p := range expected {
		ids[p] = true
	}
	failed, err := sentinels.List()
	if err != nil {
		return nil, err
	}
	isFailed := map[string]bool{}
	for _, p := range failed {
		ids[p] = true
		isFailed[p] = true
	}

	sorted := make([]string, 0, len(ids))
	for p := range ids {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	out := make([]models.PipelineSummary, 0, len(sorted))
	for _, p := range sorted {
		text := ""
		if isFailed[p] {
			text, _ = sentinels.Read(p)
		}
		var exp []string
		if expected != nil {
			exp = expected[p]
		}
		out = append(out, Summarize(p, byPipeline[p], exp, isFailed[p], text))
	}
	return out, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
