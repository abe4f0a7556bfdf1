// Package controlplane serves the live state of a run over HTTP: the
// scheduler progress, the ledger-derived pipeline summaries and the
// Prometheus metrics.
package controlplane

import (
	"context"
	"fmt"

	"github.com/fentz26/showerflow/internal/ledger"
	"github.com/fentz26/showerflow/internal/models"
	"github.com/fentz26/showerflow/internal/scheduler"
)

// Progress reports scheduler counters. *scheduler.Scheduler implements it.
type Progress interface {
	Stats() scheduler.Stats
}

// Service answers status queries against the ledger of one run directory.
type Service struct {
	ledger    *ledger.Store
	sentinels *ledger.Sentinels
	progress  Progress
	expected  map[string][]string
}

// NewService creates a status service. progress may be nil when no run is
// active; expected maps pipeline ids to the step names of the graph.
func NewService(st *ledger.Store, sentinels *ledger.Sentinels, progress Progress, expected map[string][]string) *Service {
	return &Service{
		ledger:    st,
		sentinels: sentinels,
		progress:  progress,
		expected:  expected,
	}
}

// Ping checks the ledger database.
func (s *Service) Ping(ctx context.Context) error {
	return s.ledger.Ping(ctx)
}

// Stats returns the scheduler counters.
func (s *Service) Stats() (scheduler.Stats, error) {
	if s.progress == nil {
		return scheduler.Stats{}, ErrNoProgress
	}
	return s.progress.Stats(), nil
}

// Pipelines summarizes every known pipeline, optionally filtered by status.
func (s *Service) Pipelines(ctx context.Context, status string) ([]models.PipelineSummary, error) {
	all, err := s.ledger.Summaries(ctx, s.sentinels, s.expected)
	if err != nil {
		return nil, err
	}
	if status == "" {
		return all, nil
	}
	out := all[:0]
	for _, p := range all {
		if string(p.Status) == status {
			out = append(out, p)
		}
	}
	return out, nil
}

// PipelineDetail is the summary of one pipeline plus its ledger history.
type PipelineDetail struct {
	models.PipelineSummary
	Entries []models.LedgerEntry `json:"entries"`
}

// Pipeline returns the summary and ledger entries of one pipeline.
func (s *Service) Pipeline(ctx context.Context, id string) (*PipelineDetail, error) {
	entries, err := s.ledger.Entries(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	_, known := s.expected[id]
	failed := s.sentinels.Failed(id)
	if len(entries) == 0 && !known && !failed {
		return nil, ErrPipelineNotFound
	}
	text := ""
	if failed {
		text, _ = s.sentinels.Read(id)
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	return &PipelineDetail{
		PipelineSummary: ledger.Summarize(id, entries, s.expected[id], failed, text),
		Entries:         entries,
	}, nil
}

// Runs lists the recorded invocations, newest first.
func (s *Service) Runs(ctx context.Context) ([]models.RunRecord, error) {
	return s.ledger.Runs(ctx)
}
