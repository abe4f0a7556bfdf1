// Package inspect classifies the on-disk state of every step of a
// pipeline and repairs failed pipelines on operator request.
package inspect

import (
	"fmt"

	"github.com/fentz26/showerflow/internal/fileset"
	"github.com/fentz26/showerflow/internal/ledger"
	"github.com/fentz26/showerflow/internal/models"
	"github.com/fentz26/showerflow/internal/stages"
	"github.com/fentz26/showerflow/internal/step"
)

// StepReport is the classified state of one step.
type StepReport struct {
	Step       string            `json:"step"`
	Kind       string            `json:"kind"`
	Status     models.StepStatus `json:"status"`
	OutputSize int64             `json:"output_size"`
	// SidecarOnly lists input files present only as deletion markers.
	SidecarOnly []string `json:"sidecar_only,omitempty"`
}

// Report is the state of one pipeline.
type Report struct {
	Pipeline string       `json:"pipeline"`
	Failed   bool         `json:"failed"`
	Failure  string       `json:"failure,omitempty"`
	Steps    []StepReport `json:"steps"`
}

// Inspector classifies steps. Results are memoised by step id for the
// lifetime of the inspector, so a shared step is classified once.
type Inspector struct {
	hashes    *fileset.HashStore
	sentinels *ledger.Sentinels
	memo      map[string]models.StepStatus
}

// New returns an inspector reading stored hashes and sentinels.
func New(hashes *fileset.HashStore, sentinels *ledger.Sentinels) *Inspector {
	return &Inspector{hashes: hashes, sentinels: sentinels, memo: map[string]models.StepStatus{}}
}

// Classify derives the status of s from disk:
//
//	PENDING                   input not produced
//	OK                        output produced, stored input hash equals the current one
//	READY                     output not produced, no stored input hash
//	PREV_STEP_RERUN_REQUIRED  otherwise, with not-retained input files already deleted
//	RERUN_REQUIRED            otherwise
func (in *Inspector) Classify(s *step.Step) models.StepStatus {
	if st, ok := in.memo[s.ID()]; ok {
		return st
	}
	st := in.classify(s)
	in.memo[s.ID()] = st
	return st
}

func (in *Inspector) classify(s *step.Step) models.StepStatus {
	s.Input.Refresh()
	if !s.Input.WasProduced() {
		return models.StepStatusPending
	}
	produced := s.Output.WasProduced()
	stored, err := in.hashes.Load(s.Input)
	if err != nil {
		stored = ""
	}
	if produced && stored != "" {
		if cur, err := s.Input.ContentHash(); err == nil && cur == stored {
			return models.StepStatusOK
		}
	}
	if !produced && stored == "" {
		return models.StepStatusReady
	}
	if len(s.Input.SidecarOnly()) > 0 {
		return models.StepStatusPrevStepRerunNeeded
	}
	return models.StepStatusRerunRequired
}

// Forget drops memoised results, for use after the disk state changed.
func (in *Inspector) Forget() {
	in.memo = map[string]models.StepStatus{}
}

// Inspect reports every step of pipeline in graph order.
func (in *Inspector) Inspect(pipeline string, steps []*step.Step) Report {
	r := Report{Pipeline: pipeline, Failed: in.sentinels.Failed(pipeline)}
	if r.Failed {
		r.Failure, _ = in.sentinels.Read(pipeline)
	}
	for _, s := range steps {
		if s.Pipeline != pipeline {
			continue
		}
		r.Steps = append(r.Steps, StepReport{
			Step:        s.Name,
			Kind:        s.Kind(),
			Status:      in.Classify(s),
			OutputSize:  s.Output.Size(),
			SidecarOnly: s.Input.SidecarOnly(),
		})
	}
	return r
}

// FixResult lists what a fix removed.
type FixResult struct {
	Pipeline        string   `json:"pipeline"`
	Removed         []string `json:"removed"`
	ForgottenHashes int      `json:"forgotten_hashes"`
	SentinelCleared bool     `json:"sentinel_cleared"`
}

// Fix forces the next run to regenerate what pipeline needs. For every
// step classified PREV_STEP_RERUN_REQUIRED the outputs of its previous
// steps are deleted together with their sidecars, walking further up while
// those steps' own inputs are also only sidecars. Downstream of a removed
// step, outputs that exist only as sidecars are removed too, so the
// transient chain is regenerated as a whole. The finalize step is reset so
// intermediates are deleted again, and the failure sentinel is cleared.
func (in *Inspector) Fix(pipeline string, steps []*step.Step) (FixResult, error) {
	res := FixResult{Pipeline: pipeline}
	removed := map[string]bool{}
	var walk func(s *step.Step) error
	walk = func(s *step.Step) error {
		for _, p := range s.Previous {
			if removed[p.ID()] {
				continue
			}
			if err := p.Output.Remove(); err != nil {
				return fmt.Errorf("remove output of %s: %w", p.ID(), err)
			}
			removed[p.ID()] = true
			res.Removed = append(res.Removed, p.ID())
			if len(p.Input.SidecarOnly()) > 0 {
				if err := walk(p); err != nil {
					return err
				}
			}
		}
		return nil
	}

	needs := false
	for _, s := range steps {
		if s.Pipeline != pipeline || in.Classify(s) != models.StepStatusPrevStepRerunNeeded {
			continue
		}
		needs = true
		if err := walk(s); err != nil {
			return res, err
		}
	}
	if needs {
		if err := in.removeTransientDependents(pipeline, steps, removed, &res); err != nil {
			return res, err
		}
		for _, s := range steps {
			if s.Pipeline == pipeline && s.Kind() == stages.KindFinalize && !removed[s.ID()] {
				if err := s.Output.Remove(); err != nil {
					return res, err
				}
				res.Removed = append(res.Removed, s.ID())
			}
		}
	}
	if err := in.clearSentinel(pipeline, &res); err != nil {
		return res, err
	}
	in.Forget()
	return res, nil
}

// removeTransientDependents removes, until nothing changes, the
// sidecar-only outputs of steps fed by a removed step. A regenerated
// upstream file may differ from the one a sidecar describes, and a consumer
// that reads the whole transient chain needs every part present again.
func (in *Inspector) removeTransientDependents(pipeline string, steps []*step.Step, removed map[string]bool, res *FixResult) error {
	for changed := true; changed; {
		changed = false
		for _, s := range steps {
			if s.Pipeline != pipeline || removed[s.ID()] || s.Kind() == stages.KindFinalize {
				continue
			}
			if !fedByRemoved(s, removed) || len(s.Output.SidecarOnly()) == 0 {
				continue
			}
			if err := s.Output.Remove(); err != nil {
				return fmt.Errorf("remove output of %s: %w", s.ID(), err)
			}
			removed[s.ID()] = true
			res.Removed = append(res.Removed, s.ID())
			changed = true
		}
	}
	return nil
}

func fedByRemoved(s *step.Step, removed map[string]bool) bool {
	for _, p := range s.Previous {
		if removed[p.ID()] {
			return true
		}
	}
	return false
}

// HardFix deletes every artifact of pipeline except its steering card,
// together with its stored input hashes and failure sentinel.
func (in *Inspector) HardFix(pipeline string, steps []*step.Step) (FixResult, error) {
	res := FixResult{Pipeline: pipeline}
	for _, s := range steps {
		if s.Pipeline != pipeline {
			continue
		}
		if err := s.Output.Remove(); err != nil {
			return res, fmt.Errorf("remove output of %s: %w", s.ID(), err)
		}
		res.Removed = append(res.Removed, s.ID())
		if err := in.hashes.Forget(s.Input); err != nil {
			return res, err
		}
		res.ForgottenHashes++
	}
	if err := in.clearSentinel(pipeline, &res); err != nil {
		return res, err
	}
	in.Forget()
	return res, nil
}

func (in *Inspector) clearSentinel(pipeline string, res *FixResult) error {
	if !in.sentinels.Failed(pipeline) {
		return nil
	}
	if err := in.sentinels.Clear(pipeline); err != nil {
		return err
	}
	res.SentinelCleared = true
	return nil
}
