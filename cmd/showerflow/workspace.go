package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/fentz26/showerflow/internal/cards"
	"github.com/fentz26/showerflow/internal/config"
	"github.com/fentz26/showerflow/internal/fileset"
	"github.com/fentz26/showerflow/internal/layout"
	"github.com/fentz26/showerflow/internal/ledger"
	"github.com/fentz26/showerflow/internal/pipeline"
	"github.com/fentz26/showerflow/internal/stages"
)

// workspace is the loaded run document and the on-disk state of its run
// directory.
type workspace struct {
	cfg       *config.Config
	layout    layout.Layout
	factory   *stages.Factory
	hashes    *fileset.HashStore
	sentinels *ledger.Sentinels
}

func (c *cli) workspace() (*workspace, error) {
	if c.configPath == "" {
		return nil, errors.New("no run document: pass --config or set " + envConfig)
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	if c.runDir != "" {
		cfg.RunDir = c.runDir
	}
	lay, err := cfg.Layout()
	if err != nil {
		return nil, err
	}
	return &workspace{
		cfg:       cfg,
		layout:    lay,
		factory:   stages.NewFactory(cfg, lay),
		hashes:    fileset.NewHashStore(lay.Dir(layout.InputHashes)),
		sentinels: ledger.NewSentinels(lay.Dir(layout.PipelinesFailed)),
	}, nil
}

// generateCards writes any missing steering card and returns the pipeline
// ids of the run.
func (w *workspace) generateCards() ([]string, error) {
	paths, err := cards.Generate(w.cfg.Cards, w.layout.Dir(layout.CorsikaInput))
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(paths))
	for i, p := range paths {
		ids[i] = cards.PipelineID(p)
	}
	return ids, nil
}

// plannedCards returns the pipeline ids the run document describes
// without writing anything.
func (w *workspace) plannedCards() ([]string, error) {
	planned, err := cards.Plan(w.cfg.Cards)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(planned))
	for i, c := range planned {
		ids[i] = c.Name()
	}
	return ids, nil
}

// existingCards returns the pipeline ids of the cards already on disk.
func (w *workspace) existingCards() ([]string, error) {
	entries, err := os.ReadDir(w.layout.Dir(layout.CorsikaInput))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), cards.Extension) {
			ids = append(ids, cards.PipelineID(e.Name()))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// graph builds the step graph for the ids admitted by the debug
// allow-list. only further narrows it to some pipelines.
func (w *workspace) graph(ids []string, batch int, only []string) *pipeline.Graph {
	var admitted []string
	for _, id := range ids {
		if w.cfg.Debug.WantsPipeline(id) {
			admitted = append(admitted, id)
		}
	}
	return pipeline.Build(w.factory, admitted, pipeline.Options{BatchSize: batch, Only: only})
}

// expected maps every pipeline of g to its step names.
func expected(g *pipeline.Graph) map[string][]string {
	out := map[string][]string{}
	for _, s := range g.Steps {
		out[s.Pipeline] = append(out[s.Pipeline], s.Name)
	}
	return out
}
