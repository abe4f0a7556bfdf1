package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeepsDefaults(t *testing.T) {
	cfg, err := Parse([]byte("run_dir: /data/run1\n"))
	require.NoError(t, err)

	want := Default()
	want.RunDir = "/data/run1"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestParseOverrides(t *testing.T) {
	doc := `
run_dir: run
resources:
  max_processes: 6
parallelism:
  split_parts: 8
throwing:
  epochs: [2008-2011, 2011-2014]
spectral:
  thresholds: [18.0, 19.5]
dump:
  enabled: false
tuning:
  poll_interval: 5s
`
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Resources.MaxProcesses)
	assert.Equal(t, 8, cfg.Parallelism.SplitParts)
	assert.Equal(t, []string{"2008-2011", "2011-2014"}, cfg.Throwing.Epochs)
	assert.Equal(t, []float64{18.0, 19.5}, cfg.Spectral.Thresholds)
	assert.False(t, cfg.Dump.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Tuning.PollInterval)
	// untouched sections keep their defaults
	assert.Equal(t, 100, cfg.Throwing.BaseThrows)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("run_dir: run\nworkers: 4\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		key  string
	}{
		{"missing run dir", "cards: {count: 1}\n", "Config.RunDir"},
		{"no split parts", "run_dir: r\nparallelism: {split_parts: 0}\n", "Config.Parallelism.SplitParts"},
		{"unknown primary", "run_dir: r\ncards: {primary: carbon}\n", "Config.Cards.Primary"},
		{"energy range", "run_dir: r\ncards: {log10_energy_min: 20, log10_energy_max: 19}\n", "cards.log10_energy_min"},
		{"unsorted thresholds", "run_dir: r\nspectral: {thresholds: [19, 18.5]}\n", "spectral.thresholds"},
		{"duplicate epochs", "run_dir: r\nthrowing: {epochs: [a, a]}\n", "Config.Throwing.Epochs"},
		{"epoch path", "run_dir: r\nthrowing: {epochs: [a/b]}\n", "throwing.epochs"},
		{"sample threshold", "run_dir: r\ntuning: {hash_sample_threshold: 1024}\n", "tuning.hash_sample_threshold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			var bad *BadConfigValue
			require.True(t, errors.As(err, &bad), "got %v", err)
			assert.Equal(t, tt.key, bad.Key)
		})
	}
}

func TestLoad(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("run_dir: /tmp/r\n"), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/r", cfg.RunDir)
}

func TestProcessCount(t *testing.T) {
	tests := []struct {
		name string
		r    Resources
		cpus int
		want int
	}{
		{"nothing configured", Resources{}, 16, 1},
		{"process cap", Resources{MaxProcesses: 8}, 16, 8},
		{"cpu bound", Resources{MaxProcesses: 8}, 4, 4},
		{"memory bound", Resources{MaxProcesses: 8, MemoryBudgetMB: 12000, MemoryPerProcessMB: 4000}, 16, 3},
		{"memory only", Resources{MemoryBudgetMB: 64000, MemoryPerProcessMB: 2000}, 12, 12},
		{"budget below one process", Resources{MemoryBudgetMB: 1000, MemoryPerProcessMB: 4000}, 8, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.r.ProcessCount(tt.cpus))
		})
	}
}

func TestWantsPipeline(t *testing.T) {
	assert.True(t, Debug{}.WantsPipeline("DAT000001"))
	d := Debug{Pipelines: []string{"DAT000002"}}
	assert.True(t, d.WantsPipeline("DAT000002"))
	assert.False(t, d.WantsPipeline("DAT000001"))
}

func TestExecutablesAll(t *testing.T) {
	e := Executables{Corsika: "/bin/corsika", Dump: "/bin/dump"}
	assert.Equal(t, []string{"/bin/corsika", "/bin/dump"}, e.All())
}

func TestTuningHasher(t *testing.T) {
	h := Default().Tuning.Hasher()
	assert.Equal(t, int64(64<<20), h.Threshold)
	assert.Equal(t, 16, h.Blocks)
}
