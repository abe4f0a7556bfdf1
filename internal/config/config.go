// Package config loads and validates the run document consumed by the
// pipeline core.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"runtime"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/fentz26/showerflow/internal/fileset"
	"github.com/fentz26/showerflow/internal/layout"
)

// Config is the run document. All sections are optional in the YAML file;
// missing values keep the defaults from Default.
type Config struct {
	RunDir      string      `yaml:"run_dir" validate:"required"`
	Resources   Resources   `yaml:"resources"`
	Parallelism Parallelism `yaml:"parallelism"`
	Debug       Debug       `yaml:"debug"`
	Executables Executables `yaml:"executables"`
	Corsika     Corsika     `yaml:"corsika"`
	Cards       Cards       `yaml:"cards"`
	Throwing    Throwing    `yaml:"throwing"`
	Spectral    Spectral    `yaml:"spectral"`
	Dump        Dump        `yaml:"dump"`
	Tuning      Tuning      `yaml:"tuning"`
}

// Resources caps the worker pool.
type Resources struct {
	// MaxProcesses is the explicit process cap. Zero means unset.
	MaxProcesses int `yaml:"max_processes" validate:"gte=0"`
	// MemoryBudgetMB is the total memory available to external routines.
	MemoryBudgetMB int `yaml:"memory_budget_mb" validate:"gte=0"`
	// MemoryPerProcessMB is the expected peak of one external routine.
	MemoryPerProcessMB int `yaml:"memory_per_process_mb" validate:"gte=0"`
}

// Parallelism holds per-stage fan-out factors.
type Parallelism struct {
	// SplitParts is the number of parallel dethinning parts per shower.
	SplitParts int `yaml:"split_parts" validate:"gte=1,lte=99"`
}

// Debug toggles operator debugging aids.
type Debug struct {
	VerboseCommands bool `yaml:"verbose_commands"`
	// Pipelines restricts the run to these pipeline ids when non-empty.
	Pipelines []string `yaml:"pipelines" validate:"dive,required"`
}

// Executables are the paths of the external physics routines.
type Executables struct {
	Corsika        string `yaml:"corsika"`
	Splitter       string `yaml:"splitter"`
	Dethinning     string `yaml:"dethinning"`
	Corsika2Geant  string `yaml:"corsika2geant"`
	Throwing       string `yaml:"throwing"`
	Resample       string `yaml:"resample"`
	Reconstruction string `yaml:"reconstruction"`
	Dump           string `yaml:"dump"`
}

// All returns every configured executable path.
func (e Executables) All() []string {
	var out []string
	for _, p := range []string{e.Corsika, e.Splitter, e.Dethinning, e.Corsika2Geant, e.Throwing, e.Resample, e.Reconstruction, e.Dump} {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Corsika holds shower generator pre-flight requirements.
type Corsika struct {
	// RequiredOptions must all appear in the executable name, which encodes
	// the compile-time physics options.
	RequiredOptions []string `yaml:"required_options"`
}

// Cards describes the generated steering cards.
type Cards struct {
	Count          int     `yaml:"count" validate:"gte=1"`
	FirstRun       int     `yaml:"first_run" validate:"gte=0,lte=999999"`
	Primary        string  `yaml:"primary" validate:"oneof=gamma proton helium nitrogen iron"`
	Log10EnergyMin float64 `yaml:"log10_energy_min" validate:"gte=9,lte=22"`
	Log10EnergyMax float64 `yaml:"log10_energy_max" validate:"gte=9,lte=22"`
	ZenithMaxDeg   float64 `yaml:"zenith_max_deg" validate:"gte=0,lte=90"`
	Seed           int64   `yaml:"seed"`
}

// Throwing configures event throwing.
type Throwing struct {
	Epochs     []string `yaml:"epochs" validate:"min=1,unique,dive,required"`
	BaseThrows int      `yaml:"base_throws" validate:"gte=1"`
}

// Spectral configures spectral resampling.
type Spectral struct {
	Thresholds []float64 `yaml:"thresholds" validate:"min=1,unique"`
}

// Dump toggles the per-pipeline dump and the cross-pipeline aggregation.
type Dump struct {
	Enabled bool `yaml:"enabled"`
}

// Tuning holds operational constants.
type Tuning struct {
	// HashSampleThreshold is the size above which files are sparsely sampled.
	HashSampleThreshold int64 `yaml:"hash_sample_threshold" validate:"gt=0"`
	// HashSampleBlocks is the number of blocks read from a sampled file.
	HashSampleBlocks int `yaml:"hash_sample_blocks" validate:"gte=2"`
	// HashBlockSize is the size of one sampled block.
	HashBlockSize int64 `yaml:"hash_block_size" validate:"gt=0"`
	// PollInterval is how often a waiting step wakes up.
	PollInterval time.Duration `yaml:"poll_interval" validate:"gt=0"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Parallelism: Parallelism{SplitParts: 4},
		Corsika:     Corsika{RequiredOptions: []string{"thin"}},
		Cards: Cards{
			Count:          1,
			FirstRun:       1,
			Primary:        "proton",
			Log10EnergyMin: 18.5,
			Log10EnergyMax: 20.0,
			ZenithMaxDeg:   60,
			Seed:           1,
		},
		Throwing: Throwing{Epochs: []string{"2008-2011"}, BaseThrows: 100},
		Spectral: Spectral{Thresholds: []float64{18.5, 19.0}},
		Dump:     Dump{Enabled: true},
		Tuning: Tuning{
			HashSampleThreshold: 64 << 20,
			HashSampleBlocks:    16,
			HashBlockSize:       64 << 10,
			PollInterval:        30 * time.Second,
		},
	}
}

// Load reads a YAML run document over the defaults and validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML run document over the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var (
	validate    = validator.New()
	epochNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
)

// Validate checks struct constraints and cross-field rules. The first
// violation is returned as a *BadConfigValue.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &BadConfigValue{Key: fe.Namespace(), Value: fe.Value(), Reason: "failed '" + fe.Tag() + "' check"}
		}
		return err
	}
	if c.Cards.Log10EnergyMin > c.Cards.Log10EnergyMax {
		return &BadConfigValue{Key: "cards.log10_energy_min", Value: c.Cards.Log10EnergyMin, Reason: "greater than log10_energy_max"}
	}
	if !sort.Float64sAreSorted(c.Spectral.Thresholds) {
		return &BadConfigValue{Key: "spectral.thresholds", Value: c.Spectral.Thresholds, Reason: "must be ascending"}
	}
	for _, e := range c.Throwing.Epochs {
		if !epochNameRe.MatchString(e) {
			return &BadConfigValue{Key: "throwing.epochs", Value: e, Reason: "not usable in a file name"}
		}
	}
	if c.Tuning.HashSampleThreshold < c.Tuning.HashBlockSize*int64(c.Tuning.HashSampleBlocks) {
		return &BadConfigValue{Key: "tuning.hash_sample_threshold", Value: c.Tuning.HashSampleThreshold, Reason: "smaller than the sampled bytes"}
	}
	return nil
}

// Layout returns the run directory layout.
func (c *Config) Layout() (layout.Layout, error) {
	return layout.New(c.RunDir)
}

// ProcessCount is the worker pool size for this host.
func (c *Config) ProcessCount() int {
	return c.Resources.ProcessCount(runtime.NumCPU())
}

// ProcessCount returns min(process cap, memory budget / per-process memory,
// cpus) over the configured caps, or 1 when none is configured.
func (r Resources) ProcessCount(cpus int) int {
	n := 0
	consider := func(v int) {
		if v > 0 && (n == 0 || v < n) {
			n = v
		}
	}
	consider(r.MaxProcesses)
	if r.MemoryBudgetMB > 0 && r.MemoryPerProcessMB > 0 {
		consider(max(1, r.MemoryBudgetMB/r.MemoryPerProcessMB))
	}
	if n == 0 {
		return 1
	}
	consider(cpus)
	return n
}

// WantsPipeline reports whether the debug allow-list admits id.
func (d Debug) WantsPipeline(id string) bool {
	if len(d.Pipelines) == 0 {
		return true
	}
	for _, p := range d.Pipelines {
		if p == id {
			return true
		}
	}
	return false
}

// Hasher returns the content hasher for the tuning constants.
func (t Tuning) Hasher() *fileset.Hasher {
	return &fileset.Hasher{Threshold: t.HashSampleThreshold, Blocks: t.HashSampleBlocks, BlockSize: t.HashBlockSize}
}
