// Package stagestest provides a run configuration with stub executables
// and a simulator that behaves like the physics routines on disk.
package stagestest

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fentz26/showerflow/internal/cards"
	"github.com/fentz26/showerflow/internal/config"
	"github.com/fentz26/showerflow/internal/connectors"
	"github.com/fentz26/showerflow/internal/connectors/fakeexec"
)

// Config returns a validated configuration whose run directory and stub
// executables live in a test temp dir.
func Config(t testing.TB) *config.Config {
	t.Helper()
	dir := t.TempDir()
	bin := filepath.Join(dir, "bin")
	if err := os.MkdirAll(bin, 0o755); err != nil {
		t.Fatal(err)
	}
	stub := func(name string) string {
		p := filepath.Join(bin, name)
		if err := os.WriteFile(p, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
			t.Fatal(err)
		}
		return p
	}
	cfg := config.Default()
	cfg.RunDir = filepath.Join(dir, "run")
	cfg.Parallelism.SplitParts = 2
	cfg.Executables = config.Executables{
		Corsika:        stub("corsika77420Linux_QGSII_urqmd_thin"),
		Splitter:       stub("splitter"),
		Dethinning:     stub("dethinning"),
		Corsika2Geant:  stub("corsika2geant"),
		Throwing:       stub("sdmc_run_sdmc_calib_extract"),
		Resample:       stub("sdmc_spctr"),
		Reconstruction: stub("rufptn"),
		Dump:           stub("sddump"),
	}
	cfg.Tuning.PollInterval = 20 * time.Millisecond
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	return cfg
}

// Simulator is a fake connector for every configured executable. It
// tracks how many invocations of each executable run concurrently.
type Simulator struct {
	*fakeexec.Fake

	mu      sync.Mutex
	running map[string]int
	peak    map[string]int
	delay   time.Duration
}

// NewSimulator registers a handler for each executable of cfg.
func NewSimulator(cfg *config.Config) *Simulator {
	s := &Simulator{Fake: fakeexec.New(), running: map[string]int{}, peak: map[string]int{}}
	e := cfg.Executables
	s.handle(e.Corsika, corsika)
	s.handle(e.Splitter, split)
	s.handle(e.Dethinning, dethin)
	s.handle(e.Corsika2Geant, c2g)
	s.handle(e.Throwing, throw)
	s.handle(e.Resample, resample)
	s.handle(e.Reconstruction, reconstruct)
	s.handle(e.Dump, dump)
	return s
}

// SetDelay makes every simulated routine take at least d.
func (s *Simulator) SetDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

// Peak returns the highest number of concurrent invocations of exe seen.
func (s *Simulator) Peak(exe string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peak[exe]
}

func (s *Simulator) handle(exe string, h func(connectors.Invocation) error) {
	s.Handle(exe, func(ctx context.Context, inv connectors.Invocation) (int, error) {
		s.mu.Lock()
		s.running[exe]++
		if s.running[exe] > s.peak[exe] {
			s.peak[exe] = s.running[exe]
		}
		d := s.delay
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			s.running[exe]--
			s.mu.Unlock()
		}()
		if d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}
		if err := h(inv); err != nil {
			appendLog(inv.Stderr, err.Error()+"\n")
			return 1, nil
		}
		return 0, nil
	})
}

func appendLog(path, text string) {
	if path == "" {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	f.WriteString(text)
}

func write(path, body string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(body), 0o644)
}

func flag(args []string, name string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == name {
			return args[i+1]
		}
	}
	return ""
}

func corsika(inv connectors.Invocation) error {
	card, err := cards.Parse(inv.Stdin)
	if err != nil {
		return err
	}
	id := card.Name()
	body := fmt.Sprintf("RUNH %d primary=%d lgE=%.4f theta=%.4f seed=%d\nRUNE", card.Run, card.Primary, card.Log10Energy, card.ZenithDeg, card.Seeds[0])
	if err := write(filepath.Join(inv.Dir, id), body); err != nil {
		return err
	}
	if err := write(filepath.Join(inv.Dir, id+".long"), "longitudinal profile\n"); err != nil {
		return err
	}
	if err := write(inv.Stdout, "CORSIKA simulation\n END OF RUN \n"); err != nil {
		return err
	}
	return write(inv.Stderr, "Note: The following floating-point exceptions are signalling: IEEE_UNDERFLOW_FLAG\n")
}

func split(inv connectors.Invocation) error {
	if len(inv.Args) != 3 {
		return fmt.Errorf("usage: splitter <particle> <prefix> <parts>")
	}
	data, err := os.ReadFile(inv.Args[0])
	if err != nil {
		return err
	}
	k, err := strconv.Atoi(inv.Args[2])
	if err != nil {
		return err
	}
	for i := 1; i <= k; i++ {
		if err := write(fmt.Sprintf("%s.p%02d", inv.Args[1], i), fmt.Sprintf("part %d of %d\n%s\n", i, k, data)); err != nil {
			return err
		}
	}
	appendLog(inv.Stdout, fmt.Sprintf("split into %d parts\n", k))
	return nil
}

func dethin(inv connectors.Invocation) error {
	if len(inv.Args) != 2 {
		return fmt.Errorf("usage: dethinning <in> <out>")
	}
	data, err := os.ReadFile(inv.Args[0])
	if err != nil {
		return err
	}
	appendLog(inv.Stdout, "dethinning done\n")
	return write(inv.Args[1], "dethinned\n"+string(data))
}

func c2g(inv connectors.Invocation) error {
	if len(inv.Args) != 2 {
		return fmt.Errorf("usage: corsika2geant <list> <out>")
	}
	list, err := os.ReadFile(inv.Args[0])
	if err != nil {
		return err
	}
	var b strings.Builder
	for _, p := range strings.Fields(string(list)) {
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		b.Write(data)
	}
	appendLog(inv.Stdout, "tile written\n")
	return write(inv.Args[1], b.String())
}

func throw(inv connectors.Invocation) error {
	n, err := strconv.Atoi(flag(inv.Args, "-n"))
	if err != nil {
		return err
	}
	tile, err := os.ReadFile(flag(inv.Args, "-c"))
	if err != nil {
		return err
	}
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "event %d epoch=%s tile=%d\n", i, flag(inv.Args, "-e"), len(tile))
	}
	if err := write(flag(inv.Args, "-o"), b.String()); err != nil {
		return err
	}
	appendLog(inv.Stdout, "THROWING DONE\n")
	return nil
}

func resample(inv connectors.Invocation) error {
	events, err := countLines(flag(inv.Args, "-i"))
	if err != nil {
		return err
	}
	appendLog(inv.Stdout, fmt.Sprintf("%d events read\n", events))
	if events == 0 {
		return nil
	}
	return write(flag(inv.Args, "-o"), fmt.Sprintf("threshold %s events %d\n", flag(inv.Args, "-t"), events))
}

func reconstruct(inv connectors.Invocation) error {
	data, err := os.ReadFile(flag(inv.Args, "-i"))
	if err != nil {
		return err
	}
	appendLog(inv.Stdout, "reconstruction done\n")
	return write(flag(inv.Args, "-o"), "# reconstructed\n"+string(data))
}

func dump(inv connectors.Invocation) error {
	data, err := os.ReadFile(flag(inv.Args, "-i"))
	if err != nil {
		return err
	}
	appendLog(inv.Stdout, "dump done\n")
	return write(flag(inv.Args, "-o"), strings.ReplaceAll(string(data), "# reconstructed\n", ""))
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		n++
	}
	return n, sc.Err()
}

