// Package monitor samples the resource usage of a running pipeline
// process tree into a CSV file. It runs in its own detached process and
// stops once the watched process is gone.
package monitor

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/procfs"

	"github.com/fentz26/showerflow/internal/ctxlog"
)

// DefaultInterval is the sampling period when none is given.
const DefaultInterval = 10 * time.Second

// Header is the first row of the resources file.
var Header = []string{"timestamp", "pid", "processes", "rss_bytes", "cpu_seconds", "mem_available_bytes"}

// Sample is one observation of the watched process tree.
type Sample struct {
	Time         time.Time
	PID          int
	Processes    int
	RSSBytes     uint64
	CPUSeconds   float64
	MemAvailable uint64
}

func (s Sample) record() []string {
	return []string{
		s.Time.UTC().Format(time.RFC3339),
		strconv.Itoa(s.PID),
		strconv.Itoa(s.Processes),
		strconv.FormatUint(s.RSSBytes, 10),
		strconv.FormatFloat(s.CPUSeconds, 'f', 2, 64),
		strconv.FormatUint(s.MemAvailable, 10),
	}
}

// ErrProcessGone is returned by Sample when the watched process exited.
var ErrProcessGone = errors.New("watched process is gone")

// Sampler reads /proc for one process and its descendants.
type Sampler struct {
	fs       procfs.FS
	pid      int
	path     string
	interval time.Duration
	now      func() time.Time
}

// New returns a sampler watching pid and appending to path.
func New(pid int, path string, interval time.Duration) (*Sampler, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sampler{fs: fs, pid: pid, path: path, interval: interval, now: time.Now}, nil
}

// Sample takes one observation.
func (s *Sampler) Sample() (Sample, error) {
	root, err := s.fs.Proc(s.pid)
	if err != nil {
		return Sample{}, ErrProcessGone
	}
	st, err := root.Stat()
	if err != nil || st.State == "Z" || st.State == "X" {
		return Sample{}, ErrProcessGone
	}

	procs, err := s.fs.AllProcs()
	if err != nil {
		return Sample{}, fmt.Errorf("list processes: %w", err)
	}
	stats := map[int]procfs.ProcStat{s.pid: st}
	children := map[int][]int{}
	for _, p := range procs {
		ps, err := p.Stat()
		if err != nil {
			continue
		}
		stats[p.PID] = ps
		children[ps.PPID] = append(children[ps.PPID], p.PID)
	}

	out := Sample{Time: s.now(), PID: s.pid}
	queue := []int{s.pid}
	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]
		ps := stats[pid]
		out.Processes++
		out.RSSBytes += uint64(ps.ResidentMemory())
		out.CPUSeconds += ps.CPUTime()
		queue = append(queue, children[pid]...)
	}

	if mi, err := s.fs.Meminfo(); err == nil && mi.MemAvailable != nil {
		out.MemAvailable = *mi.MemAvailable * 1024
	}
	return out, nil
}

// Run samples every interval until ctx is done or the process is gone.
// The header is written when the file is new.
func (s *Sampler) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	_, statErr := os.Stat(s.path)
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open resources file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if os.IsNotExist(statErr) {
		w.Write(Header)
		w.Flush()
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		sample, err := s.Sample()
		if errors.Is(err, ErrProcessGone) {
			logger.Debug("monitor stopping", "pid", s.pid)
			return nil
		}
		if err != nil {
			logger.Warn("resource sample failed", "error", err)
		} else {
			w.Write(sample.record())
			w.Flush()
			if err := w.Error(); err != nil {
				return fmt.Errorf("write resources file: %w", err)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
