//go:build linux

package monitor

import (
	"context"
	"encoding/csv"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestSampleCountsChildren(t *testing.T) {
	cmd := exec.Command("sleep", "5")
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})

	s, err := New(os.Getpid(), filepath.Join(t.TempDir(), "resources.csv"), time.Second)
	require.NoError(t, err)
	sample, err := s.Sample()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, sample.Processes, 2)
	assert.Positive(t, sample.RSSBytes)
	assert.Equal(t, os.Getpid(), sample.PID)
}

func TestRunWritesUntilCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resources.csv")
	s, err := New(os.Getpid(), path, 10*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	rows := readRows(t, path)
	require.GreaterOrEqual(t, len(rows), 2)
	assert.Equal(t, Header, rows[0])
	assert.Len(t, rows[1], len(Header))

	// a second run appends without repeating the header
	ctx2, cancel2 := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel2()
	require.NoError(t, s.Run(ctx2))
	rows2 := readRows(t, path)
	assert.Greater(t, len(rows2), len(rows))
	for _, r := range rows2[1:] {
		assert.NotEqual(t, Header[0], r[0])
	}
}

func TestRunStopsWhenProcessIsGone(t *testing.T) {
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())

	path := filepath.Join(t.TempDir(), "resources.csv")
	s, err := New(cmd.ProcessState.Pid(), path, time.Hour)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop for an exited process")
	}
	assert.Len(t, readRows(t, path), 1)
}
