package step

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/showerflow/internal/fileset"
	"github.com/fentz26/showerflow/internal/models"
)

type copyStage struct {
	runs int
	err  error
}

func (c *copyStage) Kind() string { return "copy" }

func (c *copyStage) Run(ctx context.Context, env *Env, in, out *fileset.Set) error {
	c.runs++
	if c.err != nil {
		return c.err
	}
	data, err := os.ReadFile(in.MustExist()[0])
	if err != nil {
		return err
	}
	return os.WriteFile(out.MustExist()[0], data, 0o644)
}

type memLedger struct {
	mu      sync.Mutex
	entries []models.LedgerEntry
}

func (m *memLedger) Record(ctx context.Context, e models.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memLedger) events() []models.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.EventType
	for _, e := range m.entries {
		out = append(out, e.Event)
	}
	return out
}

type failSet map[string]bool

func (f failSet) Failed(p string) bool { return f[p] }

func fixture(t *testing.T) (string, *Env, *memLedger) {
	t.Helper()
	root := t.TempDir()
	l := &memLedger{}
	env := &Env{
		Hashes:       fileset.NewHashStore(filepath.Join(root, "input_hashes")),
		Ledger:       l,
		Continue:     true,
		PollInterval: 10 * time.Millisecond,
	}
	return root, env, l
}

func TestRunThenSkip(t *testing.T) {
	root, env, l := fixture(t)
	in := filepath.Join(root, "in")
	out := filepath.Join(root, "out")
	require.NoError(t, os.WriteFile(in, []byte("x"), 0o644))
	stage := &copyStage{}
	mk := func() *Step {
		return New("DAT000001", "copy", stage,
			fileset.New("copy-input", root, []string{in}),
			fileset.New("copy-output", root, []string{out}))
	}

	ev, err := mk().Run(context.Background(), env, false)
	require.NoError(t, err)
	assert.Equal(t, models.EventCompleted, ev)

	ev, err = mk().Run(context.Background(), env, false)
	require.NoError(t, err)
	assert.Equal(t, models.EventSkipped, ev)
	assert.Equal(t, 1, stage.runs)

	ev, err = mk().Run(context.Background(), env, true)
	require.NoError(t, err)
	assert.Equal(t, models.EventCompleted, ev)
	assert.Equal(t, 2, stage.runs)

	require.NoError(t, os.WriteFile(in, []byte("changed"), 0o644))
	_, err = mk().Run(context.Background(), env, false)
	require.NoError(t, err)
	assert.Equal(t, 3, stage.runs)

	assert.Equal(t, []models.EventType{
		models.EventStarted, models.EventCompleted,
		models.EventSkipped,
		models.EventStarted, models.EventCompleted,
		models.EventStarted, models.EventCompleted,
	}, l.events())
}

func TestNoSkipOutsideContinueMode(t *testing.T) {
	root, env, _ := fixture(t)
	in := filepath.Join(root, "in")
	out := filepath.Join(root, "out")
	require.NoError(t, os.WriteFile(in, []byte("x"), 0o644))
	stage := &copyStage{}
	for i := 0; i < 2; i++ {
		env.Continue = i == 0
		s := New("p", "copy", stage, fileset.New("i", root, []string{in}), fileset.New("o", root, []string{out}))
		_, err := s.Run(context.Background(), env, false)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, stage.runs)
}

func TestStageErrorPropagates(t *testing.T) {
	root, env, l := fixture(t)
	in := filepath.Join(root, "in")
	require.NoError(t, os.WriteFile(in, []byte("x"), 0o644))
	boom := errors.New("boom")
	s := New("p", "copy", &copyStage{err: boom},
		fileset.New("i", root, []string{in}),
		fileset.New("o", root, []string{filepath.Join(root, "out")}))
	_, err := s.Run(context.Background(), env, false)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []models.EventType{models.EventStarted}, l.events())
	stored, err := env.Hashes.Load(s.Input)
	require.NoError(t, err)
	assert.Empty(t, stored, "hash is stored only after a validated output")
}

func TestMissingOutputFailsStep(t *testing.T) {
	root, env, _ := fixture(t)
	in := filepath.Join(root, "in")
	require.NoError(t, os.WriteFile(in, []byte("x"), 0o644))
	s := New("p", "noop", noopStage{},
		fileset.New("i", root, []string{in}),
		fileset.New("o", root, []string{filepath.Join(root, "never")}))
	_, err := s.Run(context.Background(), env, false)
	var fc *fileset.FilesCheckFailed
	assert.ErrorAs(t, err, &fc)
}

type noopStage struct{}

func (noopStage) Kind() string { return "noop" }
func (noopStage) Run(context.Context, *Env, *fileset.Set, *fileset.Set) error {
	return nil
}

func TestWaitsForPrevious(t *testing.T) {
	root, env, _ := fixture(t)
	mid := filepath.Join(root, "mid")
	out := filepath.Join(root, "out")
	prev := New("p", "first", noopStage{}, nil, fileset.New("o", root, []string{mid}))
	s := New("p", "second", &copyStage{},
		fileset.New("i", root, []string{mid}),
		fileset.New("o2", root, []string{out}), prev)

	errc := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background(), env, false)
		errc <- err
	}()
	time.Sleep(30 * time.Millisecond)
	select {
	case err := <-errc:
		t.Fatalf("step ran before its previous step finished: %v", err)
	default:
	}
	require.NoError(t, os.WriteFile(mid, []byte("m"), 0o644))
	prev.Finish()
	require.NoError(t, <-errc)
	assert.FileExists(t, out)
}

func TestAbandonedWhenPipelineFails(t *testing.T) {
	root, env, _ := fixture(t)
	failures := failSet{}
	env.Failures = failures
	prev := New("p", "first", noopStage{}, nil, fileset.New("o", root, []string{filepath.Join(root, "mid")}))
	s := New("p", "second", &copyStage{},
		fileset.New("i", root, []string{filepath.Join(root, "mid")}),
		fileset.New("o2", root, []string{filepath.Join(root, "out")}), prev)
	failures["p"] = true
	prev.Finish()
	_, err := s.Run(context.Background(), env, false)
	assert.ErrorIs(t, err, ErrPipelineFailed)
}
