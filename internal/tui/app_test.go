package tui

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fentz26/showerflow/internal/scheduler"
)

type fakeSource struct {
	stats   scheduler.Stats
	running []string
}

func (f *fakeSource) Stats() scheduler.Stats { return f.stats }
func (f *fakeSource) Running() []string      { return f.running }

func TestViewShowsCounts(t *testing.T) {
	src := &fakeSource{
		stats:   scheduler.Stats{Workers: 4, Total: 20, Pending: 10, Running: 2, Completed: 8, Skipped: 3, Executed: 5},
		running: []string{"DAT000002/corsika", "DAT000001/corsika"},
	}
	a := New(src, "run", nil)
	a.Init()

	view := a.View()
	for _, want := range []string{"[4 workers]", "pending 10", "running 2", "completed 8", "5 executed, 3 skipped of 20 steps", "DAT000001/corsika"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
	if a.Fraction() != 0.4 {
		t.Errorf("Expected fraction 0.4, got %v", a.Fraction())
	}
}

func TestTickRefreshes(t *testing.T) {
	src := &fakeSource{stats: scheduler.Stats{Total: 4}}
	a := New(src, "continue", nil)
	a.Init()

	src.stats.Completed = 4
	_, cmd := a.Update(tickMsg(time.Now()))
	if cmd == nil {
		t.Fatal("Expected another tick to be scheduled")
	}
	if a.Fraction() != 1 {
		t.Errorf("Expected fraction 1 after refresh, got %v", a.Fraction())
	}
}

func TestQuitInterruptsOnce(t *testing.T) {
	calls := 0
	a := New(&fakeSource{}, "run", func() { calls++ })

	_, cmd := a.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("Expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Errorf("Expected tea.QuitMsg")
	}
	a.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if calls != 1 {
		t.Errorf("Expected one interrupt, got %d", calls)
	}
	if !strings.Contains(a.View(), "stopping") {
		t.Error("Expected stopping status")
	}
}

func TestDoneMsgQuits(t *testing.T) {
	a := New(&fakeSource{running: []string{"x/y"}}, "run", func() { t.Error("interrupt not expected") })
	a.Init()
	_, cmd := a.Update(DoneMsg{Stats: scheduler.Stats{Total: 2, Completed: 1, Failed: 1}, Err: errors.New("context canceled")})
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Errorf("Expected tea.QuitMsg")
	}
	view := a.View()
	if strings.Contains(view, "x/y") {
		t.Error("running list should be cleared after the run returned")
	}
	if !strings.Contains(view, "stopped: context canceled") {
		t.Errorf("view missing stop reason:\n%s", view)
	}
	a.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
}

func TestRunningListIsCapped(t *testing.T) {
	src := &fakeSource{}
	for i := 0; i < maxRunning+3; i++ {
		src.running = append(src.running, fmt.Sprintf("DAT%06d/corsika", i))
	}
	a := New(src, "run", nil)
	a.Init()
	if !strings.Contains(a.View(), "3 more") {
		t.Error("Expected overflow marker")
	}
}
