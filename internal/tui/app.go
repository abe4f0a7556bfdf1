// Package tui provides the progress view of a running pipeline.
package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/showerflow/internal/scheduler"
)

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")
	cyanColor    = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)
)

// refreshInterval is how often the view re-reads the scheduler.
const refreshInterval = 500 * time.Millisecond

// maxRunning caps the number of running steps listed.
const maxRunning = 12

// Source is the scheduler state shown by the view.
type Source interface {
	Stats() scheduler.Stats
	Running() []string
}

// DoneMsg tells the view the run has returned.
type DoneMsg struct {
	Stats scheduler.Stats
	Err   error
}

type tickMsg time.Time

// App is the progress view model.
type App struct {
	src       Source
	interrupt func()
	title     string

	stats    scheduler.Stats
	running  []string
	bar      progress.Model
	width    int
	started  time.Time
	done     *DoneMsg
	stopping bool
}

// New creates the view. interrupt is called once when the operator asks
// to stop the run.
func New(src Source, title string, interrupt func()) *App {
	return &App{
		src:       src,
		interrupt: interrupt,
		title:     title,
		bar:       progress.New(progress.WithDefaultGradient()),
		started:   time.Now(),
	}
}

// Program wraps the view in a bubbletea program.
func (a *App) Program(opts ...tea.ProgramOption) *tea.Program {
	return tea.NewProgram(a, opts...)
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (a *App) refresh() {
	a.stats = a.src.Stats()
	a.running = a.src.Running()
	sort.Strings(a.running)
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	a.refresh()
	return tick()
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if !a.stopping && a.done == nil && a.interrupt != nil {
				a.stopping = true
				a.interrupt()
			}
			return a, tea.Quit
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.bar.Width = max(10, msg.Width-20)

	case tickMsg:
		a.refresh()
		if a.done != nil {
			return a, nil
		}
		return a, tick()

	case DoneMsg:
		a.done = &msg
		a.stats = msg.Stats
		a.running = nil
		return a, tea.Quit
	}
	return a, nil
}

// Fraction is the share of steps that reached a final state.
func (a *App) Fraction() float64 {
	s := a.stats
	if s.Total == 0 {
		return 0
	}
	return float64(s.Completed+s.Failed+s.Abandoned) / float64(s.Total)
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder
	s := a.stats

	header := titleStyle.Render("showerflow " + a.title)
	header += "  " + lipgloss.NewStyle().Foreground(cyanColor).Render(fmt.Sprintf("[%d workers]", s.Workers))
	b.WriteString(header + "\n\n")

	b.WriteString("  " + a.bar.ViewAs(a.Fraction()) + "\n\n")

	counts := []string{
		countStyle(pendingStyle, "pending", s.Pending),
		countStyle(runningStyle, "running", s.Running),
		countStyle(completedStyle, "completed", s.Completed),
		countStyle(failedStyle, "failed", s.Failed),
		countStyle(abandonedStyle, "abandoned", s.Abandoned),
	}
	b.WriteString("  " + strings.Join(counts, "  ") + "\n")
	b.WriteString(lipgloss.NewStyle().Foreground(mutedColor).Render(
		fmt.Sprintf("  %d executed, %d skipped of %d steps", s.Executed, s.Skipped, s.Total)) + "\n\n")

	if len(a.running) > 0 {
		shown := a.running
		more := 0
		if len(shown) > maxRunning {
			more = len(shown) - maxRunning
			shown = shown[:maxRunning]
		}
		lines := make([]string, 0, len(shown)+1)
		for _, id := range shown {
			lines = append(lines, formatStatus("running")+" "+id)
		}
		if more > 0 {
			lines = append(lines, helpStyle.Render(fmt.Sprintf("… %d more", more)))
		}
		b.WriteString(panelStyle.Render(strings.Join(lines, "\n")) + "\n")
	}

	elapsed := time.Since(a.started).Round(time.Second)
	status := fmt.Sprintf("elapsed %s", elapsed)
	switch {
	case a.done != nil && a.done.Err != nil:
		status = lipgloss.NewStyle().Foreground(errorColor).Render("stopped: " + a.done.Err.Error())
	case a.done != nil:
		status = lipgloss.NewStyle().Foreground(successColor).Render("run finished after " + elapsed.String())
	case a.stopping:
		status = lipgloss.NewStyle().Foreground(warningColor).Render("stopping, waiting for running steps")
	}
	b.WriteString(statusBarStyle.Render(status) + "\n")
	b.WriteString(helpStyle.Render("  q: stop run") + "\n")
	return b.String()
}
