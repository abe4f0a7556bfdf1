package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	pendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3")) // Yellow
	runningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6")) // Cyan
	completedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2")) // Green
	failedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1")) // Red
	abandonedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")) // Grey
)

func formatStatus(status string) string {
	switch status {
	case "pending":
		return pendingStyle.Render("●")
	case "running":
		return runningStyle.Render("●")
	case "completed":
		return completedStyle.Render("●")
	case "failed":
		return failedStyle.Render("●")
	case "abandoned":
		return abandonedStyle.Render("●")
	default:
		return status
	}
}

func countStyle(style lipgloss.Style, label string, n int) string {
	return style.Render(fmt.Sprintf("● %s %d", label, n))
}
