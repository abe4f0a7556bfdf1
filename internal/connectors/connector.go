// Package connectors defines how pipeline steps invoke external routines.
package connectors

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Invocation describes one external routine call. Stdin, Stdout and Stderr
// are file paths; empty means no redirection. Log files are truncated
// unless Append is set.
type Invocation struct {
	Executable string
	Args       []string
	Dir        string
	Stdin      string
	Stdout     string
	Stderr     string
	Append     bool
	// CheckErrors turns a non-zero exit into an *ExitError.
	CheckErrors bool
}

// CommandLine renders the invocation for logs.
func (inv Invocation) CommandLine() string {
	var b strings.Builder
	b.WriteString(inv.Executable)
	for _, a := range inv.Args {
		b.WriteByte(' ')
		b.WriteString(a)
	}
	if inv.Stdin != "" {
		b.WriteString(" < " + inv.Stdin)
	}
	if inv.Stdout != "" {
		b.WriteString(" > " + inv.Stdout)
	}
	if inv.Stderr != "" {
		b.WriteString(" 2> " + inv.Stderr)
	}
	return b.String()
}

// ExecResult holds the result of a command execution.
type ExecResult struct {
	Command  string        `json:"command"`
	Args     []string      `json:"args"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// ExitError reports a non-zero exit of an external routine.
type ExitError struct {
	Command  string
	ExitCode int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Command, e.ExitCode)
}

// Connector defines the interface for executing external routines.
type Connector interface {
	// Name returns the connector identifier.
	Name() string

	// Execute runs an invocation and returns the result.
	Execute(ctx context.Context, inv Invocation) (*ExecResult, error)

	// IsAllowed checks if an executable may be run.
	IsAllowed(executable string) bool
}

// Outcome converts an execution result into an error according to
// inv.CheckErrors.
func Outcome(inv Invocation, res *ExecResult, err error) error {
	if err != nil {
		return err
	}
	if inv.CheckErrors && res.ExitCode != 0 {
		return &ExitError{Command: inv.CommandLine(), ExitCode: res.ExitCode}
	}
	return nil
}
