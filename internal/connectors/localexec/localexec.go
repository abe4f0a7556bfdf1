// Package localexec runs allow-listed external routines as local
// subprocesses.
package localexec

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/fentz26/showerflow/internal/connectors"
	"github.com/fentz26/showerflow/internal/ctxlog"
)

// LocalExec implements the Connector interface for local command execution.
type LocalExec struct {
	allowed map[string]bool
	verbose bool
}

// Option configures a LocalExec.
type Option func(*LocalExec)

// WithVerbose logs every command line at info level.
func WithVerbose(v bool) Option {
	return func(l *LocalExec) { l.verbose = v }
}

// New creates a LocalExec that only runs the given executables.
func New(executables []string, opts ...Option) *LocalExec {
	l := &LocalExec{allowed: make(map[string]bool, len(executables))}
	for _, e := range executables {
		l.allowed[filepath.Clean(e)] = true
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Name returns the connector identifier.
func (l *LocalExec) Name() string {
	return "localexec"
}

// IsAllowed checks if an executable is in the allowlist.
func (l *LocalExec) IsAllowed(executable string) bool {
	if executable == "" {
		return false
	}
	return l.allowed[filepath.Clean(executable)]
}

// Execute runs an invocation if its executable is in the allowlist.
func (l *LocalExec) Execute(ctx context.Context, inv connectors.Invocation) (*connectors.ExecResult, error) {
	if !l.IsAllowed(inv.Executable) {
		return nil, fmt.Errorf("command not allowed: %s", inv.Executable)
	}
	logger := ctxlog.FromContext(ctx)
	if l.verbose {
		logger.Info("exec", "cmd", inv.CommandLine(), "dir", inv.Dir)
	} else {
		logger.Debug("exec", "cmd", inv.CommandLine())
	}

	execCmd := exec.CommandContext(ctx, inv.Executable, inv.Args...)
	execCmd.Dir = inv.Dir

	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()
	if inv.Stdin != "" {
		f, err := os.Open(inv.Stdin)
		if err != nil {
			return nil, fmt.Errorf("open stdin: %w", err)
		}
		closers = append(closers, f)
		execCmd.Stdin = f
	}
	if inv.Stdout != "" {
		f, err := openLog(inv.Stdout, inv.Append)
		if err != nil {
			return nil, err
		}
		closers = append(closers, f)
		execCmd.Stdout = f
	}
	if inv.Stderr != "" {
		f, err := openLog(inv.Stderr, inv.Append)
		if err != nil {
			return nil, err
		}
		closers = append(closers, f)
		execCmd.Stderr = f
	}

	start := time.Now()
	err := execCmd.Run()

	exitCode := 0
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok {
			exitCode = exitError.ExitCode()
		} else {
			return nil, fmt.Errorf("exec error: %w", err)
		}
	}

	return &connectors.ExecResult{
		Command:  inv.Executable,
		Args:     inv.Args,
		ExitCode: exitCode,
		Duration: time.Since(start),
	}, nil
}

func openLog(path string, appendTo bool) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	flag := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if appendTo {
		flag = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}
	return f, nil
}
