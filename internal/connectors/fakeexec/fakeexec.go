// Package fakeexec is an in-memory Connector that dispatches invocations
// to Go handlers. It stands in for the physics binaries in tests.
package fakeexec

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fentz26/showerflow/internal/connectors"
)

// Handler simulates one external routine and returns its exit code.
type Handler func(ctx context.Context, inv connectors.Invocation) (int, error)

type failure struct {
	match func(connectors.Invocation) bool
	code  int
}

// Fake implements connectors.Connector.
type Fake struct {
	mu       sync.Mutex
	handlers map[string]Handler
	failures []failure
	calls    []connectors.Invocation
}

// New returns a Fake with no handlers.
func New() *Fake {
	return &Fake{handlers: map[string]Handler{}}
}

// Handle registers the handler for an executable path.
func (f *Fake) Handle(executable string, h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[executable] = h
}

// FailWhen makes matching invocations exit with code without running
// their handler.
func (f *Fake) FailWhen(match func(connectors.Invocation) bool, code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, failure{match: match, code: code})
}

// Reset forgets recorded calls and failure rules.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
	f.failures = nil
}

// Name returns the connector identifier.
func (f *Fake) Name() string { return "fakeexec" }

// IsAllowed reports whether a handler is registered for executable.
func (f *Fake) IsAllowed(executable string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.handlers[executable]
	return ok
}

// Execute records the invocation and runs its handler.
func (f *Fake) Execute(ctx context.Context, inv connectors.Invocation) (*connectors.ExecResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, inv)
	h, ok := f.handlers[inv.Executable]
	var forced *failure
	for i := range f.failures {
		if f.failures[i].match(inv) {
			forced = &f.failures[i]
			break
		}
	}
	f.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("command not allowed: %s", inv.Executable)
	}
	start := time.Now()
	res := &connectors.ExecResult{Command: inv.Executable, Args: inv.Args}
	if forced != nil {
		res.ExitCode = forced.code
		res.Duration = time.Since(start)
		return res, nil
	}
	code, err := h(ctx, inv)
	if err != nil {
		return nil, err
	}
	res.ExitCode = code
	res.Duration = time.Since(start)
	return res, nil
}

// Calls returns a copy of every recorded invocation.
func (f *Fake) Calls() []connectors.Invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]connectors.Invocation(nil), f.calls...)
}

// Count returns the number of recorded invocations of executable, or of
// all executables when it is empty.
func (f *Fake) Count(executable string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if executable == "" {
		return len(f.calls)
	}
	n := 0
	for _, c := range f.calls {
		if c.Executable == executable {
			n++
		}
	}
	return n
}
