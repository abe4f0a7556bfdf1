//go:build !windows

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/showerflow/internal/config"
	"github.com/fentz26/showerflow/internal/layout"
)

var stubNames = map[string]string{
	"corsika":        "corsika77420Linux_QGSII_urqmd_thin",
	"splitter":       "splitter",
	"dethinning":     "dethinning",
	"corsika2geant":  "corsika2geant",
	"throwing":       "sdmc_run_sdmc_calib_extract",
	"resample":       "sdmc_spctr",
	"reconstruction": "rufptn",
	"dump":           "sddump",
}

// writeRunDoc writes a run document whose executables are shell stubs that
// exit successfully without producing anything.
func writeRunDoc(t *testing.T) (path string, bin string) {
	t.Helper()
	dir := t.TempDir()
	bin = filepath.Join(dir, "bin")
	require.NoError(t, os.MkdirAll(bin, 0o755))

	var doc bytes.Buffer
	fmt.Fprintf(&doc, "run_dir: %s\n", filepath.Join(dir, "run"))
	fmt.Fprintf(&doc, "parallelism:\n  split_parts: 2\n")
	fmt.Fprintf(&doc, "cards:\n  count: 2\n  first_run: 1\n")
	fmt.Fprintf(&doc, "tuning:\n  poll_interval: 20ms\n")
	fmt.Fprintf(&doc, "executables:\n")
	for key, name := range stubNames {
		p := filepath.Join(bin, name)
		require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\nexit 0\n"), 0o755))
		fmt.Fprintf(&doc, "  %s: %s\n", key, p)
	}
	path = filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(path, doc.Bytes(), 0o644))
	return path, bin
}

func execCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append(args, "--log-level", "error"))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "showerflow version "+version)
}

func TestValidate(t *testing.T) {
	doc, _ := writeRunDoc(t)
	out, err := execCLI(t, "validate", "--config", doc)
	require.NoError(t, err)
	assert.Contains(t, out, "configuration OK: 3 pipelines")
}

func TestValidateRejectsMissingExecutable(t *testing.T) {
	doc, bin := writeRunDoc(t)
	require.NoError(t, os.Remove(filepath.Join(bin, stubNames["throwing"])))

	_, err := execCLI(t, "validate", "--config", doc)
	var bad *config.BadConfigValue
	require.True(t, errors.As(err, &bad), "got %v", err)
	assert.Equal(t, "executables.throwing", bad.Key)
}

func TestConfigFromEnvironment(t *testing.T) {
	doc, _ := writeRunDoc(t)
	t.Setenv(envConfig, doc)
	_, err := execCLI(t, "validate")
	require.NoError(t, err)

	t.Setenv(envConfig, "")
	_, err = execCLI(t, "validate")
	assert.ErrorContains(t, err, "no run document")
}

func TestRunInspectFixLedger(t *testing.T) {
	doc, _ := writeRunDoc(t)

	// the stubs produce no output, so every corsika step fails
	out, err := execCLI(t, "run", "--config", doc, "--no-monitor", "--workers", "2")
	require.ErrorContains(t, err, "2 pipelines failed")
	assert.Contains(t, out, "DAT000001: step DAT000001/corsika failed")

	_, err = execCLI(t, "run", "--config", doc, "--no-monitor")
	assert.ErrorIs(t, err, layout.ErrRunExists)

	out, err = execCLI(t, "inspect", "--config", doc, "--failed")
	require.NoError(t, err)
	assert.Contains(t, out, "DAT000001  FAILED")
	assert.Contains(t, out, "DAT000002  FAILED")
	assert.NotContains(t, out, "aggregate")

	out, err = execCLI(t, "ledger", "--config", doc)
	require.NoError(t, err)
	assert.Contains(t, out, "DAT000001")
	assert.Contains(t, out, "failed")

	out, err = execCLI(t, "ledger", "--config", doc, "DAT000002")
	require.NoError(t, err)
	assert.Contains(t, out, "FAILED")

	out, err = execCLI(t, "ledger", "--config", doc, "--runs")
	require.NoError(t, err)
	assert.Contains(t, out, "2 pipelines failed")

	out, err = execCLI(t, "fix", "--config", doc, "--hard", "DAT000001")
	require.NoError(t, err)
	assert.Contains(t, out, "DAT000001: removed")
	assert.Contains(t, out, "failure cleared")

	out, err = execCLI(t, "fix", "--config", doc)
	require.NoError(t, err)
	assert.Contains(t, out, "DAT000002: removed 0 step outputs, failure cleared")

	out, err = execCLI(t, "fix", "--config", doc)
	require.NoError(t, err)
	assert.Contains(t, out, "no failed pipelines")
}

func TestLedgerWithoutRun(t *testing.T) {
	doc, _ := writeRunDoc(t)
	_, err := execCLI(t, "ledger", "--config", doc)
	assert.Error(t, err)
}
