//go:build windows

package main

import (
	"os/exec"
)

func configureMonitorProc(cmd *exec.Cmd) {
	// Windows doesn't use Setsid.
}
