//go:build !unix

package simulator

import (
	"errors"
	"os"
	"os/exec"
)

// configureProcess is a no-op where process groups are not available
func configureProcess(cmd *exec.Cmd) {}

// terminateGroup has no graceful variant here and kills the process
func terminateGroup(cmd *exec.Cmd) error {
	return killGroup(cmd)
}

func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
