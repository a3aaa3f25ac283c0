//go:build !unix

package deploy

import (
	"os"
	"os/exec"
)

var (
	sigTerm os.Signal = os.Interrupt
	sigKill os.Signal = os.Kill
)

func setProcessGroup(*exec.Cmd) {}

func signalGroup(cmd *exec.Cmd, sig os.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	if sig == os.Kill {
		return cmd.Process.Kill()
	}
	return cmd.Process.Signal(sig)
}
