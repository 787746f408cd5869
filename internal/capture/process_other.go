//go:build !unix

package capture

import (
	"os"
	"os/exec"
)

func setProcessGroup(*exec.Cmd) {}

func signalTerminate(pid int) error {
	return signalKill(pid)
}

func signalKill(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	_, err := os.FindProcess(pid)
	return err == nil
}
