//go:build unix

package capture

import (
	"os/exec"
	"syscall"
)

func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// groupTarget returns -pid when pid leads its own process group so the
// signal reaches the helper's children too.
func groupTarget(pid int) int {
	if pgid, err := syscall.Getpgid(pid); err == nil && pgid == pid {
		return -pid
	}
	return pid
}

func signalTerminate(pid int) error {
	return syscall.Kill(groupTarget(pid), syscall.SIGTERM)
}

func signalKill(pid int) error {
	return syscall.Kill(groupTarget(pid), syscall.SIGKILL)
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}
