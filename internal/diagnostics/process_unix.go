//go:build !windows

package diagnostics

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// ConfigureProcAttr places the command in its own process group so the
// worker tree can be signaled without reaching the harness.
func ConfigureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// Interrupt asks the process to stop gracefully.
func Interrupt(p *os.Process) error {
	return p.Signal(os.Interrupt)
}

func isNoSuchProcess(err error) bool {
	return errors.Is(err, syscall.ESRCH)
}
