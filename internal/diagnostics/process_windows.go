//go:build windows

package diagnostics

import (
	"os"
	"os/exec"
)

// ConfigureProcAttr is a no-op on Windows (Setpgid not supported).
func ConfigureProcAttr(_ *exec.Cmd) {}

// Interrupt falls back to Kill on Windows, where os.Interrupt cannot be sent.
func Interrupt(p *os.Process) error {
	return p.Kill()
}

func isNoSuchProcess(error) bool { return false }
