package diagnostics

import (
	"errors"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// KillProcessTree kills pid and every descendant, deepest first.
// A target that already exited is not an error.
func KillProcessTree(pid int) error {
	if pid <= 0 {
		return nil
	}
	// #nosec G115 -- pids fit in int32 on every supported platform
	root, err := process.NewProcess(int32(pid))
	if err != nil {
		if isGone(err) {
			return nil
		}
		return fmt.Errorf("looking up process %d: %w", pid, err)
	}

	var errs []error
	for _, child := range descendants(root) {
		if err := child.Kill(); err != nil && !isGone(err) {
			errs = append(errs, fmt.Errorf("killing child %d: %w", child.Pid, err))
		}
	}
	if err := root.Kill(); err != nil && !isGone(err) {
		errs = append(errs, fmt.Errorf("killing process %d: %w", pid, err))
	}
	return errors.Join(errs...)
}

// descendants lists children of p, grandchildren before their parents.
func descendants(p *process.Process) []*process.Process {
	children, err := p.Children()
	if err != nil {
		return nil
	}
	var out []*process.Process
	for _, c := range children {
		out = append(out, descendants(c)...)
		out = append(out, c)
	}
	return out
}

// ProcessAlive reports whether pid refers to a running process.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	// #nosec G115
	ok, err := process.PidExists(int32(pid))
	if err != nil || !ok {
		return false
	}
	// #nosec G115
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	status, err := p.Status()
	if err != nil {
		return true
	}
	for _, s := range status {
		if s == process.Zombie {
			return false
		}
	}
	return true
}

func isGone(err error) bool {
	return errors.Is(err, process.ErrorProcessNotRunning) ||
		errors.Is(err, os.ErrProcessDone) ||
		isNoSuchProcess(err)
}
