package lockfile

import (
	"os"
	"syscall"
)

// ProcessProbe answers whether a pid belongs to a live process. Real
// implementations vary by OS; tests inject fakes.
type ProcessProbe interface {
	Alive(pid int) bool
}

// SignalProbe checks liveness with signal 0, which probes for process
// existence without delivering a signal.
type SignalProbe struct{}

// Alive reports whether the process with the given pid is running.
func (SignalProbe) Alive(pid int) bool {
	if pid == os.Getpid() {
		return true
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// ProbeFunc adapts a function to the ProcessProbe interface.
type ProbeFunc func(pid int) bool

// Alive calls f(pid).
func (f ProbeFunc) Alive(pid int) bool {
	return f(pid)
}
