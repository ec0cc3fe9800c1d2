//go:build linux

package exporter

import "golang.org/x/sys/unix"

// setAffinity pins the calling thread to one CPU. Callers hold
// runtime.LockOSThread.
func setAffinity(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	return unix.SchedSetaffinity(0, &set)
}
