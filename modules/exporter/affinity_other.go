//go:build !linux

package exporter

// CPU pinning is linux-only; elsewhere it is a no-op.
func setAffinity(int) error { return nil }
