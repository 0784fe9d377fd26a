//go:build !linux

package security

// LockMemory is a no-op on platforms without mlock support wired in.
func LockMemory(b []byte) error { return nil }

// UnlockMemory is a no-op on platforms without mlock support wired in.
func UnlockMemory(b []byte) error { return nil }
