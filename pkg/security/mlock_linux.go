//go:build linux

package security

import "golang.org/x/sys/unix"

// LockMemory pins the byte slice so the key cannot be swapped to disk.
func LockMemory(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Mlock(b)
}

// UnlockMemory releases a previous LockMemory pin.
func UnlockMemory(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Munlock(b)
}
