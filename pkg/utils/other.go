//go:build !linux

package utils

func DisableTHP() {}

// Returns the total physical memory of the host in bytes, or 0 if unknown.
func SystemMemory() int64 {
	return 0
}
