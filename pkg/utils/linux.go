//go:build linux

package utils

import (
	"github.com/srand/jolt/engine/pkg/log"
	"golang.org/x/sys/unix"
)

func DisableTHP() {
	// Disable transparent huge pages to workaround memory leaks
	log.Info("Disabling transparent huge pages")
	if err := unix.Prctl(unix.PR_SET_THP_DISABLE, 1, 0, 0, 0); err != nil {
		log.Warn("Failed to disable transparent huge pages:", err)
	}
}

// Returns the total physical memory of the host in bytes, or 0 if unknown.
func SystemMemory() int64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		log.Debug("sysinfo failed:", err)
		return 0
	}
	return int64(info.Totalram) * int64(info.Unit)
}
