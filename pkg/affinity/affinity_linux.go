//go:build linux

package affinity

import (
	"golang.org/x/sys/unix"
)

// Apply pins the calling OS thread to cpu (if cpu != NoAffinity) and sets
// its scheduling priority (if priority != NoPriority). Intended to be
// called from the goroutine that will run the scheduled work, immediately
// after runtime.LockOSThread, since both calls operate on the calling
// thread's kernel identity.
func Apply(priority, cpu int) error {
	if cpu != NoAffinity {
		var set unix.CPUSet
		set.Zero()
		set.Set(cpu)
		if err := unix.SchedSetaffinity(0, &set); err != nil {
			return err
		}
	}
	if priority != NoPriority {
		if err := unix.Setpriority(unix.PRIO_PROCESS, 0, priority); err != nil {
			return err
		}
	}
	return nil
}
