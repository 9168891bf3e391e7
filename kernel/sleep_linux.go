//go:build linux

package kernel

import (
	"time"

	"golang.org/x/sys/unix"
)

// preciseSleep sleeps for d using unix.Nanosleep directly, which tends
// to track the requested duration more tightly than time.Sleep under
// load (fewer runtime-scheduler-induced overshoots), the same
// motivation a free-running hardware systick has for using its own
// counter instead of a cooperative timer.
func preciseSleep(d time.Duration) {
	if d <= 0 {
		return
	}
	ts := unix.NsecToTimespec(d.Nanoseconds())
	for {
		rem := unix.Timespec{}
		err := unix.Nanosleep(&ts, &rem)
		if err == nil {
			return
		}
		if err != unix.EINTR {
			return
		}
		ts = rem
	}
}
