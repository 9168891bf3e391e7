//go:build !linux

package kernel

import "time"

// preciseSleep falls back to time.Sleep on hosts without unix.Nanosleep.
func preciseSleep(d time.Duration) {
	if d <= 0 {
		return
	}
	time.Sleep(d)
}
