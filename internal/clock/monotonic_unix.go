//go:build unix

package clock

import (
	"golang.org/x/sys/unix"
)

func readMonotonic() (Timestamp, error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0, err
	}
	return Timestamp(ts.Nano()), nil
}
