//go:build !unix

package clock

import "time"

// processStart carries Go's monotonic reading; time.Since uses it exclusively.
var processStart = time.Now()

func readMonotonic() (Timestamp, error) {
	return Timestamp(time.Since(processStart)), nil
}
