package util

import "time"

const bytesPerMB = 1 << 20

// RateMBs converts two cumulative byte counter readings into a per-second
// rate in MB/s (MB = 2^20 bytes). A counter that went backwards (wrap or
// reset) yields 0 rather than a negative rate. A zero elapsed duration
// (duplicate timestamp) yields prevRate.
func RateMBs(prev, curr uint64, elapsed time.Duration, prevRate float64) float64 {
	if elapsed <= 0 {
		return prevRate
	}
	if curr < prev {
		return 0
	}
	return float64(curr-prev) / elapsed.Seconds() / bytesPerMB
}
