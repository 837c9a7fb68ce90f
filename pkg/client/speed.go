package client

import (
	"fmt"
	"time"
)

// FormatBPS renders a transfer rate the way the original CLI's
// format_bps helper does: four decimal places and a B/KB/MB/GB/TB ladder.
func FormatBPS(bytes int64, elapsed time.Duration) string {
	secs := elapsed.Seconds()
	if secs <= 0 {
		secs = 1e-9
	}
	bps := float64(bytes) / secs

	units := [...]string{"B/s", "KB/s", "MB/s", "GB/s", "TB/s"}
	i := 0
	for bps >= 1024 && i < len(units)-1 {
		bps /= 1024
		i++
	}
	return fmt.Sprintf("%.4f%s", bps, units[i])
}
