package sink

import (
	"time"

	units "github.com/docker/go-units"
)

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB", "PB"}

// FormatSize scales n by 1024 into a unit string, e.g. 532.60KB.
func FormatSize(n float64) string {
	return units.CustomSize("%.2f%s", n, 1024.0, sizeUnits)
}

// FormatRate turns a per-interval byte count into a per-second string.
func FormatRate(n uint64, interval time.Duration) string {
	return FormatSize(perSecond(n, interval)) + "/s"
}

func perSecond(n uint64, interval time.Duration) float64 {
	if interval <= 0 {
		return float64(n)
	}
	return float64(n) / interval.Seconds()
}
