// Package diskusage reports capacity of the volume holding the storage root.
package diskusage

import (
	"math"

	"go.uber.org/zap"

	"github.com/AlexanderSatryo135/myDrive/internal/logging"
	"github.com/AlexanderSatryo135/myDrive/internal/metrics"
)

const gib = 1 << 30

// Usage describes a volume. Used counts blocks not free to anyone, so
// Used + Free may be less than Total on filesystems with reserved blocks.
type Usage struct {
	TotalBytes uint64
	UsedBytes  uint64
	FreeBytes  uint64
	Percent    float64
}

// Of returns the usage of the volume containing path. Failures are logged
// and reported as a zero Usage.
func Of(path string) Usage {
	u, err := statfs(path)
	if err != nil {
		logging.Warn("disk usage unavailable", zap.String("path", path), zap.Error(err))
		return Usage{}
	}
	if u.TotalBytes > 0 {
		u.Percent = round(float64(u.UsedBytes)/float64(u.TotalBytes)*100, 1)
	}
	metrics.SetStorageBytes(u.TotalBytes, u.UsedBytes, u.FreeBytes)
	return u
}

// GB converts bytes to GiB rounded to two decimals.
func GB(n uint64) float64 {
	return round(float64(n)/gib, 2)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
