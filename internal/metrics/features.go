package metrics

import (
	"strings"
	"sync/atomic"

	"klineflow/config"
)

type featureFlags struct {
	usedWeight bool
	progress   bool
}

var features atomic.Pointer[featureFlags]

func init() {
	features.Store(&featureFlags{usedWeight: true, progress: true})
}

// Configure toggles optional metric families. CloudWatch publishing is set up
// separately by InitCloudWatch.
func Configure(cfg config.MetricsConfig) {
	features.Store(&featureFlags{
		usedWeight: cfg.UsedWeight,
		progress:   cfg.Progress,
	})
}

func featureEnabled(name string) bool {
	f := features.Load()
	if f == nil {
		return true
	}
	switch {
	case strings.HasPrefix(name, "used_weight"):
		return f.usedWeight
	case strings.HasPrefix(name, "progress"):
		return f.progress
	default:
		return true
	}
}
