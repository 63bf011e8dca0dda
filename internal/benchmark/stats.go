// Package benchmark implements the Benchmark Service (spec.md §4.8):
// building an environment's test program once, running it N times, and
// reporting min/avg/max resource usage, memoized per environment.
package benchmark

// Stat is one min/avg/max triple over N samples.
type Stat struct {
	Min float64 `json:"min"`
	Avg float64 `json:"avg"`
	Max float64 `json:"max"`
}

// RunStats is the resource-usage summary of N test-program runs.
type RunStats struct {
	Time   Stat `json:"time"`
	Memory Stat `json:"memory"`
}

// ResourceUsage is the full payload of GET /environments/{id}/resource_usage:
// the (cached) test-program build result, if the environment compiles, plus
// the N-run statistics.
type ResourceUsage struct {
	Build *BuildSummary `json:"build,omitempty"`
	Run   RunStats      `json:"run"`
}

// BuildSummary mirrors spec.md's RunResult for the one-time build step.
type BuildSummary struct {
	Status  int    `json:"status"`
	TimeMs  uint64 `json:"time_ms"`
	MemKB   uint64 `json:"memory_kb"`
}

func computeStat(samples []float64) Stat {
	if len(samples) == 0 {
		return Stat{}
	}
	min, max, sum := samples[0], samples[0], 0.0
	for _, s := range samples {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
		sum += s
	}
	return Stat{Min: min, Avg: sum / float64(len(samples)), Max: max}
}
