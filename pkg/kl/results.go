package kl

import "sort"

type measurement struct {
	problem Dim3
	seconds float64
}

// KernelResults aggregates repeated timings of one configuration into a
// single throughput figure. It keeps collecting until it holds at least
// maxEvals records or maxSeconds of accumulated runtime, drops the
// numOutliers slowest records, and reports sum(workload)/sum(elapsed) where
// workload is the volume of the problem size.
type KernelResults struct {
	records     []measurement
	minEvals    int
	maxEvals    int
	maxSeconds  float64
	numOutliers int
}

// NewKernelResults returns the default measurement policy: up to 20
// evaluations or one second per configuration, discarding the single slowest
// run.
func NewKernelResults() KernelResults {
	return KernelResults{
		minEvals:    0,
		maxEvals:    20,
		maxSeconds:  1.0,
		numOutliers: 1,
	}
}

// NewKernelResultsPolicy builds a custom measurement policy.
func NewKernelResultsPolicy(minEvals, maxEvals int, maxSeconds float64, numOutliers int) KernelResults {
	return KernelResults{
		minEvals:    minEvals,
		maxEvals:    maxEvals,
		maxSeconds:  maxSeconds,
		numOutliers: numOutliers,
	}
}

func (r *KernelResults) Reset() {
	r.records = r.records[:0]
}

func (r *KernelResults) Add(problem Dim3, seconds float64) {
	r.records = append(r.records, measurement{problem: problem, seconds: seconds})
}

func (r *KernelResults) Len() int { return len(r.records) }

// Collect returns the aggregated performance once enough records are
// present. It requires at least minEvals+numOutliers records and keeps
// asking for more until maxEvals records or maxSeconds of total elapsed
// time.
func (r *KernelResults) Collect() (float64, bool) {
	if len(r.records) < r.minEvals+r.numOutliers {
		return 0, false
	}

	// Slowest first, so outliers sit at the front.
	sort.Slice(r.records, func(i, j int) bool {
		return r.records[i].seconds > r.records[j].seconds
	})

	totalTime := 0.0
	totalWorkload := 0.0
	for _, m := range r.records[min(r.numOutliers, len(r.records)):] {
		totalWorkload += m.problem.Volume()
		totalTime += m.seconds
	}

	if len(r.records) < r.maxEvals && totalTime < r.maxSeconds {
		return 0, false
	}
	if totalTime <= 0 {
		return 0, false
	}
	return totalWorkload / totalTime, true
}
