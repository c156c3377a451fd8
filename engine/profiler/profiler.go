// Package profiler collects render job statistics and periodically logs them alongside memory statistics.
package profiler

import (
	"log/slog"
	"maps"
	"runtime"
	"sync"
	"time"

	"github.com/Carmen-Shannon/gltf2image/engine/logging"
)

// Snapshot is a point-in-time copy of the job statistics.
type Snapshot struct {
	// Jobs is the number of jobs recorded.
	Jobs uint64 `json:"jobs"`

	// Succeeded is the number of jobs recorded without a failure outcome.
	Succeeded uint64 `json:"succeeded"`

	// Failures counts failed jobs per outcome label.
	Failures map[string]uint64 `json:"failures"`

	// Last, Average and Max are job durations.
	Last    time.Duration `json:"lastNs"`
	Average time.Duration `json:"averageNs"`
	Max     time.Duration `json:"maxNs"`
}

// Profiler tracks job counts, durations and memory statistics for performance monitoring.
// Outputs a summary to its logger at a configurable interval. Safe for concurrent use.
type Profiler struct {
	mu *sync.Mutex

	logger         *slog.Logger
	updateInterval time.Duration

	jobs      uint64
	succeeded uint64
	failures  map[string]uint64
	total     time.Duration
	last      time.Duration
	longest   time.Duration

	windowJobs     int
	lastTime       time.Time
	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64
}

// NewProfiler creates a new Profiler. Update interval defaults to 1 minute.
//
// Parameters:
//   - options: functional options for profiler configuration
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler(options ...ProfilerBuilderOption) *Profiler {
	p := &Profiler{
		mu:             &sync.Mutex{},
		logger:         logging.Nop(),
		updateInterval: time.Minute,
		failures:       make(map[string]uint64),
		lastTime:       time.Now(),
	}
	for _, option := range options {
		option(p)
	}
	return p
}

// Record adds one finished job. Logs a summary when the update interval has elapsed.
//
// Parameters:
//   - elapsed: how long the job took
//   - failure: the failure label, or "" for a successful job
//
// Returns:
//   - bool: true if stats were logged by this call
func (p *Profiler) Record(elapsed time.Duration, failure string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.jobs++
	p.windowJobs++
	p.total += elapsed
	p.last = elapsed
	p.longest = max(p.longest, elapsed)
	if failure == "" {
		p.succeeded++
	} else {
		p.failures[failure]++
	}

	currentTime := time.Now()
	elapsedWindow := currentTime.Sub(p.lastTime)
	if elapsedWindow < p.updateInterval {
		return false
	}

	runtime.ReadMemStats(&p.memStats)
	// Alloc is live heap, Sys is the process footprint obtained from the OS.
	allocMB := float64(p.memStats.Alloc) / 1024 / 1024
	sysMB := float64(p.memStats.Sys) / 1024 / 1024
	allocDelta := p.memStats.TotalAlloc - p.lastTotalAlloc
	allocRateMB := float64(allocDelta) / 1024 / 1024 / elapsedWindow.Seconds()

	p.logger.Info("render stats",
		"jobsPerSec", float64(p.windowJobs)/elapsedWindow.Seconds(),
		"jobs", p.jobs,
		"failed", p.jobs-p.succeeded,
		"avg", p.average(),
		"max", p.longest,
		"heapMB", allocMB,
		"allocRateMBps", allocRateMB,
		"gc", p.memStats.NumGC-p.lastGCCount,
		"sysMB", sysMB,
	)

	p.windowJobs = 0
	p.lastTime = currentTime
	p.lastGCCount = p.memStats.NumGC
	p.lastTotalAlloc = p.memStats.TotalAlloc
	return true
}

// Snapshot returns a copy of the current statistics.
//
// Returns:
//   - Snapshot: the statistics
func (p *Profiler) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Snapshot{
		Jobs:      p.jobs,
		Succeeded: p.succeeded,
		Failures:  maps.Clone(p.failures),
		Last:      p.last,
		Average:   p.average(),
		Max:       p.longest,
	}
}

// average returns the mean job duration. Caller holds p.mu.
func (p *Profiler) average() time.Duration {
	if p.jobs == 0 {
		return 0
	}
	return p.total / time.Duration(p.jobs)
}
