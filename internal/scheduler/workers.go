package scheduler

import (
	"runtime"
)

const (
	// DefaultMinWorkers is the floor applied when sizing a pool.
	DefaultMinWorkers = 2
	// DefaultMaxWorkers is the ceiling applied when sizing a pool.
	DefaultMaxWorkers = 8

	// reservedCores stays free for the runtime and the ops server.
	reservedCores = 2

	// busyGoroutinesPerCore marks the load level above which the pool
	// shrinks. Heavily loaded processes get half the workers.
	busyGoroutinesPerCore = 100

	// busyHeapFraction is the in-use share of the heap above which the
	// pool shrinks.
	busyHeapFraction = 0.85
)

// Reading is a snapshot of system load used to size worker pools.
type Reading struct {
	CPUs       int
	Goroutines int
	HeapInUse  uint64
	HeapSys    uint64
}

// Probe supplies load readings. The default probe reads the Go runtime;
// tests substitute fixed readings.
type Probe interface {
	Read() Reading
}

type runtimeProbe struct{}

func (runtimeProbe) Read() Reading {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return Reading{
		CPUs:       runtime.NumCPU(),
		Goroutines: runtime.NumGoroutine(),
		HeapInUse:  ms.HeapInuse,
		HeapSys:    ms.HeapSys,
	}
}

// WorkerOption adjusts OptimalWorkers.
type WorkerOption func(*workerOptions)

type workerOptions struct {
	minWorkers    int
	maxWorkers    int
	memoryPerItem uint64
	probe         Probe
}

// WithMinWorkers overrides the pool floor.
func WithMinWorkers(n int) WorkerOption {
	return func(o *workerOptions) {
		if n > 0 {
			o.minWorkers = n
		}
	}
}

// WithMaxWorkers overrides the pool ceiling.
func WithMaxWorkers(n int) WorkerOption {
	return func(o *workerOptions) {
		if n > 0 {
			o.maxWorkers = n
		}
	}
}

// WithMemoryPerItem caps the pool by the estimated bytes one in-flight
// item consumes.
func WithMemoryPerItem(bytes uint64) WorkerOption {
	return func(o *workerOptions) {
		o.memoryPerItem = bytes
	}
}

// WithProbe substitutes the load probe. Used by tests.
func WithProbe(p Probe) WorkerOption {
	return func(o *workerOptions) {
		if p != nil {
			o.probe = p
		}
	}
}

// OptimalWorkers sizes a worker pool for itemCount items.
//
// It starts from the available CPU cores minus a reserve, caps by
// available memory when a per-item estimate is given, halves the pool
// under heavy goroutine or heap pressure, clamps to the configured
// bounds, and never exceeds itemCount. The result is always at least 1
// and the function never fails; a broken probe falls back to the floor.
func OptimalWorkers(itemCount int, opts ...WorkerOption) int {
	o := workerOptions{
		minWorkers: DefaultMinWorkers,
		maxWorkers: DefaultMaxWorkers,
		probe:      runtimeProbe{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxWorkers < o.minWorkers {
		o.maxWorkers = o.minWorkers
	}

	reading := safeRead(o.probe)

	workers := reading.CPUs - reservedCores
	if workers < 1 {
		workers = 1
	}

	if o.memoryPerItem > 0 && reading.HeapSys > reading.HeapInUse {
		available := reading.HeapSys - reading.HeapInUse
		byMemory := int(available / o.memoryPerItem)
		if byMemory < 1 {
			byMemory = 1
		}
		if byMemory < workers {
			workers = byMemory
		}
	}

	if isBusy(reading) {
		workers /= 2
		if workers < 1 {
			workers = 1
		}
	}

	if workers < o.minWorkers {
		workers = o.minWorkers
	}
	if workers > o.maxWorkers {
		workers = o.maxWorkers
	}
	if itemCount > 0 && workers > itemCount {
		workers = itemCount
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}

func isBusy(r Reading) bool {
	if r.CPUs > 0 && r.Goroutines > r.CPUs*busyGoroutinesPerCore {
		return true
	}
	if r.HeapSys > 0 && float64(r.HeapInUse)/float64(r.HeapSys) > busyHeapFraction {
		return true
	}
	return false
}

func safeRead(p Probe) (r Reading) {
	defer func() {
		if recover() != nil {
			r = Reading{CPUs: 1}
		}
	}()
	return p.Read()
}
