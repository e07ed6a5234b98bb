// Package hwinfo probes the hardware topology visible to the process.
// It is consulted once at scheduler startup to size the worker pool.
package hwinfo

import (
	"runtime"

	"fortio.org/safecast"
)

// Info describes the usable compute topology.
type Info struct {
	// NumCores is the number of logical cores available to the process.
	NumCores int
	// MaxThreads is the number of OS threads the Go runtime will use
	// for simultaneously executing goroutines.
	MaxThreads int
}

// Probe returns the current topology as reported by the Go runtime.
// WorkerCount still guards against Info values with no usable count.
func Probe() Info {
	cores := runtime.NumCPU()
	threads := runtime.GOMAXPROCS(0)
	return Info{NumCores: cores, MaxThreads: threads}
}

// WorkerCount derives the worker pool size from the topology,
// falling back to two workers when the probe came up empty.
func (i Info) WorkerCount() int {
	n := i.NumCores
	if i.MaxThreads > 0 && i.MaxThreads < n {
		n = i.MaxThreads
	}
	if n <= 0 {
		return 2
	}
	if _, err := safecast.Conv[int32](n); err != nil {
		return 2
	}
	return n
}
