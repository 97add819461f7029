package transposition

import (
	"errors"
	"math"
	"runtime"
	"runtime/debug"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

var ErrSystemBusy = errors.New("too many matrix transpositions in progress, please retry later")

const (
	// rough heap footprint of one transposed genotype call
	bytesPerCall = 24
	// share of the available heap a single transposition may plan for
	heapShareDivisor = 4
)

type CoordinatorOptions struct {
	MaxConcurrent int
	Workers       int
	MemoryMiB     int
	BlockSize     int
}

// Coordinator is shared by every import of the process: it limits how many
// transpositions run at once and sizes their blocks.
type Coordinator struct {
	admission     *semaphore.Weighted
	maxConcurrent int
	workers       int
	memoryBudget  int64
	blockSize     int

	active   atomic.Int64
	rejected atomic.Int64
}

func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &Coordinator{
		admission:     semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		maxConcurrent: opts.MaxConcurrent,
		workers:       opts.Workers,
		memoryBudget:  int64(opts.MemoryMiB) << 20,
		blockSize:     opts.BlockSize,
	}
}

// Acquire fails fast with ErrSystemBusy instead of queueing.
func (c *Coordinator) Acquire() (func(), error) {
	if !c.admission.TryAcquire(1) {
		c.rejected.Add(1)
		return nil, ErrSystemBusy
	}
	c.active.Add(1)
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			c.active.Add(-1)
			c.admission.Release(1)
		}
	}, nil
}

func (c *Coordinator) Workers() int    { return c.workers }
func (c *Coordinator) Active() int64   { return c.active.Load() }
func (c *Coordinator) Rejected() int64 { return c.rejected.Load() }

// availableHeap prefers the runtime memory limit when one is set and falls
// back to the configured budget.
func (c *Coordinator) availableHeap() int64 {
	limit := debug.SetMemoryLimit(-1)
	if limit <= 0 || limit == math.MaxInt64 {
		return c.memoryBudget
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	available := limit - int64(ms.HeapAlloc)
	if available <= 0 {
		return c.memoryBudget / 8
	}
	return available
}

// BlockSize returns how many markers one worker transposes at a time.
func (c *Coordinator) BlockSize(markers int, individuals int, workers int) int {
	if markers <= 0 {
		return 1
	}
	if workers <= 0 {
		workers = 1
	}
	ceiling := (markers + workers - 1) / workers

	size := c.blockSize
	if size <= 0 {
		perMarker := int64(individuals+1) * bytesPerCall
		share := c.availableHeap() / heapShareDivisor / int64(c.maxConcurrent) / int64(workers)
		size = int(share / perMarker)
	}
	if size < 1 {
		size = 1
	}
	if size > ceiling {
		size = ceiling
	}
	return size
}
