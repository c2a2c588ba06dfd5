package sfu

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/dkeye/Huddle/internal/core"
)

type Selection string

const (
	RoundRobin  Selection = "round_robin"
	LeastLoaded Selection = "least_loaded"
)

func ParseSelection(raw string) (Selection, error) {
	switch s := Selection(raw); s {
	case RoundRobin, LeastLoaded:
		return s, nil
	case "":
		return RoundRobin, nil
	default:
		return "", fmt.Errorf("unknown worker selection %q", raw)
	}
}

// WorkerCount is the number of workers to provision: configured when
// positive, otherwise one per CPU. Platforms without processes get one.
func WorkerCount(configured int) int {
	switch runtime.GOOS {
	case "js", "wasip1":
		return 1
	}
	if configured > 0 {
		return configured
	}
	return max(runtime.NumCPU(), 1)
}

// pool hands out the engine's workers. It never creates or replaces
// one; load is the number of live routers on each.
type pool struct {
	mu        sync.Mutex
	workers   []core.MediaWorker
	load      []int
	next      int
	selection Selection
}

func newPool(workers []core.MediaWorker, selection Selection) *pool {
	return &pool{
		workers:   workers,
		load:      make([]int, len(workers)),
		selection: selection,
	}
}

// acquire picks a worker and counts a router on it. The returned index
// goes back to release.
func (p *pool) acquire() (core.MediaWorker, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.workers) == 0 {
		return nil, -1, &MediaError{Op: "select worker", Err: fmt.Errorf("no media workers")}
	}
	i := 0
	switch p.selection {
	case LeastLoaded:
		for j := range p.load {
			if p.load[j] < p.load[i] {
				i = j
			}
		}
	default:
		i = p.next
		p.next = (p.next + 1) % len(p.workers)
	}
	p.load[i]++
	return p.workers[i], i, nil
}

func (p *pool) release(i int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i >= 0 && i < len(p.load) && p.load[i] > 0 {
		p.load[i]--
	}
}

// Load returns the router count per worker.
func (p *pool) Load() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, len(p.load))
	copy(out, p.load)
	return out
}
