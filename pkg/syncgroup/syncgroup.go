// Package syncgroup wraps sync.WaitGroup for long-lived background
// loops: register functions, start them together, wait on shutdown.
package syncgroup

import "sync"

type groupFunc func()

// SyncGroup owns a set of goroutines started as a unit.
type SyncGroup struct {
	wg sync.WaitGroup

	mu      sync.Mutex
	fns     []groupFunc
	running int
}

// NewSyncGroup creates an empty group.
func NewSyncGroup() *SyncGroup {
	return &SyncGroup{}
}

// Add registers a function to run when the group starts. Adding while
// a previous batch is still running is ignored; call WaitAndClear
// between batches.
func (g *SyncGroup) Add(fn groupFunc) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running > 0 {
		return
	}
	g.fns = append(g.fns, fn)
}

// Run starts every registered function in its own goroutine and clears
// the registration list. A second Run while goroutines are still
// running is a no-op.
func (g *SyncGroup) Run() {
	g.mu.Lock()
	if g.running > 0 {
		g.mu.Unlock()
		return
	}
	fns := g.fns
	g.fns = nil
	g.running = len(fns)
	g.mu.Unlock()

	for _, fn := range fns {
		g.wg.Add(1)
		go func(do groupFunc) {
			defer func() {
				g.wg.Done()
				g.mu.Lock()
				g.running--
				g.mu.Unlock()
			}()
			do()
		}(fn)
	}
}

// Wait blocks until every started goroutine returns.
func (g *SyncGroup) Wait() {
	g.wg.Wait()
}

// WaitAndClear waits and then resets the group for reuse.
func (g *SyncGroup) WaitAndClear() {
	g.wg.Wait()
	g.mu.Lock()
	g.fns = nil
	g.running = 0
	g.mu.Unlock()
}
