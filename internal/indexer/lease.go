package indexer

import "sync"

// leaseRegistry hands out a per-bundle mutex from a shared sync.Map. It
// guarantees the indexer serializes concurrent index
// requests for the same bundle (spec §4.6: "single-writer per bundle").
type leaseRegistry struct {
	locks sync.Map // bundleID -> *sync.Mutex
}

func (r *leaseRegistry) lockFor(bundleID string) *sync.Mutex {
	actual, _ := r.locks.LoadOrStore(bundleID, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// acquire blocks until the bundle's lease is free.
func (r *leaseRegistry) acquire(bundleID string) func() {
	mu := r.lockFor(bundleID)
	mu.Lock()
	return mu.Unlock
}

// tryAcquire returns (release, true) if the bundle's lease was free, or
// (nil, false) if another index run currently holds it.
func (r *leaseRegistry) tryAcquire(bundleID string) (func(), bool) {
	mu := r.lockFor(bundleID)
	if !mu.TryLock() {
		return nil, false
	}
	return mu.Unlock, true
}
