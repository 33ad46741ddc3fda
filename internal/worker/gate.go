package worker

import "sync"

// Gate serializes the upload path. The orchestrator's drain loop and the
// privacy tier transition engine share one gate: a drain tick that finds the
// gate held is skipped, while a tier transition blocks until the in-progress
// drain finishes.
type Gate struct {
	mu sync.Mutex
}

// TryAcquire takes the gate without blocking. Returns false if it is held.
func (g *Gate) TryAcquire() bool {
	return g.mu.TryLock()
}

// Acquire blocks until the gate is free.
func (g *Gate) Acquire() {
	g.mu.Lock()
}

// Release frees the gate.
func (g *Gate) Release() {
	g.mu.Unlock()
}
