package vm

import "sync"

// Barrier is a reusable rendezvous for a fixed number of lanes. Every call
// to Wait blocks until n lanes have called it, then all of them proceed and
// the barrier resets for the next phase.
//
// A broken barrier releases all current and future waiters immediately;
// Wait then reports false. A lane that faults breaks the barrier so its
// siblings do not wait forever.
type Barrier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	n       int
	waiting int
	gen     uint64
	broken  bool
}

// NewBarrier returns a barrier for n lanes.
func NewBarrier(n int) *Barrier {
	b := &Barrier{n: n}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Wait blocks until all lanes arrive. It returns false if the barrier is
// broken.
func (b *Barrier) Wait() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.broken {
		return false
	}
	gen := b.gen
	b.waiting++
	if b.waiting == b.n {
		b.waiting = 0
		b.gen++
		b.cond.Broadcast()
		return true
	}
	for gen == b.gen && !b.broken {
		b.cond.Wait()
	}
	return !b.broken || gen != b.gen
}

// Break releases all waiters and makes every later Wait return false.
func (b *Barrier) Break() {
	b.mu.Lock()
	b.broken = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Broken reports whether Break has been called.
func (b *Barrier) Broken() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.broken
}
