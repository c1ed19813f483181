// Package gate caps how many video downloads run at once. A single Gate is created by whoever owns the application
// lifetime and handed to every job that needs it.
package gate

import (
	"context"
	"sync"

	"go.uber.org/atomic"
	"golang.org/x/sync/semaphore"
)

const DefaultCapacity = 8

type Gate struct {
	capacity int64
	sem      *semaphore.Weighted
	inUse    atomic.Int64
}

// New creates a Gate with the given number of slots; capacity <= 0 means DefaultCapacity.
func New(capacity int) *Gate {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Gate{
		capacity: int64(capacity),
		sem:      semaphore.NewWeighted(int64(capacity)),
	}
}

// Acquire waits for a free slot. The returned Permit must be released; Release is safe to call more than once.
func (g *Gate) Acquire(ctx context.Context) (*Permit, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	g.inUse.Inc()
	return &Permit{gate: g}, nil
}

// Do runs f while holding a slot. The slot is released however f exits, including by panic.
func (g *Gate) Do(ctx context.Context, f func(ctx context.Context) error) error {
	permit, err := g.Acquire(ctx)
	if err != nil {
		return err
	}
	defer permit.Release()
	return f(ctx)
}

func (g *Gate) Capacity() int {
	return int(g.capacity)
}

// InUse is the number of slots currently held.
func (g *Gate) InUse() int {
	return int(g.inUse.Load())
}

type Permit struct {
	gate *Gate
	once sync.Once
}

func (p *Permit) Release() {
	p.once.Do(func() {
		p.gate.inUse.Dec()
		p.gate.sem.Release(1)
	})
}
