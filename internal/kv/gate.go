package kv

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// gateReaders bounds concurrent readers; a writer takes every slot.
const gateReaders = 1 << 30

// gate admits any number of readers or one writer. Waiting ends when ctx
// is done. A queued writer holds back later readers.
type gate struct {
	sem *semaphore.Weighted
}

func newGate() *gate {
	return &gate{sem: semaphore.NewWeighted(gateReaders)}
}

func gateWeight(writable bool) int64 {
	if writable {
		return gateReaders
	}
	return 1
}

func (g *gate) enter(ctx context.Context, writable bool) error {
	return g.sem.Acquire(ctx, gateWeight(writable))
}

func (g *gate) leave(writable bool) {
	g.sem.Release(gateWeight(writable))
}
