package gateway

import (
	"context"
	"sync/atomic"
)

// inspectionSlots bounds how many requests are inspected at once. A game
// client can open many simultaneous connections; without a cap a flood of
// captured requests would pile goroutines onto the profiler locks.
type inspectionSlots struct {
	sem      chan struct{}
	rejected atomic.Int64
}

func newInspectionSlots(capacity int) *inspectionSlots {
	if capacity <= 0 {
		capacity = 128
	}
	return &inspectionSlots{sem: make(chan struct{}, capacity)}
}

// acquire blocks until a slot frees up or the request's connection is gone.
func (s *inspectionSlots) acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		s.rejected.Add(1)
		return ctx.Err()
	}
}

func (s *inspectionSlots) release() {
	select {
	case <-s.sem:
	default:
	}
}

func (s *inspectionSlots) inUse() int { return len(s.sem) }

func (s *inspectionSlots) capacity() int { return cap(s.sem) }

// rejectedCount reports inspections abandoned because the connection went
// away while waiting for a slot.
func (s *inspectionSlots) rejectedCount() int64 { return s.rejected.Load() }
