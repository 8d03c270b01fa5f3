package core

// gate.go enforces single-flight execution of mutating operations.
//
// One service instance runs exactly one upload, undo or reset end to end
// before accepting another. A second caller is turned away immediately with
// System/operation_in_progress instead of queueing behind the first.

import (
	"context"
	"sync"
	"time"
)

// FlightGate is a one-slot semaphore that remembers what holds it.
type FlightGate struct {
	slot chan struct{}

	mu     sync.RWMutex
	holder string
	since  time.Time
}

// NewFlightGate creates an open gate.
func NewFlightGate() *FlightGate {
	return &FlightGate{slot: make(chan struct{}, 1)}
}

// TryEnter claims the gate for op without blocking. The caller MUST call
// Leave when the operation finishes (use defer).
func (g *FlightGate) TryEnter(op string) error {
	select {
	case g.slot <- struct{}{}:
		g.mu.Lock()
		g.holder, g.since = op, time.Now()
		g.mu.Unlock()
		return nil
	default:
		g.mu.RLock()
		holder := g.holder
		g.mu.RUnlock()
		return NewError(KindSystem, SubOperationInProgress, map[string]any{
			"operation": op,
			"active":    holder,
		})
	}
}

// Leave releases the gate. Must be called exactly once per successful TryEnter.
func (g *FlightGate) Leave() {
	g.mu.Lock()
	g.holder, g.since = "", time.Time{}
	g.mu.Unlock()
	<-g.slot
}

// Busy reports whether an operation holds the gate.
func (g *FlightGate) Busy() bool {
	return len(g.slot) > 0
}

// GateStatus is a point-in-time view of the gate for status endpoints.
type GateStatus struct {
	Busy      bool      `json:"busy"`
	Operation string    `json:"operation,omitempty"`
	Since     time.Time `json:"since,omitempty"`
}

// Status returns the current holder, if any.
func (g *FlightGate) Status() GateStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return GateStatus{Busy: g.holder != "", Operation: g.holder, Since: g.since}
}

// WaitForDrain blocks until no operation holds the gate or ctx is done.
// Used for graceful shutdown so a commit in flight is not cut off.
func (g *FlightGate) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if !g.Busy() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
