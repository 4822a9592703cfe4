// Package bakery implements the shaping-plan differ and the live plan
// it diffs against.
package bakery

import (
	"sync"

	"github.com/libreqos/lqosd/pkg/plan"
)

// LivePlan retains the two mappings the Bakery diffs the next batch
// against: last-applied sites and circuits, keyed by hash. It is
// exclusively owned by the Bakery while a diff is in flight. The
// Sites/Circuits fields are safe to read directly
// from the goroutine that owns the diff; CircuitsSnapshot is the
// cross-goroutine accessor for readers elsewhere, such as the queue
// telemetry sampler matching handles against live circuits.
type LivePlan struct {
	mu       sync.RWMutex
	Sites    map[uint64]plan.Site
	Circuits map[uint64]plan.Circuit
}

// NewLivePlan returns an empty LivePlan.
func NewLivePlan() *LivePlan {
	return &LivePlan{
		Sites:    make(map[uint64]plan.Site),
		Circuits: make(map[uint64]plan.Circuit),
	}
}

// Commit replaces the live state with the given sites/circuits. Called
// by the Bakery once a diff has been fully applied against the kernel,
// so that the next diff starts from the new authoritative state.
func (l *LivePlan) Commit(sites map[uint64]plan.Site, circuits map[uint64]plan.Circuit) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Sites = sites
	l.Circuits = circuits
}

// CircuitsSnapshot returns the current circuit set. Safe to call
// concurrently with Commit.
func (l *LivePlan) CircuitsSnapshot() map[uint64]plan.Circuit {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.Circuits
}
