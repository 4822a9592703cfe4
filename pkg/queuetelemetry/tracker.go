package queuetelemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/libreqos/lqosd/pkg/log"
	"github.com/libreqos/lqosd/pkg/tchandle"
)

// Direction distinguishes download and upload matching: a circuit's
// download match uses its parent class id, its upload match uses the
// upload-direction parent.
type Direction int

const (
	Download Direction = iota
	Upload
)

type trackerKey struct {
	circuitHash uint64
	dir         Direction
}

// Tracker maintains a circuit → {drops_now, marks_now, drops_prev,
// marks_prev} mapping per direction, rotated on every tick.
type Tracker struct {
	mu         sync.Mutex
	state      map[trackerKey]DeltaCounters
	throughput map[trackerKey]throughputCounters
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		state:      make(map[trackerKey]DeltaCounters),
		throughput: make(map[trackerKey]throughputCounters),
	}
}

// throughputCounters is Observe's byte/packet counterpart, used to
// turn a qdisc's cumulative counters into a per-tick delta for the
// session-buffer entry a circuit feeds.
type throughputCounters struct {
	BytesNow, PacketsNow   uint64
	BytesPrev, PacketsPrev uint64
	havePrev               bool
}

func (c throughputCounters) delta() (bytes, packets uint64, ok bool) {
	if !c.havePrev {
		return 0, 0, false
	}
	if c.BytesNow < c.BytesPrev || c.PacketsNow < c.PacketsPrev {
		return 0, 0, false
	}
	return c.BytesNow - c.BytesPrev, c.PacketsNow - c.PacketsPrev, true
}

// ObserveThroughput is Observe's byte/packet counterpart: it rotates
// the previous sample and returns the delta since the last tick, same
// monotonic-reset handling as Observe.
func (t *Tracker) ObserveThroughput(circuitHash uint64, dir Direction, bytes, packets uint64) (deltaBytes, deltaPackets uint64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := trackerKey{circuitHash, dir}
	prev := t.throughput[key]
	current := throughputCounters{
		BytesNow:    bytes,
		PacketsNow:  packets,
		BytesPrev:   prev.BytesNow,
		PacketsPrev: prev.PacketsNow,
		havePrev:    prev.havePrev,
	}
	t.throughput[key] = throughputCounters{BytesNow: bytes, PacketsNow: packets, havePrev: true}
	return current.delta()
}

// Observe rotates the previous sample to current and records the new
// sample for a circuit's handle in the given direction, returning the
// delta if one is available this tick.
func (t *Tracker) Observe(circuitHash uint64, dir Direction, drops, marks uint64) (deltaDrops, deltaMarks uint64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := trackerKey{circuitHash, dir}
	prev := t.state[key]

	current := DeltaCounters{
		DropsNow:  drops,
		MarksNow:  marks,
		DropsPrev: prev.DropsNow,
		MarksPrev: prev.MarksNow,
		havePrev:  prev.havePrev,
	}
	t.state[key] = DeltaCounters{DropsNow: drops, MarksNow: marks, havePrev: true}
	return current.Delta()
}

// MatchCircuit picks the handle a circuit should be matched against
// for the given direction: in single-interface mode the upload match
// uses the upload-direction parent; in dual-interface mode both
// directions are polled on their own interface and matched against
// the download parent. The asymmetry is deliberate.
func MatchCircuit(parentClassID, upParentClassID tchandle.Handle, dir Direction, singleInterface bool) tchandle.Handle {
	if dir == Upload && singleInterface {
		return upParentClassID
	}
	return parentClassID
}

// Sampler runs the single-threaded poll loop: it ticks on a fixed
// interval, guarded by a busy flag so at most one sample is in flight,
// and skips (with a warning) any tick whose processing is still
// running when the next one fires.
type Sampler struct {
	Interval time.Duration
	Collect  func(ctx context.Context) error

	busy int32
}

// Run blocks until ctx is canceled, invoking Collect on every tick
// that isn't skipped for overrun.
func (s *Sampler) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sampler) tick(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&s.busy, 0, 1) {
		log.Logger.Warn().Msg("queue telemetry tick skipped: previous sample still running")
		return
	}
	defer atomic.StoreInt32(&s.busy, 0)
	if err := s.Collect(ctx); err != nil {
		log.Logger.Warn().Err(err).Msg("queue telemetry sample failed")
	}
}
