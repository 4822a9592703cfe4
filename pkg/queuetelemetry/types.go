// Package queuetelemetry samples qdisc statistics, normalizes them
// into a tagged record per leaf qdisc kind, and tracks monotonic
// counter deltas per circuit.
package queuetelemetry

import (
	"context"
	"time"

	"github.com/libreqos/lqosd/pkg/tchandle"
)

// Reader samples every recognized leaf qdisc on iface. TcReader
// (CollectStats, tc -s -j qdisc show) and NetlinkReader (RTM_GETQDISC)
// both satisfy it, selectable at daemon start.
type Reader interface {
	CollectStats(ctx context.Context, iface string) ([]Record, error)
}

// TcReader is a Reader backed by shelling out to tc, the default.
type TcReader struct{}

func (TcReader) CollectStats(ctx context.Context, iface string) ([]Record, error) {
	return CollectStats(ctx, iface)
}

// Kind is the recognized qdisc kind a sample can be tagged with. Any
// kind outside this set is skipped during parsing.
type Kind string

const (
	KindCake    Kind = "cake"
	KindFqCodel Kind = "fq_codel"
	KindHTB     Kind = "htb"
	KindMQ      Kind = "mq"
)

// CakeTier holds one diffserv tier's counters from a CAKE leaf qdisc.
type CakeTier struct {
	Name     string
	Thresh   string
	Target   string
	Interval string
	PkDelay  string
	AvDelay  string
	SpDelay  string
	Backlog  string
	Pkts     uint64
	Bytes    uint64
	Drops    uint64
	Marks    uint64
	MaxLen   uint64
	Quantum  uint64
}

// CakeDetail carries the CAKE-specific fields of a Record.
type CakeDetail struct {
	Bandwidth    string
	DiffservMode string
	RTT          string
	Overhead     string
	NATEnabled   bool
	Tiers        []CakeTier
}

// FqCodelDetail carries the fq_codel-specific fields of a Record.
type FqCodelDetail struct {
	Limit         uint64
	Flows         uint64
	Target        uint64
	Interval      uint64
	MaxPacket     uint64
	DropOverlimit uint64
	NewFlowCount  uint64
	NewFlowsLen   uint64
	OldFlowsLen   uint64
}

// HTBDetail carries the minimal HTB class fields a Record needs for
// matching a tree node (rate/ceil are already known from the desired
// plan; only the kernel-observed borrows/lends are of interest here).
type HTBDetail struct {
	Borrows uint64
	Lends   uint64
}

// Record is one sampled leaf qdisc, tagged by Kind.
// Records parsed from tc JSON populate exactly one of Cake/FqCodel/HTB,
// matching Kind; Mq records carry none (the mq qdisc itself has no
// interesting counters, it exists only as an attachment point).
// NetlinkReader records leave all three nil.
type Record struct {
	Kind      Kind
	Interface string
	Handle    tchandle.Handle
	Parent    tchandle.Handle
	Bytes     uint64
	Packets   uint64
	Drops     uint64
	ECNMark   uint64
	SampledAt time.Time

	Cake    *CakeDetail
	FqCodel *FqCodelDetail
	HTB     *HTBDetail
}

// DeltaCounters is the rotating current/previous counter pair tracked
// per circuit per direction.
type DeltaCounters struct {
	DropsNow, MarksNow   uint64
	DropsPrev, MarksPrev uint64
	havePrev             bool
}

// Delta reports {drops, marks} observed since the previous tick. The
// second return value is false when there is no previous sample yet,
// when neither counter increased, or when either counter decreased
// (treated as a kernel counter reset and skipped). One counter rising
// while the other is unchanged yields a delta.
func (d DeltaCounters) Delta() (drops, marks uint64, ok bool) {
	if !d.havePrev {
		return 0, 0, false
	}
	if d.DropsNow <= d.DropsPrev && d.MarksNow <= d.MarksPrev {
		return 0, 0, false
	}
	if d.DropsNow < d.DropsPrev || d.MarksNow < d.MarksPrev {
		return 0, 0, false
	}
	return d.DropsNow - d.DropsPrev, d.MarksNow - d.MarksPrev, true
}
