// Package collator reduces the rolling per-second session buffer into
// periodic StatsSubmission envelopes, and maintains rolling 15-minute
// heatmaps for both aggregate traffic and per-ASN buckets.
package collator

import "time"

// HostObservation is one subscriber's sample within a SessionEntry.
// ASN is an optional classification of the host's observed traffic
// (0 means unclassified); it feeds the per-ASN heatmap buckets.
type HostObservation struct {
	IP          string
	CircuitHash uint64
	ASN         uint32
	BitsDown    uint64
	BitsUp      uint64
	MedianRTT   uint32 // hundredths of a millisecond
}

// TreeNode is one network-tree entry's sample within a SessionEntry.
type TreeNode struct {
	Name      string
	BitsDown  uint64
	BitsUp    uint64
	MedianRTT uint32
}

// SessionEntry is one per-second collection tick. All fields share a
// single timestamp.
type SessionEntry struct {
	Timestamp time.Time

	BpsDown, BpsUp             uint64
	PpsDown, PpsUp             uint64
	ShapedBpsDown, ShapedBpsUp uint64

	Hosts []HostObservation
	Tree  []TreeNode
}

// Reduction is a {min, max, avg} triple over a window. Invariant:
// Min <= Avg <= Max pointwise.
type Reduction struct {
	Min, Max, Avg float64
}

// Totals holds the window's aggregate reductions.
type Totals struct {
	BpsDown, BpsUp             Reduction
	PpsDown, PpsUp             Reduction
	ShapedBpsDown, ShapedBpsUp Reduction
}

// HostReduction is one host's reduced observations over the window.
// A host absent from every entry in the window is simply omitted from
// the submission.
type HostReduction struct {
	IP          string
	CircuitHash uint64
	BitsDown    Reduction
	BitsUp      Reduction
	RTT         Reduction
}

// TreeReduction is one tree node's reduced observations.
type TreeReduction struct {
	Name     string
	BitsDown Reduction
	BitsUp   Reduction
	RTT      Reduction
}

// StatsSubmission is the envelope pushed to the LTS queue.
type StatsSubmission struct {
	Timestamp      int64
	Totals         Totals
	Hosts          []HostReduction
	Tree           []TreeReduction
	CPUPerCore     []float64
	MemUsedPercent float64
}
