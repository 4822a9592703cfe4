package main

import (
	"testing"
	"time"

	"github.com/libreqos/lqosd/pkg/plan"
	"github.com/libreqos/lqosd/pkg/queuetelemetry"
	"github.com/libreqos/lqosd/pkg/tchandle"
)

func TestBuildSessionEntryAttributesMatchedCircuitAndTotals(t *testing.T) {
	circuit := plan.Circuit{
		CircuitHash:     42,
		ParentClassID:   tchandle.New(1, 0x10),
		UpParentClassID: tchandle.New(1, 0x10),
		IPAddresses:     "192.0.2.5/32,2001:db8::5/128",
	}
	circuits := map[uint64]plan.Circuit{circuit.CircuitHash: circuit}
	tracker := queuetelemetry.NewTracker()

	records := []queuetelemetry.Record{
		{Kind: queuetelemetry.KindHTB, Interface: "eth0", Parent: tchandle.New(1, 0x10), Bytes: 1000, Packets: 10},
		{Kind: queuetelemetry.KindHTB, Interface: "eth0", Parent: tchandle.New(1, 0x99), Bytes: 500, Packets: 5},
	}

	// First tick establishes the baseline; no deltas yet.
	first := buildSessionEntry(records, circuits, tracker, true, "eth0", time.Second)
	if len(first.Hosts) != 0 || first.BpsDown != 0 {
		t.Fatalf("expected no data on the first observation, got %+v", first)
	}

	records[0].Bytes, records[0].Packets = 9000, 90
	records[1].Bytes, records[1].Packets = 2500, 25

	entry := buildSessionEntry(records, circuits, tracker, true, "eth0", time.Second)
	if len(entry.Hosts) != 1 {
		t.Fatalf("expected exactly one matched host observation, got %d", len(entry.Hosts))
	}
	h := entry.Hosts[0]
	if h.CircuitHash != circuit.CircuitHash {
		t.Errorf("circuit hash = %d, want %d", h.CircuitHash, circuit.CircuitHash)
	}
	if h.IP != "192.0.2.5" {
		t.Errorf("host ip = %q, want 192.0.2.5 (stripped of /32)", h.IP)
	}
	wantBitsDown := uint64((9000 - 1000) * 8)
	if h.BitsDown != wantBitsDown {
		t.Errorf("host bits down = %d, want %d", h.BitsDown, wantBitsDown)
	}

	wantTotalBpsDown := wantBitsDown + uint64((2500-500)*8)
	if entry.BpsDown != wantTotalBpsDown {
		t.Errorf("total bps down = %d, want %d (matched + unmatched handle)", entry.BpsDown, wantTotalBpsDown)
	}
	if entry.ShapedBpsDown != wantBitsDown {
		t.Errorf("shaped bps down = %d, want %d (only the matched circuit)", entry.ShapedBpsDown, wantBitsDown)
	}
}

func TestBuildSessionEntrySkipsCounterReset(t *testing.T) {
	circuits := map[uint64]plan.Circuit{}
	tracker := queuetelemetry.NewTracker()
	records := []queuetelemetry.Record{
		{Kind: queuetelemetry.KindHTB, Interface: "eth0", Parent: tchandle.New(1, 0x10), Bytes: 5000, Packets: 50},
	}
	buildSessionEntry(records, circuits, tracker, true, "eth0", time.Second)

	records[0].Bytes, records[0].Packets = 100, 2
	entry := buildSessionEntry(records, circuits, tracker, true, "eth0", time.Second)
	if entry.BpsDown != 0 || entry.PpsDown != 0 {
		t.Errorf("expected a counter reset to be skipped, got bps=%d pps=%d", entry.BpsDown, entry.PpsDown)
	}
}
