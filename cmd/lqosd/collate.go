package main

import (
	"strings"
	"time"

	"github.com/libreqos/lqosd/pkg/collator"
	"github.com/libreqos/lqosd/pkg/log"
	"github.com/libreqos/lqosd/pkg/plan"
	"github.com/libreqos/lqosd/pkg/queuetelemetry"
	"github.com/libreqos/lqosd/pkg/tchandle"
)

// circuitsByParent indexes circuits by the handle MatchCircuit says a
// sampled Record in the given direction should be matched against, so
// the asymmetric single-interface upload rule (download matches
// parent_class_id, upload matches up_parent_class_id) applies
// uniformly instead of accepting either handle regardless of
// direction.
func circuitsByParent(circuits map[uint64]plan.Circuit, dir queuetelemetry.Direction, singleInterface bool) map[tchandle.Handle]plan.Circuit {
	idx := make(map[tchandle.Handle]plan.Circuit, len(circuits))
	for _, c := range circuits {
		handle := queuetelemetry.MatchCircuit(c.ParentClassID, c.UpParentClassID, dir, singleInterface)
		idx[handle] = c
	}
	return idx
}

// firstIP returns the first address in a circuit's comma-separated
// IPAddresses list, with any CIDR suffix stripped, for the Session
// Buffer entry's per-host "ip" field.
func firstIP(addrs string) string {
	first, _, _ := strings.Cut(addrs, ",")
	first = strings.TrimSpace(first)
	if ip, _, ok := strings.Cut(first, "/"); ok {
		return ip
	}
	return first
}

// bpsInDirection returns bps if actual matches want, otherwise 0; used
// to route a single direction's delta into exactly one of
// ShapedBpsDown/ShapedBpsUp without a second branch per caller.
func bpsInDirection(actual, want queuetelemetry.Direction, bps uint64) uint64 {
	if actual == want {
		return bps
	}
	return 0
}

// buildSessionEntry turns one tick's queue telemetry samples into a
// collator.SessionEntry. A record whose parent handle matches a live
// circuit contributes a per-host bits/s observation; every record
// (matched or not) contributes to the tick's totals, since the mq
// root's own children still carry real link throughput even before a
// circuit is provisioned under them.
func buildSessionEntry(records []queuetelemetry.Record, circuits map[uint64]plan.Circuit, tracker *queuetelemetry.Tracker, singleInterface bool, downloadInterface string, interval time.Duration) collator.SessionEntry {
	if interval <= 0 {
		interval = time.Second
	}
	seconds := interval.Seconds()
	downIdx := circuitsByParent(circuits, queuetelemetry.Download, singleInterface)
	upIdx := circuitsByParent(circuits, queuetelemetry.Upload, singleInterface)
	hosts := make(map[uint64]*collator.HostObservation)

	entry := collator.SessionEntry{Timestamp: time.Now().UTC()}
	for _, rec := range records {
		if rec.Kind == queuetelemetry.KindMQ {
			continue
		}
		// Dual-interface mode tells the directions apart by NIC. In
		// single-interface mode both live on one NIC, so the direction
		// is whichever index the parent handle matches; upload-parented
		// classes that matched nothing still count as download totals.
		dir := queuetelemetry.Download
		if singleInterface {
			if _, isUp := upIdx[rec.Parent]; isUp {
				if _, isDown := downIdx[rec.Parent]; !isDown {
					dir = queuetelemetry.Upload
				}
			}
		} else if rec.Interface != downloadInterface {
			dir = queuetelemetry.Upload
		}

		key := uint64(rec.Parent.AsU32())
		deltaBytes, deltaPackets, ok := tracker.ObserveThroughput(key, dir, rec.Bytes, rec.Packets)
		if !ok {
			continue
		}
		if deltaDrops, _, ok := tracker.Observe(key, dir, rec.Drops, rec.ECNMark); ok && deltaDrops > 0 {
			log.Logger.Debug().
				Str("iface", rec.Interface).
				Str("handle", rec.Handle.String()).
				Uint64("drops", deltaDrops).
				Msg("qdisc dropped packets this tick")
		}
		bps := uint64(float64(deltaBytes*8) / seconds)
		pps := uint64(float64(deltaPackets) / seconds)

		if dir == queuetelemetry.Upload {
			entry.BpsUp += bps
			entry.PpsUp += pps
		} else {
			entry.BpsDown += bps
			entry.PpsDown += pps
		}

		idx := downIdx
		if dir == queuetelemetry.Upload {
			idx = upIdx
		}
		circuit, matched := idx[rec.Parent]
		if !matched {
			continue
		}
		entry.ShapedBpsDown += bpsInDirection(dir, queuetelemetry.Download, bps)
		entry.ShapedBpsUp += bpsInDirection(dir, queuetelemetry.Upload, bps)

		h, ok := hosts[circuit.CircuitHash]
		if !ok {
			h = &collator.HostObservation{IP: firstIP(circuit.IPAddresses), CircuitHash: circuit.CircuitHash}
			hosts[circuit.CircuitHash] = h
		}
		if dir == queuetelemetry.Upload {
			h.BitsUp += bps
		} else {
			h.BitsDown += bps
		}
	}

	for _, h := range hosts {
		entry.Hosts = append(entry.Hosts, *h)
	}
	return entry
}
