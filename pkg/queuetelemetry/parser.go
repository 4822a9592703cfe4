package queuetelemetry

// CollectStats shells out to `tc -s -j qdisc show dev <if>` and parses
// the resulting JSON array. The same stats can be collected over a raw
// netlink socket instead, avoiding fork/exec entirely; see netlink.go
// for that alternate path.

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/libreqos/lqosd/pkg/log"
	"github.com/libreqos/lqosd/pkg/tchandle"
)

// CollectStats polls one interface and returns every recognized
// leaf/mq qdisc as a Record.
func CollectStats(ctx context.Context, iface string) ([]Record, error) {
	out, err := exec.CommandContext(ctx, "tc", "-s", "-j", "qdisc", "show", "dev", iface).Output()
	if err != nil {
		return nil, fmt.Errorf("tc -s -j qdisc show dev %s: %w", iface, err)
	}
	return ParseJSON(iface, out)
}

// ParseJSON decodes the array tc emits and normalizes each recognized
// object into a Record. Missing numeric fields default to zero;
// unparsable handle strings cause that single object to be skipped.
// ParseJSON itself only returns an error for fully malformed JSON.
func ParseJSON(iface string, raw []byte) ([]Record, error) {
	var arr []map[string]interface{}
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil, fmt.Errorf("queuetelemetry: decode tc json: %w", err)
	}
	now := time.Now().UTC()
	var out []Record
	for _, obj := range arr {
		kindStr, _ := obj["kind"].(string)
		kind := Kind(kindStr)
		switch kind {
		case KindCake, KindFqCodel, KindHTB, KindMQ:
		default:
			continue
		}
		rec := Record{Kind: kind, Interface: iface, SampledAt: now}
		if h, ok := obj["handle"].(string); ok {
			parsed, err := tchandle.Parse(h)
			if err != nil {
				// A malformed handle skips the whole record rather
				// than keeping it with a zero-value Handle.
				log.Logger.Debug().Str("interface", iface).Str("handle", h).Err(err).Msg("skipping qdisc sample: unparsable handle")
				continue
			}
			rec.Handle = parsed
		}
		if p, ok := obj["parent"].(string); ok && p != "root" {
			parsed, err := tchandle.Parse(p)
			if err != nil {
				log.Logger.Debug().Str("interface", iface).Str("parent", p).Err(err).Msg("skipping qdisc sample: unparsable parent handle")
				continue
			}
			rec.Parent = parsed
		}
		rec.Bytes, _ = getUint(obj, "bytes")
		rec.Packets, _ = getUint(obj, "packets")
		rec.Drops, _ = getUint(obj, "drops")
		rec.ECNMark, _ = getUint(obj, "ecn_mark")

		opts, _ := obj["options"].(map[string]interface{})
		switch kind {
		case KindCake:
			rec.Cake = parseCakeJSON(obj, opts)
		case KindFqCodel:
			rec.FqCodel = parseFqCodelJSON(obj, opts)
		case KindHTB:
			rec.HTB = parseHTBJSON(obj)
		}
		out = append(out, rec)
	}
	return out, nil
}

func parseCakeJSON(obj, opts map[string]interface{}) *CakeDetail {
	d := &CakeDetail{}
	if opts != nil {
		if bw, ok := opts["bandwidth"].(float64); ok {
			d.Bandwidth = fmt.Sprintf("%dbit", int64(bw))
		}
		if ds, ok := opts["diffserv"].(string); ok {
			d.DiffservMode = ds
		}
		if nat, ok := opts["nat"].(bool); ok {
			d.NATEnabled = nat
		}
		if rtt, ok := opts["rtt"].(float64); ok {
			d.RTT = fmt.Sprintf("%dms", int64(rtt/1000))
		}
		if ov, ok := opts["overhead"].(float64); ok {
			d.Overhead = fmt.Sprintf("%v", int64(ov))
		}
	}
	if tins, ok := obj["tins"].([]interface{}); ok {
		for _, ti := range tins {
			m, ok := ti.(map[string]interface{})
			if !ok {
				continue
			}
			var t CakeTier
			if v, ok := getUint(m, "threshold_rate"); ok {
				t.Thresh = fmt.Sprintf("%d", v)
			}
			if v, ok := getUint(m, "sent_bytes"); ok {
				t.Bytes = v
			}
			if v, ok := getUint(m, "sent_packets"); ok {
				t.Pkts = v
			}
			if v, ok := getUint(m, "drops"); ok {
				t.Drops = v
			}
			if v, ok := getUint(m, "ecn_mark"); ok {
				t.Marks = v
			}
			if v, ok := getUint(m, "max_pkt_len"); ok {
				t.MaxLen = v
			}
			if v, ok := getUint(m, "flow_quantum"); ok {
				t.Quantum = v
			}
			d.Tiers = append(d.Tiers, t)
		}
	}
	return d
}

func parseFqCodelJSON(obj, opts map[string]interface{}) *FqCodelDetail {
	d := &FqCodelDetail{}
	if opts != nil {
		d.Limit, _ = getUint(opts, "limit")
		d.Flows, _ = getUint(opts, "flows")
		d.Target, _ = getUint(opts, "target")
		d.Interval, _ = getUint(opts, "interval")
	}
	d.MaxPacket, _ = getUint(obj, "maxpacket")
	d.DropOverlimit, _ = getUint(obj, "drop_overlimit")
	d.NewFlowCount, _ = getUint(obj, "new_flow_count")
	d.NewFlowsLen, _ = getUint(obj, "new_flows_len")
	d.OldFlowsLen, _ = getUint(obj, "old_flows_len")
	return d
}

func parseHTBJSON(obj map[string]interface{}) *HTBDetail {
	d := &HTBDetail{}
	d.Borrows, _ = getUint(obj, "borrows")
	d.Lends, _ = getUint(obj, "lends")
	return d
}

func getUint(m map[string]interface{}, key string) (uint64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return uint64(t), true
	case string:
		var u uint64
		if _, err := fmt.Sscanf(t, "%d", &u); err == nil {
			return u, true
		}
	}
	return 0, false
}
