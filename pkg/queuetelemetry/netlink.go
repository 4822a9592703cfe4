package queuetelemetry

// NetlinkReader collects qdisc stats without fork/exec.
// jsimonetti/rtnetlink only covers links/addresses/routes/neighbours,
// not qdiscs, so the qdisc dump request (RTM_GETQDISC) is built by
// hand on top of the lower-level mdlayher/netlink connection rtnetlink
// is itself built on. Only the generic counters every qdisc carries
// (kind, handle, parent, drops) come back this way; the CAKE tin /
// fq_codel flow-count breakdowns still come from the tc JSON parser in
// parser.go, since decoding those kernel structs over netlink needs
// kind-specific layouts no library in this module's dependency set
// provides.

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/jsimonetti/rtnetlink"
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"

	"github.com/libreqos/lqosd/pkg/tchandle"
)

// InterfaceExists opens a route netlink socket and checks whether the
// named interface is present on the host, without invoking `ip` or
// `tc`.
func InterfaceExists(name string) (bool, error) {
	conn, err := rtnetlink.Dial(nil)
	if err != nil {
		return false, fmt.Errorf("queuetelemetry: dial rtnetlink: %w", err)
	}
	defer conn.Close()

	links, err := conn.Link.List()
	if err != nil {
		return false, fmt.Errorf("queuetelemetry: list links: %w", err)
	}
	for _, l := range links {
		if l.Attributes != nil && l.Attributes.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func resolveIfindex(name string) (int, error) {
	conn, err := rtnetlink.Dial(nil)
	if err != nil {
		return 0, fmt.Errorf("queuetelemetry: dial rtnetlink: %w", err)
	}
	defer conn.Close()

	links, err := conn.Link.List()
	if err != nil {
		return 0, fmt.Errorf("queuetelemetry: list links: %w", err)
	}
	for _, l := range links {
		if l.Attributes != nil && l.Attributes.Name == name {
			return int(l.Index), nil
		}
	}
	return 0, fmt.Errorf("queuetelemetry: interface %q not found", name)
}

const (
	rtmGetQdisc = 38

	// Attribute IDs from the kernel's TCA_* enum
	// (include/uapi/linux/rtnetlink.h): TCA_KIND = 1, TCA_STATS2 = 7.
	tcaKind       = 1
	tcaStats2     = 7
	tcaStatsQueue = 3
)

// NetlinkReader samples qdisc counters straight from the kernel's
// route-netlink socket, as an alternative to shelling out to `tc`.
type NetlinkReader struct{}

// CollectStats dumps every qdisc attached to iface and normalizes the
// generic counters (kind, handle, parent, drops) into Records.
// Kind-specific detail fields are left nil; see the package comment.
func (NetlinkReader) CollectStats(ctx context.Context, iface string) ([]Record, error) {
	ifindex, err := resolveIfindex(iface)
	if err != nil {
		return nil, err
	}

	conn, err := netlink.Dial(unix.NETLINK_ROUTE, nil)
	if err != nil {
		return nil, fmt.Errorf("queuetelemetry: dial netlink: %w", err)
	}
	defer conn.Close()

	req := netlink.Message{
		Header: netlink.Header{
			Type:  rtmGetQdisc,
			Flags: netlink.Request | netlink.Dump,
		},
		Data: tcmsgRequest(ifindex),
	}
	replies, err := conn.Execute(req)
	if err != nil {
		return nil, fmt.Errorf("queuetelemetry: execute qdisc dump: %w", err)
	}

	now := time.Now().UTC()
	var out []Record
	for _, m := range replies {
		rec, ok := parseQdiscMessage(m, iface, now)
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// tcmsgRequest builds the tcmsg header RTM_GETQDISC expects: a 1-byte
// family, 3 bytes of padding, then a little-endian ifindex with the
// handle/parent/info fields zeroed for a dump request.
func tcmsgRequest(ifindex int) []byte {
	buf := make([]byte, 20)
	buf[0] = unix.AF_UNSPEC
	binary.LittleEndian.PutUint32(buf[4:8], uint32(ifindex))
	return buf
}

func parseQdiscMessage(m netlink.Message, iface string, now time.Time) (Record, bool) {
	if len(m.Data) < 20 {
		return Record{}, false
	}
	handle := binary.LittleEndian.Uint32(m.Data[8:12])
	parent := binary.LittleEndian.Uint32(m.Data[12:16])

	ad, err := netlink.NewAttributeDecoder(m.Data[20:])
	if err != nil {
		return Record{}, false
	}

	var kindStr string
	var drops uint64
	for ad.Next() {
		switch ad.Type() {
		case tcaKind:
			kindStr = strings.TrimRight(ad.String(), "\x00")
		case tcaStats2:
			drops = parseStatsQueueDrops(ad.Bytes())
		}
	}
	if ad.Err() != nil {
		return Record{}, false
	}

	kind := Kind(kindStr)
	switch kind {
	case KindCake, KindFqCodel, KindHTB, KindMQ:
	default:
		return Record{}, false
	}

	return Record{
		Kind:      kind,
		Interface: iface,
		Handle:    tchandle.FromU32(handle),
		Parent:    tchandle.FromU32(parent),
		Drops:     drops,
		SampledAt: now,
	}, true
}

// parseStatsQueueDrops decodes the TCA_STATS_QUEUE struct nested
// inside TCA_STATS2: four uint32 fields (qlen, backlog, drops,
// requeues) followed by overlimits; only drops is of interest here.
func parseStatsQueueDrops(nested []byte) uint64 {
	ad, err := netlink.NewAttributeDecoder(nested)
	if err != nil {
		return 0
	}
	for ad.Next() {
		if ad.Type() != tcaStatsQueue {
			continue
		}
		b := ad.Bytes()
		if len(b) >= 12 {
			return uint64(binary.LittleEndian.Uint32(b[8:12]))
		}
	}
	return 0
}
