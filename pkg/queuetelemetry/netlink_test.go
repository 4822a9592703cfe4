package queuetelemetry

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/mdlayher/netlink"
)

func appendTLV(buf []byte, attrType uint16, value []byte) []byte {
	length := uint16(4 + len(value))
	header := make([]byte, 4)
	binary.LittleEndian.PutUint16(header[0:2], length)
	binary.LittleEndian.PutUint16(header[2:4], attrType)
	buf = append(buf, header...)
	buf = append(buf, value...)
	for len(buf)%4 != 0 {
		buf = append(buf, 0)
	}
	return buf
}

func cString(s string) []byte {
	return append([]byte(s), 0)
}

func TestTcmsgRequestEncodesIfindex(t *testing.T) {
	buf := tcmsgRequest(7)
	if len(buf) != 20 {
		t.Fatalf("len = %d, want 20", len(buf))
	}
	if got := binary.LittleEndian.Uint32(buf[4:8]); got != 7 {
		t.Errorf("ifindex = %d, want 7", got)
	}
}

func TestParseStatsQueueDropsDecodesNestedAttribute(t *testing.T) {
	statsQueue := make([]byte, 20) // qlen, backlog, drops, requeues, overlimits
	binary.LittleEndian.PutUint32(statsQueue[8:12], 42)
	nested := appendTLV(nil, tcaStatsQueue, statsQueue)

	if got := parseStatsQueueDrops(nested); got != 42 {
		t.Errorf("drops = %d, want 42", got)
	}
}

func TestParseQdiscMessageSkipsUnrecognizedKind(t *testing.T) {
	var body []byte
	body = append(body, make([]byte, 20)...) // tcmsg header
	body = appendTLV(body, tcaKind, cString("ingress"))

	m := netlink.Message{Data: body}
	if _, ok := parseQdiscMessage(m, "eth0", time.Now()); ok {
		t.Error("expected an unrecognized qdisc kind to be skipped")
	}
}

func TestParseQdiscMessageDecodesCakeDrops(t *testing.T) {
	body := make([]byte, 20)
	binary.LittleEndian.PutUint32(body[8:12], 0x10001) // handle 1:1
	binary.LittleEndian.PutUint32(body[12:16], 0xFFFFFFFF)
	body = appendTLV(body, tcaKind, cString("cake"))

	statsQueue := make([]byte, 20)
	binary.LittleEndian.PutUint32(statsQueue[8:12], 5)
	stats2 := appendTLV(nil, tcaStatsQueue, statsQueue)
	body = appendTLV(body, tcaStats2, stats2)

	m := netlink.Message{Data: body}
	rec, ok := parseQdiscMessage(m, "eth0", time.Now())
	if !ok {
		t.Fatal("expected a parsed cake record")
	}
	if rec.Kind != KindCake || rec.Drops != 5 || rec.Interface != "eth0" {
		t.Errorf("rec = %+v, want kind=cake drops=5 interface=eth0", rec)
	}
}
