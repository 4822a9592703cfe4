package bus

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/libreqos/lqosd/pkg/tchandle"
)

// flowEntry is one mapped address held by InProcessServer.
type flowEntry struct {
	addr      string
	prefixLen int
	tc        tchandle.Handle
	cpu       uint32
}

// InProcessServer is an in-process stand-in for the eBPF/XDP map RPC
// surface. It holds the down/up flow tables a real datapath would
// otherwise maintain in kernel maps.
type InProcessServer struct {
	mu   sync.Mutex
	down map[string]flowEntry
	up   map[string]flowEntry

	hotCacheClears uint64
}

// NewInProcessServer returns an empty server.
func NewInProcessServer() *InProcessServer {
	return &InProcessServer{down: make(map[string]flowEntry), up: make(map[string]flowEntry)}
}

// HotCacheClears reports how many ClearHotCache requests this server
// has handled, for tests asserting the "exactly once per batch"
// invariant end to end.
func (s *InProcessServer) HotCacheClears() uint64 {
	return atomic.LoadUint64(&s.hotCacheClears)
}

// Handle dispatches one request against the in-process flow tables.
func (s *InProcessServer) Handle(req Request) Response {
	switch r := req.(type) {
	case Ping:
		return Ack{}
	case MapIpToFlow:
		addr, prefixLen, err := parseCanonical(r.IP)
		if err != nil {
			return Fail{Msg: err.Error()}
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		entry := flowEntry{addr: addr, prefixLen: prefixLen, tc: r.TC, cpu: r.CPU}
		if r.Upload {
			s.up[r.IP] = entry
		} else {
			s.down[r.IP] = entry
		}
		return Ack{}
	case DelIpFlow:
		s.mu.Lock()
		defer s.mu.Unlock()
		if r.Upload {
			delete(s.up, r.IP)
		} else {
			delete(s.down, r.IP)
		}
		return Ack{}
	case ClearIpFlow:
		s.mu.Lock()
		defer s.mu.Unlock()
		s.down = make(map[string]flowEntry)
		s.up = make(map[string]flowEntry)
		return Ack{}
	case ListIpFlow:
		s.mu.Lock()
		defer s.mu.Unlock()
		entries := make([]MappedIp, 0, len(s.down)+len(s.up))
		for _, e := range s.down {
			entries = append(entries, MappedIp{IPAddress: e.addr, PrefixLength: e.prefixLen, TC: e.tc, CPU: e.cpu})
		}
		for _, e := range s.up {
			entries = append(entries, MappedIp{IPAddress: e.addr, PrefixLength: e.prefixLen, TC: e.tc, CPU: e.cpu})
		}
		return MappedIps{Entries: entries}
	case ClearHotCache:
		atomic.AddUint64(&s.hotCacheClears, 1)
		return Ack{}
	default:
		return Fail{Msg: fmt.Sprintf("bus: unrecognized request type %T", req)}
	}
}

// parseCanonical splits a canonical IP-map key (host keys omit /32 or
// /128) back into a bare address and a prefix length.
func parseCanonical(token string) (addr string, prefixLen int, err error) {
	token = strings.TrimSpace(token)
	if !strings.Contains(token, "/") {
		a, err := netip.ParseAddr(token)
		if err != nil {
			return "", 0, fmt.Errorf("bus: parse addr %q: %w", token, err)
		}
		bits := 32
		if !a.Is4() {
			bits = 128
		}
		return a.String(), bits, nil
	}
	p, err := netip.ParsePrefix(token)
	if err != nil {
		return "", 0, fmt.Errorf("bus: parse prefix %q: %w", token, err)
	}
	return p.Addr().String(), p.Bits(), nil
}

// InProcessClient adapts an InProcessServer to the Send(ctx, req)
// (resp, error) shape every bus client (datapath.Client included)
// expects.
type InProcessClient struct {
	Server *InProcessServer
}

// Send implements the Client interface used throughout the codebase.
func (c InProcessClient) Send(ctx context.Context, req Request) (Response, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return c.Server.Handle(req), nil
}
