// Package bus models the local request bus the datapath reconciler
// talks to: a small, closed set of request/response variants standing
// in for the eBPF/XDP map RPC surface.
package bus

import "github.com/libreqos/lqosd/pkg/tchandle"

// Request is the closed set of bus requests.
type Request interface{ isRequest() }

type Ping struct{}

type MapIpToFlow struct {
	IP      string
	TC      tchandle.Handle
	CPU     uint32
	Upload  bool
}

type DelIpFlow struct {
	IP     string
	Upload bool
}

type ClearIpFlow struct{}

type ListIpFlow struct{}

type ClearHotCache struct{}

func (Ping) isRequest()          {}
func (MapIpToFlow) isRequest()   {}
func (DelIpFlow) isRequest()     {}
func (ClearIpFlow) isRequest()   {}
func (ListIpFlow) isRequest()    {}
func (ClearHotCache) isRequest() {}

// Response is the closed set of bus responses.
type Response interface{ isResponse() }

type Ack struct{}

type Fail struct{ Msg string }

// MappedIp is one entry of a MappedIps response.
type MappedIp struct {
	IPAddress    string
	PrefixLength int
	TC           tchandle.Handle
	CPU          uint32
}

type MappedIps struct{ Entries []MappedIp }

func (Ack) isResponse()       {}
func (Fail) isResponse()      {}
func (MappedIps) isResponse() {}
