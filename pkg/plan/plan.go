// Package plan holds the desired-plan model: the canonical in-memory
// representation of the intended shaping tree, circuits, and IP
// bindings.
package plan

import "github.com/libreqos/lqosd/pkg/tchandle"

// Site is an interior node in the shaping tree.
type Site struct {
	SiteHash       uint64
	Name           string
	ParentClassID  tchandle.Handle
	UpParentClassID tchandle.Handle
	ClassMinor     uint16
	DownloadMinMbps float64
	DownloadMaxMbps float64
	UploadMinMbps   float64
	UploadMaxMbps   float64
}

// Circuit is a logical subscriber endpoint with a shaping plan and one
// or more IP addresses.
type Circuit struct {
	CircuitHash     uint64
	Name            string
	ParentClassID   tchandle.Handle
	UpParentClassID tchandle.Handle
	ClassMinor      uint16
	ClassMajor      uint16
	UpClassMajor    uint16
	DownloadCPU     uint32
	UploadCPU       uint32
	DownloadMinMbps float64
	DownloadMaxMbps float64
	UploadMinMbps   float64
	UploadMaxMbps   float64
	// IPAddresses is the comma-separated list of CIDR or bare
	// addresses, mixed v4/v6; may be empty.
	IPAddresses string
}

// Valid reports whether min <= max holds in both directions.
func (c Circuit) Valid() bool {
	return c.DownloadMinMbps <= c.DownloadMaxMbps && c.UploadMinMbps <= c.UploadMaxMbps
}

// Valid reports the Site invariant: min <= max in both directions.
func (s Site) Valid() bool {
	return s.DownloadMinMbps <= s.DownloadMaxMbps && s.UploadMinMbps <= s.UploadMaxMbps
}

// Command is one entry in a Desired Plan. The concrete types below are
// the only implementations; a Command that doesn't assert to one of
// them is a programmer error; bakery.CollectCircuits logs and skips it.
type Command interface {
	isCommand()
}

// AddSite installs or updates a Site.
type AddSite struct{ Site Site }

// AddCircuit installs or updates a Circuit.
type AddCircuit struct{ Circuit Circuit }

// BatchBegin/BatchEnd are housekeeping markers; order matters only
// insofar as sites must be installable before their circuits.
type BatchBegin struct{}
type BatchEnd struct{}

func (AddSite) isCommand()    {}
func (AddCircuit) isCommand() {}
func (BatchBegin) isCommand() {}
func (BatchEnd) isCommand()   {}

// DesiredPlan is an ordered sequence of commands describing the
// target state.
type DesiredPlan struct {
	Commands []Command
}

// Sites returns every AddSite command's Site, keyed by SiteHash. Later
// entries win on a duplicate hash, matching the differ's second-record-
// wins collision policy.
func (p DesiredPlan) Sites() map[uint64]Site {
	out := make(map[uint64]Site)
	for _, cmd := range p.Commands {
		if as, ok := cmd.(AddSite); ok {
			out[as.Site.SiteHash] = as.Site
		}
	}
	return out
}

// Circuits returns every AddCircuit command's Circuit, keyed by
// CircuitHash, with the same last-write-wins policy as Sites.
func (p DesiredPlan) Circuits() map[uint64]Circuit {
	out := make(map[uint64]Circuit)
	for _, cmd := range p.Commands {
		if ac, ok := cmd.(AddCircuit); ok {
			out[ac.Circuit.CircuitHash] = ac.Circuit
		}
	}
	return out
}
