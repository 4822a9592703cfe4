// Package datapath keeps the kernel's XDP IP-to-flow map synchronized
// with the current circuit set, issuing the smallest possible set of
// bus requests and guaranteeing the hot classification cache is
// invalidated exactly once at the end of a batch.
package datapath

import (
	"context"
	"fmt"
	"strings"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/gaissmai/bart"

	"github.com/libreqos/lqosd/pkg/bus"
	"github.com/libreqos/lqosd/pkg/log"
	"github.com/libreqos/lqosd/pkg/lqerr"
	"github.com/libreqos/lqosd/pkg/plan"
	"github.com/libreqos/lqosd/pkg/tchandle"
)

// Binding is the value side of the XDP IP Map: a TC handle and the
// CPU queue it is pinned to.
type Binding struct {
	TC  tchandle.Handle
	CPU uint32
}

// chunkSize is the maximum number of upsert/delete requests sent per
// bus batch; a larger change set is split into several chunks, and the
// ClearHotCache request rides after the last of them.
const chunkSize = 512

// hotCacheBytes sizes the local classification cache mirror; the
// reconciler only ever Resets it, it never needs real capacity
// planning, but fastcache requires a minimum size.
const hotCacheBytes = 32 * 1024

// Client is the subset of the request bus the reconciler needs: send
// one request, get back one response.
type Client interface {
	Send(ctx context.Context, req bus.Request) (bus.Response, error)
}

// Reconciler owns the longest-prefix-match view of desired bindings
// and the local hot-cache mirror.
type Reconciler struct {
	Client Client
	// SingleInterface: in single-interface mode an address may carry
	// both a download and an upload binding on the same NIC; in
	// dual-interface mode only download is populated.
	SingleInterface bool

	hotCache *fastcache.Cache
}

func (r *Reconciler) cache() *fastcache.Cache {
	if r.hotCache == nil {
		r.hotCache = fastcache.New(hotCacheBytes)
	}
	return r.hotCache
}

// DesiredFromCircuits parses each circuit's IPAddresses and derives
// the desired bindings: the download partition always, the upload
// partition only in single-interface mode. Unparsable tokens are
// logged and skipped.
func DesiredFromCircuits(circuits []plan.Circuit, singleInterface bool) (down, up map[string]Binding) {
	down = make(map[string]Binding)
	up = make(map[string]Binding)
	for _, c := range circuits {
		if strings.TrimSpace(c.IPAddresses) == "" {
			continue
		}
		for _, tok := range strings.Split(c.IPAddresses, ",") {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			key, err := CanonicalKey(tok)
			if err != nil {
				log.Logger.Warn().Str("circuit", c.Name).Str("token", tok).Err(err).Msg("skipping unparsable ip address")
				continue
			}
			down[key] = Binding{TC: c.ParentClassID, CPU: c.DownloadCPU}
			if singleInterface {
				up[key] = Binding{TC: c.UpParentClassID, CPU: c.UploadCPU}
			}
		}
	}
	return down, up
}

// knownHandles collects the set of TC handles a direction's desired
// bindings reference, used to partition live entries by direction.
func knownHandles(m map[string]Binding) map[tchandle.Handle]bool {
	out := make(map[tchandle.Handle]bool, len(m))
	for _, b := range m {
		out[b.TC] = true
	}
	return out
}

// listLive sends ListIpFlow and partitions the response into down/up
// live views by whether each entry's handle belongs to the known set
// for that direction. Entries with unrecognized handles are left
// alone.
func (r *Reconciler) listLive(ctx context.Context, knownDown, knownUp map[tchandle.Handle]bool) (liveDown, liveUp map[string]Binding, err error) {
	resp, err := r.Client.Send(ctx, bus.ListIpFlow{})
	if err != nil {
		return nil, nil, lqerr.New(lqerr.Bus, "datapath.list_live", err)
	}
	mapped, ok := resp.(bus.MappedIps)
	if !ok {
		return nil, nil, lqerr.New(lqerr.Bus, "datapath.list_live", fmt.Errorf("unexpected response type %T", resp))
	}
	liveDown = make(map[string]Binding)
	liveUp = make(map[string]Binding)
	for _, e := range mapped.Entries {
		key, err := CanonicalKey(fmt.Sprintf("%s/%d", e.IPAddress, e.PrefixLength))
		if err != nil {
			return nil, nil, lqerr.New(lqerr.Bus, "datapath.list_live", fmt.Errorf("canonicalize live entry %s/%d: %w", e.IPAddress, e.PrefixLength, err))
		}
		b := Binding{TC: e.TC, CPU: e.CPU}
		switch {
		case knownDown[e.TC]:
			liveDown[key] = b
		case knownUp[e.TC]:
			liveUp[key] = b
		}
	}
	return liveDown, liveUp, nil
}

// Reconcile diffs the desired bindings for the given circuit set
// against the live map and applies the difference. If desired and live
// already agree it returns without any bus activity.
func (r *Reconciler) Reconcile(ctx context.Context, circuits []plan.Circuit) error {
	down, up := DesiredFromCircuits(circuits, r.SingleInterface)
	liveDown, liveUp, err := r.listLive(ctx, knownHandles(down), knownHandles(up))
	if err != nil {
		return err
	}

	var reqs []bus.Request
	reqs = append(reqs, upserts(down, liveDown, false)...)
	reqs = append(reqs, upserts(up, liveUp, true)...)
	reqs = append(reqs, deletes(down, liveDown, false)...)
	reqs = append(reqs, deletes(up, liveUp, true)...)

	if len(reqs) == 0 {
		return nil
	}

	return r.sendBatched(ctx, reqs)
}

// DesiredTable builds a longest-prefix-match view of the desired
// bindings, for callers (e.g. a status endpoint) that need to answer
// "what binding would this address get" without re-deriving it from
// the circuit list by hand.
func DesiredTable(circuits []plan.Circuit, singleInterface bool) *bart.Table[Binding] {
	down, up := DesiredFromCircuits(circuits, singleInterface)
	return buildLPM(down, up)
}

func upserts(desired, live map[string]Binding, upload bool) []bus.Request {
	var out []bus.Request
	for ip, want := range desired {
		if have, ok := live[ip]; !ok || have != want {
			out = append(out, bus.MapIpToFlow{IP: ip, TC: want.TC, CPU: want.CPU, Upload: upload})
		}
	}
	return out
}

func deletes(desired, live map[string]Binding, upload bool) []bus.Request {
	var out []bus.Request
	for ip := range live {
		if _, ok := desired[ip]; !ok {
			out = append(out, bus.DelIpFlow{IP: ip, Upload: upload})
		}
	}
	return out
}

// buildLPM assembles the longest-prefix-match view of the desired
// state. It is the structure a live datapath would consult for
// lookups; only DesiredTable builds it, and Reconcile diffs plain maps
// without it.
func buildLPM(down, up map[string]Binding) *bart.Table[Binding] {
	t := &bart.Table[Binding]{}
	for ip, b := range down {
		if p, err := ToPrefix(ip); err == nil {
			t.Insert(p, b)
		}
	}
	for ip, b := range up {
		if p, err := ToPrefix(ip); err == nil {
			t.Insert(p, b)
		}
	}
	return t
}

// sendBatched sends in chunks of at most chunkSize, appending
// ClearHotCache to the final chunk only, and aborting on the first
// Fail response.
func (r *Reconciler) sendBatched(ctx context.Context, reqs []bus.Request) error {
	for start := 0; start < len(reqs); start += chunkSize {
		end := start + chunkSize
		if end > len(reqs) {
			end = len(reqs)
		}
		chunk := reqs[start:end]
		last := end == len(reqs)

		for _, req := range chunk {
			if err := r.send(ctx, req); err != nil {
				return err
			}
		}
		if last {
			if err := r.send(ctx, bus.ClearHotCache{}); err != nil {
				return err
			}
			r.cache().Reset()
		}
	}
	return nil
}

func (r *Reconciler) send(ctx context.Context, req bus.Request) error {
	resp, err := r.Client.Send(ctx, req)
	if err != nil {
		return lqerr.New(lqerr.Bus, "datapath.send", err)
	}
	if f, ok := resp.(bus.Fail); ok {
		return lqerr.New(lqerr.Bus, "datapath.send", fmt.Errorf("bus rejected request: %s", f.Msg))
	}
	return nil
}
