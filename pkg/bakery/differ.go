package bakery

import (
	"github.com/libreqos/lqosd/pkg/log"
	"github.com/libreqos/lqosd/pkg/plan"
)

// SiteDiffKind enumerates the three possible outcomes of diffing the
// site set between two plans.
type SiteDiffKind int

const (
	SiteNoChange SiteDiffKind = iota
	SiteRebuildRequired
	SiteSpeedChanges
)

// SiteDiffResult is the result of DiffSites. Changes is populated only
// for SiteSpeedChanges, and holds the new Site (with updated speeds
// only) for each site whose sole difference is a min/max rate.
type SiteDiffResult struct {
	Kind    SiteDiffKind
	Changes []plan.Site
}

// CircuitDiffResult is the result of DiffCircuits: three disjoint
// sets of circuits that were added, removed, or changed in place.
type CircuitDiffResult struct {
	NewlyAdded []plan.Circuit
	Removed    []plan.Circuit
	Updated    []plan.Circuit
}

// CollectSites builds a hash-keyed map from a DesiredPlan's AddSite
// commands. Hash collisions between distinct logical sites must not
// occur; an observed collision is logged and the second record wins.
func CollectSites(p plan.DesiredPlan) map[uint64]plan.Site {
	out := make(map[uint64]plan.Site, len(p.Commands))
	for _, cmd := range p.Commands {
		as, ok := cmd.(plan.AddSite)
		if !ok {
			continue
		}
		if prev, exists := out[as.Site.SiteHash]; exists && prev.Name != as.Site.Name {
			log.Logger.Warn().
				Uint64("site_hash", as.Site.SiteHash).
				Str("previous", prev.Name).
				Str("incoming", as.Site.Name).
				Msg("site_hash collision; second record wins")
		}
		out[as.Site.SiteHash] = as.Site
	}
	return out
}

// CollectCircuits is CollectSites' circuit counterpart.
func CollectCircuits(p plan.DesiredPlan) map[uint64]plan.Circuit {
	out := make(map[uint64]plan.Circuit, len(p.Commands))
	for _, cmd := range p.Commands {
		var ac plan.AddCircuit
		switch c := cmd.(type) {
		case plan.AddCircuit:
			ac = c
		case plan.AddSite, plan.BatchBegin, plan.BatchEnd:
			continue
		default:
			// A command that matches none of plan's concrete types is a
			// programmer error: log and skip, never fail the batch.
			log.Logger.Warn().Type("command", cmd).Msg("unrecognized plan command skipped")
			continue
		}
		if prev, exists := out[ac.Circuit.CircuitHash]; exists && prev.Name != ac.Circuit.Name {
			log.Logger.Warn().
				Uint64("circuit_hash", ac.Circuit.CircuitHash).
				Str("previous", prev.Name).
				Str("incoming", ac.Circuit.Name).
				Msg("circuit_hash collision; second record wins")
		}
		out[ac.Circuit.CircuitHash] = ac.Circuit
	}
	return out
}

// DiffSites compares the old (live) and new (desired) site sets in
// O(N) using hash maps keyed by site_hash. A count mismatch, a missing
// site, or a parent/class-minor change forces a full rebuild because
// HTB class identifiers embed parentage; rate-only differences are
// reported as speed changes.
func DiffSites(old, new map[uint64]plan.Site) SiteDiffResult {
	if len(old) != len(new) {
		return SiteDiffResult{Kind: SiteRebuildRequired}
	}
	for hash, oldSite := range old {
		newSite, ok := new[hash]
		if !ok {
			// Site present in the old plan is absent from the new one.
			return SiteDiffResult{Kind: SiteRebuildRequired}
		}
		if oldSite.ParentClassID != newSite.ParentClassID ||
			oldSite.UpParentClassID != newSite.UpParentClassID ||
			oldSite.ClassMinor != newSite.ClassMinor {
			return SiteDiffResult{Kind: SiteRebuildRequired}
		}
	}

	var changes []plan.Site
	for hash, oldSite := range old {
		newSite := new[hash]
		if siteSpeedsDiffer(oldSite, newSite) {
			changes = append(changes, newSite)
		}
	}
	if len(changes) == 0 {
		return SiteDiffResult{Kind: SiteNoChange}
	}
	return SiteDiffResult{Kind: SiteSpeedChanges, Changes: changes}
}

func siteSpeedsDiffer(a, b plan.Site) bool {
	return a.DownloadMinMbps != b.DownloadMinMbps ||
		a.DownloadMaxMbps != b.DownloadMaxMbps ||
		a.UploadMinMbps != b.UploadMinMbps ||
		a.UploadMaxMbps != b.UploadMaxMbps
}

// DiffCircuits compares the old (live) and new (desired) circuit sets
// in O(N), producing three pairwise-disjoint sets. Structural equality
// is defined solely by the tuple
// {parent_class_id, up_parent_class_id, class_minor, min/max down,
// min/max up, class_major, up_class_major, ip_addresses}.
func DiffCircuits(old, new map[uint64]plan.Circuit) CircuitDiffResult {
	var result CircuitDiffResult
	for hash, newCircuit := range new {
		oldCircuit, existed := old[hash]
		if !existed {
			result.NewlyAdded = append(result.NewlyAdded, newCircuit)
			continue
		}
		if circuitStructurallyDiffers(oldCircuit, newCircuit) {
			result.Updated = append(result.Updated, newCircuit)
		}
	}
	for hash, oldCircuit := range old {
		if _, stillPresent := new[hash]; !stillPresent {
			result.Removed = append(result.Removed, oldCircuit)
		}
	}
	return result
}

func circuitStructurallyDiffers(a, b plan.Circuit) bool {
	return a.ParentClassID != b.ParentClassID ||
		a.UpParentClassID != b.UpParentClassID ||
		a.ClassMinor != b.ClassMinor ||
		a.ClassMajor != b.ClassMajor ||
		a.UpClassMajor != b.UpClassMajor ||
		a.DownloadMinMbps != b.DownloadMinMbps ||
		a.DownloadMaxMbps != b.DownloadMaxMbps ||
		a.UploadMinMbps != b.UploadMinMbps ||
		a.UploadMaxMbps != b.UploadMaxMbps ||
		a.IPAddresses != b.IPAddresses
}
