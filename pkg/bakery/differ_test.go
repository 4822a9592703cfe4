package bakery

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/libreqos/lqosd/pkg/plan"
	"github.com/libreqos/lqosd/pkg/tchandle"
)

// An empty old plan and a new plan with one circuit reports it as
// newly added, with nothing removed or updated.
func TestCircuitAddScenario(t *testing.T) {
	c1 := plan.Circuit{
		CircuitHash:     1,
		ParentClassID:   tchandle.New(1, 0x10),
		UpParentClassID: tchandle.New(1, 0x10),
		ClassMinor:      0x10,
		IPAddresses:     "10.0.0.1,10.0.0.2/31",
	}
	diff := DiffCircuits(map[uint64]plan.Circuit{}, map[uint64]plan.Circuit{1: c1})
	if len(diff.NewlyAdded) != 1 || diff.NewlyAdded[0].CircuitHash != 1 {
		t.Fatalf("expected c1 newly added, got %+v", diff.NewlyAdded)
	}
	if len(diff.Removed) != 0 || len(diff.Updated) != 0 {
		t.Fatalf("expected no removed/updated, got %+v", diff)
	}
}

// A site whose sole difference is max_down yields SpeedChanges, not a
// rebuild.
func TestSiteRateChangeOnlyScenario(t *testing.T) {
	old := plan.Site{SiteHash: 1, ParentClassID: tchandle.New(1, 0), ClassMinor: 2, DownloadMaxMbps: 100}
	updated := old
	updated.DownloadMaxMbps = 200

	result := DiffSites(map[uint64]plan.Site{1: old}, map[uint64]plan.Site{1: updated})
	if result.Kind != SiteSpeedChanges {
		t.Fatalf("expected SiteSpeedChanges, got %v", result.Kind)
	}
	if len(result.Changes) != 1 || result.Changes[0].DownloadMaxMbps != 200 {
		t.Fatalf("expected the updated site with max_down=200, got %+v", result.Changes)
	}
}

// A change to class_minor forces RebuildRequired.
func TestSiteStructuralChangeScenario(t *testing.T) {
	old := plan.Site{SiteHash: 1, ParentClassID: tchandle.New(1, 0), ClassMinor: 2}
	updated := old
	updated.ClassMinor = 3

	result := DiffSites(map[uint64]plan.Site{1: old}, map[uint64]plan.Site{1: updated})
	if result.Kind != SiteRebuildRequired {
		t.Fatalf("expected RebuildRequired, got %v", result.Kind)
	}
}

func TestDiffSitesNoChange(t *testing.T) {
	s := plan.Site{SiteHash: 1, ParentClassID: tchandle.New(1, 0), ClassMinor: 2, DownloadMaxMbps: 100}
	result := DiffSites(map[uint64]plan.Site{1: s}, map[uint64]plan.Site{1: s})
	if result.Kind != SiteNoChange {
		t.Fatalf("expected SiteNoChange, got %v", result.Kind)
	}
}

func TestDiffSitesCountMismatchForcesRebuild(t *testing.T) {
	s := plan.Site{SiteHash: 1}
	result := DiffSites(map[uint64]plan.Site{1: s}, map[uint64]plan.Site{1: s, 2: {SiteHash: 2}})
	if result.Kind != SiteRebuildRequired {
		t.Fatalf("expected RebuildRequired on count mismatch, got %v", result.Kind)
	}
}

func TestDiffSitesMissingSiteForcesRebuild(t *testing.T) {
	s1 := plan.Site{SiteHash: 1}
	s2 := plan.Site{SiteHash: 2}
	result := DiffSites(map[uint64]plan.Site{1: s1, 2: s2}, map[uint64]plan.Site{1: s1, 3: {SiteHash: 3}})
	if result.Kind != SiteRebuildRequired {
		t.Fatalf("expected RebuildRequired when a site vanishes, got %v", result.Kind)
	}
}

// The emitted newly-added, removed, and updated sets must be pairwise
// disjoint, exercised across add/remove/update/unchanged.
func TestDiffCircuitsDisjoint(t *testing.T) {
	unchanged := plan.Circuit{CircuitHash: 1, DownloadMaxMbps: 50}
	toUpdate := plan.Circuit{CircuitHash: 2, DownloadMaxMbps: 50}
	toUpdateNew := toUpdate
	toUpdateNew.DownloadMaxMbps = 75
	toRemove := plan.Circuit{CircuitHash: 3, DownloadMaxMbps: 50}
	toAdd := plan.Circuit{CircuitHash: 4, DownloadMaxMbps: 50}

	old := map[uint64]plan.Circuit{1: unchanged, 2: toUpdate, 3: toRemove}
	new := map[uint64]plan.Circuit{1: unchanged, 2: toUpdateNew, 4: toAdd}

	diff := DiffCircuits(old, new)

	seen := make(map[uint64]int)
	for _, c := range diff.NewlyAdded {
		seen[c.CircuitHash]++
	}
	for _, c := range diff.Removed {
		seen[c.CircuitHash]++
	}
	for _, c := range diff.Updated {
		seen[c.CircuitHash]++
	}
	for hash, count := range seen {
		if count != 1 {
			t.Errorf("circuit %d appeared in %d diff sets, want exactly 1", hash, count)
		}
	}

	if diff := cmp.Diff([]uint64{4}, hashesOf(diff.NewlyAdded)); diff != "" {
		t.Errorf("newly_added mismatch (-want +got):\n%s", diff)
	}
}

func hashesOf(cs []plan.Circuit) []uint64 {
	out := make([]uint64, len(cs))
	for i, c := range cs {
		out[i] = c.CircuitHash
	}
	return out
}

func TestDiffCircuitsUnchangedProducesNoEntries(t *testing.T) {
	c := plan.Circuit{CircuitHash: 1, IPAddresses: "10.0.0.1"}
	diff := DiffCircuits(map[uint64]plan.Circuit{1: c}, map[uint64]plan.Circuit{1: c})
	if len(diff.NewlyAdded)+len(diff.Removed)+len(diff.Updated) != 0 {
		t.Fatalf("expected no diff entries for an unchanged circuit, got %+v", diff)
	}
}

func TestCollectSitesSecondRecordWinsOnCollision(t *testing.T) {
	p := plan.DesiredPlan{Commands: []plan.Command{
		plan.AddSite{Site: plan.Site{SiteHash: 1, Name: "first"}},
		plan.AddSite{Site: plan.Site{SiteHash: 1, Name: "second"}},
	}}
	sites := CollectSites(p)
	if sites[1].Name != "second" {
		t.Errorf("expected the second record to win a hash collision, got %q", sites[1].Name)
	}
}
