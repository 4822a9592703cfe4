package topology

import (
	"fmt"

	"github.com/libreqos/lqosd/pkg/log"
)

// ErrNoRootSite is returned when no root site could be configured,
// discovered, or synthesized.
var ErrNoRootSite = fmt.Errorf("topology: no root site")

// FindRootSite prefers the configured site name; otherwise it
// discovers exactly one internet-facing site, or synthesizes
// INSERTED_INTERNET when several compete, or fails with ErrNoRootSite
// when none do. Sites is mutated in place when a synthetic root must
// be appended.
func FindRootSite(inv *Inventory) (string, error) {
	if inv.ConfiguredRootSiteName != "" {
		for _, s := range inv.Sites {
			if s.Name == inv.ConfiguredRootSiteName {
				return s.Name, nil
			}
		}
		log.Logger.Error().Str("site", inv.ConfiguredRootSiteName).Msg("configured root site not found in inventory")
		return "", ErrNoRootSite
	}

	var candidates []string
	for _, l := range inv.DataLinks {
		if l.InternetFacing {
			candidates = append(candidates, l.FromSiteName)
		}
	}

	switch len(candidates) {
	case 0:
		log.Logger.Error().Msg("unable to find a root site in the sites/data-links")
		return "", ErrNoRootSite
	case 1:
		return candidates[0], nil
	default:
		log.Logger.Warn().Int("candidates", len(candidates)).Msg("multiple internet links detected, inserting a synthetic root")
		inv.Sites = append(inv.Sites, Site{
			ID:   InsertedInternetSiteID,
			Name: InsertedInternetSiteName,
			Type: SiteTypeRoot,
		})
		return InsertedInternetSiteName, nil
	}
}

// SetRootSite tags the named site as the tree root, failing if more
// than one site would end up tagged Root.
func SetRootSite(sites []Site, rootName string) error {
	for i := range sites {
		if sites[i].Name == rootName {
			sites[i].Type = SiteTypeRoot
		}
	}
	var roots int
	for _, s := range sites {
		if s.Type == SiteTypeRoot {
			roots++
		}
	}
	if roots > 1 {
		log.Logger.Error().Int("roots", roots).Msg("more than one root site present in the tree")
		return ErrNoRootSite
	}
	return nil
}
