// Package topology builds a validated site tree and a set of circuits
// with IP assignments from an inventory of sites, devices, and
// data-links fetched from an external network-management API.
package topology

// SiteType distinguishes the synthetic/real root from ordinary sites.
type SiteType int

const (
	SiteTypeSite SiteType = iota
	SiteTypeClient
	SiteTypeRoot
)

// InsertedInternetSiteID/Name name the synthetic root site created
// when more than one site has an internet-facing data-link.
const (
	InsertedInternetSiteID   = "ROOT-001"
	InsertedInternetSiteName = "INSERTED_INTERNET"
)

// Site is one inventory site.
type Site struct {
	ID       string
	Name     string
	Type     SiteType
	ParentID string

	Suspended bool

	// DownloadMbps/UploadMbps are the shaped speeds configured for a
	// client site; for an interior site they are the capacity written
	// to network.json.
	DownloadMbps float64
	UploadMbps   float64
}

// Device is one inventory device, attached to a Site.
type Device struct {
	ID     string
	Name   string
	SiteID string
	MAC    string

	// APDeviceID, Role, and WirelessMode feed AP/station orientation.
	APDeviceID    string
	Role          string
	WirelessMode  string
	DownloadMbps  float64
	UploadMbps    float64

	// IPv4/IPv6 CIDRs assigned to this device.
	IPv4 []string
	IPv6 []string
}

// DataLink connects two sites (by site ID/name); InternetFacing marks
// a link to the upstream internet handoff used for root discovery.
type DataLink struct {
	FromSiteID   string
	FromSiteName string
	ToSiteID     string
	ToSiteName   string
	InternetFacing bool
}

// SuspensionPolicy selects how a suspended site's rates are clamped.
type SuspensionPolicy int

const (
	SuspensionNone SuspensionPolicy = iota
	SuspensionSlow
)

// Defaults bundles the configured fallbacks used throughout topology
// construction.
type Defaults struct {
	GeneratedDownloadMbps float64
	GeneratedUploadMbps   float64
	OverheadFactor        float64
	SuspensionPolicy      SuspensionPolicy
}

// Inventory is the raw input fetched from the external
// network-management API.
type Inventory struct {
	Sites     []Site
	Devices   []Device
	DataLinks []DataLink
	// ConfiguredRootSiteName, if non-empty, is preferred over
	// discovery.
	ConfiguredRootSiteName string
}
