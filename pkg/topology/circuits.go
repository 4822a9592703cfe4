package topology

import "strings"

// ClientCircuit is the emitted circuit for one client site, before
// being folded into a plan.DesiredPlan by whatever loads the written
// tables.
type ClientCircuit struct {
	SiteID      string
	SiteName    string
	DeviceID    string
	DeviceName  string
	MAC         string
	ParentNode  string
	IPAddresses []string
	DownloadMin float64
	DownloadMax float64
	UploadMin   float64
	UploadMax   float64
	Comment     string
}

const (
	downloadCeilFloorMbps = 2
	uploadCeilFloorMbps   = 2
	downloadMinFloorMbps  = 1
	uploadMinFloorMbps    = 1

	suspendedMbps = 1
)

// BuildClientCircuits emits one ClientCircuit per client site.
// parentOf maps a site ID to its selected parent site ID in the
// resolved tree.
func BuildClientCircuits(sites []Site, devices []Device, parentOf map[string]string, d Defaults) []ClientCircuit {
	devicesBySite := make(map[string][]Device)
	for _, dev := range devices {
		devicesBySite[dev.SiteID] = append(devicesBySite[dev.SiteID], dev)
	}

	var out []ClientCircuit
	for _, s := range sites {
		if s.Type != SiteTypeClient {
			continue
		}
		down, up := shapedRates(s, d)
		ceilFloorDown, ceilFloorUp := float64(downloadCeilFloorMbps), float64(uploadCeilFloorMbps)
		if s.Suspended && d.SuspensionPolicy == SuspensionSlow {
			// The suspension clamp is exact; the ceiling floor does not raise it.
			ceilFloorDown, ceilFloorUp = suspendedMbps, suspendedMbps
		}
		c := ClientCircuit{
			SiteID:      s.ID,
			SiteName:    s.Name,
			ParentNode:  parentOf[s.ID],
			IPAddresses: unionCIDRs(devicesBySite[s.ID]),
			DownloadMax: applyFloor(down, ceilFloorDown),
			UploadMax:   applyFloor(up, ceilFloorUp),
		}
		// A circuit's device_id/device_name/mac columns describe its
		// first attached device; additional devices still contribute
		// their IPs to the union above.
		if devs := devicesBySite[s.ID]; len(devs) > 0 {
			c.DeviceID = devs[0].ID
			c.DeviceName = devs[0].Name
			c.MAC = devs[0].MAC
		}
		c.DownloadMin = applyFloor(down, downloadMinFloorMbps)
		c.UploadMin = applyFloor(up, uploadMinFloorMbps)
		// The commitment floor must never exceed the ceiling.
		if c.DownloadMin > c.DownloadMax {
			c.DownloadMin = c.DownloadMax
		}
		if c.UploadMin > c.UploadMax {
			c.UploadMin = c.UploadMax
		}
		out = append(out, c)
	}
	return out
}

// shapedRates applies the overhead factor and suspension policy to a
// site's configured speeds.
func shapedRates(s Site, d Defaults) (down, up float64) {
	down, up = s.DownloadMbps, s.UploadMbps
	if s.Suspended {
		switch d.SuspensionPolicy {
		case SuspensionSlow:
			return suspendedMbps, suspendedMbps
		case SuspensionNone:
			// fall through: full speed
		}
	}
	factor := d.OverheadFactor
	if factor <= 0 {
		factor = 1
	}
	return down * factor, up * factor
}

func applyFloor(v, floor float64) float64 {
	if v < floor {
		return floor
	}
	return v
}

func unionCIDRs(devices []Device) []string {
	seen := make(map[string]bool)
	var out []string
	for _, dev := range devices {
		for _, ip := range append(append([]string{}, dev.IPv4...), dev.IPv6...) {
			ip = strings.TrimSpace(ip)
			if ip == "" || seen[ip] {
				continue
			}
			seen[ip] = true
			out = append(out, ip)
		}
	}
	return out
}
