package topology

import "strings"

// LinkOrientation identifies which end of an oriented AP<->station
// link is the access point.
type LinkOrientation int

const (
	OrientationUnknown LinkOrientation = iota
	AIsAP
	BIsAP
)

type radioRole int

const (
	roleUnknown radioRole = iota
	roleAP
	roleStation
)

func roleKind(role string) radioRole {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "ap":
		return roleAP
	case "station", "sta", "cpe":
		return roleStation
	default:
		return roleUnknown
	}
}

func wirelessModeKind(mode string) radioRole {
	m := strings.ToLower(strings.TrimSpace(mode))
	switch {
	case strings.HasPrefix(m, "ap"):
		return roleAP
	case strings.HasPrefix(m, "sta"):
		return roleStation
	default:
		return roleUnknown
	}
}

// ClassifyAPStation orients a wireless link, in priority order: an
// explicit apDevice reference wins, then explicit roles on both ends,
// then the wirelessMode prefix. An ambiguous link is
// OrientationUnknown and yields no directional capacity.
func ClassifyAPStation(a, b Device) LinkOrientation {
	if a.APDeviceID == b.ID {
		return BIsAP
	}
	if b.APDeviceID == a.ID {
		return AIsAP
	}

	switch ra, rb := roleKind(a.Role), roleKind(b.Role); {
	case ra == roleAP && rb == roleStation:
		return AIsAP
	case ra == roleStation && rb == roleAP:
		return BIsAP
	}

	switch ra, rb := wirelessModeKind(a.WirelessMode), wirelessModeKind(b.WirelessMode); {
	case ra == roleAP && rb == roleStation:
		return AIsAP
	case ra == roleStation && rb == roleAP:
		return BIsAP
	}

	return OrientationUnknown
}

// DirectedCaps returns (capacity from a to b, capacity from b to a)
// in Mbps for an oriented link. A zero/negative per-direction result
// is replaced with the configured default. The third return value is
// false when the link is ambiguous (no orientation could be
// determined).
func DirectedCaps(a, b Device, d Defaults) (aToB, bToA float64, ok bool) {
	orientation := ClassifyAPStation(a, b)
	if orientation == OrientationUnknown {
		return 0, 0, false
	}

	ap, sta := a, b
	if orientation == BIsAP {
		ap, sta = b, a
	}

	down := min2(ap.DownloadMbps, sta.DownloadMbps)
	up := min2(ap.UploadMbps, sta.UploadMbps)
	if down <= 0 {
		down = d.GeneratedDownloadMbps
	}
	if up <= 0 {
		up = d.GeneratedUploadMbps
	}

	// down is AP->STA, up is STA->AP.
	if orientation == AIsAP {
		return down, up, true
	}
	return up, down, true
}

func min2(x, y float64) float64 {
	if x < y {
		return x
	}
	return y
}
