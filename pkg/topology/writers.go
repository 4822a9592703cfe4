package topology

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// shapedDevicesHeader is the ShapedDevices.csv column set, in order.
var shapedDevicesHeader = []string{
	"circuit_id", "circuit_name", "device_id", "device_name",
	"parent_node", "mac", "ipv4", "ipv6",
	"download_min", "upload_min", "download_max", "upload_max", "comment",
}

// WriteShapedDevicesCSV writes one row per ClientCircuit. Rates are
// integer Mbps; ipv4/ipv6 are space-separated address-or-CIDR lists.
func WriteShapedDevicesCSV(w io.Writer, circuits []ClientCircuit) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(shapedDevicesHeader); err != nil {
		return fmt.Errorf("topology: write csv header: %w", err)
	}
	for _, c := range circuits {
		v4, v6 := splitIPVersions(c.IPAddresses)
		row := []string{
			c.SiteID,
			c.SiteName,
			c.DeviceID,
			c.DeviceName,
			c.ParentNode,
			c.MAC,
			strings.Join(v4, " "),
			strings.Join(v6, " "),
			formatMbps(c.DownloadMin),
			formatMbps(c.UploadMin),
			formatMbps(c.DownloadMax),
			formatMbps(c.UploadMax),
			c.Comment,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("topology: write csv row for %s: %w", c.SiteID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func splitIPVersions(ips []string) (v4, v6 []string) {
	for _, ip := range ips {
		if strings.Contains(ip, ":") {
			v6 = append(v6, ip)
		} else {
			v4 = append(v4, ip)
		}
	}
	return v4, v6
}

func formatMbps(v float64) string {
	return strconv.FormatInt(int64(v+0.5), 10)
}

func siteTypeName(t SiteType) string {
	switch t {
	case SiteTypeRoot:
		return "root"
	case SiteTypeClient:
		return "client"
	default:
		return "site"
	}
}

// BuildNetworkTree assembles the network.json document: a tree whose
// object keys name each child node, recursively, rather than an array
// of typed nodes. The root site itself (rootID) is not written as a
// keyed entry; its children become the document's top-level keys, the
// synthetic root carrying no bandwidth/type attributes of its own.
func BuildNetworkTree(sites []Site, parentOf map[string]string, rootID string) (map[string]any, error) {
	byID := make(map[string]Site, len(sites))
	children := make(map[string][]string)
	for _, s := range sites {
		byID[s.ID] = s
	}
	for id, parent := range parentOf {
		children[parent] = append(children[parent], id)
	}
	if _, ok := byID[rootID]; !ok {
		return nil, fmt.Errorf("topology: root site %q not found", rootID)
	}
	out := make(map[string]any)
	for _, childID := range children[rootID] {
		child, ok := byID[childID]
		if !ok {
			continue
		}
		out[child.Name] = buildNode(child, byID, children)
	}
	return out, nil
}

// buildNode renders one site as a tree-node object: the scalar keys
// plus, when it has children, a nested "children" object keyed by
// child name.
func buildNode(s Site, byID map[string]Site, children map[string][]string) map[string]any {
	n := map[string]any{
		"downloadBandwidthMbps": s.DownloadMbps,
		"uploadBandwidthMbps":   s.UploadMbps,
		"type":                  siteTypeName(s.Type),
	}
	childIDs := children[s.ID]
	if len(childIDs) == 0 {
		return n
	}
	kids := make(map[string]any, len(childIDs))
	for _, childID := range childIDs {
		child, ok := byID[childID]
		if !ok {
			continue
		}
		kids[child.Name] = buildNode(child, byID, children)
	}
	n["children"] = kids
	return n
}

// WriteNetworkJSON writes the tree rooted at rootID as network.json.
func WriteNetworkJSON(w io.Writer, sites []Site, parentOf map[string]string, rootID string) error {
	tree, err := BuildNetworkTree(sites, parentOf, rootID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(tree); err != nil {
		return fmt.Errorf("topology: encode network.json: %w", err)
	}
	return nil
}
