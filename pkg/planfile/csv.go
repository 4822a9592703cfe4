// Package planfile reads a ShapedDevices.csv (the same column layout
// pkg/topology writes) and turns it into a plan.DesiredPlan, standing
// in for a full topology build when circuits are maintained directly
// as a flat CSV rather than through an inventory API.
package planfile

import (
	"encoding/csv"
	"fmt"
	"hash/fnv"
	"io"
	"strconv"
	"strings"

	"github.com/libreqos/lqosd/pkg/plan"
	"github.com/libreqos/lqosd/pkg/tchandle"
)

// rootMinor is the single synthetic root site every loaded circuit is
// parented under. A flat CSV carries no tree structure of its own, so
// every circuit attaches directly to one root site sized to their sum.
const rootMinor uint16 = 1

// shapedDevicesHeader mirrors pkg/topology's writer column order.
var shapedDevicesHeader = []string{
	"circuit_id", "circuit_name", "device_id", "device_name",
	"parent_node", "mac", "ipv4", "ipv6",
	"download_min", "upload_min", "download_max", "upload_max", "comment",
}

// Load reads a ShapedDevices.csv from r and returns the equivalent
// DesiredPlan: one synthetic root AddSite sized to the sum of all
// circuit ceilings, followed by one AddCircuit per row.
func Load(r io.Reader) (plan.DesiredPlan, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(shapedDevicesHeader)
	header, err := cr.Read()
	if err != nil {
		return plan.DesiredPlan{}, fmt.Errorf("planfile: read header: %w", err)
	}
	if err := checkHeader(header); err != nil {
		return plan.DesiredPlan{}, err
	}

	rootHandle := tchandle.New(tchandle.RootMajor, rootMinor)
	var circuits []plan.Circuit
	var totalDownMax, totalUpMax float64

	for rowNum := 2; ; rowNum++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return plan.DesiredPlan{}, fmt.Errorf("planfile: read row %d: %w", rowNum, err)
		}
		c, err := parseRow(row, rootHandle, uint16(len(circuits)+2))
		if err != nil {
			return plan.DesiredPlan{}, fmt.Errorf("planfile: row %d: %w", rowNum, err)
		}
		circuits = append(circuits, c)
		totalDownMax += c.DownloadMaxMbps
		totalUpMax += c.UploadMaxMbps
	}

	var cmds []plan.Command
	cmds = append(cmds, plan.BatchBegin{})
	cmds = append(cmds, plan.AddSite{Site: plan.Site{
		SiteHash:        circuitHash("root"),
		Name:            "root",
		ParentClassID:   tchandle.New(tchandle.RootMajor, 0),
		UpParentClassID: tchandle.New(tchandle.RootMajor, 0),
		ClassMinor:      rootMinor,
		DownloadMaxMbps: totalDownMax,
		UploadMaxMbps:   totalUpMax,
	}})
	for _, c := range circuits {
		cmds = append(cmds, plan.AddCircuit{Circuit: c})
	}
	cmds = append(cmds, plan.BatchEnd{})

	return plan.DesiredPlan{Commands: cmds}, nil
}

func checkHeader(got []string) error {
	if len(got) != len(shapedDevicesHeader) {
		return fmt.Errorf("planfile: header has %d columns, want %d", len(got), len(shapedDevicesHeader))
	}
	for i, want := range shapedDevicesHeader {
		if got[i] != want {
			return fmt.Errorf("planfile: column %d is %q, want %q", i, got[i], want)
		}
	}
	return nil
}

func parseRow(row []string, rootHandle tchandle.Handle, minor uint16) (plan.Circuit, error) {
	circuitID := row[0]
	downMin, err := strconv.ParseFloat(row[8], 64)
	if err != nil {
		return plan.Circuit{}, fmt.Errorf("download_min: %w", err)
	}
	upMin, err := strconv.ParseFloat(row[9], 64)
	if err != nil {
		return plan.Circuit{}, fmt.Errorf("upload_min: %w", err)
	}
	downMax, err := strconv.ParseFloat(row[10], 64)
	if err != nil {
		return plan.Circuit{}, fmt.Errorf("download_max: %w", err)
	}
	upMax, err := strconv.ParseFloat(row[11], 64)
	if err != nil {
		return plan.Circuit{}, fmt.Errorf("upload_max: %w", err)
	}

	ips := joinIPColumns(row[6], row[7])

	return plan.Circuit{
		CircuitHash:     circuitHash(circuitID),
		Name:            row[1],
		ParentClassID:   rootHandle,
		UpParentClassID: rootHandle,
		ClassMinor:      minor,
		ClassMajor:      1,
		UpClassMajor:    1,
		DownloadMinMbps: downMin,
		UploadMinMbps:   upMin,
		DownloadMaxMbps: downMax,
		UploadMaxMbps:   upMax,
		IPAddresses:     ips,
	}, nil
}

// joinIPColumns turns the CSV's space-separated ipv4/ipv6 columns
// into the comma-separated mixed list plan.Circuit.IPAddresses wants.
func joinIPColumns(v4, v6 string) string {
	var all []string
	all = append(all, strings.Fields(v4)...)
	all = append(all, strings.Fields(v6)...)
	return strings.Join(all, ",")
}

// circuitHash derives a stable 64-bit identifier from a circuit_id.
func circuitHash(id string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64()
}
