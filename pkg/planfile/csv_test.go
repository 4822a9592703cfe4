package planfile

import (
	"strings"
	"testing"

	"github.com/libreqos/lqosd/pkg/plan"
)

const sampleCSV = `circuit_id,circuit_name,device_id,device_name,parent_node,mac,ipv4,ipv6,download_min,upload_min,download_max,upload_max,comment
c1,Alice,d1,Router,,,10.0.0.1,,5,2,50,20,
c2,Bob,d2,Router,,,10.0.0.2,,5,2,100,40,
`

func TestLoadProducesRootAndCircuits(t *testing.T) {
	dp, err := Load(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	sites := dp.Sites()
	if len(sites) != 1 {
		t.Fatalf("got %d sites, want 1 synthetic root", len(sites))
	}
	var root plan.Site
	for _, s := range sites {
		root = s
	}
	if root.DownloadMaxMbps != 150 || root.UploadMaxMbps != 60 {
		t.Errorf("root caps = %v/%v, want 150/60 (sum of circuit maxes)", root.DownloadMaxMbps, root.UploadMaxMbps)
	}

	circuits := dp.Circuits()
	if len(circuits) != 2 {
		t.Fatalf("got %d circuits, want 2", len(circuits))
	}
	var found bool
	for _, c := range circuits {
		if c.Name == "Alice" {
			found = true
			if c.DownloadMaxMbps != 50 || c.IPAddresses != "10.0.0.1" {
				t.Errorf("Alice circuit = %+v, want download_max=50 ip=10.0.0.1", c)
			}
		}
	}
	if !found {
		t.Error("expected a circuit named Alice")
	}
}

func TestLoadRejectsWrongHeader(t *testing.T) {
	_, err := Load(strings.NewReader("a,b,c\n"))
	if err == nil {
		t.Fatal("expected an error for a mismatched header")
	}
}

func TestLoadRejectsBadRate(t *testing.T) {
	bad := `circuit_id,circuit_name,device_id,device_name,parent_node,mac,ipv4,ipv6,download_min,upload_min,download_max,upload_max,comment
c1,Alice,d1,Router,,,10.0.0.1,,not-a-number,2,50,20,
`
	_, err := Load(strings.NewReader(bad))
	if err == nil {
		t.Fatal("expected an error for a non-numeric rate")
	}
}
