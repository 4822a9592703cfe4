package qdisc

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/libreqos/lqosd/pkg/bakery"
	"github.com/libreqos/lqosd/pkg/plan"
	"github.com/libreqos/lqosd/pkg/tchandle"
)

func TestBuildRebuildCommandsStartsWithDeleteThenMQ(t *testing.T) {
	a := &Applier{Mode: ModeRecord, Queues: 2}
	cmds := a.BuildRebuildCommands(RebuildInput{
		Interface: "eth0",
		LinkMbps:  1000,
		Direction: Download,
	})
	if len(cmds) < 2 {
		t.Fatalf("expected at least delete+mq commands, got %d", len(cmds))
	}
	if !(cmds[0][0] == "qdisc" && cmds[0][1] == "delete") {
		t.Errorf("first command should delete root, got %v", cmds[0])
	}
	if !(cmds[1][0] == "qdisc" && cmds[1][1] == "replace" && cmds[1][len(cmds[1])-1] == "mq") {
		t.Errorf("second command should install mq root, got %v", cmds[1])
	}
}

// The per-queue HTB root class is sized to the full uplink capacity
// regardless of how many queues the MQ root fans out across.
func TestBuildRebuildCommandsRootClassUsesFullLinkRate(t *testing.T) {
	for _, queues := range []int{1, 4} {
		a := &Applier{Mode: ModeRecord, Queues: queues}
		cmds := a.BuildRebuildCommands(RebuildInput{
			Interface: "eth0",
			LinkMbps:  1000,
			Direction: Download,
		})
		want := EncodeRate(1000)
		var root Cmd
		for _, c := range cmds {
			if c[0] == "class" && c[1] == "add" {
				root = c
				break
			}
		}
		if root == nil {
			t.Fatalf("queues=%d: no class add command emitted", queues)
		}
		var rate string
		for i, arg := range root {
			if arg == "rate" && i+1 < len(root) {
				rate = root[i+1]
			}
		}
		if rate != want {
			t.Errorf("queues=%d: root class rate = %q, want %q (undivided link rate)", queues, rate, want)
		}
	}
}

func TestApplierRecordMode(t *testing.T) {
	var buf bytes.Buffer
	a := &Applier{Mode: ModeRecord, RecordWriter: &buf}
	cmds := []Cmd{{"qdisc", "add", "dev", "eth0"}}
	if err := a.Run(context.Background(), cmds); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(buf.String(), "qdisc add dev eth0") {
		t.Errorf("record output = %q", buf.String())
	}
}

func TestBuildSpeedChangeCommandsScenario2(t *testing.T) {
	s := plan.Site{
		SiteHash:        1,
		ParentClassID:   tchandle.New(1, 0),
		ClassMinor:      2,
		DownloadMinMbps: 50,
		DownloadMaxMbps: 200,
	}
	a := &Applier{Mode: ModeRecord}
	cmds := a.BuildSpeedChangeCommands("eth0", []plan.Site{s}, Download)
	if len(cmds) != 1 {
		t.Fatalf("expected exactly one class change command, got %d", len(cmds))
	}
	c := cmds[0]
	if c[0] != "class" || c[1] != "change" {
		t.Errorf("expected class change, got %v", c)
	}
}

func TestRunToleratesMissingRootQdisc(t *testing.T) {
	a := &Applier{Mode: ModeExecute, Runner: func(ctx context.Context, tcPath string, argv []string) error {
		return fmt.Errorf("exit status 2: RTNETLINK answers: No such file or directory")
	}}
	cmds := []Cmd{{"qdisc", "delete", "dev", "eth0", "root"}}
	if err := a.Run(context.Background(), cmds); err != nil {
		t.Fatalf("Run should tolerate a not-found delete-root failure, got %v", err)
	}
}

func TestRunPropagatesOtherRootDeleteFailures(t *testing.T) {
	a := &Applier{Mode: ModeExecute, Runner: func(ctx context.Context, tcPath string, argv []string) error {
		return fmt.Errorf("exit status 1: RTNETLINK answers: Permission denied")
	}}
	cmds := []Cmd{{"qdisc", "delete", "dev", "eth0", "root"}}
	if err := a.Run(context.Background(), cmds); err == nil {
		t.Fatal("expected a real failure on delete-root to propagate")
	}
}

func TestRunPropagatesNotFoundOnNonDeleteCommands(t *testing.T) {
	a := &Applier{Mode: ModeExecute, Runner: func(ctx context.Context, tcPath string, argv []string) error {
		return fmt.Errorf("exit status 2: RTNETLINK answers: No such file or directory")
	}}
	cmds := []Cmd{{"qdisc", "replace", "dev", "eth0", "handle", "7fff:", "mq"}}
	if err := a.Run(context.Background(), cmds); err == nil {
		t.Fatal("not-found tolerance must be scoped to the delete-root command only")
	}
}

func TestApplyCircuitDiffNewlyAdded(t *testing.T) {
	c := plan.Circuit{
		CircuitHash:     1,
		ParentClassID:   tchandle.New(1, 0x10),
		UpParentClassID: tchandle.New(1, 0x10),
		ClassMinor:      0x10,
		ClassMajor:      1,
		UpClassMajor:    1,
		DownloadMinMbps: 5,
		DownloadMaxMbps: 10,
		UploadMinMbps:   5,
		UploadMaxMbps:   10,
	}
	var buf bytes.Buffer
	a := &Applier{Mode: ModeRecord, RecordWriter: &buf}
	diff := bakery.CircuitDiffResult{NewlyAdded: []plan.Circuit{c}}
	if err := a.ApplyCircuitDiff(context.Background(), "eth0", diff, Download); err != nil {
		t.Fatalf("ApplyCircuitDiff: %v", err)
	}
	if !strings.Contains(buf.String(), "class add dev eth0") {
		t.Errorf("expected a class add command, got %q", buf.String())
	}
}

func TestApplyCircuitDiffUpdatedIncludesParent(t *testing.T) {
	c := plan.Circuit{
		CircuitHash:     1,
		ParentClassID:   tchandle.New(1, 0x10),
		UpParentClassID: tchandle.New(1, 0x10),
		ClassMinor:      0x20,
		ClassMajor:      1,
		UpClassMajor:    1,
		DownloadMinMbps: 5,
		DownloadMaxMbps: 20,
		UploadMinMbps:   5,
		UploadMaxMbps:   20,
	}
	var buf bytes.Buffer
	a := &Applier{Mode: ModeRecord, RecordWriter: &buf}
	diff := bakery.CircuitDiffResult{Updated: []plan.Circuit{c}}
	if err := a.ApplyCircuitDiff(context.Background(), "eth0", diff, Download); err != nil {
		t.Fatalf("ApplyCircuitDiff: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "class change dev eth0") {
		t.Fatalf("expected a class change command, got %q", out)
	}
	if !strings.Contains(out, "parent 1:10") {
		t.Errorf("class change command must include parent, got %q", out)
	}
}
