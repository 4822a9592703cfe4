package qdisc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"

	"github.com/libreqos/lqosd/pkg/bakery"
	"github.com/libreqos/lqosd/pkg/lqerr"
	"github.com/libreqos/lqosd/pkg/plan"
	"github.com/libreqos/lqosd/pkg/tchandle"
)

// Mode selects between spawning the external tool and recording the
// command line for regression comparison.
type Mode int

const (
	ModeExecute Mode = iota
	ModeRecord
)

// Direction distinguishes the download and upload HTB trees. In
// dual-interface mode they live on separate NICs; in single-interface
// mode both live on the same NIC under distinct majors.
type Direction int

const (
	Download Direction = iota
	Upload
)

// Cmd is one tc command line, expressed as argv without the leading
// "tc" program name; Execute mode adds it, Record mode leaves it off.
type Cmd []string

// Applier translates Bakery diff output into tc command sequences and
// runs them in Execute or Record mode.
type Applier struct {
	Mode     Mode
	TCPath   string // default "/sbin/tc"
	Queues   int
	SQM      SQMConfig
	// Runner executes one command in Execute mode; overridable for
	// tests. Defaults to exec.CommandContext(ctx, tcPath, argv...).CombinedOutput().
	Runner func(ctx context.Context, tcPath string, argv []string) error
	// RecordWriter receives one formatted line per command in Record
	// mode, without the "tc" prefix.
	RecordWriter io.Writer
}

func (a *Applier) tcPath() string {
	if a.TCPath == "" {
		return "/sbin/tc"
	}
	return a.TCPath
}

// Run executes (or records) a sequence of commands in order, stopping
// at the first failure. A non-zero exit from the external tool fails
// the batch with a propagated, Kernel-categorized error; the caller
// owns retry scheduling.
func (a *Applier) Run(ctx context.Context, cmds []Cmd) error {
	for _, c := range cmds {
		if err := a.runOne(ctx, c); err != nil {
			return lqerr.New(lqerr.Kernel, "qdisc.apply", err)
		}
	}
	return nil
}

func (a *Applier) runOne(ctx context.Context, c Cmd) error {
	switch a.Mode {
	case ModeRecord:
		w := a.RecordWriter
		if w == nil {
			return fmt.Errorf("qdisc: record mode requires a RecordWriter")
		}
		bw := bufio.NewWriter(w)
		for i, arg := range c {
			if i > 0 {
				_, _ = bw.WriteString(" ")
			}
			_, _ = bw.WriteString(arg)
		}
		_, _ = bw.WriteString("\n")
		return bw.Flush()
	default:
		var err error
		var output []byte
		if a.Runner != nil {
			err = a.Runner(ctx, a.tcPath(), c)
		} else {
			cmd := exec.CommandContext(ctx, a.tcPath(), c...)
			output, err = cmd.CombinedOutput()
		}
		if err != nil {
			// "tc qdisc delete dev <if> root" runs unconditionally to
			// clear any prior state, and a missing qdisc (nothing to
			// delete yet) is not a failure.
			if isDeleteRootCmd(c) && isNotFoundErr(err, output) {
				return nil
			}
			return fmt.Errorf("%s %v: %w", a.tcPath(), c, err)
		}
		return nil
	}
}

// isDeleteRootCmd reports whether c is the "qdisc delete dev <if> root"
// teardown command that BuildRebuildCommands always issues first.
func isDeleteRootCmd(c Cmd) bool {
	return len(c) >= 2 && c[0] == "qdisc" && c[1] == "delete" && c[len(c)-1] == "root"
}

// isNotFoundErr reports whether err (optionally paired with captured
// tc output) indicates the qdisc simply wasn't there to delete, as
// opposed to a real kernel/tool failure.
func isNotFoundErr(err error, output []byte) bool {
	text := strings.ToLower(err.Error() + " " + string(output))
	switch {
	case strings.Contains(text, "no such file or directory"):
		return true
	case strings.Contains(text, "cannot find device"):
		return true
	case strings.Contains(text, "cannot delete qdisc with handle of zero"):
		return true
	}
	return false
}

// --- Rebuild sequence ------------------------------------------------

// queueMajor returns the per-CPU HTB major for queue index q: M = q+1.
func queueMajor(q int) uint16 { return uint16(q + 1) }

// BuildSpeedChangeCommands implements the `tc class change` path for
// sites whose only difference is a min/max rate: no rebuild, just a
// class change per site.
func (a *Applier) BuildSpeedChangeCommands(iface string, sites []plan.Site, dir Direction) []Cmd {
	var cmds []Cmd
	for _, s := range sites {
		parent, own, minR, maxR := siteView(s, dir)
		cmds = append(cmds, Cmd{
			"class", "change", "dev", iface,
			"parent", parent.String(),
			"classid", own.String(),
			"htb", "rate", EncodeRate(minR), "ceil", EncodeRate(maxR),
		})
	}
	return cmds
}

// siteView resolves, for a Site and Direction, its parent handle, own
// handle, and min/max Mbps. Sites carry no explicit class major: their
// own major is inherited from whichever per-queue tree their parent
// handle lives in.
func siteView(s plan.Site, dir Direction) (parent, own tchandle.Handle, minMbps, maxMbps float64) {
	if dir == Download {
		parent = s.ParentClassID
		own = tchandle.New(parent.Major, s.ClassMinor)
		return parent, own, s.DownloadMinMbps, s.DownloadMaxMbps
	}
	parent = s.UpParentClassID
	own = tchandle.New(parent.Major, s.ClassMinor)
	return parent, own, s.UploadMinMbps, s.UploadMaxMbps
}

func circuitView(c plan.Circuit, dir Direction) (parent, own tchandle.Handle, cpu uint32, minMbps, maxMbps float64) {
	if dir == Download {
		return c.ParentClassID, tchandle.New(c.ClassMajor, c.ClassMinor), c.DownloadCPU, c.DownloadMinMbps, c.DownloadMaxMbps
	}
	return c.UpParentClassID, tchandle.New(c.UpClassMajor, c.ClassMinor), c.UploadCPU, c.UploadMinMbps, c.UploadMaxMbps
}

// RebuildInput bundles everything BuildRebuildCommands needs for one
// direction's tree on one interface.
type RebuildInput struct {
	Interface   string
	LinkMbps    float64 // total uplink capacity for the interface
	Sites       []plan.Site
	Circuits    []plan.Circuit
	Direction   Direction
}

// BuildRebuildCommands emits the full hierarchy rebuild for one
// interface/direction: delete root, install MQ, per-CPU HTB
// root+default classes with SQM, nested site classes, and leaf
// circuit classes with SQM.
func (a *Applier) BuildRebuildCommands(in RebuildInput) []Cmd {
	var cmds []Cmd
	iface := in.Interface

	// 1. Delete root qdisc. runOne tolerates a not-found failure on
	// this command specifically; anything else non-zero still fails
	// the batch.
	cmds = append(cmds, Cmd{"qdisc", "delete", "dev", iface, "root"})

	// 2. Multi-queue root.
	cmds = append(cmds, Cmd{"qdisc", "replace", "dev", iface, "root", "handle",
		tchandle.New(tchandle.RootMajor, 0).String(), "mq"})

	// Every per-queue root class is sized to the full uplink capacity,
	// not a per-queue share: HTB borrows across the MQ fan-out, and a
	// queue that happens to carry all the traffic must still be able
	// to reach line rate.
	rootRate := EncodeRate(in.LinkMbps)
	rootBytesPerSec := MbpsToBytesPerSec(in.LinkMbps)
	r2q := DeriveR2Q(rootBytesPerSec)
	quantum := Quantum(rootBytesPerSec, r2q)

	defaultMbps := (in.LinkMbps - 1) / 4
	if defaultMbps < 0 {
		defaultMbps = 0
	}
	defaultCeilMbps := in.LinkMbps - 1
	if defaultCeilMbps < 0 {
		defaultCeilMbps = 0
	}

	for q := 0; q < a.Queues; q++ {
		m := queueMajor(q)
		mHandle := tchandle.New(m, 0)
		rootClass := tchandle.New(m, 1)
		defaultClass := tchandle.New(m, 2)

		// 3a. Attach HTB qdisc under the MQ queue.
		cmds = append(cmds, Cmd{"qdisc", "add", "dev", iface,
			"parent", tchandle.New(tchandle.RootMajor, m).String(),
			"handle", mHandle.String(), "htb", "default", "2"})

		// 3b. Root class sized to uplink capacity.
		cmds = append(cmds, Cmd{"class", "add", "dev", iface,
			"parent", mHandle.String(), "classid", rootClass.String(),
			"htb", "rate", rootRate, "ceil", rootRate,
			"quantum", fmt.Sprint(quantum)})
		cmds = append(cmds, a.sqmCmd(iface, rootClass, in.LinkMbps)...)

		// 3c. Default class.
		cmds = append(cmds, Cmd{"class", "add", "dev", iface,
			"parent", mHandle.String(), "classid", defaultClass.String(),
			"htb", "rate", EncodeRate(defaultMbps), "ceil", EncodeRate(defaultCeilMbps)})
		cmds = append(cmds, a.sqmCmd(iface, defaultClass, defaultCeilMbps)...)
	}

	// 4. Sites, in parent-before-child order so nested subtrees install
	// correctly.
	for _, s := range orderSitesByDepth(in.Sites, in.Direction) {
		parent, own, minR, maxR := siteView(s, in.Direction)
		cmds = append(cmds, Cmd{"class", "add", "dev", iface,
			"parent", parent.String(), "classid", own.String(),
			"htb", "rate", EncodeRate(minR), "ceil", EncodeRate(maxR)})
		cmds = append(cmds, a.sqmCmd(iface, own, maxR)...)
	}

	// 5. Circuits.
	for _, c := range in.Circuits {
		parent, own, _, minR, maxR := circuitView(c, in.Direction)
		cmds = append(cmds, Cmd{"class", "add", "dev", iface,
			"parent", parent.String(), "classid", own.String(),
			"htb", "rate", EncodeRate(minR), "ceil", EncodeRate(maxR)})
		cmds = append(cmds, a.sqmCmd(iface, own, maxR)...)
	}

	return cmds
}

func (a *Applier) sqmCmd(iface string, parent tchandle.Handle, rateMbps float64) []Cmd {
	args := a.SQM.Select(rateMbps)
	argv := append(Cmd{"qdisc", "add", "dev", iface, "parent", parent.String()}, args...)
	return []Cmd{argv}
}

// orderSitesByDepth performs a stable topological sort of sites so a
// parent site's class command always precedes its children's. Sites
// whose parent is not itself a site (i.e. a per-queue root class) sort
// first within their queue.
func orderSitesByDepth(sites []plan.Site, dir Direction) []plan.Site {
	byHandle := make(map[tchandle.Handle]plan.Site, len(sites))
	for _, s := range sites {
		_, own, _, _ := siteView(s, dir)
		byHandle[own] = s
	}
	depth := func(s plan.Site) int {
		d := 0
		cur := s
		seen := make(map[tchandle.Handle]bool)
		for {
			parent, own, _, _ := siteView(cur, dir)
			if seen[own] {
				break // defensive cycle guard
			}
			seen[own] = true
			parentSite, ok := byHandle[parent]
			if !ok {
				break
			}
			cur = parentSite
			d++
		}
		return d
	}
	out := make([]plan.Site, len(sites))
	copy(out, sites)
	sort.SliceStable(out, func(i, j int) bool {
		return depth(out[i]) < depth(out[j])
	})
	return out
}

// Rebuild is a convenience that runs BuildRebuildCommands followed by
// Run, for one interface/direction.
func (a *Applier) Rebuild(ctx context.Context, in RebuildInput) error {
	return a.Run(ctx, a.BuildRebuildCommands(in))
}

// ApplySpeedChanges is a convenience wrapper around
// BuildSpeedChangeCommands + Run.
func (a *Applier) ApplySpeedChanges(ctx context.Context, iface string, sites []plan.Site, dir Direction) error {
	return a.Run(ctx, a.BuildSpeedChangeCommands(iface, sites, dir))
}

// ApplyCircuitDiff installs new circuit classes, deletes removed ones,
// and changes updated ones' rate/ceil. Circuit diffs never trigger a
// global rebuild.
func (a *Applier) ApplyCircuitDiff(ctx context.Context, iface string, diff bakery.CircuitDiffResult, dir Direction) error {
	var cmds []Cmd
	for _, c := range diff.NewlyAdded {
		parent, own, _, minR, maxR := circuitView(c, dir)
		cmds = append(cmds, Cmd{"class", "add", "dev", iface,
			"parent", parent.String(), "classid", own.String(),
			"htb", "rate", EncodeRate(minR), "ceil", EncodeRate(maxR)})
		cmds = append(cmds, a.sqmCmd(iface, own, maxR)...)
	}
	for _, c := range diff.Updated {
		parent, own, _, minR, maxR := circuitView(c, dir)
		cmds = append(cmds, Cmd{"class", "change", "dev", iface,
			"parent", parent.String(), "classid", own.String(), "htb",
			"rate", EncodeRate(minR), "ceil", EncodeRate(maxR)})
	}
	for _, c := range diff.Removed {
		_, own, _, _, _ := circuitView(c, dir)
		cmds = append(cmds, Cmd{"class", "del", "dev", iface, "classid", own.String()})
	}
	return a.Run(ctx, cmds)
}
