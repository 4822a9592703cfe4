package collator

// Reduce computes {min, max, avg} over the window for totals,
// per-host, and per-tree-node scalar streams.
// A host or tree node absent from some entries still contributes to
// the reduction using only the entries it appears in.
func Reduce(entries []SessionEntry) StatsSubmission {
	if len(entries) == 0 {
		return StatsSubmission{}
	}

	var bpsDown, bpsUp, ppsDown, ppsUp, shapedDown, shapedUp accumulator
	hostAcc := make(map[string]*hostAccumulator)
	treeAcc := make(map[string]*treeAccumulator)

	last := entries[len(entries)-1]
	for _, e := range entries {
		bpsDown.add(float64(e.BpsDown))
		bpsUp.add(float64(e.BpsUp))
		ppsDown.add(float64(e.PpsDown))
		ppsUp.add(float64(e.PpsUp))
		shapedDown.add(float64(e.ShapedBpsDown))
		shapedUp.add(float64(e.ShapedBpsUp))

		for _, h := range e.Hosts {
			a, ok := hostAcc[h.IP]
			if !ok {
				a = &hostAccumulator{ip: h.IP, circuitHash: h.CircuitHash}
				hostAcc[h.IP] = a
			}
			a.down.add(float64(h.BitsDown))
			a.up.add(float64(h.BitsUp))
			a.rtt.add(float64(h.MedianRTT))
		}
		for _, n := range e.Tree {
			a, ok := treeAcc[n.Name]
			if !ok {
				a = &treeAccumulator{name: n.Name}
				treeAcc[n.Name] = a
			}
			a.down.add(float64(n.BitsDown))
			a.up.add(float64(n.BitsUp))
			a.rtt.add(float64(n.MedianRTT))
		}
	}

	hosts := make([]HostReduction, 0, len(hostAcc))
	for _, a := range hostAcc {
		hosts = append(hosts, HostReduction{
			IP:          a.ip,
			CircuitHash: a.circuitHash,
			BitsDown:    a.down.reduction(),
			BitsUp:      a.up.reduction(),
			RTT:         a.rtt.reduction(),
		})
	}
	tree := make([]TreeReduction, 0, len(treeAcc))
	for _, a := range treeAcc {
		tree = append(tree, TreeReduction{
			Name:     a.name,
			BitsDown: a.down.reduction(),
			BitsUp:   a.up.reduction(),
			RTT:      a.rtt.reduction(),
		})
	}

	return StatsSubmission{
		Timestamp: last.Timestamp.Unix(),
		Totals: Totals{
			BpsDown:       bpsDown.reduction(),
			BpsUp:         bpsUp.reduction(),
			PpsDown:       ppsDown.reduction(),
			PpsUp:         ppsUp.reduction(),
			ShapedBpsDown: shapedDown.reduction(),
			ShapedBpsUp:   shapedUp.reduction(),
		},
		Hosts: hosts,
		Tree:  tree,
	}
}

type accumulator struct {
	min, max, sum float64
	n             int
}

func (a *accumulator) add(v float64) {
	if a.n == 0 {
		a.min, a.max = v, v
	} else {
		if v < a.min {
			a.min = v
		}
		if v > a.max {
			a.max = v
		}
	}
	a.sum += v
	a.n++
}

func (a *accumulator) reduction() Reduction {
	if a.n == 0 {
		return Reduction{}
	}
	return Reduction{Min: a.min, Max: a.max, Avg: a.sum / float64(a.n)}
}

type hostAccumulator struct {
	ip          string
	circuitHash uint64
	down, up, rtt accumulator
}

type treeAccumulator struct {
	name          string
	down, up, rtt accumulator
}
