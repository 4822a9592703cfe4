package qdisc

// SQMConfig captures the per-deployment SQM policy knobs that decide
// which leaf qdisc a circuit gets.
type SQMConfig struct {
	// Override forces a particular leaf qdisc ("fq_codel" or "cake");
	// empty means "no override".
	Override string
	// DefaultIsCake mirrors "config default starts with cake": when
	// Override is empty, an operator-configured default of "cake ..."
	// selects cake regardless of the fast-queue threshold.
	DefaultIsCake bool
	// CakeVariant is the diffserv mode used when cake is selected,
	// e.g. "diffserv4". Defaults to "diffserv4" if empty.
	CakeVariant string
	// FastQueuesFqCodelMbps is the threshold at/above which an
	// un-overridden circuit gets fq_codel instead of cake. Defaults to
	// 1000 if zero.
	FastQueuesFqCodelMbps float64
	// ExplicitRTT, if non-empty, is used verbatim instead of the
	// low-rate RTT fixup table.
	ExplicitRTT string
}

func (c SQMConfig) threshold() float64 {
	if c.FastQueuesFqCodelMbps <= 0 {
		return 1000
	}
	return c.FastQueuesFqCodelMbps
}

func (c SQMConfig) cakeVariant() string {
	if c.CakeVariant == "" {
		return "diffserv4"
	}
	return c.CakeVariant
}

// rttFixup is the low-rate RTT table applied when cake is selected
// with no explicit rtt configured:
//
//	R (Mbps)  rtt
//	<=1       300ms
//	<=2       180ms
//	<=3       140ms
//	<=4       120ms
//	>4        default (100ms, unset)
func rttFixup(rateMbps float64) string {
	switch {
	case rateMbps <= 1:
		return "300ms"
	case rateMbps <= 2:
		return "180ms"
	case rateMbps <= 3:
		return "140ms"
	case rateMbps <= 4:
		return "120ms"
	default:
		return ""
	}
}

func (c SQMConfig) cakeArgs(rateMbps float64) []string {
	args := []string{"cake", c.cakeVariant()}
	rtt := c.ExplicitRTT
	if rtt == "" {
		rtt = rttFixup(rateMbps)
	}
	if rtt != "" {
		args = append(args, "rtt", rtt)
	}
	return args
}

// Select returns the leaf-qdisc argv tail (everything after
// "qdisc add dev <if> parent <handle>") for a circuit or
// site of the given ceiling rate:
//
//   - no override and R >= threshold (default 1000): fq_codel
//   - override fq_codel: fq_codel
//   - override cake (or config default starts with "cake"): cake with
//     the low-rate RTT fixup when no explicit rtt is configured
func (c SQMConfig) Select(rateMbps float64) []string {
	switch {
	case c.Override == "fq_codel":
		return []string{"fq_codel"}
	case c.Override == "cake":
		return c.cakeArgs(rateMbps)
	case c.Override == "" && c.DefaultIsCake:
		return c.cakeArgs(rateMbps)
	case c.Override == "" && rateMbps >= c.threshold():
		return []string{"fq_codel"}
	default:
		return c.cakeArgs(rateMbps)
	}
}

// String renders the SQM selection as a single space-joined argument
// string, convenient for building a tc command line.
func (c SQMConfig) String(rateMbps float64) string {
	args := c.Select(rateMbps)
	out := args[0]
	for _, a := range args[1:] {
		out += " " + a
	}
	return out
}
