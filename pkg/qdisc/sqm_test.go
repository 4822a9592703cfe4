package qdisc

import "testing"

func TestSQMSelectFastQueueThreshold(t *testing.T) {
	c := SQMConfig{}
	got := c.Select(1000)
	if len(got) != 1 || got[0] != "fq_codel" {
		t.Errorf("at threshold, got %v, want fq_codel", got)
	}
}

func TestSQMSelectOverrideFqCodel(t *testing.T) {
	c := SQMConfig{Override: "fq_codel"}
	got := c.Select(10)
	if len(got) != 1 || got[0] != "fq_codel" {
		t.Errorf("override fq_codel, got %v", got)
	}
}

func TestSQMSelectCakeRTTFixup(t *testing.T) {
	cases := []struct {
		rate float64
		rtt  string
	}{
		{0.5, "300ms"},
		{2, "180ms"},
		{3, "140ms"},
		{4, "120ms"},
	}
	for _, c := range cases {
		cfg := SQMConfig{Override: "cake"}
		got := cfg.Select(c.rate)
		if got[0] != "cake" || got[1] != "diffserv4" {
			t.Fatalf("Select(%v) = %v, want cake diffserv4 ...", c.rate, got)
		}
		if len(got) < 4 || got[2] != "rtt" || got[3] != c.rtt {
			t.Errorf("Select(%v) rtt = %v, want %s", c.rate, got, c.rtt)
		}
	}
}

func TestSQMSelectCakeHighRateNoRTT(t *testing.T) {
	cfg := SQMConfig{Override: "cake"}
	got := cfg.Select(100)
	if len(got) != 2 {
		t.Errorf("high rate cake should have no rtt fixup, got %v", got)
	}
}

func TestSQMSelectExplicitRTTOverridesFixup(t *testing.T) {
	cfg := SQMConfig{Override: "cake", ExplicitRTT: "50ms"}
	got := cfg.Select(0.5)
	if got[len(got)-1] != "50ms" {
		t.Errorf("explicit rtt should win, got %v", got)
	}
}
