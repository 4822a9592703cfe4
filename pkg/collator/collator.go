package collator

import (
	"context"
	"time"

	"github.com/libreqos/lqosd/pkg/log"
)

// defaultPeriod is the collation period.
const defaultPeriod = 60 * time.Second

// Sink receives a finished submission; it is the LTS queue in
// production wiring and a simple slice-appender in tests.
type Sink interface {
	Enqueue(StatsSubmission)
}

// Collator drains the SessionBuffer on a fixed period, reduces the
// window into a StatsSubmission, feeds the aggregate and per-ASN
// heatmaps, and hands the submission to a Sink.
type Collator struct {
	Buffer  *SessionBuffer
	Sink    Sink
	Period  time.Duration
	ASNs    *ASNStore
	CollectResources func() (cpuPerCore []float64, memUsedPercent float64)

	DownloadHeatmap Heatmap
	UploadHeatmap   Heatmap
}

// NewCollator wires a Collator with sensible defaults.
func NewCollator(buffer *SessionBuffer, sink Sink) *Collator {
	return &Collator{
		Buffer: buffer,
		Sink:   sink,
		Period: defaultPeriod,
		ASNs:   NewASNStore(),
	}
}

// Run blocks until ctx is canceled, calling Tick on every period.
func (c *Collator) Run(ctx context.Context) {
	period := c.Period
	if period <= 0 {
		period = defaultPeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.Tick(now)
		}
	}
}

// Tick drains the buffer, reduces it, updates heatmaps, and pushes
// the submission to the sink. A no-op if the buffer is empty.
func (c *Collator) Tick(now time.Time) {
	entries := c.Buffer.DrainAndClear()
	if len(entries) == 0 {
		return
	}
	submission := Reduce(entries)
	if c.CollectResources != nil {
		submission.CPUPerCore, submission.MemUsedPercent = c.CollectResources()
	}

	for _, e := range entries {
		c.DownloadHeatmap.Add(float64(e.BpsDown))
		c.UploadHeatmap.Add(float64(e.BpsUp))

		if c.ASNs != nil {
			for _, h := range e.Hosts {
				if h.ASN != 0 {
					c.ASNs.Observe(h.ASN, float64(h.BitsDown), now)
				}
			}
		}
	}

	if c.Sink != nil {
		c.Sink.Enqueue(submission)
	} else {
		log.Logger.Warn().Msg("collator tick produced a submission with no sink configured")
	}
}
