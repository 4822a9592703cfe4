// Command lqosd is the control-plane daemon: it watches a desired
// plan, diffs it against live state, applies the result to tc and the
// XDP IP map, samples queue telemetry, collates it into periodic
// submissions, and ships them to a remote LTS endpoint, while serving
// the current snapshot over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/libreqos/lqosd/pkg/bakery"
	"github.com/libreqos/lqosd/pkg/bus"
	"github.com/libreqos/lqosd/pkg/collator"
	"github.com/libreqos/lqosd/pkg/config"
	"github.com/libreqos/lqosd/pkg/datapath"
	"github.com/libreqos/lqosd/pkg/log"
	"github.com/libreqos/lqosd/pkg/lts"
	"github.com/libreqos/lqosd/pkg/plan"
	"github.com/libreqos/lqosd/pkg/planfile"
	"github.com/libreqos/lqosd/pkg/qdisc"
	"github.com/libreqos/lqosd/pkg/queuetelemetry"
	"github.com/libreqos/lqosd/pkg/server"
)

// Version is overridden at build-time.
var Version = "dev"

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	cfg := config.RegisterFlags(fs)
	showVer := fs.Bool("version", false, "print version and exit")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "lqosd %s\n\nUsage: %s [options]\n\nOptions:\n", Version, os.Args[0])
		fs.PrintDefaults()
	}
	fs.Parse(os.Args[1:])

	if *showVer {
		fmt.Printf("lqosd %s\n", Version)
		os.Exit(0)
	}

	log.Logger = log.Logger.Level(zerolog.InfoLevel).With().Str("version", Version).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *cfg); err != nil {
		log.Logger.Fatal().Err(err).Msg("fatal")
	}
	log.Logger.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg config.Config) error {
	busServer := bus.NewInProcessServer()
	busClient := bus.NewPersistentClient(func(ctx context.Context) (bus.Client, error) {
		return bus.InProcessClient{Server: busServer}, nil
	})

	live := bakery.NewLivePlan()
	reconciler := &datapath.Reconciler{Client: busClient, SingleInterface: cfg.SingleInterfaceMode()}

	applier := &qdisc.Applier{
		Mode:   qdisc.ModeExecute,
		Queues: 1,
	}

	srv := server.New()

	buffer := collator.NewSessionBuffer()
	queue := lts.NewQueue()
	col := collator.NewCollator(buffer, multiSink{queue: queue, server: srv})
	col.Period = cfg.CollationPeriod

	identity, err := lts.NewIdentity()
	if err != nil {
		return fmt.Errorf("lqosd: generate identity: %w", err)
	}
	checker := unimplementedLicenseChecker{}
	license := lts.NewLicense(cfg.LicenseKey, checker, cfg.LTSEndpoint)
	ltsClient := lts.NewClient(identity, license, queue, dialTCP(cfg.LTSEndpoint), [32]byte{})

	reader := queueReader(cfg.QueueReader)
	tracker := queuetelemetry.NewTracker()
	sampler := &queuetelemetry.Sampler{
		Interval: cfg.QueueTelemetryInterval,
		Collect: func(ctx context.Context) error {
			records, err := collectQueueSamples(ctx, cfg, reader)
			if err != nil {
				return err
			}
			srv.SetQueueSamples(records)
			entry := buildSessionEntry(records, live.CircuitsSnapshot(), tracker, cfg.SingleInterfaceMode(), cfg.DownloadInterface, cfg.QueueTelemetryInterval)
			buffer.Append(entry)
			return nil
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sampler.Run(gctx)
		return nil
	})
	g.Go(func() error {
		col.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if cfg.LTSEndpoint == "" {
			log.Logger.Info().Msg("no LTS endpoint configured; long-term-stats submission disabled")
			return nil
		}
		return ltsClient.Run(gctx)
	})
	g.Go(func() error {
		return applyLoop(gctx, live, reconciler, applier, cfg)
	})
	g.Go(func() error {
		return srv.Run(gctx, cfg.Addr())
	})

	return g.Wait()
}

// applyLoop rereads the ShapedDevices.csv under cfg.LqosDir on a fixed
// cadence, diffs it against the live plan via the Bakery, and applies
// the result to tc and the XDP map.
func applyLoop(ctx context.Context, live *bakery.LivePlan, reconciler *datapath.Reconciler, applier *qdisc.Applier, cfg config.Config) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := applyOnce(ctx, live, reconciler, applier, cfg); err != nil {
				log.Logger.Warn().Err(err).Msg("plan apply cycle failed")
			}
		}
	}
}

func applyOnce(ctx context.Context, live *bakery.LivePlan, reconciler *datapath.Reconciler, applier *qdisc.Applier, cfg config.Config) error {
	f, err := os.Open(filepath.Join(cfg.LqosDir, "ShapedDevices.csv"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open ShapedDevices.csv: %w", err)
	}
	defer f.Close()

	desired, err := planfile.Load(f)
	if err != nil {
		return fmt.Errorf("load desired plan: %w", err)
	}

	sites := bakery.CollectSites(desired)
	circuits := bakery.CollectCircuits(desired)

	siteDiff := bakery.DiffSites(live.Sites, sites)
	if siteDiff.Kind == bakery.SiteRebuildRequired {
		in := qdisc.RebuildInput{
			Interface: cfg.DownloadInterface,
			LinkMbps:  totalCapacity(sites, func(s plan.Site) float64 { return s.DownloadMaxMbps }),
			Sites:     siteList(sites),
			Circuits:  circuitList(circuits),
			Direction: qdisc.Download,
		}
		if err := applier.Rebuild(ctx, in); err != nil {
			return fmt.Errorf("rebuild download tree: %w", err)
		}
		in.Interface = cfg.UploadInterface
		in.LinkMbps = totalCapacity(sites, func(s plan.Site) float64 { return s.UploadMaxMbps })
		in.Direction = qdisc.Upload
		if err := applier.Rebuild(ctx, in); err != nil {
			return fmt.Errorf("rebuild upload tree: %w", err)
		}
	} else if siteDiff.Kind == bakery.SiteSpeedChanges && len(siteDiff.Changes) > 0 {
		if err := applier.ApplySpeedChanges(ctx, cfg.DownloadInterface, siteDiff.Changes, qdisc.Download); err != nil {
			return fmt.Errorf("apply download speed changes: %w", err)
		}
		if err := applier.ApplySpeedChanges(ctx, cfg.UploadInterface, siteDiff.Changes, qdisc.Upload); err != nil {
			return fmt.Errorf("apply upload speed changes: %w", err)
		}
	}

	circuitDiff := bakery.DiffCircuits(live.Circuits, circuits)
	if err := applier.ApplyCircuitDiff(ctx, cfg.DownloadInterface, circuitDiff, qdisc.Download); err != nil {
		return fmt.Errorf("apply download circuit diff: %w", err)
	}
	if err := applier.ApplyCircuitDiff(ctx, cfg.UploadInterface, circuitDiff, qdisc.Upload); err != nil {
		return fmt.Errorf("apply upload circuit diff: %w", err)
	}

	if err := reconciler.Reconcile(ctx, circuitList(circuits)); err != nil {
		return fmt.Errorf("reconcile datapath: %w", err)
	}

	live.Commit(sites, circuits)
	return nil
}

func siteList(m map[uint64]plan.Site) []plan.Site {
	out := make([]plan.Site, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	return out
}

func circuitList(m map[uint64]plan.Circuit) []plan.Circuit {
	out := make([]plan.Circuit, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}

// totalCapacity picks the largest per-site cap, since every topmost
// site in a plan is expected to already be sized to its subtree's
// total (planfile's synthetic root is, by construction).
func totalCapacity(sites map[uint64]plan.Site, field func(plan.Site) float64) float64 {
	var max float64
	for _, s := range sites {
		if v := field(s); v > max {
			max = v
		}
	}
	return max
}

// queueReader picks the telemetry sampling backend named by
// cfg.QueueReader, falling back to the tc-exec reader for any
// unrecognized value.
func queueReader(name string) queuetelemetry.Reader {
	if name == "netlink" {
		return queuetelemetry.NetlinkReader{}
	}
	return queuetelemetry.TcReader{}
}

func collectQueueSamples(ctx context.Context, cfg config.Config, reader queuetelemetry.Reader) ([]queuetelemetry.Record, error) {
	down, err := reader.CollectStats(ctx, cfg.DownloadInterface)
	if err != nil {
		return nil, err
	}
	if cfg.SingleInterfaceMode() {
		return down, nil
	}
	up, err := reader.CollectStats(ctx, cfg.UploadInterface)
	if err != nil {
		return nil, err
	}
	return append(down, up...), nil
}

func dialTCP(endpoint string) func(ctx context.Context) (net.Conn, error) {
	return func(ctx context.Context) (net.Conn, error) {
		d := net.Dialer{Timeout: 5 * time.Second}
		return d.DialContext(ctx, "tcp", endpoint)
	}
}

// multiSink fans a collated submission out to the LTS reliability
// queue and the status server's in-memory snapshot.
type multiSink struct {
	queue  *lts.Queue
	server *server.Server
}

func (m multiSink) Enqueue(s collator.StatsSubmission) {
	m.queue.Enqueue(s)
	m.server.Enqueue(s)
}

// unimplementedLicenseChecker is the Checker a non-sentinel license
// key ends up calling: License only invokes it for an Unknown key
// (the sentinel short-circuits to Valid in NewLicense without ever
// reaching a Checker), and there is no remote licensing-server
// verification here, so every real license key is denied rather than
// submitting on an unverified claim of validity.
type unimplementedLicenseChecker struct{}

func (unimplementedLicenseChecker) Check(ctx context.Context, licenseKey string) (lts.LicenseState, error) {
	return lts.Denied, nil
}
