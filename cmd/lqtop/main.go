// Command lqtop is a terminal viewer of a running lqosd's live queue
// telemetry and most recent collated submission, polled from the
// status server's JSON API (pkg/server). It prints a refreshing plain
// table rather than drawing a full-screen TUI, so it stays readable
// when piped to a file and carries no curses dependency.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/libreqos/lqosd/pkg/collator"
	"github.com/libreqos/lqosd/pkg/queuetelemetry"
)

// Version is overridden at build-time.
var Version = "dev"

// snapshot mirrors pkg/server's internal snapshot shape (the package
// itself is internal to the daemon process, so lqtop decodes its own
// copy of the wire shape rather than importing a private type).
type snapshot struct {
	Submission *collator.StatsSubmission `json:"submission,omitempty"`
	Queues     []queuetelemetry.Record   `json:"queues,omitempty"`
	UpdatedAt  string                    `json:"updated_at"`
}

func main() {
	addr := flag.String("addr", "127.0.0.1:11112", "lqosd status server address")
	interval := flag.Duration("interval", time.Second, "refresh interval")
	rows := flag.Int("rows", 20, "number of queues to display")
	showVer := flag.Bool("version", false, "print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "lqtop %s\n\nUsage: %s [options]\n\nOptions:\n", Version, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVer {
		fmt.Printf("lqtop %s\n", Version)
		os.Exit(0)
	}

	out := colorable.NewColorableStdout()
	tty := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	client := &http.Client{Timeout: *interval}
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	url := fmt.Sprintf("http://%s/api/stats", *addr)
	queuesURL := fmt.Sprintf("http://%s/api/queues", *addr)

	for {
		snap, err := fetch(client, url, queuesURL)
		render(out, tty, snap, err, *rows)
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

func fetch(client *http.Client, statsURL, queuesURL string) (snapshot, error) {
	var snap snapshot
	if err := getJSON(client, statsURL, &snap); err != nil {
		return snap, err
	}
	if err := getJSON(client, queuesURL, &snap.Queues); err != nil {
		return snap, err
	}
	return snap, nil
}

func getJSON(client *http.Client, url string, v any) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("lqtop: %s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// render draws one refresh. tty gates the ANSI clear-screen sequence
// so piping lqtop's output to a file stays plain text.
func render(w io.Writer, tty bool, snap snapshot, fetchErr error, rows int) {
	if tty {
		fmt.Fprint(w, "\x1b[H\x1b[2J")
	}
	fmt.Fprintln(w, "LibreQoS Monitor  (q to quit via Ctrl-C)")
	fmt.Fprintln(w, "========================================")
	if fetchErr != nil {
		fmt.Fprintf(w, "error: %v\n", fetchErr)
		return
	}

	if snap.Submission != nil {
		t := snap.Submission.Totals
		fmt.Fprintf(w, "down: %s avg / %s peak    up: %s avg / %s peak\n",
			scaleBits(uint64(t.BpsDown.Avg)), scaleBits(uint64(t.BpsDown.Max)),
			scaleBits(uint64(t.BpsUp.Avg)), scaleBits(uint64(t.BpsUp.Max)))
		fmt.Fprintf(w, "pps down: %s   pps up: %s\n",
			scalePackets(uint64(t.PpsDown.Avg)), scalePackets(uint64(t.PpsUp.Avg)))
	}
	fmt.Fprintln(w)

	sorted := append([]queuetelemetry.Record(nil), snap.Queues...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Drops > sorted[j].Drops })
	if len(sorted) > rows {
		sorted = sorted[:rows]
	}

	fmt.Fprintf(w, "%-10s %-6s %-8s %-8s %10s %10s\n", "IFACE", "KIND", "HANDLE", "PARENT", "DROPS", "ECN")
	for _, r := range sorted {
		fmt.Fprintf(w, "%-10s %-6s %-8s %-8s %10d %10d\n",
			r.Interface, r.Kind, r.Handle.String(), r.Parent.String(), r.Drops, r.ECNMark)
	}
}

func scalePackets(n uint64) string {
	switch {
	case n > 1_000_000_000:
		return fmt.Sprintf("%.2f gpps", float64(n)/1_000_000_000)
	case n > 1_000_000:
		return fmt.Sprintf("%.2f mpps", float64(n)/1_000_000)
	case n > 1_000:
		return fmt.Sprintf("%.2f kpps", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d pps", n)
	}
}

func scaleBits(n uint64) string {
	switch {
	case n > 1_000_000_000:
		return fmt.Sprintf("%.2f gbps", float64(n)/1_000_000_000)
	case n > 1_000_000:
		return fmt.Sprintf("%.2f mbps", float64(n)/1_000_000)
	case n > 1_000:
		return fmt.Sprintf("%.2f kbps", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d bps", n)
	}
}
