// Package config is the daemon's flag-populated settings struct.
// Config-file loading and CLI-flag parsing beyond this are explicit
// external-collaborator Non-goals, so this stays a plain struct with
// defaults rather than a TOML/YAML layer.
package config

import (
	"flag"
	"fmt"
	"time"
)

// Config bundles every setting lqosd needs. Zero-value fields are
// filled by FlagSet's defaults unless the caller overrides them.
type Config struct {
	Host string
	Port int

	// DownloadInterface/UploadInterface name the NICs queue telemetry
	// is sampled from. Equal values mean single-interface mode.
	DownloadInterface string
	UploadInterface   string

	QueueTelemetryInterval time.Duration
	CollationPeriod        time.Duration
	HistoryCapacity        int

	// QueueReader selects the telemetry sampling backend: "tc" (shell
	// out to tc -s -j qdisc show) or "netlink" (RTM_GETQDISC over a
	// raw netlink socket, no fork/exec).
	QueueReader string

	// LqosDir is the directory holding ShapedDevices.csv/network.json
	// and any local state the daemon persists between runs.
	LqosDir string

	LTSEndpoint   string
	LicenseKey    string
}

// SingleInterfaceMode reports whether upload and download telemetry
// share one NIC.
func (c Config) SingleInterfaceMode() bool {
	return c.DownloadInterface == c.UploadInterface
}

// Addr returns the host:port the status server binds to.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RegisterFlags binds fs's flags into a Config.
func RegisterFlags(fs *flag.FlagSet) *Config {
	c := &Config{}
	fs.StringVar(&c.Host, "host", "0.0.0.0", "bind address for the status server")
	fs.IntVar(&c.Port, "port", 11112, "TCP port for the status server")
	fs.StringVar(&c.DownloadInterface, "download-interface", "eth0", "NIC queues are sampled from for download telemetry")
	fs.StringVar(&c.UploadInterface, "upload-interface", "eth0", "NIC queues are sampled from for upload telemetry")
	fs.DurationVar(&c.QueueTelemetryInterval, "queue-interval", time.Second, "poll interval for queue telemetry")
	fs.DurationVar(&c.CollationPeriod, "collation-period", 60*time.Second, "collator submission period")
	fs.IntVar(&c.HistoryCapacity, "history", 300, "samples to retain per interface (parsed but not read by lqosd)")
	fs.StringVar(&c.QueueReader, "queue-reader", "tc", "queue telemetry backend: tc or netlink")
	fs.StringVar(&c.LqosDir, "lqos-dir", "/etc/lqos", "directory holding ShapedDevices.csv and network.json")
	fs.StringVar(&c.LTSEndpoint, "lts-endpoint", "", "long-term-stats submission endpoint (host:port); empty disables submission")
	fs.StringVar(&c.LicenseKey, "license-key", "self-hosted", "long-term-stats license key")
	return c
}
