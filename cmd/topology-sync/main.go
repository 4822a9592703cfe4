// Command topology-sync runs the topology builder once against a
// local inventory file, writing ShapedDevices.csv and network.json
// into a configured lqos directory. It consumes whatever JSON export
// has already been fetched from the network-management API rather
// than talking to the API itself.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/libreqos/lqosd/pkg/log"
	"github.com/libreqos/lqosd/pkg/topology"
)

// Version is overridden at build-time.
var Version = "dev"

func main() {
	inventoryPath := flag.String("inventory", "", "path to the inventory JSON export (sites, devices, data links)")
	outDir := flag.String("lqos-dir", "/etc/lqos", "directory to write ShapedDevices.csv and network.json into")
	downloadDefault := flag.Float64("generated-download-mbps", 100, "fallback download capacity (Mbps) for links with no usable speed")
	uploadDefault := flag.Float64("generated-upload-mbps", 20, "fallback upload capacity (Mbps) for links with no usable speed")
	overhead := flag.Float64("overhead-factor", 1.0, "multiplier applied to each client's shaped speeds")
	suspensionPolicy := flag.String("suspension-policy", "none", "how suspended sites are clamped: none or slow")
	showVer := flag.Bool("version", false, "print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "topology-sync %s\n\nUsage: %s -inventory <file> [options]\n\nOptions:\n", Version, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVer {
		fmt.Printf("topology-sync %s\n", Version)
		os.Exit(0)
	}

	log.Logger = log.Logger.Level(zerolog.InfoLevel).With().Str("version", Version).Logger()

	if *inventoryPath == "" {
		log.Logger.Fatal().Msg("-inventory is required")
	}

	defaults := topology.Defaults{
		GeneratedDownloadMbps: *downloadDefault,
		GeneratedUploadMbps:   *uploadDefault,
		OverheadFactor:        *overhead,
		SuspensionPolicy:      parseSuspensionPolicy(*suspensionPolicy),
	}

	if err := run(*inventoryPath, *outDir, defaults); err != nil {
		log.Logger.Fatal().Err(err).Msg("fatal")
	}
	log.Logger.Info().Msg("topology sync complete")
}

func parseSuspensionPolicy(s string) topology.SuspensionPolicy {
	if s == "slow" {
		return topology.SuspensionSlow
	}
	return topology.SuspensionNone
}

func run(inventoryPath, outDir string, defaults topology.Defaults) error {
	f, err := os.Open(inventoryPath)
	if err != nil {
		return fmt.Errorf("topology-sync: open inventory: %w", err)
	}
	defer f.Close()

	var inv topology.Inventory
	if err := json.NewDecoder(f).Decode(&inv); err != nil {
		return fmt.Errorf("topology-sync: decode inventory: %w", err)
	}

	rootName, err := topology.FindRootSite(&inv)
	if err != nil {
		return fmt.Errorf("topology-sync: find root site: %w", err)
	}
	if err := topology.SetRootSite(inv.Sites, rootName); err != nil {
		return fmt.Errorf("topology-sync: set root site: %w", err)
	}

	var rootID string
	parentOf := make(map[string]string, len(inv.Sites))
	for _, s := range inv.Sites {
		if s.Name == rootName {
			rootID = s.ID
		}
		if s.ParentID != "" {
			parentOf[s.ID] = s.ParentID
		}
	}
	if rootID == "" {
		return fmt.Errorf("topology-sync: root site %q has no ID after insertion", rootName)
	}

	circuits := topology.BuildClientCircuits(inv.Sites, inv.Devices, parentOf, defaults)

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("topology-sync: create %s: %w", outDir, err)
	}

	shapedPath := filepath.Join(outDir, "ShapedDevices.csv")
	if err := writeFile(shapedPath, func(f *os.File) error {
		return topology.WriteShapedDevicesCSV(f, circuits)
	}); err != nil {
		return err
	}

	networkPath := filepath.Join(outDir, "network.json")
	if err := writeFile(networkPath, func(f *os.File) error {
		return topology.WriteNetworkJSON(f, inv.Sites, parentOf, rootID)
	}); err != nil {
		return err
	}

	log.Logger.Info().
		Str("shaped_devices", shapedPath).
		Str("network_json", networkPath).
		Int("circuits", len(circuits)).
		Msg("wrote topology outputs")
	return nil
}

// writeFile writes via a temp file + rename so a reader never observes
// a partially written ShapedDevices.csv or network.json.
func writeFile(path string, write func(*os.File) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("topology-sync: create %s: %w", tmp, err)
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("topology-sync: write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("topology-sync: close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("topology-sync: rename %s to %s: %w", tmp, path, err)
	}
	return nil
}
