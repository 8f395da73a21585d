package main

import (
	"flag"
	"fmt"
	"os"

	replaycatalog "tunnelflight/engine/tools/replay_catalog"
)

func main() {
	root := flag.String("dir", ".", "directory containing replay bundles")
	jsonFlag := flag.Bool("json", false, "emit JSON instead of human-readable output")
	flag.Parse()

	entries, err := replaycatalog.List(*root)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *jsonFlag {
		payload, err := replaycatalog.MarshalEntries(entries)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(payload))
		return
	}

	for _, entry := range entries {
		header := entry.Header
		fmt.Printf("%s (schema %d)\n", entry.BundleDir, header.SchemaVersion)
		fmt.Printf("  session: %s  seed: %d\n", header.SessionID, header.Seed)
		if header.Preset != "" {
			fmt.Printf("  preset: %s\n", header.Preset)
		}
		fmt.Printf("  kill radius: %.2f  max speed: %.2f\n", header.Tuning.KillRadius, header.Tuning.MaxSpeed)
		fmt.Printf("  manifest: %s\n", entry.ManifestPath)
	}
}
