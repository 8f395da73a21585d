package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	replayplayer "tunnelflight/engine/tools/replay_player"
)

func main() {
	path := flag.String("path", "", "Path to a replay bundle directory or one of its files")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "path flag is required")
		os.Exit(1)
	}

	summary, err := replayplayer.Summarize(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	//1.- Render the summary as JSON so callers can pipe the output elsewhere.
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		fmt.Fprintln(os.Stderr, "encode error:", err)
		os.Exit(3)
	}
}
