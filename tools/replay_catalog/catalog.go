// Package replaycatalog indexes the completed replay bundles below a directory.
package replaycatalog

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"tunnelflight/engine/internal/replay"
)

// headerFile is the name every closed bundle writes last.
const headerFile = "header.json"

// Entry captures a replay header alongside its resolved bundle and manifest paths.
type Entry struct {
	BundleDir    string        `json:"bundle_dir"`
	HeaderPath   string        `json:"header_path"`
	ManifestPath string        `json:"manifest_path"`
	Header       replay.Header `json:"header"`
}

// List walks the directory tree and returns the parsed header of every closed bundle,
// ordered by session and then bundle directory. Bundles still being written have no header
// and are skipped.
func List(root string) ([]Entry, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("root directory must be provided")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root must be a directory")
	}

	var entries []Entry
	//1.- Walk the directory tree searching for bundle headers.
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || d.Name() != headerFile {
			return nil
		}
		header, err := replay.ReadHeader(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		dir := filepath.Dir(path)
		manifest := header.FilePointer
		if !filepath.IsAbs(manifest) {
			manifest = filepath.Join(dir, manifest)
		}
		entries = append(entries, Entry{BundleDir: dir, HeaderPath: path, ManifestPath: manifest, Header: header})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Header.SessionID == entries[j].Header.SessionID {
			return entries[i].BundleDir < entries[j].BundleDir
		}
		return entries[i].Header.SessionID < entries[j].Header.SessionID
	})
	return entries, nil
}

// MarshalEntries produces a stable JSON representation of the entries for CLI output.
func MarshalEntries(entries []Entry) ([]byte, error) {
	//1.- Marshal with indentation to keep CLI output legible for operators.
	return json.MarshalIndent(entries, "", "  ")
}
