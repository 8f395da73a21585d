package replay

import (
	"path/filepath"
	"testing"
)

func TestWriteAndReadHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "header.json")
	header := Header{SchemaVersion: HeaderSchemaVersion, SessionID: "s", Seed: 9, FilePointer: "manifest.json"}
	if err := WriteHeader(path, header); err != nil {
		t.Fatalf("write header: %v", err)
	}
	loaded, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if loaded != header {
		t.Fatalf("header mismatch: %+v", loaded)
	}
}

func TestHeaderValidation(t *testing.T) {
	if err := (Header{FilePointer: "manifest.json"}).Validate(); err == nil {
		t.Fatal("schema version must be required")
	}
	if err := (Header{SchemaVersion: 1, FilePointer: "  "}).Validate(); err == nil {
		t.Fatal("file pointer must be required")
	}
	if err := WriteHeader(filepath.Join(t.TempDir(), "h.json"), Header{}); err == nil {
		t.Fatal("invalid headers must not be written")
	}
}
