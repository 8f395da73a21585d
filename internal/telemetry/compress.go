package telemetry

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
)

// Compressor applies symmetric compression to snapshot payloads.
type Compressor interface {
	// Name is the encoding advertised in stream frames.
	Name() string
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

type gzipCompressor struct {
	level int
}

// NewGZIPCompressor returns a gzip compressor tuned for small, frequent payloads.
func NewGZIPCompressor() Compressor {
	return gzipCompressor{level: gzip.BestSpeed}
}

func (gzipCompressor) Name() string { return EncodingGzip }

func (c gzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, fmt.Errorf("gzip writer: %w", err)
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func (gzipCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("gzip decompress: empty payload")
	}
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

type snappyCompressor struct{}

// NewSnappyCompressor returns a block-format snappy compressor. It trades ratio for speed,
// which suits high-rate streams on a local network.
func NewSnappyCompressor() Compressor {
	return snappyCompressor{}
}

func (snappyCompressor) Name() string { return EncodingSnappy }

func (snappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (snappyCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("snappy decompress: empty payload")
	}
	decoded, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("snappy decompress: %w", err)
	}
	return decoded, nil
}

// builtinCompressors returns a fresh registry of every encoding the service understands.
func builtinCompressors() map[string]Compressor {
	registry := make(map[string]Compressor, 2)
	for _, compressor := range []Compressor{NewGZIPCompressor(), NewSnappyCompressor()} {
		registry[compressor.Name()] = compressor
	}
	return registry
}
