package encoder

import (
	"fmt"
	"slices"
	"strings"

	"github.com/jittakal/prismsink/pkg/encoder"
	"github.com/jittakal/prismsink/pkg/event"
)

// formatCodecs lists the accepted compression names per format. The first
// entry is the default.
var formatCodecs = map[event.FileFormat][]string{
	event.FormatParquet: {"snappy", "gzip", "lz4", "zstd", "uncompressed", "none"},
	event.FormatAvro:    {"gzip", "deflate", "snappy", "null", "uncompressed"},
}

// ParseFormat parses a configured format name.
func ParseFormat(name string) (event.FileFormat, error) {
	format := event.FileFormat(strings.ToLower(name))
	if _, ok := formatCodecs[format]; !ok {
		return "", fmt.Errorf("unsupported file format: %q (supported: %s)", name, strings.Join(formatNames(), ", "))
	}
	return format, nil
}

// Factory creates encoders for one format and compression.
type Factory struct {
	format      event.FileFormat
	compression string
}

// NewFactory creates a new encoder factory. An empty compression selects
// the format default.
func NewFactory(format event.FileFormat, compression string) *Factory {
	if compression == "" {
		compression = DefaultCompression(format)
	}
	return &Factory{
		format:      format,
		compression: strings.ToLower(compression),
	}
}

// Validate reports whether the factory's format and compression are supported.
func (f *Factory) Validate() error {
	codecs, ok := formatCodecs[f.format]
	if !ok {
		return fmt.Errorf("unsupported file format: %s", f.format)
	}
	if !slices.Contains(codecs, f.compression) {
		return fmt.Errorf("unsupported %s compression: %q (supported: %s)", f.format, f.compression, strings.Join(codecs, ", "))
	}
	return nil
}

// CreateEncoder creates an encoder for the configured format.
func (f *Factory) CreateEncoder() (encoder.Encoder, error) {
	switch f.format {
	case event.FormatParquet:
		return NewParquetEncoder(f.compression), nil
	case event.FormatAvro:
		return NewAvroEncoder(f.compression)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", f.format)
	}
}

// DefaultCompression returns the default compression for a format.
func DefaultCompression(format event.FileFormat) string {
	if codecs, ok := formatCodecs[format]; ok {
		return codecs[0]
	}
	return "uncompressed"
}

func formatNames() []string {
	names := make([]string, 0, len(formatCodecs))
	for format := range formatCodecs {
		names = append(names, string(format))
	}
	slices.Sort(names)
	return names
}
