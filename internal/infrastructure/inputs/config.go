package inputs

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/akave-ai/dgramlog/internal/ingest"
)

// Config is a key-value map for input-type-specific configuration.
// The backend passes it when creating an input; implementations interpret it.
// Values come either from Go callers or from decoded JSON, so numbers may be
// float64 and durations may be strings.
type Config map[string]any

// String returns the trimmed string value for key, or "" when unset.
func (c Config) String(key string) string {
	switch v := c[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return ""
	}
}

// Int returns the integer value for key. ok is false when the key is unset.
func (c Config) Int(key string) (n int, ok bool, err error) {
	switch v := c[key].(type) {
	case nil:
		return 0, false, nil
	case int:
		return v, true, nil
	case int64:
		return int(v), true, nil
	case float64:
		if v != float64(int(v)) {
			return 0, true, fmt.Errorf("%s: %v is not an integer", key, v)
		}
		return int(v), true, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return 0, false, nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, true, fmt.Errorf("%s: %w", key, err)
		}
		return n, true, nil
	default:
		return 0, true, fmt.Errorf("%s: unsupported type %T", key, v)
	}
}

// Duration returns the duration for key. Strings use time.ParseDuration,
// numbers are seconds.
func (c Config) Duration(key string) (d time.Duration, ok bool, err error) {
	switch v := c[key].(type) {
	case nil:
		return 0, false, nil
	case time.Duration:
		return v, true, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return 0, false, nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return 0, true, fmt.Errorf("%s: %w", key, err)
		}
		return d, true, nil
	case int:
		return time.Duration(v) * time.Second, true, nil
	case float64:
		return time.Duration(v * float64(time.Second)), true, nil
	default:
		return 0, true, fmt.Errorf("%s: unsupported type %T", key, v)
	}
}

// Ingest builds the connection settings of an engine-backed input from the
// format, separator, chunk_size, buffer_size and tag keys, falling back to
// defaults for unset keys.
func (c Config) Ingest(defaults ingest.Config) (ingest.Config, error) {
	out := defaults

	if s := c.String("format"); s != "" {
		f, err := ingest.ParseFormat(s)
		if err != nil {
			return out, err
		}
		out.Format = f
	}
	if raw, ok := c["separator"].(string); ok && raw != "" {
		sep, err := ingest.UnescapeSeparator(raw)
		if err != nil {
			return out, err
		}
		out.Separator = sep
	}
	if n, ok, err := c.Int("chunk_size"); err != nil {
		return out, err
	} else if ok {
		out.ChunkSize = n
	}
	if n, ok, err := c.Int("buffer_size"); err != nil {
		return out, err
	} else if ok {
		out.MaxCapacity = n
	}
	if s := c.String("tag"); s != "" {
		out.Tag = s
	}

	if out.ChunkSize <= 1 {
		return out, fmt.Errorf("chunk_size must be greater than 1, got %d", out.ChunkSize)
	}
	if out.MaxCapacity <= out.ChunkSize {
		return out, fmt.Errorf("buffer_size (%d) must be greater than chunk_size (%d)", out.MaxCapacity, out.ChunkSize)
	}
	if out.Format == ingest.FormatDelimited && out.Separator == "" {
		return out, fmt.Errorf("separator is required for format %q", out.Format)
	}
	return out, nil
}

// IngestFields describes the keys read by Config.Ingest.
func IngestFields() []ConfigField {
	return []ConfigField{
		{Name: "format", Type: "string", Required: false, Description: "Payload format: 'json' for concatenated JSON objects/arrays, 'none' for separator-delimited text", Example: "json"},
		{Name: "separator", Type: "string", Required: false, Description: "Record separator for format 'none'; Go escapes such as \\n are interpreted", Example: "\\n"},
		{Name: "chunk_size", Type: "number", Required: false, Description: "Buffer growth increment in bytes", Example: "32768"},
		{Name: "buffer_size", Type: "number", Required: false, Description: "Maximum buffer size per peer in bytes; larger backlogs drop the peer", Example: "65536"},
		{Name: "tag", Type: "string", Required: false, Description: "Tag attached to every batch from this input", Example: "udp.logs"},
	}
}
