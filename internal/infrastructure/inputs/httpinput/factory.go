package httpinput

import (
	"fmt"

	"github.com/akave-ai/dgramlog/internal/infrastructure/inputs"
)

// Factory creates HTTP ingest inputs. Registers as "http".
type Factory struct {
	deps inputs.Deps
}

// NewFactory returns a factory whose inputs share deps.
func NewFactory(deps inputs.Deps) *Factory {
	return &Factory{deps: deps}
}

func (f *Factory) Name() string {
	return "http"
}

func (f *Factory) ConfigSpec() inputs.InputTypeInfo {
	fields := []inputs.ConfigField{
		{Name: "description", Type: "string", Required: true, Description: "Path segment for the endpoint (e.g. 'raw' → /ingest/raw)", Example: "raw"},
		{Name: "base_path", Type: "string", Required: false, Description: "Base path prefix", Example: "/ingest"},
		{Name: "listen", Type: "string", Required: false, Description: "Optional host:port to bind (e.g. :9001 or 0.0.0.0:9001). If set, input listens on this address instead of being mounted on the main server.", Example: ":9001"},
	}
	return inputs.InputTypeInfo{
		Type:        "http",
		Description: "HTTP ingest endpoint. Each POST body is handled as one datagram: framed as JSON values or delimited text and written to the log buffer as timestamped records.",
		Fields:      append(fields, inputs.IngestFields()...),
	}
}

// ValidateConfig checks the ingest settings of cfg.
func (f *Factory) ValidateConfig(cfg inputs.Config) error {
	if _, err := cfg.Ingest(f.deps.Defaults); err != nil {
		return fmt.Errorf("http input: %w", err)
	}
	return nil
}

func (f *Factory) Create(cfg inputs.Config, buffer inputs.InputBuffer) (inputs.MessageInput, error) {
	description := cfg.String("description")
	if description == "" {
		return nil, fmt.Errorf("missing 'description' for http input")
	}
	basePath := cfg.String("base_path")
	if basePath == "" {
		basePath = "/ingest"
	}
	icfg, err := cfg.Ingest(f.deps.Defaults)
	if err != nil {
		return nil, fmt.Errorf("http input: %w", err)
	}
	if icfg.Tag == "" {
		icfg.Tag = "http." + description
	}
	return NewInput(basePath, description, icfg, buffer, cfg.String("listen"), f.deps), nil
}
