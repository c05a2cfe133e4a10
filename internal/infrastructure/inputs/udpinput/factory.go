package udpinput

import (
	"fmt"

	"github.com/akave-ai/dgramlog/internal/infrastructure/inputs"
)

// Factory creates UDP ingest inputs. Registers as "udp".
type Factory struct {
	deps inputs.Deps
}

// NewFactory returns a factory whose inputs share deps.
func NewFactory(deps inputs.Deps) *Factory {
	return &Factory{deps: deps}
}

func (f *Factory) Name() string {
	return "udp"
}

func (f *Factory) ConfigSpec() inputs.InputTypeInfo {
	fields := []inputs.ConfigField{
		{Name: "listen", Type: "string", Required: true, Description: "host:port to bind the UDP socket to", Example: "0.0.0.0:5170"},
		{Name: "idle_timeout", Type: "duration", Required: false, Description: "Drop per-peer state after this long without datagrams", Example: "5m"},
	}
	return inputs.InputTypeInfo{
		Type:        "udp",
		Description: "UDP datagram listener. Each peer gets its own buffer; datagrams are framed as JSON values or delimited text and written to the log buffer as timestamped records.",
		Fields:      append(fields, inputs.IngestFields()...),
	}
}

// ValidateConfig checks the ingest settings and idle timeout without binding.
func (f *Factory) ValidateConfig(cfg inputs.Config) error {
	if _, err := cfg.Ingest(f.deps.Defaults); err != nil {
		return fmt.Errorf("udp input: %w", err)
	}
	if d, ok, err := cfg.Duration("idle_timeout"); err != nil {
		return fmt.Errorf("udp input: %w", err)
	} else if ok && d <= 0 {
		return fmt.Errorf("udp input: idle_timeout must be positive, got %s", d)
	}
	return nil
}

func (f *Factory) Create(cfg inputs.Config, buffer inputs.InputBuffer) (inputs.MessageInput, error) {
	listen := cfg.String("listen")
	if listen == "" {
		return nil, fmt.Errorf("missing 'listen' for udp input")
	}
	icfg, err := cfg.Ingest(f.deps.Defaults)
	if err != nil {
		return nil, fmt.Errorf("udp input: %w", err)
	}
	if icfg.Tag == "" {
		icfg.Tag = "udp." + listen
	}
	idle, ok, err := cfg.Duration("idle_timeout")
	if err != nil {
		return nil, fmt.Errorf("udp input: %w", err)
	}
	if !ok {
		idle = DefaultIdleTimeout
	}
	return NewInput(listen, icfg, idle, buffer, f.deps), nil
}
