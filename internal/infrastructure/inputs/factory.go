package inputs

import (
	"github.com/rs/zerolog"

	"github.com/akave-ai/dgramlog/internal/ingest"
	"github.com/akave-ai/dgramlog/internal/metrics"
)

// Factory creates a MessageInput from config and buffer.
// Each input type (udp, http) implements and registers a Factory.
// ConfigSpec declares which configuration fields this input type needs.
type Factory interface {
	Name() string
	ConfigSpec() InputTypeInfo
	Create(cfg Config, buffer InputBuffer) (MessageInput, error)
}

// Deps carries the runtime dependencies shared by every input a factory
// creates.
type Deps struct {
	// Defaults fill ingest settings an input config leaves out.
	Defaults ingest.Config
	Logger   zerolog.Logger
	Metrics  *metrics.Ingest
}
