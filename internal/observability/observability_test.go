package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akave-ai/dgramlog/internal/config"
)

func TestNewLoggerTo_JSON(t *testing.T) {
	cfg := config.DefaultObservabilityConfig()
	cfg.Logging.Format = "json"
	cfg.Logging.Level = "warn"

	var out bytes.Buffer
	logger := NewLoggerTo(&out, cfg)
	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())

	logger.Info().Msg("dropped")
	logger.Warn().Str("component", "udp-input").Msg("kept")

	var line map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &line))
	assert.Equal(t, "kept", line["message"])
	assert.Equal(t, "dgramlog", line["service"])
	assert.Equal(t, "udp-input", line["component"])
}

func TestNewLoggerTo_ConsoleInDevelopment(t *testing.T) {
	var out bytes.Buffer
	logger := NewLoggerTo(&out, config.DefaultObservabilityConfig())
	logger.Info().Msg("hello")
	assert.Contains(t, out.String(), "hello")
	assert.False(t, json.Valid(out.Bytes()))
}

func TestNewRelicApp_DisabledWithoutLicense(t *testing.T) {
	app, err := NewRelicApp(config.DefaultObservabilityConfig())
	require.NoError(t, err)
	assert.Nil(t, app)
}
