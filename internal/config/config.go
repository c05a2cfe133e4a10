package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/akave-ai/dgramlog/internal/ingest"
)

// EnvPrefix prefixes every configuration variable. A double underscore
// separates nesting levels: DGRAMLOG_INGEST__CHUNK_SIZE sets ingest.chunk_size.
const EnvPrefix = "DGRAMLOG_"

type Config struct {
	Primary       Primary              `koanf:"primary" validate:"required"`
	Server        ServerConfig         `koanf:"server" validate:"required"`
	Database      *DatabaseConfig      `koanf:"database"`
	Ingest        IngestConfig         `koanf:"ingest" validate:"required"`
	Storage       *StorageConfig       `koanf:"storage"`
	Batcher       *BatcherConfig       `koanf:"batcher"`
	Observability *ObservabilityConfig `koanf:"observability" validate:"required"`
}

type Primary struct {
	Env string `koanf:"env" validate:"required,oneof=development staging production test"`
}

type ServerConfig struct {
	Port               string   `koanf:"port" validate:"required"`
	ReadTimeout        int      `koanf:"read_timeout" validate:"required,gt=0"`
	WriteTimeout       int      `koanf:"write_timeout" validate:"required,gt=0"`
	IdleTimeout        int      `koanf:"idle_timeout" validate:"required,gt=0"`
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`
}

// DatabaseConfig enables persisted inputs. Without it inputs live in memory.
type DatabaseConfig struct {
	URL             string        `koanf:"url" validate:"required"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime" validate:"gte=0"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time" validate:"gte=0"`
}

// IngestConfig holds the engine defaults for every input and an optional
// UDP listener started at boot.
type IngestConfig struct {
	Format     string `koanf:"format" validate:"required,oneof=json none"`
	Separator  string `koanf:"separator" validate:"required"`
	ChunkSize  int    `koanf:"chunk_size" validate:"required,gt=1"`
	BufferSize int    `koanf:"buffer_size" validate:"required,gtfield=ChunkSize"`
	Listen     string `koanf:"listen" validate:"omitempty,hostname_port"`
	Tag        string `koanf:"tag"`
}

type StorageConfig struct {
	O3 *O3Config `koanf:"o3"`
}

// O3Config points at an S3-compatible bucket.
type O3Config struct {
	Endpoint  string `koanf:"endpoint" validate:"required,url"`
	Bucket    string `koanf:"bucket" validate:"required"`
	Region    string `koanf:"region"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
}

type BatcherConfig struct {
	MaxBatchSize  int           `koanf:"max_batch_size" validate:"gte=0"`
	FlushInterval time.Duration `koanf:"flush_interval" validate:"gte=0"`
}

// Defaults returns the configuration used for every unset key.
func Defaults() *Config {
	return &Config{
		Primary: Primary{Env: "development"},
		Server: ServerConfig{
			Port:         "8080",
			ReadTimeout:  30,
			WriteTimeout: 30,
			IdleTimeout:  60,
		},
		Ingest: IngestConfig{
			Format:     "json",
			Separator:  `\n`,
			ChunkSize:  32 * 1024,
			BufferSize: 64 * 1024,
		},
		Observability: DefaultObservabilityConfig(),
	}
}

// LoadConfig loads the configuration from environment variables using koanf.
// A .env file in the working directory is read first when present.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()
	return Load(EnvPrefix)
}

// Load reads variables starting with prefix over Defaults and validates the result.
func Load(prefix string) (mainConfig *Config, err error) {
	k := koanf.New(".")
	err = k.Load(env.Provider(prefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, prefix)), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("could not load env variables: %w", err)
	}

	mainConfig = Defaults()
	err = k.Unmarshal("", mainConfig)
	if err != nil {
		return nil, fmt.Errorf("could not unmarshal config: %w", err)
	}

	// the environment may have provided only some observability keys
	if mainConfig.Observability == nil {
		mainConfig.Observability = DefaultObservabilityConfig()
	}
	if mainConfig.Observability.ServiceName == "" {
		mainConfig.Observability.ServiceName = "dgramlog"
	}
	mainConfig.Observability.Environment = mainConfig.Primary.Env

	validate := validator.New()
	err = validate.Struct(mainConfig)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err = mainConfig.Observability.Validate(); err != nil {
		return nil, fmt.Errorf("invalid observability config: %w", err)
	}
	if _, err = mainConfig.Ingest.Engine(); err != nil {
		return nil, fmt.Errorf("invalid ingest config: %w", err)
	}
	return mainConfig, nil
}

// Engine converts the ingest section into connection defaults.
func (c IngestConfig) Engine() (ingest.Config, error) {
	format, err := ingest.ParseFormat(c.Format)
	if err != nil {
		return ingest.Config{}, err
	}
	sep, err := ingest.UnescapeSeparator(c.Separator)
	if err != nil {
		return ingest.Config{}, err
	}
	return ingest.Config{
		Tag:         c.Tag,
		Format:      format,
		Separator:   sep,
		ChunkSize:   c.ChunkSize,
		MaxCapacity: c.BufferSize,
	}, nil
}
