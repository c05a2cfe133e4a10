package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/akave-ai/dgramlog/internal/batcher"
	"github.com/akave-ai/dgramlog/internal/config"
	"github.com/akave-ai/dgramlog/internal/handler"
	"github.com/akave-ai/dgramlog/internal/infrastructure/inputs"
	"github.com/akave-ai/dgramlog/internal/infrastructure/inputs/httpinput"
	"github.com/akave-ai/dgramlog/internal/infrastructure/inputs/udpinput"
	"github.com/akave-ai/dgramlog/internal/metrics"
	"github.com/akave-ai/dgramlog/internal/repository"
	"github.com/akave-ai/dgramlog/internal/response"
	"github.com/akave-ai/dgramlog/internal/storage"
)

const startupTimeout = 15 * time.Second

// Deps are the process-level resources the server is built on. Every field
// is optional.
type Deps struct {
	Logger   zerolog.Logger
	Pool     *pgxpool.Pool
	NewRelic *newrelic.Application
	Metrics  *prometheus.Registry
}

// Server holds the Echo app and dependencies.
type Server struct {
	Echo   *echo.Echo
	Config *config.Config

	logger       zerolog.Logger
	inputs       *handler.InputHandler
	dispatcher   *IngestDispatcher
	bootstrap    []inputs.MessageInput
	batcher      *batcher.Batcher  // optional; stopped on Shutdown
	o3Client     *storage.O3Client // optional; for listing uploads
	recent       *RecentRecordsStore
	uploadStatus *UploadStatusStore
}

// New builds the Echo server, registers routes, restores persisted inputs and
// starts the bootstrap UDP listener when ingest.listen is set. Without a pool
// inputs are kept in memory.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	logger := deps.Logger.With().Str("component", "server").Logger()
	reg := deps.Metrics
	if reg == nil {
		reg = metrics.NewRegistry()
	}

	defaults, err := cfg.Ingest.Engine()
	if err != nil {
		return nil, fmt.Errorf("ingest config: %w", err)
	}
	// ingest.tag names the bootstrap listener only
	defaults.Tag = ""

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = time.Duration(cfg.Server.ReadTimeout) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.Server.WriteTimeout) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.Server.IdleTimeout) * time.Second
	e.Use(middleware.Recover(), requestLogger(deps.Logger))
	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: cfg.Server.CORSAllowedOrigins}))
	}

	s := &Server{
		Echo:         e,
		Config:       cfg,
		logger:       logger,
		dispatcher:   NewIngestDispatcher(),
		recent:       NewRecentRecordsStore(defaultRecentRecords, logger),
		uploadStatus: &UploadStatusStore{},
	}

	sinks := inputs.MultiBuffer{s.recent}
	if cfg.Storage != nil && cfg.Storage.O3 != nil {
		s.o3Client, err = storage.NewO3Client(cfg.Storage.O3)
		if err != nil {
			logger.Warn().Err(err).Msg("O3 client unavailable, keeping records in memory only")
			s.o3Client = nil
		}
	}
	if s.o3Client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
		if err := s.o3Client.EnsureBucket(ctx); err != nil {
			logger.Warn().Err(err).Str("bucket", s.o3Client.Bucket()).Msg("O3 ensure bucket failed, uploads may fail")
		}
		cancel()

		bc := batcher.DefaultBatcherConfig()
		if cfg.Batcher != nil {
			if cfg.Batcher.MaxBatchSize > 0 {
				bc.MaxBatchSize = cfg.Batcher.MaxBatchSize
			}
			if cfg.Batcher.FlushInterval > 0 {
				bc.FlushInterval = cfg.Batcher.FlushInterval
			}
		}
		s.batcher = batcher.NewBatcher(bc, s.o3Client, &batcher.BatcherOpts{
			OnFlush:  s.uploadStatus.SetLastFlush,
			Logger:   deps.Logger,
			NewRelic: deps.NewRelic,
		})
		sinks = append(sinks, s.batcher)
		s.uploadStatus.SetBatcherOn(true)
		logger.Info().Int("batch", bc.MaxBatchSize).Dur("interval", bc.FlushInterval).Msg("batcher enabled: flush to Akave O3")
	}

	inputDeps := inputs.Deps{
		Defaults: defaults,
		Logger:   deps.Logger,
		Metrics:  metrics.NewIngest(reg),
	}
	registry := inputs.NewRegistry()
	registry.Register(udpinput.NewFactory(inputDeps), httpinput.NewFactory(inputDeps))

	var repo repository.Inputs = repository.NewMemoryInputRepository()
	if deps.Pool != nil {
		repo = repository.NewInputRepository(deps.Pool)
	} else {
		logger.Info().Msg("no database configured, inputs are kept in memory")
	}

	s.inputs = handler.NewInputHandler(registry, sinks, repo, deps.Logger)
	s.inputs.MountIngest = s.dispatcher.Mount
	s.inputs.UnmountIngest = s.dispatcher.Unmount

	s.routes(reg)

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()
	if _, err := s.inputs.RestoreInputs(ctx); err != nil {
		logger.Error().Err(err).Msg("restore inputs")
	}

	if cfg.Ingest.Listen != "" {
		tag := cfg.Ingest.Tag
		if tag == "" {
			tag = "udp." + cfg.Ingest.Listen
		}
		spec := inputs.InputSpec{
			Type:   "udp",
			Title:  "bootstrap",
			Config: inputs.Config{"listen": cfg.Ingest.Listen, "tag": tag},
		}
		s.bootstrap, err = registry.StartAll([]inputs.InputSpec{spec}, sinks, s.dispatcher.Mount)
		if err != nil {
			s.inputs.StopAll()
			if s.batcher != nil {
				s.batcher.Stop()
			}
			return nil, fmt.Errorf("bootstrap listener: %w", err)
		}
	}

	logger.Info().Strs("types", registry.ListRegistered()).Msg("registered input types")
	return s, nil
}

func (s *Server) routes(reg *prometheus.Registry) {
	e := s.Echo
	h := s.inputs

	e.GET("/healthz", func(c echo.Context) error {
		return response.OK(c, map[string]any{"status": "ok"}, "")
	})
	e.GET("/metrics", echo.WrapHandler(metrics.Handler(reg)))

	// Management API
	e.GET("/inputs/types", h.ListTypes)
	e.GET("/inputs/types/:type", h.GetTypeInfo)
	e.GET("/inputs/info", h.GetAllTypesInfo)
	e.GET("/inputs", h.ListInputs)
	e.GET("/inputs/:id", h.GetInput)
	e.POST("/inputs", h.CreateInput)
	e.PUT("/inputs/:id", h.UpdateInput)
	e.DELETE("/inputs/:id", h.DeleteInput)

	// GET returns recent records; other methods go to the mounted HTTP input
	ingest := echo.WrapHandler(s.dispatcher)
	e.Any("/ingest/*", func(c echo.Context) error {
		if c.Request().Method == http.MethodGet {
			return s.recentRecords(c)
		}
		return ingest(c)
	})
	// HTTP inputs mounted under a custom base_path
	e.RouteNotFound("/*", ingest)

	e.GET("/records/recent", s.recentRecords)
	e.GET("/records/status", func(c echo.Context) error {
		st := s.uploadStatus.Get()
		batches, records := s.recent.Totals()
		pending := 0
		if s.batcher != nil {
			pending = s.batcher.Pending()
		}
		var lastAt *time.Time
		if !st.LastAt.IsZero() {
			lastAt = &st.LastAt
		}
		return response.OK(c, map[string]any{
			"batcher_enabled":   st.BatcherOn,
			"last_upload_at":    lastAt,
			"last_upload_key":   st.LastKey,
			"last_upload_tag":   st.LastTag,
			"last_upload_count": st.LastCount,
			"uploads":           st.Uploads,
			"pending_count":     pending,
			"batches_received":  batches,
			"records_received":  records,
			"ingest_paths":      s.dispatcher.Paths(),
		}, "")
	})

	// List batch objects uploaded to O3
	e.GET("/uploads", func(c echo.Context) error {
		if s.o3Client == nil {
			return response.OK(c, map[string]any{"objects": []storage.ObjectInfo{}}, "O3 not configured")
		}
		prefix := c.QueryParam("prefix")
		if prefix == "" {
			prefix = storage.KeyPrefix
		}
		list, err := s.o3Client.ListObjects(c.Request().Context(), prefix)
		if err != nil {
			return response.InternalError(c, "list uploads failed", err.Error())
		}
		return response.OK(c, map[string]any{"objects": list}, "")
	})

	// Records stored in a single batch object
	e.GET("/uploads/content", func(c echo.Context) error {
		if s.o3Client == nil {
			return response.BadRequest(c, "O3 not configured", "O3 not configured")
		}
		key := c.QueryParam("key")
		if key == "" {
			return response.BadRequest(c, "missing key", "query param key is required")
		}
		records, err := s.o3Client.GetObjectRecords(c.Request().Context(), key)
		if err != nil {
			return response.InternalError(c, "get upload content failed", err.Error())
		}
		return response.OK(c, map[string]any{"records": records, "key": key}, "")
	})
}

func (s *Server) recentRecords(c echo.Context) error {
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return response.BadRequest(c, "invalid limit", "limit must be a non-negative integer")
		}
		limit = n
	}
	return response.OK(c, map[string]any{"records": s.recent.GetRecent(limit, c.QueryParam("tag"))}, "")
}

// BootstrapAddr returns the bound address of the bootstrap UDP listener, or
// "" when none runs.
func (s *Server) BootstrapAddr() string {
	for _, in := range s.bootstrap {
		if l, ok := in.(inputs.ListenerInput); ok {
			return l.Addr()
		}
	}
	return ""
}

// Start serves HTTP until the context is cancelled or the server fails.
// On context cancel, Shutdown is called so the batcher flushes remaining records.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("shutdown")
		}
	}()
	addr := ":" + s.Config.Server.Port
	s.logger.Info().Str("addr", addr).Msg("http server listening")
	err := s.Echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops every input, flushes the batcher and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, in := range s.bootstrap {
		if err := in.Stop(); err != nil {
			s.logger.Warn().Err(err).Msg("stop bootstrap input")
		}
	}
	s.inputs.StopAll()
	if s.batcher != nil {
		s.batcher.Stop()
	}
	return s.Echo.Shutdown(ctx)
}

func requestLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	logger = logger.With().Str("component", "http").Logger()
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogMethod:   true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			ev := logger.Info()
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				ev = logger.Error().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	})
}
