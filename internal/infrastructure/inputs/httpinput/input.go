package httpinput

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/akave-ai/dgramlog/internal/infrastructure/inputs"
	"github.com/akave-ai/dgramlog/internal/ingest"
	"github.com/akave-ai/dgramlog/internal/metrics"
)

const maxLoggedBody = 2048

var _ inputs.HTTPEndpointInput = (*Input)(nil)

// Input is an HTTP ingest endpoint. Every request body is one datagram: it
// runs through a fresh ingest connection and the resulting batch goes to the
// InputBuffer.
type Input struct {
	path       string
	listenAddr string
	cfg        ingest.Config
	buffer     inputs.InputBuffer
	server     *http.Server
	logger     zerolog.Logger
	metrics    *metrics.Ingest
}

// NewInput creates an HTTP input. listenAddr is optional; if set, Start() binds to that address.
func NewInput(
	basePath string,
	description string,
	cfg ingest.Config,
	buffer inputs.InputBuffer,
	listenAddr string,
	deps inputs.Deps,
) *Input {
	basePath = "/" + strings.Trim(strings.TrimSpace(basePath), "/")
	desc := strings.TrimSpace(description)
	desc = strings.Trim(desc, "/")
	path := basePath + "/" + desc
	return &Input{
		path:       path,
		listenAddr: listenAddr,
		cfg:        cfg,
		buffer:     buffer,
		logger:     deps.Logger.With().Str("component", "http-input").Str("path", path).Logger(),
		metrics:    deps.Metrics,
	}
}

func (i *Input) Path() string { return i.path }

type ingestResponse struct {
	Records int    `json:"records"`
	Bytes   int    `json:"bytes"`
	Error   string `json:"error,omitempty"`
}

func (i *Input) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodPut {
			w.Header().Set("Allow", "POST, PUT")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, int64(i.cfg.ChunkSize-1)))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSON(w, http.StatusRequestEntityTooLarge, ingestResponse{Error: "body exceeds chunk size"})
				return
			}
			http.Error(w, "read error", http.StatusBadRequest)
			return
		}
		if len(body) == 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if e := i.logger.Debug(); e.Enabled() {
			preview := string(body)
			if len(preview) > maxLoggedBody {
				preview = preview[:maxLoggedBody] + "..."
			}
			e.Int("bytes", len(body)).Str("body", preview).Msg("received")
		}

		conn, err := ingest.NewConnection(r.RemoteAddr, i.cfg, i.buffer,
			ingest.WithLogger(i.logger),
			ingest.WithMetrics(i.metrics))
		if err != nil {
			i.logger.Error().Err(err).Msg("could not allocate new connection")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		ev, err := conn.OnReadable(bytes.NewReader(body))
		if ingest.IsFatal(err) {
			conn.Close(ingest.TeardownReason(err))
		} else {
			conn.Close(metrics.ReasonDone)
		}

		resp := ingestResponse{Records: ev.Records, Bytes: ev.BytesRead}
		switch {
		case err == nil:
			writeJSON(w, http.StatusAccepted, resp)
		case errors.Is(err, ingest.ErrIncompleteInput), errors.Is(err, ingest.ErrMalformedInput):
			resp.Error = err.Error()
			writeJSON(w, http.StatusBadRequest, resp)
		default:
			resp.Error = err.Error()
			writeJSON(w, http.StatusInternalServerError, resp)
		}
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (i *Input) Start() error {
	if i.listenAddr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", i.listenAddr)
	if err != nil {
		return fmt.Errorf("listen http %s: %w", i.listenAddr, err)
	}
	mux := http.NewServeMux()
	mux.Handle(i.path, i.Handler())
	i.server = &http.Server{
		Addr:    i.listenAddr,
		Handler: mux,
	}
	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			i.logger.Error().Err(err).Str("listen", i.listenAddr).Msg("listener failed")
		}
	}(i.server)
	i.logger.Info().Str("listen", ln.Addr().String()).Msg("listening")
	return nil
}

func (i *Input) Stop() error {
	if i.server != nil {
		return i.server.Close()
	}
	return nil
}
