package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akave-ai/dgramlog/internal/config"
	"github.com/akave-ai/dgramlog/internal/ingest"
	"github.com/akave-ai/dgramlog/internal/model"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Ingest.ChunkSize = 1024
	cfg.Ingest.BufferSize = 4096
	if mutate != nil {
		mutate(cfg)
	}
	s, err := New(cfg, Deps{Logger: zerolog.Nop(), Metrics: prometheus.NewRegistry()})
	require.NoError(t, err)
	srv := httptest.NewServer(s.Echo)
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s, srv
}

func call(t *testing.T, method, url, body string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func recentRecords(t *testing.T, url string) []model.Record {
	t.Helper()
	code, body := call(t, http.MethodGet, url, "")
	require.Equal(t, http.StatusOK, code, string(body))
	var env struct {
		Data struct {
			Records []model.Record `json:"records"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &env))
	return env.Data.Records
}

func TestServer_HTTPInputEndToEnd(t *testing.T) {
	_, srv := newTestServer(t, nil)

	code, body := call(t, http.MethodPost, srv.URL+"/inputs", `{"type":"http","title":"web"}`)
	require.Equal(t, http.StatusCreated, code, string(body))

	code, body = call(t, http.MethodPost, srv.URL+"/ingest/web", `{"level":"info","msg":"started"}{"level":"warn"}`)
	require.Equal(t, http.StatusAccepted, code, string(body))

	code, _ = call(t, http.MethodPost, srv.URL+"/ingest/nowhere", `{}`)
	assert.Equal(t, http.StatusNotFound, code)

	recs := recentRecords(t, srv.URL+"/records/recent?tag=web")
	require.Len(t, recs, 2)
	assert.Equal(t, "warn", recs[0].Payload["level"], "newest first")
	assert.Equal(t, "started", recs[1].Payload["msg"])
	assert.Equal(t, "web", recs[1].Tag)

	assert.Len(t, recentRecords(t, srv.URL+"/ingest/web?limit=1"), 1, "GET on an ingest path lists recent records")
	assert.Empty(t, recentRecords(t, srv.URL+"/records/recent?tag=other"))

	code, body = call(t, http.MethodGet, srv.URL+"/records/status", "")
	require.Equal(t, http.StatusOK, code)
	var status struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, false, status.Data["batcher_enabled"])
	assert.Equal(t, float64(2), status.Data["records_received"])
	assert.Equal(t, []any{"/ingest/web"}, status.Data["ingest_paths"])

	code, body = call(t, http.MethodGet, srv.URL+"/metrics", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `dgramlog_ingest_records_total{input="web"} 2`)
}

func TestServer_CustomBasePath(t *testing.T) {
	_, srv := newTestServer(t, nil)

	code, body := call(t, http.MethodPost, srv.URL+"/inputs", `{"type":"http","title":"hook","config":{"base_path":"/hooks","format":"none","separator":"\\n"}}`)
	require.Equal(t, http.StatusCreated, code, string(body))

	code, body = call(t, http.MethodPost, srv.URL+"/hooks/hook", "a\nb\n")
	require.Equal(t, http.StatusAccepted, code, string(body))

	recs := recentRecords(t, srv.URL+"/records/recent")
	require.Len(t, recs, 2)
	assert.Equal(t, map[string]any{"log": "b"}, recs[0].Payload)
}

func TestServer_BootstrapUDP(t *testing.T) {
	s, srv := newTestServer(t, func(cfg *config.Config) {
		cfg.Ingest.Listen = "127.0.0.1:0"
		cfg.Ingest.Tag = "edge"
	})
	addr := s.BootstrapAddr()
	require.NotEmpty(t, addr)

	conn, err := net.Dial("udp", addr)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte(`{"host":"a"}`))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(recentRecords(t, srv.URL+"/records/recent?tag=edge")) == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestServer_UploadsWithoutStorage(t *testing.T) {
	_, srv := newTestServer(t, nil)

	code, body := call(t, http.MethodGet, srv.URL+"/uploads", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "O3 not configured")

	code, _ = call(t, http.MethodGet, srv.URL+"/uploads/content?key=x", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = call(t, http.MethodGet, srv.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestRecentRecordsStore_Ring(t *testing.T) {
	store := NewRecentRecordsStore(3, zerolog.Nop())
	for _, text := range []string{"a", "b", "c", "d"} {
		blob, err := ingest.EncodeBatch([]ingest.Record{{
			Time:    time.Unix(1, 0),
			Payload: ingest.TextPayload{Key: ingest.TextKey, Value: []byte(text)},
		}})
		require.NoError(t, err)
		require.NoError(t, store.Append("t", blob))
	}

	recs := store.GetRecent(0, "")
	require.Len(t, recs, 3)
	assert.Equal(t, "d", recs[0].Payload["log"])
	assert.Equal(t, "b", recs[2].Payload["log"])
	assert.Len(t, store.GetRecent(2, ""), 2)

	batches, records := store.Totals()
	assert.Equal(t, int64(4), batches)
	assert.Equal(t, int64(4), records)

	assert.Error(t, store.Append("t", []byte{0xc1}))
}

func TestIngestDispatcher(t *testing.T) {
	d := NewIngestDispatcher()
	d.Mount("/ingest/raw/", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	assert.Equal(t, []string{"/ingest/raw"}, d.Paths())

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ingest/raw/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	d.Unmount("/ingest/raw")
	rec = httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ingest/raw", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
