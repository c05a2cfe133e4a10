package server

import (
	"net/http"
	"sort"
	"strings"
	"sync"
)

// IngestDispatcher routes requests to the HTTP inputs mounted on the main
// server, keyed by their full endpoint path (e.g. "/ingest/raw").
type IngestDispatcher struct {
	mu       sync.RWMutex
	handlers map[string]http.Handler
}

func NewIngestDispatcher() *IngestDispatcher {
	return &IngestDispatcher{
		handlers: make(map[string]http.Handler),
	}
}

// Mount registers h for path, replacing any handler already there.
func (d *IngestDispatcher) Mount(path string, h http.Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[normalizePath(path)] = h
}

func (d *IngestDispatcher) Unmount(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, normalizePath(path))
}

// Paths returns the mounted paths in lexical order.
func (d *IngestDispatcher) Paths() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.handlers))
	for p := range d.handlers {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (d *IngestDispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.RLock()
	h, ok := d.handlers[normalizePath(r.URL.Path)]
	d.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	h.ServeHTTP(w, r)
}

func normalizePath(path string) string {
	path = strings.TrimSuffix(path, "/")
	if path == "" || path[0] != '/' {
		path = "/" + path
	}
	return path
}
