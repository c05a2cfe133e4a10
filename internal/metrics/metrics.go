// Package metrics holds the Prometheus collectors exported by dgramlog.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dgramlog"

// Teardown reasons.
const (
	ReasonCapacity = "capacity"
	ReasonIO       = "io"
	ReasonIdle     = "idle"
	ReasonStopped  = "stopped"
	ReasonDone     = "done"
)

// NewRegistry returns a registry preloaded with Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Ingest counts read events of the ingestion engine, labelled by input tag.
// A nil *Ingest discards every observation.
type Ingest struct {
	datagrams   *prometheus.CounterVec
	bytesRead   *prometheus.CounterVec
	records     *prometheus.CounterVec
	batches     *prometheus.CounterVec
	incomplete  *prometheus.CounterVec
	malformed   *prometheus.CounterVec
	sinkErrors  *prometheus.CounterVec
	truncated   *prometheus.CounterVec
	teardowns   *prometheus.CounterVec
	connections *prometheus.GaugeVec
}

// NewIngest creates the ingestion collectors and registers them with reg.
// It returns nil when reg is nil.
func NewIngest(reg prometheus.Registerer) *Ingest {
	if reg == nil {
		return nil
	}
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      name,
			Help:      help,
		}, labels)
	}
	m := &Ingest{
		datagrams:  counter("datagrams_total", "Read events handled", "input"),
		bytesRead:  counter("bytes_read_total", "Raw bytes read from peers", "input"),
		records:    counter("records_total", "Records emitted to the sink", "input"),
		batches:    counter("batches_total", "Encoded batches appended to the sink", "input"),
		incomplete: counter("incomplete_total", "Read events that ended waiting for more data", "input"),
		malformed:  counter("malformed_total", "Read events whose buffered batch was discarded as malformed", "input"),
		sinkErrors: counter("sink_errors_total", "Encoded batches the sink rejected", "input"),
		truncated:  counter("truncated_bytes_total", "Datagram bytes cut off beyond the read size", "input"),
		teardowns:  counter("teardowns_total", "Connections torn down", "input", "reason"),
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "connections",
			Help:      "Live peer connections",
		}, []string{"input"}),
	}
	reg.MustRegister(m.datagrams, m.bytesRead, m.records, m.batches,
		m.incomplete, m.malformed, m.sinkErrors, m.truncated, m.teardowns, m.connections)
	return m
}

func (m *Ingest) Read(input string, n int) {
	if m == nil {
		return
	}
	m.datagrams.WithLabelValues(input).Inc()
	m.bytesRead.WithLabelValues(input).Add(float64(n))
}

// Batch counts a batch the sink accepted.
func (m *Ingest) Batch(input string, records int) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(input).Inc()
	m.records.WithLabelValues(input).Add(float64(records))
}

func (m *Ingest) SinkError(input string) {
	if m == nil {
		return
	}
	m.sinkErrors.WithLabelValues(input).Inc()
}

// Truncated counts datagram bytes that did not fit a single read.
func (m *Ingest) Truncated(input string, n int) {
	if m == nil {
		return
	}
	m.truncated.WithLabelValues(input).Add(float64(n))
}

func (m *Ingest) Incomplete(input string) {
	if m == nil {
		return
	}
	m.incomplete.WithLabelValues(input).Inc()
}

func (m *Ingest) Malformed(input string) {
	if m == nil {
		return
	}
	m.malformed.WithLabelValues(input).Inc()
}

func (m *Ingest) Opened(input string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(input).Inc()
}

// Closed releases a live connection. ReasonDone marks a per-request
// connection that completed normally and is not counted as a teardown.
func (m *Ingest) Closed(input, reason string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(input).Dec()
	if reason != ReasonDone {
		m.teardowns.WithLabelValues(input, reason).Inc()
	}
}
