package udpinput

import (
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akave-ai/dgramlog/internal/infrastructure/inputs"
	"github.com/akave-ai/dgramlog/internal/ingest"
	"github.com/akave-ai/dgramlog/internal/metrics"
)

type memBuffer struct {
	mu      sync.Mutex
	tags    []string
	records []ingest.DecodedRecord
}

func (b *memBuffer) Append(tag string, data []byte) error {
	recs, err := ingest.DecodeBatch(data)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tags = append(b.tags, tag)
	b.records = append(b.records, recs...)
	return nil
}

func (b *memBuffer) payloads() []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]map[string]any, 0, len(b.records))
	for _, r := range b.records {
		out = append(out, r.Payload)
	}
	return out
}

func testDeps() inputs.Deps {
	return inputs.Deps{
		Defaults: ingest.Config{
			Format:      ingest.FormatJSON,
			Separator:   "\n",
			ChunkSize:   1024,
			MaxCapacity: 4096,
		},
		Logger: zerolog.Nop(),
	}
}

func startInput(t *testing.T, cfg inputs.Config, buf inputs.InputBuffer) *Input {
	t.Helper()
	reg := inputs.NewRegistry()
	reg.Register(NewFactory(testDeps()))

	in, err := reg.Create("udp", cfg, buf)
	require.NoError(t, err)
	require.NoError(t, in.Start())
	t.Cleanup(func() { _ = in.Stop() })
	return in.(*Input)
}

func send(t *testing.T, addr string, datagrams ...string) net.Conn {
	t.Helper()
	conn, err := net.Dial("udp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	for _, d := range datagrams {
		_, err := conn.Write([]byte(d))
		require.NoError(t, err)
	}
	return conn
}

func TestUDPInput_JSONDatagrams(t *testing.T) {
	buf := &memBuffer{}
	in := startInput(t, inputs.Config{"listen": "127.0.0.1:0", "tag": "app"}, buf)

	send(t, in.Addr(), `{"level":"info","msg":"started"}`, `[1,2]`, `"oops"`, "\n", `{"n":3}{"n":4}`)

	want := []map[string]any{
		{"level": "info", "msg": "started"},
		{"msg": []any{int64(1), int64(2)}},
		{"n": int64(3)},
		{"n": int64(4)},
	}
	require.Eventually(t, func() bool { return len(buf.payloads()) == len(want) }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, want, buf.payloads())

	buf.mu.Lock()
	assert.Equal(t, []string{"app", "app", "app"}, buf.tags, "one batch per datagram with records")
	buf.mu.Unlock()
	assert.Equal(t, 1, in.Peers())
}

func TestUDPInput_DelimitedAcrossDatagrams(t *testing.T) {
	buf := &memBuffer{}
	in := startInput(t, inputs.Config{
		"listen":    "127.0.0.1:0",
		"format":    "none",
		"separator": `\n`,
	}, buf)

	send(t, in.Addr(), "first\nsec", "ond\n")

	require.Eventually(t, func() bool { return len(buf.payloads()) == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []map[string]any{{"log": "first"}, {"log": "second"}}, buf.payloads())
}

func TestUDPInput_PeersAreIndependent(t *testing.T) {
	buf := &memBuffer{}
	in := startInput(t, inputs.Config{"listen": "127.0.0.1:0", "format": "none", "separator": ";"}, buf)

	send(t, in.Addr(), "a-")
	send(t, in.Addr(), "b;")

	require.Eventually(t, func() bool { return in.Peers() == 2 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(buf.payloads()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []map[string]any{{"log": "b"}}, buf.payloads(), "no bytes leak between peers")
}

func TestUDPInput_CapacityDropsPeer(t *testing.T) {
	buf := &memBuffer{}
	in := startInput(t, inputs.Config{
		"listen":      "127.0.0.1:0",
		"format":      "none",
		"separator":   "\n",
		"chunk_size":  8,
		"buffer_size": 20,
	}, buf)

	conn := send(t, in.Addr(), "1234567", "1234567")
	require.Eventually(t, func() bool { return in.Peers() == 1 }, 5*time.Second, 10*time.Millisecond)

	_, err := conn.Write([]byte("overflow"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return in.Peers() == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Empty(t, buf.payloads())
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	var sum float64
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
	}
	return sum
}

func TestUDPInput_OversizedDatagramIsTruncated(t *testing.T) {
	reg := prometheus.NewRegistry()
	deps := testDeps()
	deps.Metrics = metrics.NewIngest(reg)
	cfg := ingest.Config{Tag: "trunc", Format: ingest.FormatDelimited, Separator: "\n", ChunkSize: 16, MaxCapacity: 64}
	buf := &memBuffer{}
	in := NewInput("127.0.0.1:0", cfg, time.Minute, buf, deps)
	require.NoError(t, in.Start())
	t.Cleanup(func() { _ = in.Stop() })

	// the first read grows the buffer to 32 bytes and reads at most 31
	send(t, in.Addr(), "abcdefghij\n"+strings.Repeat("x", 49))

	require.Eventually(t, func() bool { return len(buf.payloads()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []map[string]any{{"log": "abcdefghij"}}, buf.payloads())
	require.Eventually(t, func() bool {
		return counterValue(t, reg, "dgramlog_ingest_truncated_bytes_total") == 29
	}, 5*time.Second, 10*time.Millisecond)
}

func TestUDPInput_IdlePeersEvicted(t *testing.T) {
	buf := &memBuffer{}
	in := startInput(t, inputs.Config{"listen": "127.0.0.1:0", "idle_timeout": "10ms"}, buf)

	send(t, in.Addr(), `{"a":1}`)
	require.Eventually(t, func() bool { return len(buf.payloads()) == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return in.Peers() == 0 }, 5*time.Second, 50*time.Millisecond)
}

func TestUDPInput_StartStop(t *testing.T) {
	in := NewInput("127.0.0.1:0", testDeps().Defaults, time.Minute, &memBuffer{}, testDeps())
	assert.Empty(t, in.Addr())

	require.NoError(t, in.Start())
	assert.NotEmpty(t, in.Addr())
	require.Error(t, in.Start(), "double start")

	require.NoError(t, in.Stop())
	require.NoError(t, in.Stop(), "stop is idempotent")
}

func TestFactory_Validation(t *testing.T) {
	f := NewFactory(testDeps())
	reg := inputs.NewRegistry()
	reg.Register(f)

	_, err := reg.Create("udp", inputs.Config{}, &memBuffer{})
	require.ErrorContains(t, err, "listen")

	err = reg.ValidateConfig("udp", inputs.Config{"listen": ":0", "format": "xml"})
	require.Error(t, err)

	err = reg.ValidateConfig("udp", inputs.Config{"listen": ":0", "chunk_size": 4096, "buffer_size": 1024})
	require.ErrorContains(t, err, "buffer_size")

	err = reg.ValidateConfig("udp", inputs.Config{"listen": ":0", "idle_timeout": "-1s"})
	require.ErrorContains(t, err, "idle_timeout")

	require.NoError(t, reg.ValidateConfig("udp", inputs.Config{"listen": ":0", "chunk_size": float64(2048)}))

	info, ok := reg.GetTypeInfo("udp")
	require.True(t, ok)
	_, ok = info.Field("separator")
	assert.True(t, ok)
}
