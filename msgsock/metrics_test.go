package msgsock

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/temoto/msgsock/log2"
)

func TestMetrics(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := NewMetrics(MetricsConfig{Registry: reg})
	ls := NewLinkStat("metrics", &Options{
		Log:            log2.NewTest(t, log2.LDebug),
		Metrics:        m,
		StatusInterval: time.Hour,
	})
	f := NewFramer(0, nil)
	now := time.Now()

	ls.RecordReceive(f.Encode(1, now, "a"), now)
	ls.RecordReceive(f.Encode(3, now, "b"), now)
	ls.RecordReceive([]byte("short"), now)
	ls.RecordSend()
	m.linkUp()
	m.linkUp()
	m.linkDown(KindPeerClosed)
	m.reconnect()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.frames.WithLabelValues("recv")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.frames.WithLabelValues("send")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.frameErrors.WithLabelValues("short")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.frameErrors.WithLabelValues("sequence")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.links))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.teardowns.WithLabelValues("disconnected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconnects))
	assert.Equal(t, 1, testutil.CollectAndCount(m.latencyMs))

	m.byteAdder("recv").Add(162)
	assert.Equal(t, 162.0, testutil.ToFloat64(m.bytes.WithLabelValues("recv")))

	n, err := testutil.GatherAndCount(reg, "msgsock_frames_total", "msgsock_links_connected")
	assert.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestMetricsNil(t *testing.T) {
	t.Parallel()
	var m *Metrics
	m.frameReceived(FrameCRC)
	m.frameSent()
	m.sequenceError()
	m.latency(1)
	m.linkUp()
	m.linkDown(KindClosed)
	m.reconnect()
	assert.Nil(t, m.byteAdder("send"))
}
