package msgsock_test

import (
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/msgsock/log2"
	"github.com/temoto/msgsock/msgsock"
)

type errorRecorder struct {
	sync.Mutex
	list []string
}

func (r *errorRecorder) hook(log *log2.Log) {
	log.SetErrorFunc(func(e error) {
		r.Lock()
		r.list = append(r.list, e.Error())
		r.Unlock()
	})
}

func (r *errorRecorder) matching(substr string) []string {
	r.Lock()
	defer r.Unlock()
	var result []string
	for _, s := range r.list {
		if strings.Contains(s, substr) {
			result = append(result, s)
		}
	}
	return result
}

func TestLinkStatSequence(t *testing.T) {
	t.Parallel()
	opt := &msgsock.Options{Log: log2.NewTest(t, log2.LDebug), StatusInterval: time.Hour}
	ls := msgsock.NewLinkStat("seq", opt)
	f := msgsock.NewFramer(0, nil)
	now := time.Now()

	_, ok := ls.ExpectedSeq()
	assert.False(t, ok)

	assert.Equal(t, "a", ls.RecordReceive(f.Encode(5, now, "a"), now))
	expect, ok := ls.ExpectedSeq()
	require.True(t, ok)
	assert.Equal(t, uint32(6), expect)

	// expecting N=6, got N+2
	assert.Equal(t, "b", ls.RecordReceive(f.Encode(8, now, "b"), now))
	expect, _ = ls.ExpectedSeq()
	assert.Equal(t, uint32(9), expect)
	assert.Equal(t, int64(1), ls.Snapshot().Seq)

	// soft error keeps expectation
	broken := f.Encode(9, now, "c")
	broken[50] ^= 0x01
	assert.Equal(t, "", ls.RecordReceive(broken, now))
	expect, _ = ls.ExpectedSeq()
	assert.Equal(t, uint32(9), expect)
	assert.Equal(t, "d", ls.RecordReceive(f.Encode(9, now, "d"), now))

	c := ls.Snapshot()
	assert.Equal(t, int64(1), c.Seq)
	assert.Equal(t, int64(1), c.CRC)
	assert.Equal(t, int64(3), c.Recv)
	assert.Equal(t, int64(2), c.Errors())
}

func TestLinkStatSequenceWrap(t *testing.T) {
	t.Parallel()
	ls := msgsock.NewLinkStat("wrap", &msgsock.Options{StatusInterval: time.Hour})
	f := msgsock.NewFramer(0, nil)
	now := time.Now()
	ls.RecordReceive(f.Encode(math.MaxUint32, now, "x"), now)
	ls.RecordReceive(f.Encode(0, now, "y"), now)
	assert.Equal(t, int64(0), ls.Snapshot().Seq)
}

func TestLinkStatLatency(t *testing.T) {
	t.Parallel()
	ls := msgsock.NewLinkStat("latency", &msgsock.Options{StatusInterval: time.Hour})
	f := msgsock.NewFramer(0, nil)
	sent := time.Now().Truncate(time.Microsecond)
	for i, ms := range []int{10, 20, 30} {
		recv := sent.Add(time.Duration(ms) * time.Millisecond)
		ls.RecordReceive(f.Encode(uint32(i), sent, "x"), recv)
	}
	c := ls.Snapshot()
	min, max, mean, stddev := c.Latency()
	assert.Equal(t, 10.0, min)
	assert.Equal(t, 30.0, max)
	assert.InDelta(t, 20.0, mean, 1e-9)
	assert.InDelta(t, math.Sqrt(200.0/3), stddev, 1e-6)

	var empty msgsock.LinkCounters
	min, max, mean, stddev = empty.Latency()
	assert.Equal(t, [4]float64{}, [4]float64{min, max, mean, stddev})
}

func TestLinkStatReportReset(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	var errs errorRecorder
	errs.hook(log)
	ls := msgsock.NewLinkStat("reset", &msgsock.Options{Log: log, StatusInterval: time.Minute})
	f := msgsock.NewFramer(0, nil)
	now := time.Now()

	ls.RecordReceive(f.Encode(1, now, "x"), now)
	ls.RecordReceive([]byte("short"), now)
	ls.RecordSend()
	assert.False(t, ls.ReportIfDue(now))
	before := ls.Snapshot()
	assert.Equal(t, int64(1), before.Recv)
	assert.Equal(t, int64(1), before.Short)
	assert.Equal(t, int64(1), before.Sent)

	assert.True(t, ls.ReportIfDue(now.Add(2*time.Minute)))
	after := ls.Snapshot()
	assert.Equal(t, msgsock.LinkCounters{LatencyMin: math.Inf(1)}, after)
	// short frame makes error severity report
	reports := errs.matching(`status "reset"`)
	require.Equal(t, 1, len(reports))
	assert.Contains(t, reports[0], "recv[1 0 0 0|")

	// interval clock restarted
	assert.False(t, ls.ReportIfDue(now.Add(2*time.Minute+time.Second)))
}

func TestLinkStatReportSeverity(t *testing.T) {
	t.Parallel()
	f := msgsock.NewFramer(0, nil)
	cases := []struct {
		name          string
		socketTimeout time.Duration
		latency       time.Duration
		expectError   bool
	}{
		{"clean", 10 * time.Second, 5 * time.Millisecond, false},
		{"extreme-latency", time.Millisecond, 250 * time.Millisecond, true},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			log := log2.NewTest(t, log2.LDebug)
			var errs errorRecorder
			errs.hook(log)
			ls := msgsock.NewLinkStat(c.name, &msgsock.Options{
				Log:            log,
				SocketTimeout:  c.socketTimeout,
				StatusInterval: time.Minute,
			})
			sent := time.Now().Truncate(time.Microsecond)
			ls.RecordReceive(f.Encode(1, sent, "x"), sent.Add(c.latency))
			require.True(t, ls.ReportIfDue(time.Now().Add(time.Hour)))
			assert.Equal(t, c.expectError, len(errs.matching(`status "`+c.name)) == 1)
		})
	}
}
