package msgsock

// LinkStat is per connection quality accounting.
// Receive path and report timer share it, so every
// read-modify-report-reset sequence runs under one mutex.

import (
	"expvar"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/temoto/msgsock/log2"
)

// LinkCounters are reset to zero (LatencyMin to +Inf) after each report.
type LinkCounters struct {
	Short     int64
	CRC       int64
	Timestamp int64
	Seq       int64
	Recv      int64
	Sent      int64

	// milliseconds
	LatencyMin  float64
	LatencyMax  float64
	LatencySum  float64
	LatencySum2 float64
}

func (lc *LinkCounters) reset() {
	*lc = LinkCounters{LatencyMin: math.Inf(1)}
}

func (lc *LinkCounters) Errors() int64 { return lc.Short + lc.CRC + lc.Timestamp + lc.Seq }

// Latency returns min, max, mean and population stddev in milliseconds.
// All zero when nothing was received.
func (lc *LinkCounters) Latency() (min, max, mean, stddev float64) {
	if lc.Recv == 0 {
		return 0, 0, 0, 0
	}
	n := float64(lc.Recv)
	mean = lc.LatencySum / n
	variance := lc.LatencySum2/n - mean*mean
	if variance > 0 && !math.IsInf(variance, 0) && !math.IsNaN(variance) {
		stddev = math.Sqrt(variance)
	}
	return lc.LatencyMin, lc.LatencyMax, mean, stddev
}

type LinkStat struct {
	mu            sync.Mutex
	name          string
	log           *log2.Log
	metrics       *Metrics
	framer        Framer
	interval      time.Duration
	socketTimeout time.Duration

	c       LinkCounters
	since   time.Time
	recvSeq uint32
	haveSeq bool

	// raw socket bytes for whole link lifetime, never reset
	RecvBytes expvar.Int
	SendBytes expvar.Int
}

func NewLinkStat(name string, opt *Options) *LinkStat {
	o := *opt
	o.applyDefaults()
	ls := &LinkStat{
		name:          name,
		log:           o.Log,
		metrics:       o.Metrics,
		framer:        NewFramer(o.DataLen, o.Log),
		interval:      o.StatusInterval,
		socketTimeout: o.SocketTimeout,
		since:         time.Now(),
	}
	ls.c.reset()
	return ls
}

func (ls *LinkStat) Name() string { return ls.name }

// RecordReceive decodes raw frame, accounts it and returns payload.
// Empty result means soft error or blank payload.
func (ls *LinkStat) RecordReceive(raw []byte, receivedAt time.Time) string {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	d, class := ls.framer.Decode(raw, receivedAt)
	ls.metrics.frameReceived(class)
	switch class {
	case FrameShort:
		ls.c.Short++
	case FrameCRC:
		ls.c.CRC++
	case FrameTimestamp:
		ls.c.Timestamp++
	case FrameOK:
		// expected sequence is not advanced on soft error,
		// seq field of broken frame is not trustworthy
		if ls.haveSeq && d.Seq != ls.recvSeq {
			ls.c.Seq++
			ls.metrics.sequenceError()
			ls.log.Debugf("recv: sequence %q expected=%08x got=%08x", ls.name, ls.recvSeq, d.Seq)
		}
		ls.recvSeq = NextSeq(d.Seq)
		ls.haveSeq = true

		latency := d.LatencyMs()
		ls.c.Recv++
		ls.c.LatencyMin = math.Min(ls.c.LatencyMin, latency)
		ls.c.LatencyMax = math.Max(ls.c.LatencyMax, latency)
		ls.c.LatencySum += latency
		ls.c.LatencySum2 += latency * latency
		ls.metrics.latency(latency)
	}
	ls.reportIfDue(receivedAt)
	if class != FrameOK {
		return ""
	}
	return d.Payload
}

func (ls *LinkStat) RecordSend() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.c.Sent++
	ls.metrics.frameSent()
	ls.reportIfDue(time.Now())
}

// ExpectedSeq returns next expected sequence and false before first valid frame.
func (ls *LinkStat) ExpectedSeq() (uint32, bool) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.recvSeq, ls.haveSeq
}

func (ls *LinkStat) Snapshot() LinkCounters {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.c
}

// ReportIfDue emits summary and resets counters if status interval
// has elapsed at now. Returns true if report was emitted.
func (ls *LinkStat) ReportIfDue(now time.Time) bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.reportIfDue(now)
}

// must be called with lock
func (ls *LinkStat) reportIfDue(now time.Time) bool {
	elapsed := now.Sub(ls.since)
	if elapsed < ls.interval {
		return false
	}
	line := ls.format(elapsed)
	maxLimit := 1000 * ls.socketTimeout.Seconds()
	if ls.c.Errors() != 0 || ls.c.LatencyMax > maxLimit {
		ls.log.Errorf("%s", line)
	} else {
		ls.log.Debugf("%s", line)
	}
	ls.c.reset()
	ls.since = now
	return true
}

// must be called with lock
func (ls *LinkStat) format(elapsed time.Duration) string {
	secs := elapsed.Seconds()
	if secs <= 0 {
		secs = math.SmallestNonzeroFloat64
	}
	min, max, mean, stddev := ls.c.Latency()
	return fmt.Sprintf("status %q recv[%d %d %d %d|%.0f %.0f %.0f %.0f|%d %.3f] send[%d %.3f] bytes[%d %d]",
		ls.name,
		ls.c.Short, ls.c.CRC, ls.c.Timestamp, ls.c.Seq,
		min, max, mean, stddev,
		ls.c.Recv, float64(ls.c.Recv)/secs,
		ls.c.Sent, float64(ls.c.Sent)/secs,
		ls.RecvBytes.Value(), ls.SendBytes.Value(),
	)
}
