package msgsock

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/temoto/msgsock/log2"
)

// Frame text representation: field:size in bytes, no delimiters
// crc:8 seq:8 time:26 payload:DataLen
// crc and seq are lowercase hex, crc32 IEEE covers everything after crc field.
// Payload is space padded, whole frame is always exactly HeaderLen+DataLen bytes.
const (
	CRCLen         = 8
	SeqLen         = 8
	HexLen         = CRCLen + SeqLen
	TimeLen        = 26
	HeaderLen      = HexLen + TimeLen
	DefaultDataLen = 120

	TimeLayout = "2006-01-02|15:04:05.000000"
)

// FrameClass is decode outcome. Anything except FrameOK is soft error:
// frame is discarded, connection stays open.
type FrameClass uint8

const (
	FrameOK FrameClass = iota
	FrameShort
	FrameCRC
	FrameTimestamp
)

func (c FrameClass) String() string {
	switch c {
	case FrameOK:
		return "ok"
	case FrameShort:
		return "short"
	case FrameCRC:
		return "crc"
	case FrameTimestamp:
		return "timestamp"
	}
	return fmt.Sprintf("class(%d)", uint8(c))
}

type Decoded struct {
	Seq     uint32
	Time    time.Time
	Latency time.Duration
	Payload string
}

// LatencyMs is latency in fractional milliseconds.
func (d *Decoded) LatencyMs() float64 {
	return float64(d.Latency) / float64(time.Millisecond)
}

type Framer struct {
	DataLen int
	Log     *log2.Log
}

func NewFramer(dataLen int, log *log2.Log) Framer {
	if dataLen <= 0 {
		dataLen = DefaultDataLen
	}
	return Framer{DataLen: dataLen, Log: log}
}

func (f Framer) FrameLen() int { return HeaderLen + f.DataLen }

// Encode never fails, oversized payload is truncated with warning.
func (f Framer) Encode(seq uint32, ts time.Time, payload string) []byte {
	payload = strings.TrimSpace(payload)
	if len(payload) > f.DataLen {
		f.Log.Warningf("send: message truncated %q", payload)
		// cut may land on blank, decoder trims it
		payload = strings.TrimRightFunc(truncateUTF8(payload, f.DataLen), unicode.IsSpace)
	}

	frameLen := f.FrameLen()
	b := make([]byte, 0, frameLen)
	b = append(b, "00000000"...) // crc placeholder
	b = appendHex32(b, seq)
	b = ts.Local().AppendFormat(b, TimeLayout)
	b = append(b, payload...)
	crc := crc32.ChecksumIEEE(b[CRCLen:])
	copy(b[:CRCLen], appendHex32(nil, crc))
	for len(b) < frameLen {
		b = append(b, ' ')
	}
	return b
}

// Decode validates header and extracts payload.
// Classes are checked in order: short, crc, timestamp.
// Sequence is only parsed here, gap detection belongs to receiver state.
func (f Framer) Decode(b []byte, receivedAt time.Time) (Decoded, FrameClass) {
	var d Decoded
	msg := bytes.TrimSpace(b)
	if len(msg) < HeaderLen {
		return d, FrameShort
	}
	declared, err := strconv.ParseUint(string(msg[:CRCLen]), 16, 32)
	if err != nil {
		return d, FrameCRC
	}
	if uint32(declared) != crc32.ChecksumIEEE(msg[CRCLen:]) {
		return d, FrameCRC
	}
	seq, err := strconv.ParseUint(string(msg[CRCLen:HexLen]), 16, 32)
	if err != nil {
		// crc matched garbage, sender is broken
		return d, FrameCRC
	}
	ts, err := time.ParseInLocation(TimeLayout, string(msg[HexLen:HeaderLen]), time.Local)
	if err != nil {
		return d, FrameTimestamp
	}
	d.Seq = uint32(seq)
	d.Time = ts
	d.Latency = receivedAt.Sub(ts)
	d.Payload = string(msg[HeaderLen:])
	return d, FrameOK
}

// NextSeq increments with explicit wrap 0xffffffff -> 0.
func NextSeq(seq uint32) uint32 {
	if seq == math.MaxUint32 {
		return 0
	}
	return seq + 1
}

const hexDigits = "0123456789abcdef"

func appendHex32(b []byte, x uint32) []byte {
	for shift := 28; shift >= 0; shift -= 4 {
		b = append(b, hexDigits[(x>>uint(shift))&0xf])
	}
	return b
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
