package msgsock_test

import (
	"fmt"
	"hash/crc32"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/msgsock/log2"
	"github.com/temoto/msgsock/msgsock"
)

var testTime = time.Date(2026, 10, 17, 12, 30, 45, 123456000, time.Local)

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()
	f := msgsock.NewFramer(0, log2.NewTest(t, log2.LDebug))
	cases := []struct {
		name    string
		payload string
	}{
		{"empty", ""},
		{"hello", "hello"},
		{"inner-space", "set  relay 1"},
		{"utf8", "температура 21.5"},
		{"full", strings.Repeat("x", msgsock.DefaultDataLen)},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			b := f.Encode(123, testTime, c.payload)
			require.Equal(t, f.FrameLen(), len(b))
			d, class := f.Decode(b, testTime.Add(250*time.Millisecond))
			require.Equal(t, msgsock.FrameOK, class)
			assert.Equal(t, c.payload, d.Payload)
			assert.Equal(t, uint32(123), d.Seq)
			assert.True(t, testTime.Equal(d.Time), "time=%v", d.Time)
			assert.Equal(t, 250.0, d.LatencyMs())
		})
	}
}

func TestFrameLayout(t *testing.T) {
	t.Parallel()
	f := msgsock.NewFramer(10, nil)
	b := f.Encode(0xabc, testTime, "  hello ")
	s := string(b)
	require.Equal(t, msgsock.HeaderLen+10, len(s))
	assert.Equal(t, "00000abc", s[8:16])
	assert.Equal(t, "2026-10-17|12:30:45.123456", s[16:42])
	assert.Equal(t, "hello     ", s[42:])
	assert.Equal(t, fmt.Sprintf("%08x", crc32.ChecksumIEEE(b[8:47])), s[:8])
	assert.Equal(t, 162, msgsock.NewFramer(0, nil).FrameLen())
}

func TestFrameTruncate(t *testing.T) {
	t.Parallel()
	var warnings []string
	log := log2.NewFunc(func(format string, args ...interface{}) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}, log2.LWarning)
	f := msgsock.NewFramer(10, log)

	b := f.Encode(1, testTime, "0123456789abcdef")
	require.Equal(t, f.FrameLen(), len(b))
	d, class := f.Decode(b, testTime)
	require.Equal(t, msgsock.FrameOK, class)
	assert.Equal(t, "0123456789", d.Payload)
	require.Equal(t, 1, len(warnings))
	assert.Contains(t, warnings[0], "truncated")

	// multibyte rune is not split
	b = f.Encode(1, testTime, "123456789ж")
	d, class = f.Decode(b, testTime)
	require.Equal(t, msgsock.FrameOK, class)
	assert.Equal(t, "123456789", d.Payload)

	// cut right after blank
	b = f.Encode(1, testTime, "012345678 abcdef")
	require.Equal(t, f.FrameLen(), len(b))
	d, class = f.Decode(b, testTime)
	require.Equal(t, msgsock.FrameOK, class)
	assert.Equal(t, "012345678", d.Payload)
}

func TestFrameCRCSensitivity(t *testing.T) {
	t.Parallel()
	f := msgsock.NewFramer(16, nil)
	orig := f.Encode(77, testTime, "hello")
	for i := range orig {
		b := append([]byte(nil), orig...)
		b[i] ^= 0x01
		d, class := f.Decode(b, testTime)
		assert.Equal(t, msgsock.FrameCRC, class, "flip at %d", i)
		assert.Equal(t, "", d.Payload)
	}
}

func TestFrameSoftErrors(t *testing.T) {
	t.Parallel()
	f := msgsock.NewFramer(16, nil)
	body := "0000007b" + "2026-13-45|99:99:99.000000" + "hi"
	badTime := fmt.Sprintf("%08x%s", crc32.ChecksumIEEE([]byte(body)), body)
	cases := []struct {
		name   string
		input  string
		expect msgsock.FrameClass
	}{
		{"short", "abc", msgsock.FrameShort},
		{"blank", strings.Repeat(" ", f.FrameLen()), msgsock.FrameShort},
		{"crc-not-hex", "zzzzzzzz" + body, msgsock.FrameCRC},
		{"timestamp", badTime, msgsock.FrameTimestamp},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			d, class := f.Decode([]byte(c.input), testTime)
			assert.Equal(t, c.expect, class)
			assert.Equal(t, "", d.Payload)
		})
	}
}

func TestNextSeq(t *testing.T) {
	t.Parallel()
	assert.Equal(t, uint32(1), msgsock.NextSeq(0))
	assert.Equal(t, uint32(math.MaxUint32), msgsock.NextSeq(math.MaxUint32-1))
	assert.Equal(t, uint32(0), msgsock.NextSeq(math.MaxUint32))
}

func BenchmarkFrameEncode(b *testing.B) {
	f := msgsock.NewFramer(0, nil)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		f.Encode(uint32(i), testTime, "DATA sensor[1] 21.5")
	}
}

func BenchmarkFrameDecode(b *testing.B) {
	f := msgsock.NewFramer(0, nil)
	frame := f.Encode(1, testTime, "DATA sensor[1] 21.5")
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Decode(frame, testTime)
	}
}
