package helpers

import "io"

// Adder accumulates byte counts. *expvar.Int fits.
type Adder interface{ Add(int64) }

// StatReader adds every read byte count to all non-nil counters.
type StatReader struct {
	R  io.Reader
	To []Adder
}

var _ io.Reader = &StatReader{}

func NewStatReader(r io.Reader, to ...Adder) *StatReader {
	return &StatReader{R: r, To: to}
}

func (sr *StatReader) Read(p []byte) (n int, err error) {
	n, err = sr.R.Read(p)
	addAll(sr.To, n)
	return
}

// StatWriter adds every written byte count to all non-nil counters.
type StatWriter struct {
	W  io.Writer
	To []Adder
}

var _ io.Writer = &StatWriter{}

func NewStatWriter(w io.Writer, to ...Adder) *StatWriter {
	return &StatWriter{W: w, To: to}
}

func (sw *StatWriter) Write(p []byte) (n int, err error) {
	n, err = sw.W.Write(p)
	addAll(sw.To, n)
	return
}

func addAll(to []Adder, n int) {
	if n == 0 {
		return
	}
	for _, a := range to {
		if a != nil {
			a.Add(int64(n))
		}
	}
}
