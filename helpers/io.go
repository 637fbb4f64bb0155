package helpers

import (
	"io"
)

// WriteAll loops until whole b is written.
// Returns number of bytes actually written, which is less than len(b) only with error.
// Zero progress without error is reported as io.ErrShortWrite.
func WriteAll(w io.Writer, b []byte) (int, error) {
	total := 0
	for len(b) > 0 {
		n, err := w.Write(b)
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
		b = b[n:]
	}
	return total, nil
}
