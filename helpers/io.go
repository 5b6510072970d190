package helpers

import (
	"io"
)

// WriteAll retries short writes, serial drivers may accept part of a frame.
// Zero progress without error is io.ErrShortWrite.
func WriteAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		if n <= 0 {
			return io.ErrShortWrite
		}
		b = b[n:]
	}
	return nil
}
