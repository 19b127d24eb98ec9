package wire

import "io"

// FixedReader reads exactly n bytes from r. A short stream is reported as
// io.ErrUnexpectedEOF rather than a clean EOF.
type FixedReader struct {
	r         io.Reader
	remaining int64
}

// NewFixedReader returns a reader limited to n bytes of r.
func NewFixedReader(r io.Reader, n int64) *FixedReader {
	return &FixedReader{r: r, remaining: n}
}

// Remaining returns the number of body bytes not yet read.
func (fr *FixedReader) Remaining() int64 {
	return fr.remaining
}

func (fr *FixedReader) Read(p []byte) (int, error) {
	if fr.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > fr.remaining {
		p = p[:fr.remaining]
	}
	n, err := fr.r.Read(p)
	fr.remaining -= int64(n)
	if err == io.EOF && fr.remaining > 0 {
		err = io.ErrUnexpectedEOF
	} else if err == io.EOF {
		err = nil
	}
	return n, err
}
