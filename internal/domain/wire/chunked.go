package wire

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// ChunkedReader decodes a chunked body. It stops at the end of the trailer
// section and never reads past it, so the next message on the stream stays
// intact.
type ChunkedReader struct {
	r            *bufio.Reader
	lim          Limits
	maxBody      int64
	keepTrailers bool

	remaining int64 // bytes left in the current chunk
	total     int64
	needCRLF  bool
	err       error
	trailers  Headers
}

// NewChunkedReader returns a decoder reading from r. Trailer fields are
// parsed under lim and kept only if keepTrailers is set. maxBody caps the
// decoded size; zero disables the cap.
func NewChunkedReader(r *bufio.Reader, lim Limits, maxBody int64, keepTrailers bool) *ChunkedReader {
	return &ChunkedReader{r: r, lim: lim, maxBody: maxBody, keepTrailers: keepTrailers}
}

// Trailers returns the retained trailer fields. It is only meaningful after
// Read has returned io.EOF.
func (cr *ChunkedReader) Trailers() Headers {
	return cr.trailers
}

// Done reports whether the terminating chunk and trailers have been consumed.
func (cr *ChunkedReader) Done() bool {
	return cr.err == io.EOF
}

func (cr *ChunkedReader) Read(p []byte) (int, error) {
	if cr.err != nil {
		return 0, cr.err
	}
	if len(p) == 0 {
		return 0, nil
	}
	for cr.remaining == 0 {
		if cr.needCRLF {
			if err := cr.readCRLF(); err != nil {
				return 0, cr.fail(err)
			}
			cr.needCRLF = false
		}
		size, err := cr.readSize()
		if err != nil {
			return 0, cr.fail(err)
		}
		if size == 0 {
			if err := cr.readTrailers(); err != nil {
				return 0, cr.fail(err)
			}
			cr.err = io.EOF
			return 0, io.EOF
		}
		cr.total += size
		if cr.maxBody > 0 && cr.total > cr.maxBody {
			return 0, cr.fail(ErrBodyTooLarge)
		}
		cr.remaining = size
		cr.needCRLF = true
	}

	if int64(len(p)) > cr.remaining {
		p = p[:cr.remaining]
	}
	n, err := cr.r.Read(p)
	cr.remaining -= int64(n)
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return n, cr.fail(err)
	}
	return n, nil
}

func (cr *ChunkedReader) fail(err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	cr.err = err
	return err
}

func (cr *ChunkedReader) readCRLF() error {
	var crlf [2]byte
	if _, err := io.ReadFull(cr.r, crlf[:]); err != nil {
		return err
	}
	if crlf[0] != '\r' || crlf[1] != '\n' {
		return fmt.Errorf("%w: missing CRLF after chunk data", ErrChunkFraming)
	}
	return nil
}

// readLine returns one CRLF-terminated line without the terminator.
func (cr *ChunkedReader) readLine() ([]byte, error) {
	line, err := cr.r.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		return nil, fmt.Errorf("%w: line too long", ErrChunkFraming)
	}
	if err != nil {
		return nil, err
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, fmt.Errorf("%w: line not terminated by CRLF", ErrChunkFraming)
	}
	return line[:len(line)-2], nil
}

// readSize parses a chunk-size line, skipping chunk extensions.
func (cr *ChunkedReader) readSize() (int64, error) {
	line, err := cr.readLine()
	if err != nil {
		return 0, err
	}
	digits := line
	if i := bytes.IndexAny(line, "; \t"); i >= 0 {
		digits = line[:i]
	}
	if len(digits) == 0 || len(digits) > 15 {
		return 0, fmt.Errorf("%w: bad chunk size %q", ErrChunkFraming, line)
	}
	for _, c := range digits {
		if !isHex(c) {
			return 0, fmt.Errorf("%w: bad chunk size %q", ErrChunkFraming, line)
		}
	}
	size, err := strconv.ParseUint(string(digits), 16, 63)
	if err != nil {
		return 0, fmt.Errorf("%w: bad chunk size %q", ErrChunkFraming, line)
	}
	return int64(size), nil
}

func isHex(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func (cr *ChunkedReader) readTrailers() error {
	read := 0
	for {
		line, err := cr.readLine()
		if err != nil {
			return err
		}
		if len(line) == 0 {
			return nil
		}
		read += len(line) + 2
		if cr.lim.MaxHeaderBytes > 0 && read > cr.lim.MaxHeaderBytes {
			return ErrHeaderTooLarge
		}
		if isOWS(line[0]) {
			return fmt.Errorf("%w: folded trailer", ErrChunkFraming)
		}
		f, err := parseField(line)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrChunkFraming, err)
		}
		if !cr.keepTrailers {
			continue
		}
		if cr.lim.MaxHeaderCount > 0 && len(cr.trailers) >= cr.lim.MaxHeaderCount {
			return ErrTooManyHeaders
		}
		cr.trailers = append(cr.trailers, f)
	}
}

// ChunkedWriter encodes each Write as one chunk.
type ChunkedWriter struct {
	w       io.Writer
	scratch []byte
	closed  bool
}

// NewChunkedWriter returns an encoder writing to w.
func NewChunkedWriter(w io.Writer) *ChunkedWriter {
	return &ChunkedWriter{w: w, scratch: make([]byte, 0, 18)}
}

// Write emits p as a single chunk. Empty writes emit nothing, since a
// zero-size chunk would end the body.
func (cw *ChunkedWriter) Write(p []byte) (int, error) {
	if cw.closed {
		return 0, errors.New("wire: write after chunked body closed")
	}
	if len(p) == 0 {
		return 0, nil
	}
	cw.scratch = strconv.AppendInt(cw.scratch[:0], int64(len(p)), 16)
	cw.scratch = append(cw.scratch, '\r', '\n')
	if _, err := cw.w.Write(cw.scratch); err != nil {
		return 0, err
	}
	n, err := cw.w.Write(p)
	if err != nil {
		return n, err
	}
	if _, err := io.WriteString(cw.w, "\r\n"); err != nil {
		return n, err
	}
	return n, nil
}

// Close writes the terminating zero-size chunk followed by trailers.
func (cw *ChunkedWriter) Close(trailers Headers) error {
	if cw.closed {
		return nil
	}
	cw.closed = true
	buf := append(cw.scratch[:0], "0\r\n"...)
	for _, f := range trailers {
		buf = append(buf, f.Name...)
		buf = append(buf, ": "...)
		buf = append(buf, f.Value...)
		buf = append(buf, "\r\n"...)
	}
	buf = append(buf, "\r\n"...)
	_, err := cw.w.Write(buf)
	return err
}
