// Package wire implements the HTTP/1.1 message syntax used by the server:
// start lines, header blocks and body framing.
//
// Nothing in this package performs network I/O. Heads are parsed from byte
// slices that the connection has already buffered, and bodies are decoded
// from or encoded to plain io.Reader and io.Writer values.
//
// # Heads
//
// ParseHead parses a request line and header block. It returns ErrNeedMore
// when the terminating empty line has not arrived yet, so callers can keep
// reading and retry with a longer slice:
//
//	head, n, err := wire.ParseHead(buf, limits)
//
// AppendResponseHead serializes a status line and header block in insertion
// order.
//
// # Bodies
//
// RequestBodyMode and ResponseBodyMode choose between Absent, FixedLength,
// Chunked and UntilClose framing. FixedReader, ChunkedReader and
// ChunkedWriter enforce the boundaries.
package wire
