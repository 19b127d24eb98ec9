// Package exchange defines the seam between the connection engine and the
// application: the Request handed to a Handler and the ResponseWriter it
// answers through.
package exchange

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/pyxhttp/pyx/internal/ctxkey"
	"github.com/pyxhttp/pyx/internal/domain/wire"
)

// Errors returned by ResponseWriter implementations.
var (
	ErrHeadersNotSent = errors.New("exchange: body written before WriteHeader")
	ErrHeadersSent    = errors.New("exchange: WriteHeader called twice")
	ErrInvalidStatus  = errors.New("exchange: invalid response status")
	ErrConnClosing    = errors.New("exchange: connection is closing")
	ErrBodyClosed     = errors.New("exchange: request body read after handler returned")
)

// Body is a request body. It is a forward-only, finite sequence of chunks
// and may be consumed either with Next or as an io.Reader, but not both
// interleaved in a way that expects the other to rewind.
type Body interface {
	io.Reader
	// Next returns the next chunk of the body. The slice is valid until the
	// following call. At the end Next returns nil, io.EOF.
	Next() ([]byte, error)
	// Size returns the declared length, or -1 for chunked bodies.
	Size() int64
	// Trailers returns retained chunked trailer fields once the body is exhausted.
	Trailers() wire.Headers
}

// Request is a parsed request as seen by a Handler.
type Request struct {
	*wire.RequestHead

	Body       Body
	RemoteAddr string
	// ID correlates log lines and access records for this request.
	ID string

	ctx context.Context
}

// NewRequest assembles a Request.
func NewRequest(ctx context.Context, head *wire.RequestHead, body Body, remoteAddr, id string) *Request {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Request{RequestHead: head, Body: body, RemoteAddr: remoteAddr, ID: id, ctx: ctx}
}

// Context returns the request context. It is cancelled when the connection
// closes.
func (r *Request) Context() context.Context {
	return r.ctx
}

// ResponseWriter builds one response. Status and headers are committed by
// WriteHeader; body bytes may only follow. The body must be framed either
// by a Content-Length field or by Transfer-Encoding: chunked, in which case
// every Write becomes one chunk.
type ResponseWriter interface {
	// Header returns the mutable header list. After WriteHeader it returns a
	// copy, so committed headers cannot change.
	Header() *wire.Headers
	WriteHeader(status int) error
	Write(p []byte) (int, error)
	Flush() error
	Committed() bool
}

// Handler serves one request. A returned error that reaches the connection
// before headers are committed becomes an error response; after the
// commit it closes the connection.
type Handler interface {
	Serve(w ResponseWriter, r *Request) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(w ResponseWriter, r *Request) error

// Serve calls f(w, r).
func (f HandlerFunc) Serve(w ResponseWriter, r *Request) error {
	return f(w, r)
}

// ContextWithLogger stores an enriched logger in ctx.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxkey.LoggerKey{}, logger)
}

// LoggerFromContext retrieves the enriched logger from context.
// Returns slog.Default() if no logger is in context.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}
