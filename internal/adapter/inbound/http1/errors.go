package http1

import (
	"errors"
	"io"
	"net"

	"github.com/pyxhttp/pyx/internal/domain/exchange"
	"github.com/pyxhttp/pyx/internal/domain/wire"
)

var (
	errIdleTimeout   = errors.New("http1: idle timeout")
	errShuttingDown  = errors.New("http1: server shutting down")
	errBodyNotSent   = errors.New("http1: client is still waiting for 100 Continue")
	errDrainLimit    = errors.New("http1: unread request body exceeds drain limit")
	errHeaderTimeout = exchange.Errorf(408, "request head not received in time")

	errExpectationFailed = exchange.Errorf(417, "unsupported expectation")
)

// quietError ends a connection without a response: the peer is gone, idle
// or the server is stopping.
type quietError struct {
	err error
}

func (e quietError) Error() string { return e.err.Error() }
func (e quietError) Unwrap() error { return e.err }

// statusForError maps a request or handler failure to the status of the
// error response and reports whether the connection must close after it.
func statusForError(err error) (status int, fatal bool, extra wire.Headers) {
	kind := wire.KindOf(err)
	fatal = (kind != 0 && kind != wire.KindFramingViolation) ||
		isTimeout(err) ||
		errors.Is(err, io.ErrUnexpectedEOF)

	var se *exchange.StatusError
	if errors.As(err, &se) && se.Code >= 400 && se.Code <= 599 {
		return se.Code, fatal, se.Header
	}

	switch {
	case errors.Is(err, wire.ErrUnsupportedVersion):
		return 505, true, nil
	case errors.Is(err, wire.ErrUnsupportedTransferCoding):
		return 501, true, nil
	case kind == wire.KindHeaderTooLarge:
		return 431, true, nil
	case kind == wire.KindBodyTooLarge:
		return 413, true, nil
	case kind == wire.KindProtocol, kind == wire.KindFramingPolicy:
		return 400, true, nil
	case isTimeout(err):
		return 408, true, nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		return 400, true, nil
	default:
		return 500, fatal, nil
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
