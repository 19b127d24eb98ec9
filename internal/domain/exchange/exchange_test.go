package exchange_test

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"testing"

	"github.com/pyxhttp/pyx/internal/domain/exchange"
	"github.com/pyxhttp/pyx/internal/domain/exchange/exchangetest"
	"github.com/pyxhttp/pyx/internal/domain/wire"
)

func TestStatusError(t *testing.T) {
	t.Parallel()

	err := exchange.NewStatusError(404, fs.ErrNotExist)
	if got := err.Error(); got != "404 Not Found: file does not exist" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Error("errors.Is(err, fs.ErrNotExist) = false")
	}

	var se *exchange.StatusError
	wrapped := errors.Join(errors.New("ctx"), exchange.Errorf(405, "method %s", "POST"))
	if !errors.As(wrapped, &se) || se.Code != 405 || se.Msg != "method POST" {
		t.Errorf("errors.As() = %+v", se)
	}
}

func TestWriteError(t *testing.T) {
	t.Parallel()

	rec := exchangetest.NewRecorder()
	req := exchangetest.NewRequest("GET", "/missing", "")
	err := exchange.WriteError(rec, req, 405, wire.Headers{{Name: "Allow", Value: "GET, HEAD"}})
	if err != nil {
		t.Fatalf("WriteError() error: %v", err)
	}
	if rec.Status != 405 {
		t.Errorf("Status = %d, want 405", rec.Status)
	}
	if rec.Headers.Get("Allow") != "GET, HEAD" {
		t.Errorf("Allow = %q", rec.Headers.Get("Allow"))
	}
	if !strings.Contains(rec.Body.String(), "405 - Method Not Allowed") {
		t.Errorf("body = %q", rec.Body.String())
	}
	if cl := rec.Headers.Get("Content-Length"); cl != strconv.Itoa(rec.Body.Len()) {
		t.Errorf("Content-Length = %s, body is %d bytes", cl, rec.Body.Len())
	}
}

func TestWriteError_Head(t *testing.T) {
	t.Parallel()

	rec := exchangetest.NewRecorder()
	req := exchangetest.NewRequest("HEAD", "/", "")
	if err := exchange.WriteError(rec, req, 404, nil); err != nil {
		t.Fatalf("WriteError() error: %v", err)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("HEAD error response has %d body bytes", rec.Body.Len())
	}
	if rec.Headers.Get("Content-Length") == "0" {
		t.Error("HEAD error response should advertise the GET length")
	}
}

func TestLoggerFromContext(t *testing.T) {
	t.Parallel()

	if exchange.LoggerFromContext(context.Background()) != slog.Default() {
		t.Error("empty context should yield slog.Default()")
	}
	logger := slog.New(slog.DiscardHandler)
	ctx := exchange.ContextWithLogger(context.Background(), logger)
	if exchange.LoggerFromContext(ctx) != logger {
		t.Error("LoggerFromContext did not return the stored logger")
	}
}

func TestHandlerFunc(t *testing.T) {
	t.Parallel()

	called := false
	var h exchange.Handler = exchange.HandlerFunc(func(w exchange.ResponseWriter, r *exchange.Request) error {
		called = true
		return w.WriteHeader(204)
	})
	rec := exchangetest.NewRecorder()
	if err := h.Serve(rec, exchangetest.NewRequest("GET", "/", "")); err != nil {
		t.Fatalf("Serve() error: %v", err)
	}
	if !called || rec.Status != 204 {
		t.Errorf("called = %v, status = %d", called, rec.Status)
	}
}
