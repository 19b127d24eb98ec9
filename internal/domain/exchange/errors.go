package exchange

import (
	"fmt"
	"html"
	"strconv"

	"github.com/pyxhttp/pyx/internal/domain/wire"
)

// StatusError asks the connection to answer with an error page instead of
// a 500. It is the way handlers reject a request without closing the
// connection.
type StatusError struct {
	Code int
	Msg  string
	// Header is added to the error response, e.g. Allow for 405.
	Header wire.Headers
	Err    error
}

// Errorf returns a StatusError with a formatted log message.
func Errorf(code int, format string, args ...any) *StatusError {
	return &StatusError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// NewStatusError wraps err with a response status.
func NewStatusError(code int, err error) *StatusError {
	return &StatusError{Code: code, Err: err}
}

func (e *StatusError) Error() string {
	msg := strconv.Itoa(e.Code) + " " + wire.StatusText(e.Code)
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// ErrorPage renders the default HTML body for an error status.
func ErrorPage(code int) []byte {
	reason := html.EscapeString(wire.StatusText(code))
	return []byte(`<html>
    <head>
        <meta http-equiv="content-type" content="text/html; charset=utf-8">
        <title>Error: ` + strconv.Itoa(code) + `</title>
    </head>
    <body>
        <h1>Error</h1>
        <p>` + strconv.Itoa(code) + ` - ` + reason + `</p>
    </body>
</html>
`)
}

// WriteError answers with the default error page. extra fields are added
// to the head. HEAD requests get the headers only.
func WriteError(w ResponseWriter, r *Request, code int, extra wire.Headers) error {
	page := ErrorPage(code)
	h := w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Content-Length", strconv.Itoa(len(page)))
	for _, f := range extra {
		h.Set(f.Name, f.Value)
	}
	if err := w.WriteHeader(code); err != nil {
		return err
	}
	if r != nil && r.RequestHead != nil && r.IsHead() {
		return nil
	}
	_, err := w.Write(page)
	return err
}
