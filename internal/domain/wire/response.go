package wire

import (
	"fmt"
	"strconv"
)

// ResponseHead is a status line and header block.
type ResponseHead struct {
	Version Version
	Status  int
	// Reason defaults to StatusText(Status) when empty.
	Reason string
	Header Headers
}

// AppendResponseHead appends the serialized head to dst: status line,
// fields in insertion order, then the empty line. h is not modified.
func AppendResponseHead(dst []byte, h *ResponseHead) []byte {
	v := h.Version
	if v.Major == 0 {
		v = HTTP11
	}
	reason := h.Reason
	if reason == "" {
		reason = StatusText(h.Status)
	}
	dst = append(dst, v.String()...)
	dst = append(dst, ' ')
	dst = strconv.AppendInt(dst, int64(h.Status), 10)
	dst = append(dst, ' ')
	dst = append(dst, reason...)
	dst = append(dst, "\r\n"...)
	for _, f := range h.Header {
		dst = append(dst, f.Name...)
		dst = append(dst, ": "...)
		dst = append(dst, f.Value...)
		dst = append(dst, "\r\n"...)
	}
	return append(dst, "\r\n"...)
}

// TimeFormat is the IMF-fixdate layout used by Date and Last-Modified.
const TimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// ErrInvalidField is returned by ValidateFields for names or values that
// would corrupt the header block.
var ErrInvalidField = &Error{Kind: KindFramingViolation, Msg: "invalid response header field"}

// ValidateFields checks that every name is a token and no value carries
// CR, LF or other control characters.
func ValidateFields(h Headers) error {
	for _, f := range h {
		if !isToken([]byte(f.Name)) || !validFieldValue([]byte(f.Value)) {
			return fmt.Errorf("%w: %q", ErrInvalidField, f.Name)
		}
	}
	return nil
}
