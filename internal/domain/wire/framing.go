package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// BodyMode is how a message body is delimited on the wire.
type BodyMode int

const (
	// Absent means the message has no body.
	Absent BodyMode = iota
	// FixedLength means exactly Framing.Length bytes follow the head.
	FixedLength
	// Chunked means chunked transfer coding.
	Chunked
	// UntilClose means the body ends when the connection closes. Responses only.
	UntilClose
)

func (m BodyMode) String() string {
	switch m {
	case Absent:
		return "absent"
	case FixedLength:
		return "fixed-length"
	case Chunked:
		return "chunked"
	case UntilClose:
		return "until-close"
	default:
		return "BodyMode(" + strconv.Itoa(int(m)) + ")"
	}
}

// Framing is a body mode plus the declared length for FixedLength.
type Framing struct {
	Mode   BodyMode
	Length int64
}

// RequestBodyMode determines how the request body is delimited.
// Transfer-Encoding wins over Content-Length, but sending both is rejected
// as ambiguous. maxBody caps a declared length; zero disables the cap.
func RequestBodyMode(h *RequestHead, maxBody int64) (Framing, error) {
	te := h.Header.Values("Transfer-Encoding")
	cl := h.Header.Values("Content-Length")

	if len(te) > 0 {
		if len(cl) > 0 {
			return Framing{}, ErrAmbiguousFraming
		}
		codings := transferCodings(te)
		if len(codings) == 0 || codings[len(codings)-1] != "chunked" {
			return Framing{}, fmt.Errorf("%w: %q", ErrInvalidTransferEncoding, strings.Join(te, ", "))
		}
		if len(codings) > 1 {
			return Framing{}, fmt.Errorf("%w: %q", ErrUnsupportedTransferCoding, strings.Join(codings[:len(codings)-1], ", "))
		}
		return Framing{Mode: Chunked, Length: -1}, nil
	}

	if len(cl) > 0 {
		n, err := parseContentLength(cl)
		if err != nil {
			return Framing{}, err
		}
		if maxBody > 0 && n > maxBody {
			return Framing{}, fmt.Errorf("%w: %d bytes declared", ErrBodyTooLarge, n)
		}
		if n == 0 {
			return Framing{Mode: Absent}, nil
		}
		return Framing{Mode: FixedLength, Length: n}, nil
	}

	return Framing{Mode: Absent}, nil
}

// ResponseBodyMode determines how a response body will be delimited.
// noBody is set for responses to HEAD. closing reports whether the
// connection closes after this response, which is the only case where a
// body without declared framing is allowed.
func ResponseBodyMode(status int, header Headers, noBody, closing bool) (Framing, error) {
	te := header.Values("Transfer-Encoding")
	cl := header.Values("Content-Length")

	if status < 200 || status == 204 {
		if len(te) > 0 || len(cl) > 0 {
			return Framing{}, fmt.Errorf("%w: status %d", ErrBodyNotAllowed, status)
		}
		return Framing{Mode: Absent}, nil
	}
	if len(te) > 0 && len(cl) > 0 {
		return Framing{}, fmt.Errorf("%w: both Content-Length and Transfer-Encoding", ErrFramingViolation)
	}
	if status == 304 || noBody {
		return Framing{Mode: Absent}, nil
	}

	if len(te) > 0 {
		codings := transferCodings(te)
		if len(codings) == 0 || codings[len(codings)-1] != "chunked" {
			return Framing{}, fmt.Errorf("%w: last transfer coding must be chunked", ErrFramingViolation)
		}
		return Framing{Mode: Chunked, Length: -1}, nil
	}
	if len(cl) > 0 {
		n, err := parseContentLength(cl)
		if err != nil {
			return Framing{}, err
		}
		return Framing{Mode: FixedLength, Length: n}, nil
	}
	if closing {
		return Framing{Mode: UntilClose, Length: -1}, nil
	}
	return Framing{}, ErrMissingFraming
}

// parseContentLength accepts repeated or comma-joined values only when they
// are all the same non-negative decimal.
func parseContentLength(values []string) (int64, error) {
	n := int64(-1)
	for _, v := range values {
		for _, elem := range strings.Split(v, ",") {
			elem = strings.TrimSpace(elem)
			m, err := parseDecimal(elem)
			if err != nil {
				return 0, fmt.Errorf("%w: %q", ErrInvalidContentLength, v)
			}
			if n >= 0 && m != n {
				return 0, fmt.Errorf("%w: conflicting Content-Length values", ErrAmbiguousFraming)
			}
			n = m
		}
	}
	return n, nil
}

func parseDecimal(s string) (int64, error) {
	if s == "" {
		return 0, strconv.ErrSyntax
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return 0, strconv.ErrSyntax
		}
	}
	return strconv.ParseInt(s, 10, 64)
}

func transferCodings(values []string) []string {
	var out []string
	for _, v := range values {
		for _, elem := range strings.Split(v, ",") {
			// Parameters are irrelevant for the codings we recognize.
			name, _, _ := strings.Cut(elem, ";")
			name = strings.ToLower(strings.TrimSpace(name))
			if name != "" {
				out = append(out, name)
			}
		}
	}
	return out
}
