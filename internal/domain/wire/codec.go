package wire

import (
	"bytes"
	"fmt"
)

// Limits bounds the size of a request head.
type Limits struct {
	// MaxHeaderBytes caps the request line plus header block, terminator included.
	MaxHeaderBytes int
	// MaxHeaderCount caps the number of header fields.
	MaxHeaderCount int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{MaxHeaderBytes: 8 << 10, MaxHeaderCount: 100}
}

// ErrMissingHost is returned for HTTP/1.1 requests without exactly one Host field.
var ErrMissingHost = &Error{Kind: KindProtocol, Msg: "missing or repeated Host header"}

// ParseHead parses a request head from the start of buf. It returns the head
// and the number of bytes it occupied, including any empty lines skipped
// before the request line. Lines are validated as soon as they are complete,
// so garbage is rejected before the terminator arrives.
func ParseHead(buf []byte, lim Limits) (*RequestHead, int, error) {
	start := 0
	for start < len(buf) {
		if buf[start] == '\n' {
			start++
			continue
		}
		if buf[start] == '\r' {
			if start+1 == len(buf) {
				return nil, 0, ErrNeedMore
			}
			if buf[start+1] == '\n' {
				start += 2
				continue
			}
			return nil, 0, ErrMalformedRequestLine
		}
		break
	}

	head := &RequestHead{}
	pos := start
	first := true
	for {
		i := bytes.IndexByte(buf[pos:], '\n')
		if i < 0 {
			if lim.MaxHeaderBytes > 0 && len(buf)-start >= lim.MaxHeaderBytes {
				return nil, 0, ErrHeaderTooLarge
			}
			return nil, 0, ErrNeedMore
		}
		next := pos + i + 1
		if lim.MaxHeaderBytes > 0 && next-start > lim.MaxHeaderBytes {
			return nil, 0, ErrHeaderTooLarge
		}
		line := buf[pos : pos+i]
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}
		pos = next

		switch {
		case first:
			if err := parseRequestLine(line, head); err != nil {
				return nil, 0, err
			}
			first = false
		case len(line) == 0:
			if head.Version.AtLeast(1, 1) && len(head.Header.Values("Host")) != 1 {
				return nil, 0, ErrMissingHost
			}
			return head, pos, nil
		default:
			if isOWS(line[0]) {
				return nil, 0, ErrObsoleteFolding
			}
			f, err := parseField(line)
			if err != nil {
				return nil, 0, err
			}
			if lim.MaxHeaderCount > 0 && len(head.Header) >= lim.MaxHeaderCount {
				return nil, 0, ErrTooManyHeaders
			}
			head.Header = append(head.Header, f)
		}
	}
}

func parseRequestLine(line []byte, head *RequestHead) error {
	method, rest, ok := bytes.Cut(line, []byte{' '})
	if !ok || !isToken(method) {
		return fmt.Errorf("%w: %q", ErrMalformedRequestLine, line)
	}
	target, version, ok := bytes.Cut(rest, []byte{' '})
	if !ok || !validTarget(target) {
		return fmt.Errorf("%w: %q", ErrMalformedRequestLine, line)
	}
	v, err := parseVersion(version)
	if err != nil {
		return err
	}
	head.Method = string(method)
	head.Target = string(target)
	head.Path, head.RawQuery = splitTarget(head.Target)
	head.Version = v
	return nil
}

// parseVersion accepts exactly "HTTP/" DIGIT "." DIGIT.
func parseVersion(b []byte) (Version, error) {
	if len(b) != 8 || !bytes.HasPrefix(b, []byte("HTTP/")) || b[6] != '.' ||
		!isDigit(b[5]) || !isDigit(b[7]) {
		return Version{}, fmt.Errorf("%w: bad version %q", ErrMalformedRequestLine, b)
	}
	v := Version{Major: int(b[5] - '0'), Minor: int(b[7] - '0')}
	if v.Major != 1 {
		return Version{}, fmt.Errorf("%w: %s", ErrUnsupportedVersion, v)
	}
	return v, nil
}

func parseField(line []byte) (Header, error) {
	name, value, ok := bytes.Cut(line, []byte{':'})
	if !ok {
		return Header{}, fmt.Errorf("%w: missing colon", ErrMalformedHeader)
	}
	if !isToken(name) {
		return Header{}, fmt.Errorf("%w: invalid field name %q", ErrMalformedHeader, name)
	}
	value = trimOWS(value)
	if !validFieldValue(value) {
		return Header{}, fmt.Errorf("%w: invalid value for %s", ErrMalformedHeader, name)
	}
	return Header{Name: string(name), Value: string(value)}, nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
