package wire

import (
	"strconv"
	"strings"
)

// Version is an HTTP protocol version.
type Version struct {
	Major int
	Minor int
}

// Well-known versions.
var (
	HTTP10 = Version{Major: 1, Minor: 0}
	HTTP11 = Version{Major: 1, Minor: 1}
)

func (v Version) String() string {
	return "HTTP/" + strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor)
}

// AtLeast reports whether v is major.minor or newer.
func (v Version) AtLeast(major, minor int) bool {
	return v.Major > major || (v.Major == major && v.Minor >= minor)
}

// RequestHead is a parsed request line and header block.
type RequestHead struct {
	Method string
	// Target is the request-target exactly as received.
	Target string
	// Path and RawQuery split the target. Path is still percent-encoded.
	Path     string
	RawQuery string
	Version  Version
	Header   Headers
}

// KeepAlive reports whether the client allows the connection to persist
// after this exchange.
func (h *RequestHead) KeepAlive() bool {
	if h.Header.HasToken("Connection", "close") {
		return false
	}
	if h.Version.AtLeast(1, 1) {
		return true
	}
	return h.Header.HasToken("Connection", "keep-alive")
}

// ExpectsContinue reports whether the client waits for 100 Continue before
// sending the body.
func (h *RequestHead) ExpectsContinue() bool {
	return h.Version.AtLeast(1, 1) && strings.EqualFold(strings.TrimSpace(h.Header.Get("Expect")), "100-continue")
}

// IsHead reports whether the request method is HEAD.
func (h *RequestHead) IsHead() bool {
	return h.Method == "HEAD"
}

// splitTarget extracts the path and query of origin-form and absolute-form
// targets. Asterisk and authority forms keep the target as the path.
func splitTarget(target string) (path, query string) {
	if i := strings.Index(target, "://"); i > 0 && !strings.HasPrefix(target, "/") {
		rest := target[i+3:]
		if j := strings.IndexAny(rest, "/?"); j >= 0 {
			target = rest[j:]
			if target[0] == '?' {
				target = "/" + target
			}
		} else {
			target = "/"
		}
	}
	path, query, _ = strings.Cut(target, "?")
	return path, query
}
