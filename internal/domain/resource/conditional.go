package resource

import (
	"strings"
	"time"

	"github.com/pyxhttp/pyx/internal/domain/wire"
)

var timeLayouts = []string{
	TimeFormat,
	"Monday, 02-Jan-06 15:04:05 MST",
	time.ANSIC,
}

// ParseTime parses an HTTP date in any of the three formats clients send.
func ParseTime(s string) (time.Time, error) {
	var err error
	for _, layout := range timeLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

// NotModified reports whether a GET or HEAD carrying h can be answered with
// 304 for r. If-None-Match takes precedence; If-Modified-Since is only
// consulted without it.
func NotModified(h wire.Headers, r Resource) bool {
	if inm := h.Values("If-None-Match"); len(inm) > 0 {
		return matchAny(inm, r.ETag, false)
	}
	if ims := h.Get("If-Modified-Since"); ims != "" {
		t, err := ParseTime(ims)
		if err != nil {
			return false
		}
		return !r.ModTime.Truncate(time.Second).After(t)
	}
	return false
}

// IfRange reports whether a Range header should be honored. It is without
// If-Range, or when If-Range names the current version of r.
func IfRange(h wire.Headers, r Resource) bool {
	v := strings.TrimSpace(h.Get("If-Range"))
	if v == "" {
		return true
	}
	if strings.HasPrefix(v, `"`) || strings.HasPrefix(v, "W/") {
		return matchAny([]string{v}, r.ETag, true)
	}
	t, err := ParseTime(v)
	if err != nil {
		return false
	}
	return r.ModTime.Truncate(time.Second).Equal(t)
}

func matchAny(lists []string, etag string, strong bool) bool {
	for _, list := range lists {
		for _, tag := range strings.Split(list, ",") {
			tag = strings.TrimSpace(tag)
			if tag == "*" && !strong {
				return true
			}
			if strong {
				if !strings.HasPrefix(tag, "W/") && tag == etag {
					return true
				}
				continue
			}
			if strings.TrimPrefix(tag, "W/") == strings.TrimPrefix(etag, "W/") {
				return true
			}
		}
	}
	return false
}
