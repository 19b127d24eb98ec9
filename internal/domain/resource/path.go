package resource

import (
	"net/url"
	"strings"
)

// CleanPath decodes a request path and returns it relative to the root,
// "." for the root itself. ".." segments are resolved lexically and any
// that would climb above the root yield ErrForbidden.
func CleanPath(rawPath string) (string, error) {
	p, err := url.PathUnescape(rawPath)
	if err != nil || !strings.HasPrefix(p, "/") || strings.IndexByte(p, 0) >= 0 {
		return "", ErrNotFound
	}

	var stack []string
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(stack) == 0 {
				return "", ErrForbidden
			}
			stack = stack[:len(stack)-1]
		default:
			if strings.ContainsRune(seg, '\\') {
				return "", ErrForbidden
			}
			stack = append(stack, seg)
		}
	}
	if len(stack) == 0 {
		return ".", nil
	}
	return strings.Join(stack, "/"), nil
}
