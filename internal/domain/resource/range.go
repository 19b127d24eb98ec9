package resource

import (
	"strconv"
	"strings"
)

// ByteRange is an inclusive span of a resource.
type ByteRange struct {
	Start int64
	End   int64
}

// Length returns the number of bytes in the span.
func (b ByteRange) Length() int64 {
	return b.End - b.Start + 1
}

// ContentRange formats the Content-Range value for a resource of size bytes.
func (b ByteRange) ContentRange(size int64) string {
	return "bytes " + strconv.FormatInt(b.Start, 10) + "-" + strconv.FormatInt(b.End, 10) + "/" + strconv.FormatInt(size, 10)
}

// UnsatisfiedRange formats the Content-Range value sent with 416.
func UnsatisfiedRange(size int64) string {
	return "bytes */" + strconv.FormatInt(size, 10)
}

// ParseRange interprets a Range header against a resource of size bytes.
// ok is false when the header should be ignored and the whole resource
// served: other units and multiple ranges. Syntax errors and ranges that
// start past the end yield ErrRangeNotSatisfiable.
func ParseRange(header string, size int64) (br ByteRange, ok bool, err error) {
	unit, spec, found := strings.Cut(strings.TrimSpace(header), "=")
	if !found || !strings.EqualFold(strings.TrimSpace(unit), "bytes") {
		return ByteRange{}, false, nil
	}
	spec = strings.TrimSpace(spec)
	if strings.Contains(spec, ",") {
		return ByteRange{}, false, nil
	}

	first, last, found := strings.Cut(spec, "-")
	if !found {
		return ByteRange{}, false, ErrRangeNotSatisfiable
	}
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)

	if first == "" {
		n, perr := parseInt(last)
		if perr != nil || n == 0 || size == 0 {
			return ByteRange{}, false, ErrRangeNotSatisfiable
		}
		if n > size {
			n = size
		}
		return ByteRange{Start: size - n, End: size - 1}, true, nil
	}

	start, perr := parseInt(first)
	if perr != nil {
		return ByteRange{}, false, ErrRangeNotSatisfiable
	}
	end := size - 1
	if last != "" {
		if end, perr = parseInt(last); perr != nil || end < start {
			return ByteRange{}, false, ErrRangeNotSatisfiable
		}
	}
	if start >= size {
		return ByteRange{}, false, ErrRangeNotSatisfiable
	}
	if end >= size {
		end = size - 1
	}
	return ByteRange{Start: start, End: end}, true, nil
}

func parseInt(s string) (int64, error) {
	if s == "" {
		return 0, strconv.ErrSyntax
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, strconv.ErrSyntax
		}
	}
	return strconv.ParseInt(s, 10, 64)
}
