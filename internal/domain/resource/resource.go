// Package resource holds the filesystem-facing rules of the static handler:
// mapping request paths under a root, entity tags, preconditions and byte
// ranges.
package resource

import (
	"encoding/binary"
	"errors"
	"io/fs"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/pyxhttp/pyx/internal/domain/wire"
)

// Static handler errors.
var (
	ErrNotFound            = errors.New("resource: not found")
	ErrForbidden           = errors.New("resource: forbidden")
	ErrRangeNotSatisfiable = errors.New("resource: range not satisfiable")
)

// TimeFormat is the IMF-fixdate layout used by Last-Modified.
const TimeFormat = wire.TimeFormat

// Resource describes a regular file at request time. It is derived per
// request and never cached.
type Resource struct {
	// Name is the slash-separated path relative to the root.
	Name    string
	Size    int64
	ModTime time.Time
	ETag    string
}

// New describes the file name with the given info.
func New(name string, info fs.FileInfo) Resource {
	return Resource{
		Name:    name,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		ETag:    ETag(info.Size(), info.ModTime()),
	}
}

// ETag derives a strong entity tag from the length and modification time.
func ETag(size int64, modTime time.Time) string {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[:8], uint64(size))
	binary.LittleEndian.PutUint64(b[8:], uint64(modTime.UnixNano()))
	return `"` + strconv.FormatUint(xxhash.Sum64(b[:]), 16) + `"`
}

// LastModified formats the modification time for the Last-Modified field.
func (r Resource) LastModified() string {
	return r.ModTime.UTC().Format(TimeFormat)
}
