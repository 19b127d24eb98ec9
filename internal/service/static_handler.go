package service

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/pyxhttp/pyx/internal/domain/exchange"
	"github.com/pyxhttp/pyx/internal/domain/resource"
	"github.com/pyxhttp/pyx/internal/domain/wire"
)

// Defaults for StaticConfig fields left empty.
const (
	DefaultChunkSize   = 64 << 10
	DefaultContentType = "application/octet-stream"
)

// DefaultIndexFiles are tried, in order, for directory targets.
var DefaultIndexFiles = []string{"index.html", "index.htm"}

// StaticConfig configures a StaticHandler.
type StaticConfig struct {
	// Root is the directory served.
	Root string
	// IndexFiles are tried for directory targets.
	IndexFiles []string
	// ChunkSize bounds each read from a file into the response.
	ChunkSize int
	// DefaultType is used when the extension has no known MIME type.
	DefaultType string
}

// StaticHandler serves files below a root directory.
// All opens go through an os.Root, so neither ".." nor symlinks can reach
// outside it.
type StaticHandler struct {
	root        *os.Root
	dir         string
	indexFiles  []string
	chunkSize   int
	defaultType string
	bufPool     sync.Pool
	logger      *slog.Logger
}

var _ exchange.Handler = (*StaticHandler)(nil)

// NewStaticHandler opens cfg.Root and returns a handler serving it.
func NewStaticHandler(cfg StaticConfig, logger *slog.Logger) (*StaticHandler, error) {
	root, err := os.OpenRoot(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("open static root: %w", err)
	}
	h := &StaticHandler{
		root:        root,
		dir:         cfg.Root,
		indexFiles:  cfg.IndexFiles,
		chunkSize:   cfg.ChunkSize,
		defaultType: cfg.DefaultType,
		logger:      logger,
	}
	if len(h.indexFiles) == 0 {
		h.indexFiles = DefaultIndexFiles
	}
	if h.chunkSize <= 0 {
		h.chunkSize = DefaultChunkSize
	}
	if h.defaultType == "" {
		h.defaultType = DefaultContentType
	}
	h.bufPool.New = func() any {
		b := make([]byte, h.chunkSize)
		return &b
	}
	return h, nil
}

// Dir returns the configured root directory.
func (h *StaticHandler) Dir() string {
	return h.dir
}

// Close releases the root directory handle.
func (h *StaticHandler) Close() error {
	return h.root.Close()
}

// Serve answers GET and HEAD requests for files below the root.
func (h *StaticHandler) Serve(w exchange.ResponseWriter, r *exchange.Request) error {
	if r.Method != "GET" && r.Method != "HEAD" {
		return &exchange.StatusError{
			Code:   405,
			Msg:    r.Method,
			Header: wire.Headers{{Name: "Allow", Value: "GET, HEAD"}},
		}
	}

	name, err := resource.CleanPath(r.Path)
	if err != nil {
		return h.statusError(r, name, err)
	}

	f, info, err := h.open(name)
	if err != nil {
		return h.statusError(r, name, err)
	}

	if info.IsDir() {
		f.Close()
		if !strings.HasSuffix(r.Path, "/") {
			return redirect(w, r, r.Path+"/")
		}
		f, info, name, err = h.openIndex(name)
		if err != nil {
			return h.statusError(r, name, err)
		}
	}
	defer f.Close()

	if !info.Mode().IsRegular() {
		return h.statusError(r, name, resource.ErrForbidden)
	}

	return h.serveFile(w, r, f, resource.New(name, info))
}

func (h *StaticHandler) open(name string) (*os.File, fs.FileInfo, error) {
	f, err := h.root.Open(name)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, info, nil
}

func (h *StaticHandler) openIndex(dir string) (*os.File, fs.FileInfo, string, error) {
	for _, idx := range h.indexFiles {
		name := path.Join(dir, idx)
		f, info, err := h.open(name)
		if errors.Is(err, fs.ErrPermission) {
			return nil, nil, name, resource.ErrForbidden
		}
		if err != nil {
			continue
		}
		if info.Mode().IsRegular() {
			return f, info, name, nil
		}
		f.Close()
	}
	return nil, nil, dir, resource.ErrNotFound
}

func (h *StaticHandler) serveFile(w exchange.ResponseWriter, r *exchange.Request, f *os.File, res resource.Resource) error {
	hdr := w.Header()
	hdr.Set("ETag", res.ETag)
	hdr.Set("Last-Modified", res.LastModified())
	hdr.Set("Accept-Ranges", "bytes")

	if resource.NotModified(r.Header, res) {
		return w.WriteHeader(304)
	}

	status := 200
	span := resource.ByteRange{Start: 0, End: res.Size - 1}
	if rh := r.Header.Get("Range"); rh != "" && resource.IfRange(r.Header, res) {
		br, ok, err := resource.ParseRange(rh, res.Size)
		if err != nil {
			return &exchange.StatusError{
				Code:   416,
				Msg:    rh,
				Err:    err,
				Header: wire.Headers{{Name: "Content-Range", Value: resource.UnsatisfiedRange(res.Size)}},
			}
		}
		if ok {
			status = 206
			span = br
			hdr.Set("Content-Range", br.ContentRange(res.Size))
		}
	}

	ctype := mime.TypeByExtension(path.Ext(res.Name))
	if ctype == "" {
		ctype = h.defaultType
	}
	hdr.Set("Content-Type", ctype)
	length := span.Length()
	hdr.Set("Content-Length", strconv.FormatInt(length, 10))

	if err := w.WriteHeader(status); err != nil {
		return err
	}
	if r.IsHead() || length == 0 {
		return nil
	}

	if span.Start > 0 {
		if _, err := f.Seek(span.Start, io.SeekStart); err != nil {
			return fmt.Errorf("seek %s: %w", res.Name, err)
		}
	}
	return h.stream(w, io.LimitReader(f, length), res.Name)
}

// stream copies src into the response one chunk at a time.
func (h *StaticHandler) stream(w exchange.ResponseWriter, src io.Reader, name string) error {
	bp := h.bufPool.Get().(*[]byte)
	defer h.bufPool.Put(bp)
	buf := *bp

	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
	}
}

// statusError maps a lookup failure to the response status.
func (h *StaticHandler) statusError(r *exchange.Request, name string, err error) error {
	switch {
	case errors.Is(err, resource.ErrNotFound),
		errors.Is(err, fs.ErrNotExist),
		errors.Is(err, syscall.ENOTDIR):
		return exchange.NewStatusError(404, err)
	case errors.Is(err, resource.ErrForbidden),
		errors.Is(err, fs.ErrPermission):
		return exchange.NewStatusError(403, err)
	default:
		// os.Root reports escapes through symlinks as plain errors.
		exchange.LoggerFromContext(r.Context()).Debug("static lookup refused",
			"path", name,
			"error", err,
		)
		return exchange.NewStatusError(403, err)
	}
}

func redirect(w exchange.ResponseWriter, r *exchange.Request, location string) error {
	if r.RawQuery != "" {
		location += "?" + r.RawQuery
	}
	hdr := w.Header()
	hdr.Set("Location", location)
	hdr.Set("Content-Length", "0")
	return w.WriteHeader(301)
}
