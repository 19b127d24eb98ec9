package service

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/pyxhttp/pyx/internal/domain/exchange"
	"github.com/pyxhttp/pyx/internal/domain/exchange/exchangetest"
	"github.com/pyxhttp/pyx/internal/domain/resource"
)

var testMTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// newTestSite builds a root with a 1000-byte file, a directory with an index
// and an empty directory.
func newTestSite(t *testing.T) (string, []byte) {
	t.Helper()
	root := t.TempDir()

	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i % 251)
	}
	writeFile(t, filepath.Join(root, "data.bin"), data)
	writeFile(t, filepath.Join(root, "docs", "index.html"), []byte("<h1>docs</h1>"))
	writeFile(t, filepath.Join(root, "notes.txt"), []byte("plain"))
	writeFile(t, filepath.Join(root, "style.css"), []byte("body{}"))
	if err := os.Mkdir(filepath.Join(root, "empty"), 0o755); err != nil {
		t.Fatal(err)
	}
	return root, data
}

func writeFile(t *testing.T, name string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(name, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(name, testMTime, testMTime); err != nil {
		t.Fatal(err)
	}
}

func newTestStaticHandler(t *testing.T, root string) *StaticHandler {
	t.Helper()
	h, err := NewStaticHandler(StaticConfig{Root: root, ChunkSize: 64}, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewStaticHandler() error: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func serve(t *testing.T, h exchange.Handler, req *exchange.Request) (*exchangetest.Recorder, error) {
	t.Helper()
	rec := exchangetest.NewRecorder()
	err := h.Serve(rec, req)
	return rec, err
}

func statusOf(err error) int {
	var se *exchange.StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

func TestStaticHandler_FullFile(t *testing.T) {
	t.Parallel()
	root, data := newTestSite(t)
	h := newTestStaticHandler(t, root)

	rec, err := serve(t, h, exchangetest.NewRequest("GET", "/data.bin", ""))
	if err != nil {
		t.Fatalf("Serve() error: %v", err)
	}
	if rec.Status != 200 {
		t.Errorf("Status = %d, want 200", rec.Status)
	}
	if !bytes.Equal(rec.Body.Bytes(), data) {
		t.Errorf("body differs from file (%d bytes)", rec.Body.Len())
	}
	if got := rec.Headers.Get("Content-Length"); got != "1000" {
		t.Errorf("Content-Length = %q, want 1000", got)
	}
	if rec.Headers.Get("ETag") == "" || rec.Headers.Get("Accept-Ranges") != "bytes" {
		t.Errorf("missing validators: %v", rec.Headers)
	}
	if got := rec.Headers.Get("Last-Modified"); got != "Wed, 01 May 2024 12:00:00 GMT" {
		t.Errorf("Last-Modified = %q", got)
	}
	// Streamed in bounded chunks.
	if rec.Writes < 1000/64 {
		t.Errorf("Writes = %d, want at least %d chunked writes", rec.Writes, 1000/64)
	}
}

func TestStaticHandler_ContentType(t *testing.T) {
	t.Parallel()
	root, _ := newTestSite(t)
	h := newTestStaticHandler(t, root)

	rec, err := serve(t, h, exchangetest.NewRequest("GET", "/style.css", ""))
	if err != nil {
		t.Fatalf("Serve() error: %v", err)
	}
	if got := rec.Headers.Get("Content-Type"); got != "text/css; charset=utf-8" {
		t.Errorf("Content-Type = %q", got)
	}

	custom, err := NewStaticHandler(StaticConfig{Root: root, DefaultType: "application/x-pyx"}, slog.Default())
	if err != nil {
		t.Fatalf("NewStaticHandler() error: %v", err)
	}
	defer custom.Close()
	writeFile(t, filepath.Join(root, "blob.pyxunknown"), []byte("?"))
	rec, _ = serve(t, custom, exchangetest.NewRequest("GET", "/blob.pyxunknown", ""))
	if got := rec.Headers.Get("Content-Type"); got != "application/x-pyx" {
		t.Errorf("Content-Type = %q, want application/x-pyx", got)
	}
}

func TestStaticHandler_Range(t *testing.T) {
	t.Parallel()
	root, data := newTestSite(t)
	h := newTestStaticHandler(t, root)

	rec, err := serve(t, h, exchangetest.NewRequest("GET", "/data.bin", "", "Range: bytes=100-199"))
	if err != nil {
		t.Fatalf("Serve() error: %v", err)
	}
	if rec.Status != 206 {
		t.Errorf("Status = %d, want 206", rec.Status)
	}
	if got := rec.Headers.Get("Content-Range"); got != "bytes 100-199/1000" {
		t.Errorf("Content-Range = %q", got)
	}
	if got := rec.Headers.Get("Content-Length"); got != "100" {
		t.Errorf("Content-Length = %q, want 100", got)
	}
	if !bytes.Equal(rec.Body.Bytes(), data[100:200]) {
		t.Errorf("body = %d bytes, not the requested slice", rec.Body.Len())
	}
}

func TestStaticHandler_RangeNotSatisfiable(t *testing.T) {
	t.Parallel()
	root, _ := newTestSite(t)
	h := newTestStaticHandler(t, root)

	for _, rng := range []string{"bytes=1000-", "bytes=5-1", "bytes=x"} {
		_, err := serve(t, h, exchangetest.NewRequest("GET", "/data.bin", "", "Range: "+rng))
		if statusOf(err) != 416 {
			t.Errorf("Range %q: error = %v, want 416", rng, err)
			continue
		}
		var se *exchange.StatusError
		errors.As(err, &se)
		if got := se.Header.Get("Content-Range"); got != "bytes */1000" {
			t.Errorf("Range %q: Content-Range = %q", rng, got)
		}
		if !errors.Is(err, resource.ErrRangeNotSatisfiable) {
			t.Errorf("Range %q: error does not wrap ErrRangeNotSatisfiable", rng)
		}
	}
}

func TestStaticHandler_IfRangeMismatchServesFull(t *testing.T) {
	t.Parallel()
	root, data := newTestSite(t)
	h := newTestStaticHandler(t, root)

	rec, err := serve(t, h, exchangetest.NewRequest("GET", "/data.bin", "",
		"Range: bytes=0-9", `If-Range: "stale"`))
	if err != nil {
		t.Fatalf("Serve() error: %v", err)
	}
	if rec.Status != 200 || rec.Body.Len() != len(data) {
		t.Errorf("Status = %d, body = %d bytes, want full 200", rec.Status, rec.Body.Len())
	}
}

func TestStaticHandler_Conditional(t *testing.T) {
	t.Parallel()
	root, _ := newTestSite(t)
	h := newTestStaticHandler(t, root)

	first, err := serve(t, h, exchangetest.NewRequest("GET", "/data.bin", ""))
	if err != nil {
		t.Fatalf("Serve() error: %v", err)
	}
	etag := first.Headers.Get("ETag")

	second, err := serve(t, h, exchangetest.NewRequest("GET", "/data.bin", "", "If-None-Match: "+etag))
	if err != nil {
		t.Fatalf("Serve() error: %v", err)
	}
	if second.Status != 304 {
		t.Errorf("Status = %d, want 304", second.Status)
	}
	if second.Body.Len() != 0 {
		t.Errorf("304 carried %d body bytes", second.Body.Len())
	}
	if second.Headers.Get("ETag") != etag {
		t.Errorf("304 ETag = %q, want %q", second.Headers.Get("ETag"), etag)
	}

	third, _ := serve(t, h, exchangetest.NewRequest("GET", "/data.bin", "",
		"If-Modified-Since: "+testMTime.Add(time.Hour).Format(resource.TimeFormat)))
	if third.Status != 304 {
		t.Errorf("If-Modified-Since later: Status = %d, want 304", third.Status)
	}

	fourth, _ := serve(t, h, exchangetest.NewRequest("GET", "/data.bin", "",
		"If-Modified-Since: "+testMTime.Add(-time.Hour).Format(resource.TimeFormat)))
	if fourth.Status != 200 {
		t.Errorf("If-Modified-Since earlier: Status = %d, want 200", fourth.Status)
	}
}

func TestStaticHandler_Head(t *testing.T) {
	t.Parallel()
	root, _ := newTestSite(t)
	h := newTestStaticHandler(t, root)

	get, _ := serve(t, h, exchangetest.NewRequest("GET", "/data.bin", ""))
	head, err := serve(t, h, exchangetest.NewRequest("HEAD", "/data.bin", ""))
	if err != nil {
		t.Fatalf("Serve() error: %v", err)
	}
	if head.Body.Len() != 0 {
		t.Errorf("HEAD wrote %d body bytes", head.Body.Len())
	}
	if len(head.Headers) != len(get.Headers) {
		t.Fatalf("HEAD headers %v differ from GET headers %v", head.Headers, get.Headers)
	}
	for i := range get.Headers {
		if head.Headers[i] != get.Headers[i] {
			t.Errorf("header %d: HEAD %v, GET %v", i, head.Headers[i], get.Headers[i])
		}
	}
}

func TestStaticHandler_MethodNotAllowed(t *testing.T) {
	t.Parallel()
	root, _ := newTestSite(t)
	h := newTestStaticHandler(t, root)

	_, err := serve(t, h, exchangetest.NewRequest("POST", "/data.bin", "x"))
	if statusOf(err) != 405 {
		t.Fatalf("error = %v, want 405", err)
	}
	var se *exchange.StatusError
	errors.As(err, &se)
	if se.Header.Get("Allow") != "GET, HEAD" {
		t.Errorf("Allow = %q", se.Header.Get("Allow"))
	}
}

func TestStaticHandler_Traversal(t *testing.T) {
	t.Parallel()
	root, _ := newTestSite(t)
	h := newTestStaticHandler(t, root)

	for _, target := range []string{
		"/../../etc/passwd",
		"/%2e%2e/%2e%2e/etc/passwd",
		"/docs/../../etc/passwd",
		"/etc/passwd",
	} {
		rec, err := serve(t, h, exchangetest.NewRequest("GET", target, ""))
		if code := statusOf(err); code != 403 && code != 404 {
			t.Errorf("GET %s: error = %v, want 403 or 404", target, err)
		}
		if rec.Body.Len() != 0 {
			t.Errorf("GET %s wrote %d bytes", target, rec.Body.Len())
		}
	}
}

func TestStaticHandler_SymlinkEscape(t *testing.T) {
	t.Parallel()
	root, _ := newTestSite(t)
	outside := t.TempDir()
	writeFile(t, filepath.Join(outside, "secret.txt"), []byte("secret"))
	if err := os.Symlink(filepath.Join(outside, "secret.txt"), filepath.Join(root, "link.txt")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	h := newTestStaticHandler(t, root)

	rec, err := serve(t, h, exchangetest.NewRequest("GET", "/link.txt", ""))
	if code := statusOf(err); code != 403 && code != 404 {
		t.Errorf("error = %v, want 403 or 404", err)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("served %q through an escaping symlink", rec.Body.String())
	}
}

func TestStaticHandler_NotFound(t *testing.T) {
	t.Parallel()
	root, _ := newTestSite(t)
	h := newTestStaticHandler(t, root)

	for _, target := range []string{"/missing.txt", "/notes.txt/child", "/empty/"} {
		_, err := serve(t, h, exchangetest.NewRequest("GET", target, ""))
		if statusOf(err) != 404 {
			t.Errorf("GET %s: error = %v, want 404", target, err)
		}
	}
}

func TestStaticHandler_Directory(t *testing.T) {
	t.Parallel()
	root, _ := newTestSite(t)
	h := newTestStaticHandler(t, root)

	rec, err := serve(t, h, exchangetest.NewRequest("GET", "/docs?x=1", ""))
	if err != nil {
		t.Fatalf("Serve() error: %v", err)
	}
	if rec.Status != 301 || rec.Headers.Get("Location") != "/docs/?x=1" {
		t.Errorf("Status = %d, Location = %q, want 301 to /docs/?x=1", rec.Status, rec.Headers.Get("Location"))
	}

	rec, err = serve(t, h, exchangetest.NewRequest("GET", "/docs/", ""))
	if err != nil {
		t.Fatalf("Serve() error: %v", err)
	}
	if rec.Status != 200 || rec.Body.String() != "<h1>docs</h1>" {
		t.Errorf("Status = %d, body = %q", rec.Status, rec.Body.String())
	}
	if got := rec.Headers.Get("Content-Type"); got != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rec.Headers.Get("Content-Length"); got != strconv.Itoa(len("<h1>docs</h1>")) {
		t.Errorf("Content-Length = %q", got)
	}
}

func TestStaticHandler_UnreadableIndex(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("file mode permissions are not enforced for this user")
	}
	root, _ := newTestSite(t)
	index := filepath.Join(root, "docs", "index.html")
	if err := os.Chmod(index, 0o000); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chmod(index, 0o644) })
	h := newTestStaticHandler(t, root)

	rec, err := serve(t, h, exchangetest.NewRequest("GET", "/docs/", ""))
	if statusOf(err) != 403 {
		t.Errorf("error = %v, want 403", err)
	}
	if !errors.Is(err, resource.ErrForbidden) {
		t.Errorf("error = %v, want ErrForbidden", err)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("served %q from an unreadable index", rec.Body.String())
	}
}

func TestNewStaticHandler_MissingRoot(t *testing.T) {
	t.Parallel()

	_, err := NewStaticHandler(StaticConfig{Root: filepath.Join(t.TempDir(), "nope")}, slog.Default())
	if err == nil {
		t.Fatal("NewStaticHandler() with missing root succeeded")
	}
}
