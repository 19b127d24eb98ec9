package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewTracerProvider_Disabled(t *testing.T) {
	tp, err := NewTracerProvider(Config{})
	if err != nil {
		t.Fatalf("NewTracerProvider() error = %v", err)
	}

	_, span := tp.Tracer("test").Start(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Error("disabled provider produced a recording span")
	}
	span.End()

	if err := tp.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestNewTracerProvider_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spans.json")
	tp, err := NewTracerProvider(Config{
		Enabled:        true,
		Output:         path,
		SampleRatio:    1,
		ServiceVersion: "test",
	})
	if err != nil {
		t.Fatalf("NewTracerProvider() error = %v", err)
	}

	_, span := tp.Tracer("test").Start(context.Background(), "GET /index.html")
	if !span.SpanContext().IsValid() {
		t.Error("span context is not valid")
	}
	span.End()

	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	for _, want := range []string{"GET /index.html", "service.name", "pyx"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("span output missing %q", want)
		}
	}
}

func TestNewTracerProvider_ZeroRatioDropsRoots(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spans.json")
	tp, err := NewTracerProvider(Config{Enabled: true, Output: path})
	if err != nil {
		t.Fatalf("NewTracerProvider() error = %v", err)
	}

	_, span := tp.Tracer("test").Start(context.Background(), "dropped")
	if span.IsRecording() {
		t.Error("span recorded with sample ratio 0")
	}
	span.End()
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "dropped") {
		t.Error("unsampled span was exported")
	}
}

func TestNewTracerProvider_BadPath(t *testing.T) {
	_, err := NewTracerProvider(Config{
		Enabled: true,
		Output:  filepath.Join(t.TempDir(), "missing", "spans.json"),
	})
	if err == nil {
		t.Error("NewTracerProvider() error = nil, want error for unwritable path")
	}
}
