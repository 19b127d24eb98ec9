// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/pyxhttp/pyx/internal/domain/access"
)

const defaultRecentCap = 1000

// AccessStore implements access.Store writing JSON lines to a writer.
// It also keeps a bounded ring buffer of recent records for the admin
// endpoint.
type AccessStore struct {
	encoder *json.Encoder
	writer  io.Writer
	mu      sync.Mutex
	// recent is a ring buffer; next is the slot the next record goes to.
	recent []access.Record
	next   int
	full   bool
}

// resolveCapacity returns the first positive capacity value, or defaultRecentCap.
func resolveCapacity(capacity ...int) int {
	if len(capacity) > 0 && capacity[0] > 0 {
		return capacity[0]
	}
	return defaultRecentCap
}

// NewAccessStore creates a store writing to stdout.
// An optional capacity parameter sets the ring buffer size (default 1000).
func NewAccessStore(capacity ...int) *AccessStore {
	return NewAccessStoreWithWriter(os.Stdout, capacity...)
}

// NewAccessStoreWithWriter creates a store writing to w. A nil writer keeps
// records in memory only.
func NewAccessStoreWithWriter(w io.Writer, capacity ...int) *AccessStore {
	s := &AccessStore{
		writer: w,
		recent: make([]access.Record, resolveCapacity(capacity...)),
	}
	if w != nil {
		s.encoder = json.NewEncoder(w)
	}
	return s
}

// Append writes records as JSON lines and keeps them in the ring buffer.
func (s *AccessStore) Append(ctx context.Context, records ...access.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		s.recent[s.next] = r
		s.next = (s.next + 1) % len(s.recent)
		if s.next == 0 {
			s.full = true
		}
		if s.encoder != nil {
			if err := s.encoder.Encode(r); err != nil {
				return err
			}
		}
	}
	return nil
}

// Flush syncs file outputs.
func (s *AccessStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.writer.(*os.File); ok && f != os.Stdout && f != os.Stderr {
		return f.Sync()
	}
	return nil
}

// Close releases resources.
func (s *AccessStore) Close() error {
	// Close file if it's not stdout/stderr
	if f, ok := s.writer.(*os.File); ok && f != os.Stdout && f != os.Stderr {
		return f.Close()
	}
	return nil
}

// Len returns the number of records held in the ring buffer.
func (s *AccessStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return len(s.recent)
	}
	return s.next
}

// GetRecent returns the n most recent records, newest first.
func (s *AccessStore) GetRecent(n int) []access.Record {
	return s.Query(access.Filter{Limit: n})
}

// Query returns matching records from the ring buffer, newest first.
func (s *AccessStore) Query(filter access.Filter) []access.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	total := s.next
	if s.full {
		total = len(s.recent)
	}

	var result []access.Record
	for i := 0; i < total && len(result) < limit; i++ {
		idx := (s.next - 1 - i + len(s.recent)) % len(s.recent)
		if rec := s.recent[idx]; filter.Match(rec) {
			result = append(result, rec)
		}
	}
	return result
}

// Compile-time interface verification.
var (
	_ access.Store      = (*AccessStore)(nil)
	_ access.QueryStore = (*AccessStore)(nil)
)
