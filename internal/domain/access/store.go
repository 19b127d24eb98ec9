package access

import "context"

// Store persists access records.
type Store interface {
	// Append stores records. Must not block on slow consumers for long.
	Append(ctx context.Context, records ...Record) error

	// Flush forces pending records to storage. Called during shutdown.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Recorder accepts records from the connection engine.
type Recorder interface {
	Record(r Record)
}

// QueryStore is a store that can return recent records.
type QueryStore interface {
	Query(filter Filter) []Record
}
