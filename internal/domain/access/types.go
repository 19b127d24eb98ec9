// Package access defines the record written for every request/response
// exchange and the store it is written to.
package access

import "time"

// Record describes one completed exchange.
type Record struct {
	Timestamp time.Time     `json:"timestamp"`
	ConnID    string        `json:"conn_id"`
	RequestID string        `json:"request_id"`
	Remote    string        `json:"remote"`
	Method    string        `json:"method"`
	Target    string        `json:"target"`
	Proto     string        `json:"proto"`
	Status    int           `json:"status"`
	BytesSent int64         `json:"bytes_sent"`
	Duration  time.Duration `json:"duration_ns"`
	UserAgent string        `json:"user_agent,omitempty"`
	Referer   string        `json:"referer,omitempty"`
	KeepAlive bool          `json:"keep_alive"`
	Pipelined bool          `json:"pipelined,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Filter selects records from a store's recent history.
type Filter struct {
	// Method matches exactly when set.
	Method string
	// MinStatus keeps records with Status >= MinStatus.
	MinStatus int
	// Limit caps the result (default 100).
	Limit int
}

// Match reports whether r passes the filter.
func (f Filter) Match(r Record) bool {
	if f.Method != "" && r.Method != f.Method {
		return false
	}
	return r.Status >= f.MinStatus
}
