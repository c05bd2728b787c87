// Package store provides durable, partition-scoped storage for cached
// responses with a Redis backend.
package store

import (
	"net/http"
	"time"
)

// Entry represents a stored response: status, headers and body bytes.
type Entry struct {
	// StatusCode is the HTTP status code of the stored response.
	StatusCode int `json:"status_code"`

	// Header holds the response headers.
	Header http.Header `json:"header"`

	// Body is the response body.
	Body []byte `json:"body"`

	// FetchedAt is when the response was fetched from the network.
	FetchedAt time.Time `json:"fetched_at"`
}

// Clone returns a deep copy of the entry. The copy shares no memory with
// the original, so the caller-visible body and the stored body can be
// consumed independently.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	clone := &Entry{
		StatusCode: e.StatusCode,
		Header:     e.Header.Clone(),
		FetchedAt:  e.FetchedAt,
	}
	if e.Body != nil {
		clone.Body = make([]byte, len(e.Body))
		copy(clone.Body, e.Body)
	}
	return clone
}

// Cacheable reports whether the entry may be stored. Only successful (2xx)
// responses are cacheable; storing error pages would make them permanent
// since partitions have no per-entry TTL.
func (e *Entry) Cacheable() bool {
	return e.StatusCode >= 200 && e.StatusCode < 300
}
