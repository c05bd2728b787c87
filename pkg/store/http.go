package store

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ResponseToEntry converts an HTTP response to an Entry. The response body
// is read once and restored afterwards, so the caller can still consume
// it. This is the duplication step that keeps the caller-visible body and
// the stored body independent.
func ResponseToEntry(resp *http.Response) (*Entry, error) {
	if resp == nil {
		return nil, fmt.Errorf("response cannot be nil")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	resp.Body.Close()

	// Restore body for caller
	resp.Body = io.NopCloser(bytes.NewReader(body))

	return &Entry{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
		FetchedAt:  time.Now(),
	}, nil
}

// EntryToResponse converts a stored entry back to an HTTP response. Each
// call produces a fresh body reader, so converting the same entry twice
// yields two independently consumable responses.
func EntryToResponse(entry *Entry) *http.Response {
	if entry == nil {
		return nil
	}
	return &http.Response{
		StatusCode:    entry.StatusCode,
		Status:        http.StatusText(entry.StatusCode),
		Header:        entry.Header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(entry.Body)),
		ContentLength: int64(len(entry.Body)),
	}
}
