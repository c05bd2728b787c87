// Package testutil provides testing utilities for the offline proxy.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
)

// MockOrigin is a configurable mock application origin for testing.
type MockOrigin struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount      int
	pathCounts        map[string]int
	LastRequestHeader http.Header
}

// NewMockOrigin creates a new mock origin server with sensible defaults
// for a web-app shell: a root document, a manifest and an icon.
func NewMockOrigin() *MockOrigin {
	mock := &MockOrigin{
		handlers:   make(map[string]func(w http.ResponseWriter, r *http.Request)),
		pathCounts: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.pathCounts[r.URL.Path]++
		mock.LastRequestHeader = r.Header.Clone()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}
		http.NotFound(w, r)
	}))

	mock.SetResponse("/", "text/html", "<html>shell</html>")
	mock.SetResponse("/manifest.json", "application/json", `{"name":"portal"}`)
	mock.SetResponse("/icons/icon-192.png", "image/png", "icon-bytes")

	return mock
}

// URL returns the mock server URL.
func (m *MockOrigin) URL() string {
	return m.server.URL
}

// Origin returns the mock server URL parsed.
func (m *MockOrigin) Origin() *url.URL {
	u, _ := url.Parse(m.server.URL)
	return u
}

// Close shuts down the mock server.
func (m *MockOrigin) Close() {
	m.server.Close()
}

// SetResponse configures a fixed response for a path.
func (m *MockOrigin) SetResponse(path, contentType, body string) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(body))
	})
}

// SetStatus configures a bodyless status response for a path.
func (m *MockOrigin) SetStatus(path string, status int) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
}

// SetHandler sets a custom handler for a path.
func (m *MockOrigin) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// PathCount returns how many requests hit a path.
func (m *MockOrigin) PathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pathCounts[path]
}

// Reset clears all tracking counters.
func (m *MockOrigin) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.pathCounts = make(map[string]int)
	m.LastRequestHeader = nil
}

// RewriteTransport redirects every request to the mock origin,
// regardless of the host it names. It lets tests use realistic public
// hostnames without DNS.
type RewriteTransport struct {
	Origin *url.URL
}

// RoundTrip implements http.RoundTripper.
func (t *RewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = t.Origin.Scheme
	req.URL.Host = t.Origin.Host
	return http.DefaultTransport.RoundTrip(req)
}
