package store

import (
	"net/http"
	"strings"
)

// Signature identifies a cached request: method, absolute URL and the
// Accept header. Two requests with the same signature are served the same
// stored response.
type Signature struct {
	// Method is the HTTP method. Only GET requests are ever cached.
	Method string

	// URL is the absolute request URL including the query string.
	URL string

	// Accept is the document variant: "text/html" when the client asked
	// for an HTML document, empty otherwise. It participates in the key so
	// an HTML page and an API payload at the same URL do not collide.
	Accept string
}

// SignatureFromRequest derives the lookup signature for a request.
//
// The Accept header is collapsed to the document axis before it enters
// the key. Browsers send wildly different Accept strings for images,
// scripts and fonts; keying on the raw header would split the cache per
// browser and never match entries stored at install time, which carry no
// Accept at all.
func SignatureFromRequest(r *http.Request) Signature {
	u := *r.URL
	if u.Host == "" {
		u.Host = r.Host
	}
	if u.Scheme == "" {
		u.Scheme = "http"
		if r.TLS != nil {
			u.Scheme = "https"
		}
	}
	return Signature{
		Method: r.Method,
		URL:    u.String(),
		Accept: acceptVariant(r.Header.Get("Accept")),
	}
}

// acceptVariant reduces an Accept header to the one variant the cache
// distinguishes.
func acceptVariant(accept string) string {
	if strings.Contains(accept, "text/html") {
		return "text/html"
	}
	return ""
}

// String generates a deterministic key string.
// Format: method:url[:accept=value]
//
// Example:
//
//	get:https://portal.example.com/app.js
//	get:https://portal.example.com/:accept=text/html
func (s Signature) String() string {
	parts := []string{strings.ToLower(s.Method), s.URL}
	if s.Accept != "" {
		parts = append(parts, "accept="+s.Accept)
	}
	return strings.Join(parts, ":")
}
