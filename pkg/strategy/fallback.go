package strategy

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/portalops/offline-proxy/pkg/store"
)

const offlinePage = `<!DOCTYPE html>
<html>
<head><title>Offline</title></head>
<body>
<h1>You are offline</h1>
<p>This page is not available right now. Check your connection and try again.</p>
</body>
</html>
`

// fallback walks the full recovery chain for a failed request: cached
// entry, then the cached root document for navigations, then a
// synthesized 503. It always returns a response.
func (e *Executor) fallback(ctx context.Context, req *http.Request) *http.Response {
	if entry := e.lookup(ctx, store.SignatureFromRequest(req)); entry != nil {
		fallbacksTotal.WithLabelValues("cache").Inc()
		return store.EntryToResponse(entry)
	}
	return e.offlineFallback(ctx, req)
}

// offlineFallback is the tail of the chain, entered once the exact cache
// entry is known to be absent.
func (e *Executor) offlineFallback(ctx context.Context, req *http.Request) *http.Response {
	if isNavigation(req) && e.rootURL != "" {
		rootSig := store.Signature{Method: http.MethodGet, URL: e.rootURL}
		if entry := e.lookup(ctx, rootSig); entry != nil {
			fallbacksTotal.WithLabelValues("root_document").Inc()
			e.logger.Debug().Str("url", req.URL.String()).Msg("Serving cached root document for navigation")
			return store.EntryToResponse(entry)
		}
	}

	fallbacksTotal.WithLabelValues("offline").Inc()
	return offlineResponse(req)
}

// offlineResponse synthesizes the 503 served when both cache and network
// are unavailable, instead of letting the client see a raw network error.
func offlineResponse(req *http.Request) *http.Response {
	body := "service unavailable: offline\n"
	contentType := "text/plain; charset=utf-8"
	if isNavigation(req) {
		body = offlinePage
		contentType = "text/html; charset=utf-8"
	}

	header := http.Header{}
	header.Set("Content-Type", contentType)
	header.Set("Cache-Control", "no-store")

	return &http.Response{
		StatusCode:    http.StatusServiceUnavailable,
		Status:        http.StatusText(http.StatusServiceUnavailable),
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader([]byte(body))),
		ContentLength: int64(len(body)),
	}
}

// isNavigation reports whether the request is a page navigation.
func isNavigation(req *http.Request) bool {
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}
