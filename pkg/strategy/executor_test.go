package strategy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/portalops/offline-proxy/pkg/store"
)

// fakeFetcher is a scriptable Fetcher for strategy tests.
type fakeFetcher struct {
	mu     sync.Mutex
	calls  int
	status int
	body   string
	err    error
	block  chan struct{} // when set, Fetch waits until closed
}

func (f *fakeFetcher) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	f.calls++
	status, body, err, block := f.status, f.body, f.err, f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if status == 0 {
		status = 200
	}
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     http.Header{"Content-Type": []string{"text/plain"}},
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
	}, nil
}

func (f *fakeFetcher) set(status int, body string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status, f.body, f.err = status, body, err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// setupExecutor wires an executor against an in-memory Redis store.
func setupExecutor(t *testing.T, fetcher Fetcher) (*Executor, *store.Handle, *store.Handle) {
	t.Helper()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })

	manager := store.NewManager(client)
	ctx := context.Background()

	static, err := manager.Open(ctx, store.StaticPartition("v1"))
	if err != nil {
		t.Fatalf("Open static failed: %v", err)
	}
	dynamic, err := manager.Open(ctx, store.DynamicPartition("v1"))
	if err != nil {
		t.Fatalf("Open dynamic failed: %v", err)
	}

	exec := New(Config{
		Static:         static,
		Dynamic:        dynamic,
		Fetcher:        fetcher,
		RootURL:        "http://portal.example.com/",
		Logger:         zerolog.Nop(),
		RefreshTimeout: 2 * time.Second,
	})
	return exec, static, dynamic
}

func getRequest(url string) *http.Request {
	return httptest.NewRequest("GET", url, nil)
}

func navigationRequest(url string) *http.Request {
	req := httptest.NewRequest("GET", url, nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	return req
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Read body failed: %v", err)
	}
	resp.Body.Close()
	return string(body)
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met before deadline")
}

func TestCacheFirst_HitSkipsNetwork(t *testing.T) {
	fetcher := &fakeFetcher{}
	exec, _, dynamic := setupExecutor(t, fetcher)
	ctx := context.Background()

	req := getRequest("http://portal.example.com/logo.png")
	sig := store.SignatureFromRequest(req)
	if err := dynamic.Put(ctx, sig, &store.Entry{StatusCode: 200, Body: []byte("cached")}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	resp := exec.CacheFirst(ctx, req)
	if body := readBody(t, resp); body != "cached" {
		t.Errorf("Body: got %q, want cached", body)
	}
	if fetcher.callCount() != 0 {
		t.Errorf("Cache-first hit must not call the network, got %d calls", fetcher.callCount())
	}
}

func TestCacheFirst_MissFetchesAndStores(t *testing.T) {
	fetcher := &fakeFetcher{body: "live"}
	exec, _, dynamic := setupExecutor(t, fetcher)
	ctx := context.Background()

	req := getRequest("http://portal.example.com/logo.png")
	resp := exec.CacheFirst(ctx, req)

	if body := readBody(t, resp); body != "live" {
		t.Errorf("Body: got %q, want live", body)
	}
	if fetcher.callCount() != 1 {
		t.Errorf("Expected exactly one network call, got %d", fetcher.callCount())
	}

	entry, err := dynamic.Get(ctx, store.SignatureFromRequest(req))
	if err != nil {
		t.Fatalf("Entry not stored after miss: %v", err)
	}
	if string(entry.Body) != "live" {
		t.Errorf("Stored body: got %q", entry.Body)
	}
}

func TestCacheFirst_StaticPartitionWins(t *testing.T) {
	fetcher := &fakeFetcher{body: "live"}
	exec, static, dynamic := setupExecutor(t, fetcher)
	ctx := context.Background()

	req := getRequest("http://portal.example.com/icons/icon-192.png")
	sig := store.SignatureFromRequest(req)
	if err := static.Put(ctx, sig, &store.Entry{StatusCode: 200, Body: []byte("shell")}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := dynamic.Put(ctx, sig, &store.Entry{StatusCode: 200, Body: []byte("runtime")}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	resp := exec.CacheFirst(ctx, req)
	if body := readBody(t, resp); body != "shell" {
		t.Errorf("Expected static partition entry, got %q", body)
	}
}

func TestCacheFirst_BrowserAcceptHitsPrecachedAsset(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("offline")}
	exec, static, _ := setupExecutor(t, fetcher)
	ctx := context.Background()

	// Install-time entries are stored without an Accept variant.
	sig := store.Signature{Method: "GET", URL: "http://portal.example.com/icons/icon-192.png"}
	if err := static.Put(ctx, sig, &store.Entry{StatusCode: 200, Body: []byte("icon-bytes")}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Browsers decorate image requests with rich Accept strings.
	req := getRequest("http://portal.example.com/icons/icon-192.png")
	req.Header.Set("Accept", "image/avif,image/webp,image/apng,*/*;q=0.8")

	resp := exec.CacheFirst(ctx, req)
	if resp.StatusCode != 200 {
		t.Fatalf("Status: got %d, want 200 from the precached entry", resp.StatusCode)
	}
	if body := readBody(t, resp); body != "icon-bytes" {
		t.Errorf("Body: got %q, want icon-bytes", body)
	}
	if fetcher.callCount() != 0 {
		t.Errorf("Precached hit must not call the network, got %d calls", fetcher.callCount())
	}
}

func TestNetworkFirst_FreshWinsOverStaleCache(t *testing.T) {
	fetcher := &fakeFetcher{body: "fresh"}
	exec, _, dynamic := setupExecutor(t, fetcher)
	ctx := context.Background()

	req := navigationRequest("http://portal.example.com/clients")
	sig := store.SignatureFromRequest(req)
	if err := dynamic.Put(ctx, sig, &store.Entry{StatusCode: 200, Body: []byte("stale")}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	resp := exec.NetworkFirst(ctx, req)
	if body := readBody(t, resp); body != "fresh" {
		t.Errorf("Body: got %q, want fresh", body)
	}

	entry, err := dynamic.Get(ctx, sig)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(entry.Body) != "fresh" {
		t.Errorf("Cache not updated: got %q", entry.Body)
	}
}

func TestNetworkFirst_FallsBackToCache(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("connection refused")}
	exec, _, dynamic := setupExecutor(t, fetcher)
	ctx := context.Background()

	req := navigationRequest("http://portal.example.com/clients")
	sig := store.SignatureFromRequest(req)
	if err := dynamic.Put(ctx, sig, &store.Entry{StatusCode: 200, Body: []byte("stale")}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	resp := exec.NetworkFirst(ctx, req)
	if resp.StatusCode != 200 {
		t.Errorf("Status: got %d, want 200", resp.StatusCode)
	}
	if body := readBody(t, resp); body != "stale" {
		t.Errorf("Body: got %q, want stale", body)
	}
}

func TestNetworkFirst_DoesNotStoreErrors(t *testing.T) {
	fetcher := &fakeFetcher{status: 500, body: "boom"}
	exec, _, dynamic := setupExecutor(t, fetcher)
	ctx := context.Background()

	req := getRequest("http://portal.example.com/data.json")
	resp := exec.NetworkFirst(ctx, req)

	// The upstream error is returned to the caller untouched.
	if resp.StatusCode != 500 {
		t.Errorf("Status: got %d, want 500", resp.StatusCode)
	}
	if body := readBody(t, resp); body != "boom" {
		t.Errorf("Body: got %q", body)
	}

	if _, err := dynamic.Get(ctx, store.SignatureFromRequest(req)); err != store.ErrCacheMiss {
		t.Errorf("Error response must not be cached, got %v", err)
	}
}

func TestStaleWhileRevalidate_HitDoesNotWaitForNetwork(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	fetcher := &fakeFetcher{body: "new", block: block}
	exec, _, dynamic := setupExecutor(t, fetcher)
	ctx := context.Background()

	req := getRequest("http://portal.example.com/app.js")
	sig := store.SignatureFromRequest(req)
	if err := dynamic.Put(ctx, sig, &store.Entry{StatusCode: 200, Body: []byte("stale")}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	done := make(chan string, 1)
	go func() {
		resp := exec.StaleWhileRevalidate(ctx, req)
		body, _ := io.ReadAll(resp.Body)
		done <- string(body)
	}()

	select {
	case body := <-done:
		if body != "stale" {
			t.Errorf("Body: got %q, want stale", body)
		}
	case <-time.After(time.Second):
		t.Fatal("Stale-while-revalidate blocked on a hanging network despite cache hit")
	}
}

func TestStaleWhileRevalidate_Scenario(t *testing.T) {
	fetcher := &fakeFetcher{body: "v1"}
	exec, _, dynamic := setupExecutor(t, fetcher)
	ctx := context.Background()

	req := getRequest("http://portal.example.com/app.js")
	sig := store.SignatureFromRequest(req)

	// First call: cold cache, waits on the network, caches v1.
	resp := exec.StaleWhileRevalidate(ctx, req)
	if body := readBody(t, resp); body != "v1" {
		t.Fatalf("First call: got %q, want v1", body)
	}

	// Network content moves on to v2.
	fetcher.set(200, "v2", nil)

	// Second call: served stale v1, background refresh picks up v2.
	resp = exec.StaleWhileRevalidate(ctx, getRequest("http://portal.example.com/app.js"))
	if body := readBody(t, resp); body != "v1" {
		t.Fatalf("Second call: got %q, want stale v1", body)
	}

	waitFor(t, 2*time.Second, func() bool {
		entry, err := dynamic.Get(ctx, sig)
		return err == nil && string(entry.Body) == "v2"
	})

	// Third call: the refreshed entry is now visible.
	resp = exec.StaleWhileRevalidate(ctx, getRequest("http://portal.example.com/app.js"))
	if body := readBody(t, resp); body != "v2" {
		t.Fatalf("Third call: got %q, want v2", body)
	}
}

func TestStaleWhileRevalidate_BackgroundFailureSwallowed(t *testing.T) {
	fetcher := &fakeFetcher{body: "v1"}
	exec, _, dynamic := setupExecutor(t, fetcher)
	ctx := context.Background()

	req := getRequest("http://portal.example.com/app.js")
	sig := store.SignatureFromRequest(req)
	if err := dynamic.Put(ctx, sig, &store.Entry{StatusCode: 200, Body: []byte("v1")}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	fetcher.set(0, "", errors.New("offline"))

	resp := exec.StaleWhileRevalidate(ctx, req)
	if body := readBody(t, resp); body != "v1" {
		t.Errorf("Body: got %q, want v1", body)
	}

	// The failed refresh must leave the cached entry intact.
	waitFor(t, time.Second, func() bool { return fetcher.callCount() >= 1 })
	entry, err := dynamic.Get(ctx, sig)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(entry.Body) != "v1" {
		t.Errorf("Cached entry corrupted by failed refresh: %q", entry.Body)
	}
}

func TestStaleWhileRevalidate_ErrorRefreshNotCountedUpdated(t *testing.T) {
	fetcher := &fakeFetcher{}
	exec, _, dynamic := setupExecutor(t, fetcher)
	ctx := context.Background()

	req := getRequest("http://portal.example.com/app.js")
	sig := store.SignatureFromRequest(req)
	if err := dynamic.Put(ctx, sig, &store.Entry{StatusCode: 200, Body: []byte("v1")}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	fetcher.set(500, "boom", nil)

	updatedBefore := testutil.ToFloat64(backgroundRefreshesTotal.WithLabelValues("updated"))
	failedBefore := testutil.ToFloat64(backgroundRefreshesTotal.WithLabelValues("failed"))

	resp := exec.StaleWhileRevalidate(ctx, req)
	if body := readBody(t, resp); body != "v1" {
		t.Errorf("Body: got %q, want v1", body)
	}

	waitFor(t, time.Second, func() bool {
		return testutil.ToFloat64(backgroundRefreshesTotal.WithLabelValues("failed")) > failedBefore
	})

	if got := testutil.ToFloat64(backgroundRefreshesTotal.WithLabelValues("updated")); got != updatedBefore {
		t.Errorf("Refresh that stored nothing counted as updated: %v -> %v", updatedBefore, got)
	}

	entry, err := dynamic.Get(ctx, sig)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(entry.Body) != "v1" {
		t.Errorf("Cached entry replaced by error response: %q", entry.Body)
	}
}

func TestStaleWhileRevalidate_RefreshQueuesBehindCap(t *testing.T) {
	block := make(chan struct{})
	fetcher := &fakeFetcher{body: "new", block: block}

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })

	manager := store.NewManager(client)
	ctx := context.Background()
	dynamic, err := manager.Open(ctx, store.DynamicPartition("v1"))
	if err != nil {
		t.Fatalf("Open dynamic failed: %v", err)
	}

	exec := New(Config{
		Dynamic:                dynamic,
		Fetcher:                fetcher,
		RootURL:                "http://portal.example.com/",
		Logger:                 zerolog.Nop(),
		MaxConcurrentRefreshes: 1,
		RefreshTimeout:         2 * time.Second,
	})

	urls := []string{"http://portal.example.com/app.js", "http://portal.example.com/chunk.mjs"}
	for _, u := range urls {
		sig := store.SignatureFromRequest(getRequest(u))
		if err := dynamic.Put(ctx, sig, &store.Entry{StatusCode: 200, Body: []byte("stale")}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	// Both hits return stale immediately; the second refresh has to wait
	// for the first one to release the slot, not get dropped.
	for _, u := range urls {
		resp := exec.StaleWhileRevalidate(ctx, getRequest(u))
		if body := readBody(t, resp); body != "stale" {
			t.Fatalf("Hit: got %q, want stale", body)
		}
	}

	close(block)

	waitFor(t, 2*time.Second, func() bool {
		for _, u := range urls {
			entry, err := dynamic.Get(ctx, store.SignatureFromRequest(getRequest(u)))
			if err != nil || string(entry.Body) != "new" {
				return false
			}
		}
		return true
	})
}

func TestAllStrategies_AlwaysReturnAResponse(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("offline")}
	exec, _, _ := setupExecutor(t, fetcher)
	ctx := context.Background()

	strategies := map[string]func(context.Context, *http.Request) *http.Response{
		"cache_first":            exec.CacheFirst,
		"network_first":          exec.NetworkFirst,
		"stale_while_revalidate": exec.StaleWhileRevalidate,
	}

	for name, run := range strategies {
		t.Run(name, func(t *testing.T) {
			resp := run(ctx, getRequest("http://portal.example.com/nothing-cached"))
			if resp == nil {
				t.Fatal("Strategy returned nil response")
			}
			if resp.StatusCode != http.StatusServiceUnavailable {
				t.Errorf("Status: got %d, want 503", resp.StatusCode)
			}
			readBody(t, resp)
		})
	}
}

func TestFallback_NavigationServesRootDocument(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("offline")}
	exec, static, _ := setupExecutor(t, fetcher)
	ctx := context.Background()

	rootSig := store.Signature{Method: "GET", URL: "http://portal.example.com/"}
	shell := &store.Entry{
		StatusCode: 200,
		Header:     http.Header{"Content-Type": []string{"text/html"}},
		Body:       []byte("<html>shell</html>"),
	}
	if err := static.Put(ctx, rootSig, shell); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	resp := exec.NetworkFirst(ctx, navigationRequest("http://portal.example.com/clients/42"))
	if resp.StatusCode != 200 {
		t.Errorf("Status: got %d, want 200", resp.StatusCode)
	}
	if body := readBody(t, resp); body != "<html>shell</html>" {
		t.Errorf("Body: got %q, want cached shell", body)
	}
}

func TestFallback_NonNavigationSkipsRootDocument(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("offline")}
	exec, static, _ := setupExecutor(t, fetcher)
	ctx := context.Background()

	rootSig := store.Signature{Method: "GET", URL: "http://portal.example.com/"}
	if err := static.Put(ctx, rootSig, &store.Entry{StatusCode: 200, Body: []byte("shell")}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	resp := exec.CacheFirst(ctx, getRequest("http://portal.example.com/data.json"))
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Asset request must not get the root document, got status %d", resp.StatusCode)
	}
	readBody(t, resp)
}

func TestCloneSafety_CallerAndCacheBothReadable(t *testing.T) {
	fetcher := &fakeFetcher{body: "payload-bytes"}
	exec, _, dynamic := setupExecutor(t, fetcher)
	ctx := context.Background()

	req := getRequest("http://portal.example.com/logo.png")
	resp := exec.CacheFirst(ctx, req)

	callerBody := readBody(t, resp)

	entry, err := dynamic.Get(ctx, store.SignatureFromRequest(req))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if callerBody == "" || len(entry.Body) == 0 {
		t.Fatal("One of the consumers observed an empty body")
	}
	if callerBody != string(entry.Body) {
		t.Errorf("Caller body %q differs from stored body %q", callerBody, entry.Body)
	}
}
