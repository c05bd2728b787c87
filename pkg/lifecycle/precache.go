package lifecycle

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/portalops/offline-proxy/pkg/store"
)

// precacheShell fetches every shell-manifest asset in parallel with a
// bounded worker pool and stores it in the static partition. The first
// failure cancels the remaining work: install is all-or-nothing.
func (c *Controller) precacheShell(ctx context.Context, static *store.Handle) error {
	if len(c.cfg.ShellManifest) == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	paths := make(chan string, len(c.cfg.ShellManifest))
	for _, path := range c.cfg.ShellManifest {
		paths <- path
	}
	close(paths)

	workers := c.cfg.MaxConcurrency
	if workers > len(c.cfg.ShellManifest) {
		workers = len(c.cfg.ShellManifest)
	}

	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range paths {
				select {
				case <-ctx.Done():
					return
				default:
				}
				if err := c.precacheAsset(ctx, static, path); err != nil {
					// Non-blocking: only the first error matters.
					select {
					case errs <- err:
					default:
					}
					cancel()
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	if err := <-errs; err != nil {
		return err
	}
	return nil
}

// precacheAsset fetches one shell asset and stores it.
func (c *Controller) precacheAsset(ctx context.Context, static *store.Handle, path string) error {
	assetURL := c.resolve(path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", path, err)
	}

	resp, err := c.cfg.Fetcher.Fetch(ctx, req)
	if err != nil {
		return fmt.Errorf("fetch shell asset %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch shell asset %s: status %d", path, resp.StatusCode)
	}

	entry, err := store.ResponseToEntry(resp)
	if err != nil {
		return fmt.Errorf("read shell asset %s: %w", path, err)
	}

	sig := store.Signature{Method: http.MethodGet, URL: assetURL}
	if err := static.Put(ctx, sig, entry); err != nil {
		return fmt.Errorf("store shell asset %s: %w", path, err)
	}

	shellAssetsPrecached.Inc()
	c.logger.Debug().
		Str("asset", assetURL).
		Int("bytes", len(entry.Body)).
		Msg("Precached shell asset")
	return nil
}
