// Package store provides versioned cache partitions with a Redis backend.
//
// Two partitions exist per version: a static partition holding the
// pre-installed application shell and a dynamic partition populated at
// runtime. Partition names derive from a single version string, and all
// partitions from prior versions are dropped during activation. There is
// no per-entry TTL; the version bump is the only invalidation mechanism.
//
// # Basic Usage
//
//	manager := store.NewManager(redisClient)
//
//	dynamic, err := manager.Open(ctx, store.DynamicPartition("v3"))
//	if err != nil {
//		return err
//	}
//
//	sig := store.SignatureFromRequest(req)
//	entry, err := dynamic.Get(ctx, sig)
//	if err == store.ErrCacheMiss {
//		// fetch from the network
//	}
//
// # Storing Responses
//
//	entry, err := store.ResponseToEntry(resp)
//	if err != nil {
//		return err
//	}
//	if err := dynamic.Put(ctx, sig, entry); err != nil {
//		return err
//	}
//
// Put rejects non-2xx entries: without TTLs a cached error page would be
// served until the next version bump.
//
// # Version Cleanup
//
//	names, _ := manager.Partitions(ctx)
//	for _, name := range names {
//		if store.PartitionVersion(name) != currentVersion {
//			manager.Drop(ctx, name)
//		}
//	}
//
// # Metrics
//
// The store exports Prometheus metrics:
//
//   - offline_proxy_cache_hits_total{partition} - Cache hits
//   - offline_proxy_cache_misses_total{partition} - Cache misses
//   - offline_proxy_cache_write_bytes_total{partition} - Bytes written
//   - offline_proxy_partitions_dropped_total - Partitions dropped
//   - offline_proxy_store_errors_total{operation} - Operation errors
package store
