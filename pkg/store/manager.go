package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

const (
	// keyPrefix namespaces all proxy data in Redis.
	keyPrefix = "shell:"

	// partitionSetKey is the registry of partition names currently open
	// or previously opened. Kept in a Redis SET so activation can
	// enumerate stale partitions without a full keyspace scan.
	partitionSetKey = keyPrefix + "partitions"

	// scanBatchSize is the COUNT hint for SCAN during partition drops.
	scanBatchSize = 256
)

var (
	// ErrCacheMiss indicates the requested signature was not found in the
	// partition. It is a normal control-flow outcome, not a failure.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the stored entry is corrupted.
	ErrInvalidEntry = errors.New("invalid cache entry")

	// ErrUncacheableStatus is returned by Put when the entry carries a
	// non-2xx status code.
	ErrUncacheableStatus = errors.New("uncacheable response status")
)

// Manager owns all cache partitions in a single Redis keyspace.
type Manager struct {
	redis *redis.Client
}

// NewManager creates a new partition manager with a Redis backend.
func NewManager(redisClient *redis.Client) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Manager{
		redis: redisClient,
	}
}

// Handle is an open partition. All entry operations go through a handle.
type Handle struct {
	name    string
	manager *Manager
}

// Name returns the partition name.
func (h *Handle) Name() string {
	return h.name
}

// Open returns a handle to the named partition, creating it in the
// registry if absent. Opening the same partition twice is harmless.
func (m *Manager) Open(ctx context.Context, name string) (*Handle, error) {
	if name == "" {
		return nil, fmt.Errorf("partition name cannot be empty")
	}
	if err := m.redis.SAdd(ctx, partitionSetKey, name).Err(); err != nil {
		StoreErrors.WithLabelValues("open").Inc()
		return nil, fmt.Errorf("register partition %q: %w", name, err)
	}
	return &Handle{name: name, manager: m}, nil
}

// Partitions lists all registered partition names, sorted for
// determinism. Used during activation to find stale partitions.
func (m *Manager) Partitions(ctx context.Context) ([]string, error) {
	names, err := m.redis.SMembers(ctx, partitionSetKey).Result()
	if err != nil {
		StoreErrors.WithLabelValues("list").Inc()
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Drop removes a partition and every entry in it. Dropping a partition
// that does not exist is not an error.
func (m *Manager) Drop(ctx context.Context, name string) error {
	prefix := entryKey(name, "")
	iter := m.redis.Scan(ctx, 0, prefix+"*", scanBatchSize).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= scanBatchSize {
			if err := m.redis.Del(ctx, keys...).Err(); err != nil {
				StoreErrors.WithLabelValues("drop").Inc()
				return fmt.Errorf("drop partition %q: %w", name, err)
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		StoreErrors.WithLabelValues("drop").Inc()
		return fmt.Errorf("scan partition %q: %w", name, err)
	}
	if len(keys) > 0 {
		if err := m.redis.Del(ctx, keys...).Err(); err != nil {
			StoreErrors.WithLabelValues("drop").Inc()
			return fmt.Errorf("drop partition %q: %w", name, err)
		}
	}

	if err := m.redis.SRem(ctx, partitionSetKey, name).Err(); err != nil {
		StoreErrors.WithLabelValues("drop").Inc()
		return fmt.Errorf("unregister partition %q: %w", name, err)
	}
	PartitionsDropped.Inc()
	return nil
}

// Get retrieves the entry stored under the signature.
// Returns ErrCacheMiss if the partition has no entry for it.
func (h *Handle) Get(ctx context.Context, sig Signature) (*Entry, error) {
	data, err := h.manager.redis.Get(ctx, entryKey(h.name, sig.String())).Bytes()
	if err != nil {
		if err == redis.Nil {
			CacheMisses.WithLabelValues(h.name).Inc()
			return nil, ErrCacheMiss
		}
		StoreErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		StoreErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	CacheHits.WithLabelValues(h.name).Inc()
	return &entry, nil
}

// Put stores an entry under the signature, silently overwriting any
// previous entry. Entries never expire on their own; a version bump is
// the only invalidation mechanism. Non-2xx entries are rejected with
// ErrUncacheableStatus.
func (h *Handle) Put(ctx context.Context, sig Signature, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	if !entry.Cacheable() {
		return fmt.Errorf("%w: %d", ErrUncacheableStatus, entry.StatusCode)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		StoreErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := h.manager.redis.Set(ctx, entryKey(h.name, sig.String()), data, 0).Err(); err != nil {
		StoreErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	CacheWriteBytes.WithLabelValues(h.name).Add(float64(len(data)))
	return nil
}

// Keys lists the signature strings stored in the partition.
func (h *Handle) Keys(ctx context.Context) ([]string, error) {
	prefix := entryKey(h.name, "")
	iter := h.manager.redis.Scan(ctx, 0, prefix+"*", scanBatchSize).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(prefix):])
	}
	if err := iter.Err(); err != nil {
		StoreErrors.WithLabelValues("keys").Inc()
		return nil, fmt.Errorf("scan partition %q: %w", h.name, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// entryKey builds the Redis key for a signature within a partition.
func entryKey(partition, sig string) string {
	return keyPrefix + partition + ":" + sig
}
