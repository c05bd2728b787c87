// Package metrics provides the centralized Prometheus metrics registry
// for the offline proxy. All metrics are defined in their respective
// packages (store, strategy, lifecycle, proxy, push) to maintain
// modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the offline proxy.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Store Metrics (pkg/store):
//   - offline_proxy_cache_hits_total{partition} (Counter): Cache hits by partition
//   - offline_proxy_cache_misses_total{partition} (Counter): Cache misses by partition
//   - offline_proxy_cache_write_bytes_total{partition} (Counter): Bytes written by partition
//   - offline_proxy_partitions_dropped_total (Counter): Partitions purged
//   - offline_proxy_store_errors_total{operation} (Counter): Store operation errors
//
// Strategy Metrics (pkg/strategy):
//   - offline_proxy_strategy_requests_total{strategy, outcome} (Counter): Strategy executions by outcome
//   - offline_proxy_fallbacks_total{kind} (Counter): Fallback chain steps taken (cache, root_document, offline)
//   - offline_proxy_background_refreshes_total{result} (Counter): Stale-while-revalidate refreshes
//
// Lifecycle Metrics (pkg/lifecycle):
//   - offline_proxy_installs_total{result} (Counter): Version installs by result
//   - offline_proxy_activations_total (Counter): Version activations
//   - offline_proxy_shell_assets_precached_total (Counter): Shell assets stored during install
//
// Proxy Metrics (pkg/proxy):
//   - offline_proxy_requests_total{strategy} (Counter): Requests seen by assigned strategy
//   - offline_proxy_uncontrolled_requests_total (Counter): Requests passed through before activation
//   - offline_proxy_control_messages_total{type} (Counter): Control-channel messages by type
//
// Push Metrics (pkg/push):
//   - offline_proxy_pushes_total{result} (Counter): Push payloads received by parse result
//   - offline_proxy_notifications_delivered_total (Counter): Notifications delivered to listeners
//   - offline_proxy_push_subscribers (Gauge): Currently registered push subscriptions
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(offline_proxy_cache_hits_total[5m])) /
//   (sum(rate(offline_proxy_cache_hits_total[5m])) + sum(rate(offline_proxy_cache_misses_total[5m])))
//
//   # Offline Fallback Rate
//   rate(offline_proxy_fallbacks_total{kind="offline"}[5m])
//
//   # Share of Requests Served Without Interception
//   rate(offline_proxy_uncontrolled_requests_total[5m]) / rate(offline_proxy_requests_total[5m])
//
//   # Abandoned Background Refreshes (timed out waiting for a slot)
//   rate(offline_proxy_background_refreshes_total{result="skipped"}[5m])
