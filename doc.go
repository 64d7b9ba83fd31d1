// Package resilio is a request resilience pipeline: the layer between
// application code and a remote HTTP API that owns authentication,
// retries and response caching so callers don't have to.
//
// Per outbound call the pipeline runs a fixed sequence of stages:
//
//   - Attach — fetch the bearer credential, refreshing it first when it is
//     expired or about to expire. Concurrent callers that all observe an
//     expired credential share a single refresh call (single-flight).
//   - Execute — issue the network call, transparently retrying transient
//     failures with bounded exponential backoff. A 401/403 received despite
//     a seemingly valid credential triggers exactly one forced
//     refresh-and-retry outside the backoff budget.
//   - Cache — GET responses are served from and written through a bounded
//     TTL cache under one of four strategies: cache-first, network-first,
//     network-only, cache-only.
//   - Observe — duration, status and attempt counts are emitted through
//     Prometheus metrics and structured zerolog events.
//
// Typical usage:
//
//	store := resilio.NewCredentialStore(resilio.NewMemoryStorage())
//	client := resilio.New(
//	    resilio.WithCredentials(store, refreshFn),
//	    resilio.WithCache(resilio.NewResponseCache()),
//	    resilio.WithMetrics(),
//	)
//	resp, err := client.Call(ctx, resilio.CallSpec{Method: "GET", URL: url})
//
// A single *Client instance is safe for concurrent use; there is no global
// serialization of requests. All timers (proactive refresh, cache sweep,
// retry delay) are cancellable, and no operation blocks indefinitely.
package resilio
