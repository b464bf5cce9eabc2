// Package cache provides the versioned list-response cache backed by Redis.
//
// Entries are keyed by the cache version and the canonical signature of a
// list query:
//
//	{namespace}:list:{version}:{signatureHex}
//
// Invalidation never deletes keys. A mutation bumps the version counter
// ({namespace}:version) with an atomic INCR, which orphans every entry
// written under the old version; orphans expire via their TTL. This gives
// read-after-write consistency relative to the mutating client while
// accepting bounded staleness for concurrent readers.
//
// The cache is deliberately non-critical: when Redis is unreachable it
// degrades to a permanent miss (reads) and a silent no-op (writes), and
// reports that via the State value instead of an error.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	lists := cache.NewVersioned(redisClient, cache.DefaultConfig(), logger)
//
//	entry, state := lists.Get(ctx, opts)
//	if entry != nil {
//		// serve entry.Payload with entry.ETag
//	}
//	_ = state // ok / degraded / disabled, for observability
//
//	// after a successful upstream fetch
//	lists.Set(ctx, opts, payload, etag)
//
//	// after any mutation of the underlying resource set
//	lists.Invalidate(ctx)
package cache
