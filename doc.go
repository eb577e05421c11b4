// Package tagcache implements a tagged-invalidation cache layer in front of
// a remote key-value store. Entries carry a data class (TTL + compression
// policy) and optional tags; secondary indices allow group invalidation by
// tag or by class, with one-hop dependency cascades between classes.
//
// Components:
//   - store.Store: the backing byte store with TTLs, named sets, counter
//     hashes and atomic batches (Redis implementation in store/redis).
//   - codec.Codec: (de)serializes values <-> []byte.
//   - internal key/wire layers: deterministic key addressing and a
//     self-describing compressed envelope per entry.
//
// Keys, all under the "cache" namespace:
//
//	cache:<class>:<digest>  - entries (digest over canonicalized key material)
//	cache:tag:<tag>         - tag index sets (2x entry TTL)
//	cache:type:<class>      - class index sets (2x entry TTL)
//	cache:stats:<counter>   - hit/miss counter hashes (no expiry)
//
// Reads renew the entry's lease to the full class TTL, so hot entries stay
// warm. Corrupt or incompatible payloads fail closed: the read misses and
// the entry is purged. Index sets do not share an atomic expiry with the
// entries they reference; Maintenance prunes dangling references and is safe
// to run concurrently with any traffic.
//
// The facade favors availability: Get/Set/Invalidate* log store failures and
// return safe defaults (miss / false / best-known count) instead of
// surfacing them, degrading to always-miss during an outage.
package tagcache
