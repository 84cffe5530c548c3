// Package session implements the token store: authenticated sessions keyed by
// session id, with TTL-based expiry and a periodic sweep.
//
// A Store wraps a Backend. Two backends are provided:
//
//   - MemoryBackend: sharded maps plus a per-key lock pool, so writes to one
//     session are serialized while unrelated sessions proceed in parallel
//   - RedisBackend: JSON values in Redis with optimistic WATCH/MULTI
//     transactions per key, for multi-instance deployments; nothing is
//     cached in process
//
// Expiry is lazy: Get returns nil once now >= ExpiresAt and deletes the entry.
// The sweep removes whatever lazy expiry has not seen yet.
//
// Stats and Classify feed the health endpoint: an expired ratio above 0.5 is
// unhealthy.
package session
