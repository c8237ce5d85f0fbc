// Package cache provides the TTL response cache placed in front of the
// upstream rating API.
//
// It provides a Cache interface with a bounded in-memory LRU implementation,
// per-category TTL policies, key construction helpers, and a janitor that
// purges expired entries in the background.
package cache
