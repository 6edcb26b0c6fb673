// Package store provides the durable key-value mirror for session credentials.
//
// # Backends
//
// [MemoryStore] keeps entries in process memory and is meant for tests and
// short-lived tools. [RedisStore] keeps entries under a key prefix in Redis.
// [BoltStore] keeps entries in a single bucket of a local BBolt file and is the
// usual choice for command-line clients.
//
// # Architecture boundaries
//
// A [Store] holds raw strings under caller-chosen keys. It does NOT decode
// credentials, decide validity, or know which keys form a session; the
// session store in the root package owns those rules and is the only writer.
//
// # Batches
//
// [Store.Apply] writes a batch of [Mutation] values as one unit so an access
// and refresh credential are never persisted half-updated.
package store
