// Package goSession is a client-side session manager for token-based API clients.
//
// It holds the current access and refresh credentials, reports whether the
// session is still usable, and transparently renews it when the server rejects
// an expired credential. Many requests failing at once share a single renewal
// and are each replayed exactly once.
//
// The package is designed for concurrent use: [Client] methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// goSession is the public surface. It exposes [Client], [Builder], [Config],
// [SessionStore] and value types ([Session], [Identity], [MetricsSnapshot]).
// Credential decoding lives in package credential, durable persistence in
// package store, and route gating in package navigation.
//
// # What this package must NOT do
//
//   - Verify credential signatures; validity is expiry-only.
//   - Let any component other than [SessionStore] write the durable record or
//     the default Authorization header.
//   - Retry a request more than once after an authorization failure.
//
// # Request outcomes
//
// A request sent through [Client.Do] or [Client.HTTPClient] that is rejected
// with 401 ends in exactly one of:
//
//   - the replayed response, after a renewal it started or joined, or after a
//     renewal that had already completed;
//   - [ErrRenewalFailed], shared by every request waiting on a failed renewal,
//     which also ends the session;
//   - [ErrUnauthorized], when there is no session or the replay is rejected
//     again.
//
// Requests that set their own Authorization header are never renewed.
//
// # Concurrency contract
//
// Readers ([SessionStore.IsAuthenticated], [SessionStore.Identity]) never block on
// store I/O. Mutations are serialized so the durable record always matches the
// most recent in-memory session.
package goSession
