// Package credential decodes the self-describing payload of bearer credentials
// (JWT-shaped access tokens) without network access or signature checks.
//
// # Payload format
//
// A credential is three dot-separated segments. Only the middle segment is
// read: it is base64url-decoded (padded or raw) and parsed as a JSON object
// that must carry a numeric "exp" claim in epoch seconds. "sub" may be a JSON
// string or number; "username" and "email" are optional.
//
// # Architecture boundaries
//
// This package owns decoding and liveness checks only. Persistence, renewal
// and header management belong to the session store and client.
//
// # What this package must NOT do
//
//   - Verify signatures or trust the payload for authorization decisions.
//   - Perform I/O or keep state between calls.
//   - Panic on hostile input; every failure is an [ErrMalformed] error.
package credential
