// Package apitest is an in-process fake of the remote authentication API,
// for tests and the load-test command.
//
// It issues HS256 credentials whose payload carries sub, username, email and
// exp, mirrors the FastAPI error body shape ({"detail": ...}), and exposes
// knobs for forcing the failure modes the session client must survive:
// server-side revocation, failing or slow renewals, and rejecting everything.
package apitest
