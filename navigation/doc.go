// Package navigation gates route entry on the session's authentication state.
//
// # Guards
//
//   - [Guard.Resolve] decides whether a route may be entered and where to send
//     the caller otherwise.
//   - [Guard.Middleware] applies the same decision to net/http handlers by
//     answering with a 303 redirect.
//
// Protected routes ([Route.RequiresAuth]) send unauthenticated callers to the
// login route with the intended destination preserved in the "redirect" query
// parameter. Guest-only routes ([Route.RequiresGuest]) send authenticated
// callers to that preserved destination when it is a local path, or to the
// home route.
//
// # What this package must NOT do
//
//   - Inspect or renew credentials (it only reads IsAuthenticated).
//   - Make network calls.
package navigation
