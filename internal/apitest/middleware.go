package apitest

import (
	"context"
	"net/http"
	"strings"
)

type claimsKey struct{}

// requireAccess admits requests bearing a live access credential of the
// current generation.
func (s *Server) requireAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.protected.Add(1)

		if s.rejectAll.Load() {
			writeDetail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		claims, ok := s.bearer(r, true)
		if !ok || claims.Kind != kindAccess || claims.Generation != s.generation.Load() {
			writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

func (s *Server) bearer(r *http.Request, checkExpiry bool) (*Claims, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, false
	}
	claims, err := s.tokens.parse(strings.TrimPrefix(header, "Bearer "), checkExpiry)
	if err != nil {
		return nil, false
	}
	return claims, true
}
