package apitest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
)

// BasePath is where the API is mounted, matching the client's default base.
const BasePath = "/api/v1"

// Options tunes a Server. Zero values select the defaults.
type Options struct {
	AccessTTL  time.Duration // default 1h
	RefreshTTL time.Duration // default 7 days
	Secret     []byte
	Now        func() time.Time

	// OmitRefreshToken makes login and refresh return only access_token.
	OmitRefreshToken bool
	// RefreshDelay holds every refresh call open for the duration.
	RefreshDelay time.Duration
	// RefreshGate, when set, holds every refresh call open until it is closed.
	RefreshGate <-chan struct{}
}

type user struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	IsActive bool   `json:"is_active"`
	password string
}

// Server is a running fake API. Close it when done.
type Server struct {
	*httptest.Server

	opts   Options
	tokens *issuer

	mu     sync.Mutex
	users  map[int64]user
	nextID int64

	generation  atomic.Int64
	failRefresh atomic.Bool
	rejectAll   atomic.Bool

	logins    atomic.Int64
	refreshes atomic.Int64
	logouts   atomic.Int64
	protected atomic.Int64
}

// New starts a Server.
func New(opts Options) *Server {
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = time.Hour
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = 7 * 24 * time.Hour
	}
	if len(opts.Secret) == 0 {
		opts.Secret = []byte("apitest-signing-secret")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Server{
		opts: opts,
		tokens: &issuer{
			secret:     opts.Secret,
			accessTTL:  opts.AccessTTL,
			refreshTTL: opts.RefreshTTL,
			now:        opts.Now,
		},
		users: make(map[int64]user),
	}
	s.Server = httptest.NewServer(s.Router())
	return s
}

// Router returns the API routes without starting a listener.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Route(BasePath, func(r chi.Router) {
		r.Post("/auth/register", s.register)
		r.Post("/auth/login", s.login)
		r.Post("/auth/refresh", s.refresh)
		r.Post("/auth/logout", s.logout)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAccess)
			r.Get("/me", s.me)
			r.Post("/echo", s.echo)
		})
	})
	return r
}

// BaseURL is the URL the client should be configured with.
func (s *Server) BaseURL() string {
	return s.URL + BasePath
}

// AddUser registers an account directly and returns its id.
func (s *Server) AddUser(username, email, password string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.users[s.nextID] = user{ID: s.nextID, Username: username, Email: email, IsActive: true, password: password}
	return s.nextID
}

// IssueAccess mints an access credential for an existing user with the given
// lifetime, which may be negative.
func (s *Server) IssueAccess(id int64, ttl time.Duration) (string, error) {
	s.mu.Lock()
	u, ok := s.users[id]
	s.mu.Unlock()
	if !ok {
		return "", errors.New("unknown user")
	}
	return s.tokens.issue(kindAccess, u, ttl, s.generation.Load())
}

// Revoke invalidates every credential issued so far for protected routes,
// as a server-side expiry would. The refresh endpoint still renews them.
func (s *Server) Revoke() {
	s.generation.Add(1)
}

// FailRefresh makes the refresh endpoint answer 401.
func (s *Server) FailRefresh(fail bool) { s.failRefresh.Store(fail) }

// RejectAll makes every protected route answer 401 regardless of credential.
func (s *Server) RejectAll(reject bool) { s.rejectAll.Store(reject) }

func (s *Server) Logins() int64         { return s.logins.Load() }
func (s *Server) Refreshes() int64      { return s.refreshes.Load() }
func (s *Server) Logouts() int64        { return s.logouts.Load() }
func (s *Server) ProtectedCalls() int64 { return s.protected.Load() }

/*
====================================
HANDLERS
====================================
*/

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidation(w, "body is not valid JSON")
		return
	}
	if len(req.Username) < 3 {
		writeValidation(w, "username must have at least 3 characters")
		return
	}
	if !strings.Contains(req.Email, "@") {
		writeValidation(w, "value is not a valid email address")
		return
	}
	if req.Password == "" {
		writeValidation(w, "password is required")
		return
	}

	s.mu.Lock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, req.Email) || u.Username == req.Username {
			s.mu.Unlock()
			writeDetail(w, http.StatusConflict, "User with this email or username already exists")
			return
		}
	}
	s.nextID++
	u := user{ID: s.nextID, Username: req.Username, Email: req.Email, IsActive: true, password: req.Password}
	s.users[u.ID] = u
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, u)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeValidation(w, "form is not valid")
		return
	}
	if r.PostForm.Get("grant_type") != "password" {
		writeValidation(w, "unsupported grant_type")
		return
	}
	name := r.PostForm.Get("username")
	password := r.PostForm.Get("password")

	u, ok := s.lookup(name)
	if !ok || u.password != password {
		writeDetail(w, http.StatusUnauthorized, "Incorrect email or password")
		return
	}

	s.logins.Add(1)
	s.writeTokens(w, u)
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	s.refreshes.Add(1)

	if s.opts.RefreshDelay > 0 {
		select {
		case <-time.After(s.opts.RefreshDelay):
		case <-r.Context().Done():
			return
		}
	}
	if s.opts.RefreshGate != nil {
		select {
		case <-s.opts.RefreshGate:
		case <-r.Context().Done():
			return
		}
	}
	if s.failRefresh.Load() {
		writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}

	claims, ok := s.bearer(r, false)
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	u, ok := s.userBySubject(claims.Subject)
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}

	s.writeTokens(w, u)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	s.logouts.Add(1)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(claimsKey{}).(*Claims)
	u, ok := s.userBySubject(claims.Subject)
	if !ok {
		writeDetail(w, http.StatusNotFound, "User not found")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) echo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", r.Header.Get("Content-Type"))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, r.Body)
}

/*
====================================
HELPERS
====================================
*/

func (s *Server) writeTokens(w http.ResponseWriter, u user) {
	gen := s.generation.Load()
	access, err := s.tokens.issue(kindAccess, u, s.opts.AccessTTL, gen)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]string{"access_token": access, "token_type": "bearer"}
	if !s.opts.OmitRefreshToken {
		refresh, err := s.tokens.issue(kindRefresh, u, s.opts.RefreshTTL, gen)
		if err != nil {
			writeDetail(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp["refresh_token"] = refresh
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) lookup(name string) (user, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == name || strings.EqualFold(u.Email, name) {
			return u, true
		}
	}
	return user{}, false
}

func (s *Server) userBySubject(sub string) (user, bool) {
	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return user{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	return u, ok
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeValidation(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"detail": []map[string]string{{"msg": msg, "type": "value_error"}},
	})
}
