package goSession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/MrEthical07/goSession/credential"
	"github.com/MrEthical07/goSession/internal/logging"
	"github.com/MrEthical07/goSession/store"
)

// Identity is the user identity derived from the access credential payload.
type Identity struct {
	ID          string
	DisplayName string
	Email       string
}

// Initials returns the upper-cased first letter of each space-separated word
// of the display name, or "?" when there is no display name.
func (i Identity) Initials() string {
	var b strings.Builder
	for _, word := range strings.Fields(i.DisplayName) {
		r, _ := utf8.DecodeRuneInString(word)
		b.WriteRune(unicode.ToUpper(r))
	}
	if b.Len() == 0 {
		return "?"
	}
	return b.String()
}

// Session is a point-in-time copy of the session aggregate.
type Session struct {
	AccessCredential  string
	RefreshCredential string
	Identity          *Identity
	ExpiresAt         time.Time
	Authenticated     bool
}

// LoadResult reports what SessionStore.Load found in the durable record.
type LoadResult struct {
	Restored bool
	Purged   bool
}

// SessionStore is the single owner of the access/refresh credential pair, the
// durable record mirroring it, and the client's default Authorization header.
//
// Validity and identity are recomputed from the access credential on every
// read and are never cached separately from it.
type SessionStore struct {
	mu      sync.RWMutex
	access  string
	refresh string

	// writeMu serializes mutators so the durable record follows memory order.
	writeMu sync.Mutex

	kv      store.Store
	keys    StorageConfig
	headers *defaultHeaders
	now     func() time.Time
	logger  *slog.Logger
	metrics *Metrics
}

func newSessionStore(kv store.Store, keys StorageConfig, headers *defaultHeaders, now func() time.Time, logger *slog.Logger, metrics *Metrics) *SessionStore {
	if kv == nil {
		kv = store.NewMemoryStore()
	}
	if headers == nil {
		headers = newDefaultHeaders()
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionStore{
		kv:      kv,
		keys:    keys,
		headers: headers,
		now:     now,
		logger:  logger,
		metrics: metrics,
	}
}

// AccessCredential returns the stored access credential, valid or not.
func (s *SessionStore) AccessCredential() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access, s.access != ""
}

// RefreshCredential returns the stored refresh credential. It is never
// validated locally.
func (s *SessionStore) RefreshCredential() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refresh, s.refresh != ""
}

// IsAuthenticated reports whether an access credential is present, well-formed
// and unexpired at this instant.
func (s *SessionStore) IsAuthenticated() bool {
	access, ok := s.AccessCredential()
	if !ok {
		return false
	}
	return credential.IsLive(access, s.now())
}

// Identity decodes the current access credential. It is present iff the access
// credential is present and well-formed, expired or not.
func (s *SessionStore) Identity() (Identity, bool) {
	access, ok := s.AccessCredential()
	if !ok {
		return Identity{}, false
	}
	p, err := credential.Decode(access)
	if err != nil {
		return Identity{}, false
	}
	return identityFromPayload(p), true
}

// Snapshot returns a consistent copy of the session.
func (s *SessionStore) Snapshot() Session {
	s.mu.RLock()
	access, refresh := s.access, s.refresh
	s.mu.RUnlock()

	out := Session{AccessCredential: access, RefreshCredential: refresh}
	if access == "" {
		return out
	}
	p, err := credential.Decode(access)
	if err != nil {
		return out
	}
	id := identityFromPayload(p)
	out.Identity = &id
	out.ExpiresAt = p.ExpiresAt
	out.Authenticated = !p.Expired(s.now())
	return out
}

// SetSession replaces both credentials. Memory and the Authorization header
// change together before the durable record is written; a persistence failure
// is returned wrapped in ErrPersistence but the new session stays in effect.
func (s *SessionStore) SetSession(ctx context.Context, access, refresh string) error {
	if access == "" {
		return s.ClearSession(ctx)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.setLocked(ctx, access, refresh)
}

// ClearSession empties memory, removes the Authorization header and deletes
// both durable keys.
func (s *SessionStore) ClearSession(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.clearLocked(ctx)
}

// replaceIf installs a renewed pair only while the session still holds stale.
// An empty refresh keeps the current refresh credential. It reports whether
// the pair was installed.
func (s *SessionStore) replaceIf(ctx context.Context, stale, access, refresh string) (bool, error) {
	if stale == "" || access == "" {
		return false, nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	current, currentRefresh := s.access, s.refresh
	s.mu.RUnlock()
	if current != stale {
		return false, nil
	}
	if refresh == "" {
		refresh = currentRefresh
	}
	return true, s.setLocked(ctx, access, refresh)
}

// clearIf ends the session only while it still holds stale, and reports
// whether it did.
func (s *SessionStore) clearIf(ctx context.Context, stale string) (bool, error) {
	if stale == "" {
		return false, nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	current := s.access
	s.mu.RUnlock()
	if current != stale {
		return false, nil
	}
	return true, s.clearLocked(ctx)
}

func (s *SessionStore) setLocked(ctx context.Context, access, refresh string) error {
	s.swap(access, refresh)

	muts := []store.Mutation{store.Set(s.keys.AccessKey, access)}
	if refresh != "" {
		muts = append(muts, store.Set(s.keys.RefreshKey, refresh))
	} else {
		muts = append(muts, store.Del(s.keys.RefreshKey))
	}
	return s.persist(ctx, muts...)
}

func (s *SessionStore) clearLocked(ctx context.Context) error {
	s.swap("", "")
	return s.persist(ctx, store.Del(s.keys.AccessKey), store.Del(s.keys.RefreshKey))
}

// Load seeds the session from the durable record. A record whose access
// credential is absent, malformed or expired is purged in full. Load makes no
// network calls.
func (s *SessionStore) Load(ctx context.Context) (LoadResult, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	access, err := s.read(ctx, s.keys.AccessKey)
	if err != nil {
		return LoadResult{}, err
	}
	refresh, err := s.read(ctx, s.keys.RefreshKey)
	if err != nil {
		return LoadResult{}, err
	}

	if access == "" && refresh == "" {
		s.swap("", "")
		return LoadResult{}, nil
	}

	if !credential.IsLive(access, s.now()) {
		s.swap("", "")
		s.metrics.Inc(MetricSessionPurged)
		if err := s.persist(ctx, store.Del(s.keys.AccessKey), store.Del(s.keys.RefreshKey)); err != nil {
			return LoadResult{Purged: true}, err
		}
		return LoadResult{Purged: true}, nil
	}

	s.swap(access, refresh)
	return LoadResult{Restored: true}, nil
}

func (s *SessionStore) swap(access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = access
	s.refresh = refresh
	s.headers.setAuthorization(access)
}

func (s *SessionStore) read(ctx context.Context, key string) (string, error) {
	v, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return v, nil
}

func (s *SessionStore) persist(ctx context.Context, muts ...store.Mutation) error {
	if err := s.kv.Apply(ctx, muts...); err != nil {
		s.metrics.Inc(MetricPersistFailure)
		s.logger.WarnContext(ctx, "goSession: durable record update failed", logging.Error(err))
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

func identityFromPayload(p credential.Payload) Identity {
	return Identity{
		ID:          p.Subject,
		DisplayName: p.DisplayName,
		Email:       p.Email,
	}
}
