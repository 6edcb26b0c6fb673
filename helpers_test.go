package goSession

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goSession/internal/apitest"
	"github.com/MrEthical07/goSession/store"
)

// fakeCredential builds an unsigned three-segment credential with claims as
// its payload.
func fakeCredential(t testing.TB, claims map[string]any) string {
	t.Helper()
	raw, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`)) + "." +
		enc.EncodeToString(raw) + "." +
		enc.EncodeToString([]byte("signature"))
}

func credentialFor(t testing.TB, sub, username string, exp time.Time) string {
	t.Helper()
	return fakeCredential(t, map[string]any{
		"sub":      sub,
		"username": username,
		"exp":      exp.Unix(),
	})
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, opts apitest.Options) *apitest.Server {
	t.Helper()
	srv := apitest.New(opts)
	t.Cleanup(srv.Close)
	return srv
}

type testClientOptions struct {
	store  store.Store
	sink   EventSink
	clock  func() time.Time
	mutate func(*Config)
}

func newTestClient(t *testing.T, srv *apitest.Server, opts testClientOptions) *Client {
	t.Helper()

	cfg := DefaultConfig()
	if srv != nil {
		cfg.API.BaseURL = srv.BaseURL()
	}
	cfg.API.Timeout = 5 * time.Second
	if opts.sink != nil {
		cfg.Events.Enabled = true
		cfg.Events.BufferSize = 1024
		cfg.Events.DropIfFull = false
	}
	if opts.mutate != nil {
		opts.mutate(&cfg)
	}

	b := New().WithConfig(cfg).WithLogger(discardLogger())
	if opts.store != nil {
		b.WithStore(opts.store)
	}
	if opts.sink != nil {
		b.WithEventSink(opts.sink)
	}
	if opts.clock != nil {
		b.WithClock(opts.clock)
	}

	client, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

// drainEvents closes the client so every queued event reaches the sink, then
// returns what the sink collected.
func drainEvents(client *Client, sink *ChannelSink) []Event {
	client.Close()
	var out []Event
	for {
		select {
		case ev := <-sink.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventsOfType(events []Event, eventType string) []Event {
	var out []Event
	for _, ev := range events {
		if ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// failingStore wraps a store and fails the selected operations.
type failingStore struct {
	store.Store
	mu        sync.Mutex
	failGet   bool
	failApply bool
}

func (s *failingStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	fail := s.failGet
	s.mu.Unlock()
	if fail {
		return "", store.ErrUnavailable
	}
	return s.Store.Get(ctx, key)
}

func (s *failingStore) Apply(ctx context.Context, muts ...store.Mutation) error {
	s.mu.Lock()
	fail := s.failApply
	s.mu.Unlock()
	if fail {
		return store.ErrUnavailable
	}
	return s.Store.Apply(ctx, muts...)
}

func (s *failingStore) setFailApply(v bool) {
	s.mu.Lock()
	s.failApply = v
	s.mu.Unlock()
}

// fixedClock is a settable time source.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock(now time.Time) *fixedClock {
	return &fixedClock{now: now}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Set(now time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Contains(s string) bool {
	return strings.Contains(b.String(), s)
}

func mustRequest(t testing.TB) *http.Request {
	t.Helper()
	return httptest.NewRequest(http.MethodGet, "http://example.com/resource", nil)
}
