package goSession

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Client is the session-aware API client.
//
// A Client owns exactly one SessionStore; every request sent through Do or
// HTTPClient carries the store's current credential and takes part in
// coordinated renewal.
type Client struct {
	config  Config
	session *SessionStore
	headers *defaultHeaders

	// base carries every attempt; raw is base behind the configured timeout
	// and is used for lifecycle calls, which bypass the interceptor.
	base http.RoundTripper
	raw  *http.Client
	http *http.Client

	renewals singleflight.Group
	failMu   sync.Mutex
	failure  renewalFailure

	events  *eventDispatcher
	metrics *Metrics
	logger  *slog.Logger
	clock   func() time.Time

	// notifyMu orders notifyWG.Add against Close; no notification starts
	// once closed is set.
	notifyMu sync.Mutex
	closed   bool
	notifyWG sync.WaitGroup
}

// Session returns the store owning the client's credentials.
func (c *Client) Session() *SessionStore {
	if c == nil {
		return nil
	}
	return c.session
}

// Config returns a copy of the client's configuration.
func (c *Client) Config() Config {
	if c == nil {
		return defaultConfig()
	}
	return cloneConfig(c.config)
}

// HTTPClient returns an *http.Client that routes through the interceptor.
// Requests sent with it behave exactly like requests sent with Do.
func (c *Client) HTTPClient() *http.Client {
	if c == nil {
		return nil
	}
	return c.http
}

// SetDefaultHeader adds a header applied to every request that does not set
// it itself. Authorization is owned by the session and cannot be set here.
func (c *Client) SetDefaultHeader(key, value string) {
	if c == nil || http.CanonicalHeaderKey(key) == "Authorization" {
		return
	}
	c.headers.set(key, value)
}

// Close waits for pending logout notifications and drains queued events.
// Logouts after Close still clear the session but send no notification.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.notifyMu.Lock()
	c.closed = true
	c.notifyMu.Unlock()
	c.notifyWG.Wait()
	if c.events != nil {
		c.events.Close()
	}
}

// EventsDropped returns how many events were discarded because the dispatch
// buffer was full.
func (c *Client) EventsDropped() uint64 {
	if c == nil || c.events == nil {
		return 0
	}
	return c.events.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the client's counters.
func (c *Client) MetricsSnapshot() MetricsSnapshot {
	if c == nil || c.metrics == nil {
		return emptySnapshot()
	}
	return c.metrics.Snapshot()
}

func (c *Client) metricInc(id MetricID) {
	if c == nil || c.metrics == nil {
		return
	}
	c.metrics.Inc(id)
}

func (c *Client) now() time.Time {
	if c == nil || c.clock == nil {
		return time.Now()
	}
	return c.clock()
}
