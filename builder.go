package goSession

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrEthical07/goSession/internal/logging"
	"github.com/MrEthical07/goSession/store"
)

// Builder assembles a Client.
//
// Builder instances are intended to be configured during initialization and
// used for exactly one Build call.
type Builder struct {
	config Config
	store  store.Store

	httpClient *http.Client
	eventSink  EventSink
	logger     *slog.Logger
	clock      func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig and an in-memory store.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the builder's configuration with a copy of cfg.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the durable key-value store mirroring the session.
// Without it, the session lives only in memory.
func (b *Builder) WithStore(s store.Store) *Builder {
	b.store = s
	return b
}

// WithHTTPClient sets the client whose transport carries every API call.
// Its Timeout is kept when non-zero; otherwise Config.API.Timeout applies.
func (b *Builder) WithHTTPClient(hc *http.Client) *Builder {
	b.httpClient = hc
	return b
}

// WithEventSink sets the sink receiving lifecycle events. Events are only
// dispatched when Config.Events.Enabled is true.
func (b *Builder) WithEventSink(sink EventSink) *Builder {
	b.eventSink = sink
	return b
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the time source used for credential expiry checks.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the renewal latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, wires the client and seeds the session
// from the durable record. An unreadable record fails Build with
// ErrStoreUnavailable; an invalid one is purged and Build succeeds with an
// empty session.
func (b *Builder) Build(ctx context.Context) (*Client, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := b.clock
	if clock == nil {
		clock = time.Now
	}
	kv := b.store
	if kv == nil {
		kv = store.NewMemoryStore()
	}

	// -------- TRANSPORT --------
	base := http.DefaultTransport
	hc := &http.Client{Timeout: cfg.API.Timeout}
	if b.httpClient != nil {
		if b.httpClient.Transport != nil {
			base = b.httpClient.Transport
		}
		hc.Jar = b.httpClient.Jar
		hc.CheckRedirect = b.httpClient.CheckRedirect
		if b.httpClient.Timeout > 0 {
			hc.Timeout = b.httpClient.Timeout
		}
	}

	metrics := NewMetrics(cfg.Metrics)
	headers := newDefaultHeaders()

	c := &Client{
		config:  cfg,
		headers: headers,
		base:    base,
		events:  newEventDispatcher(cfg.Events, b.eventSink),
		metrics: metrics,
		logger:  logger,
		clock:   clock,
	}
	raw := *hc
	raw.Transport = base
	c.raw = &raw
	hc.Transport = &sessionTransport{client: c}
	c.http = hc
	c.session = newSessionStore(kv, cfg.Storage, headers, clock, logger, metrics)

	// -------- SESSION LOAD --------
	res, err := c.session.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			c.events.Close()
			return nil, err
		}
		logger.WarnContext(ctx, "goSession: purge of stale session record failed", logging.Error(err))
	}
	if res.Purged {
		logger.InfoContext(ctx, "goSession: stored session was invalid and has been purged")
		c.emitEvent(ctx, EventSessionInvalidated, true, "", "", nil, func() map[string]string {
			return map[string]string{"reason": ReasonPurgedOnLoad}
		})
	}

	b.built = true
	return c, nil
}
