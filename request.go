package goSession

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// envelope carries one logical request across its first attempt and at most
// one replay. The caller's *http.Request is never mutated.
type envelope struct {
	req       *http.Request
	body      []byte
	hasBody   bool
	requestID string

	// ownAuth marks requests whose caller supplied Authorization; these are
	// sent as-is and never take part in renewal.
	ownAuth bool
	retried bool
}

func newEnvelope(req *http.Request) (*envelope, error) {
	env := &envelope{
		req:       req,
		requestID: req.Header.Get(requestIDHeader),
		ownAuth:   req.Header.Get("Authorization") != "",
	}
	if env.requestID == "" {
		env.requestID = uuid.NewString()
	}

	if req.Body != nil && req.Body != http.NoBody {
		body, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
		env.body = body
		env.hasBody = true
	}

	return env, nil
}

// attempt builds a fresh outgoing request. With an empty token the session's
// default Authorization applies; otherwise token overrides it.
func (e *envelope) attempt(ctx context.Context, defaults *defaultHeaders, token string) *http.Request {
	out := e.req.Clone(ctx)
	if e.hasBody {
		body := e.body
		out.Body = io.NopCloser(bytes.NewReader(body))
		out.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		out.ContentLength = int64(len(body))
	}

	out.Header.Set(requestIDHeader, e.requestID)
	defaults.apply(out)
	if token != "" && !e.ownAuth {
		out.Header.Set("Authorization", bearerPrefix+token)
	}
	return out
}

// sessionTransport is the RoundTripper installed in Client.HTTPClient.
type sessionTransport struct {
	client *Client
}

func (t *sessionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.client.roundTrip(req)
}

// NewRequest builds a request for path relative to the configured API base.
// Absolute URLs are used unchanged.
func (c *Client) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	if c == nil {
		return nil, ErrClientNotReady
	}
	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		target = c.endpoint(path)
	}
	return http.NewRequestWithContext(ctx, method, target, body)
}

// Do sends req with the session's credential. A 401 triggers one shared
// renewal and a single replay; see the package documentation for the exact
// outcomes. Other responses and transport errors are returned unchanged.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c == nil || c.http == nil {
		return nil, ErrClientNotReady
	}
	return c.http.Do(req)
}

func (c *Client) roundTrip(req *http.Request) (*http.Response, error) {
	env, err := newEnvelope(req)
	if err != nil {
		return nil, err
	}
	ctx := req.Context()

	out := env.attempt(ctx, c.headers, "")
	sent, _ := bearerToken(out.Header.Get("Authorization"))

	resp, err := c.base.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || env.ownAuth || !c.config.Renewal.Enabled {
		return resp, nil
	}
	drain(resp)

	return c.recoverUnauthorized(ctx, env, sent)
}

// replay sends the envelope's single retry with token. A second 401 is
// terminal.
func (c *Client) replay(ctx context.Context, env *envelope, token string) (*http.Response, error) {
	if env.retried {
		return nil, ErrUnauthorized
	}
	env.retried = true

	resp, err := c.base.RoundTrip(env.attempt(ctx, c.headers, token))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		c.metricInc(MetricReplayRejected)
		c.emitEvent(ctx, EventReplayRejected, false, "", env.requestID, ErrUnauthorized, func() map[string]string {
			return map[string]string{"method": env.req.Method, "path": env.req.URL.Path}
		})
		return nil, ErrUnauthorized
	}

	c.metricInc(MetricReplaySuccess)
	return resp, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
	resp.Body.Close()
}
