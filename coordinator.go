package goSession

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MrEthical07/goSession/credential"
	"github.com/MrEthical07/goSession/internal/logging"
)

// renewalFailure remembers the outcome of the last failed renewal so that a
// 401 for the same credential arriving after the forced logout gets the same
// error instead of a bare ErrUnauthorized.
type renewalFailure struct {
	token string
	err   error
}

// recoverUnauthorized resolves a 401 for a request that was sent with stale
// (empty when it went out without a credential).
//
//   - no session: the error of the renewal that ended it, or ErrUnauthorized
//   - session already moved past stale: replay with the current credential
//     when it belongs to the same user, ErrUnauthorized otherwise
//   - otherwise: join or start the renewal for stale, then replay
func (c *Client) recoverUnauthorized(ctx context.Context, env *envelope, stale string) (*http.Response, error) {
	current, ok := c.session.AccessCredential()
	if !ok {
		if err := c.failureFor(stale); err != nil {
			return nil, err
		}
		return nil, ErrUnauthorized
	}
	if current != stale {
		token, err := successorOf(stale, current)
		if err != nil {
			return nil, err
		}
		return c.replay(ctx, env, token)
	}

	token, err := c.awaitRenewal(ctx, stale, env.requestID)
	if err != nil {
		return nil, err
	}
	return c.replay(ctx, env, token)
}

// awaitRenewal joins the in-flight renewal for stale or starts one. The
// renewal itself runs detached from ctx; ctx only bounds the wait.
func (c *Client) awaitRenewal(ctx context.Context, stale, requestID string) (string, error) {
	leader := false
	ch := c.renewals.DoChan(stale, func() (any, error) {
		leader = true
		return c.renewShared(context.WithoutCancel(ctx), stale, requestID)
	})

	select {
	case res := <-ch:
		if !leader {
			c.metricInc(MetricRenewalJoined)
			c.logger.DebugContext(ctx, "goSession: joined shared renewal", logging.RequestID(requestID))
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// renewShared runs at most once per rejected credential at a time. On failure
// every waiter receives the same error and the session is force-logged-out,
// unless it already holds a different credential. The outcome only ever
// applies to a session still holding stale.
func (c *Client) renewShared(ctx context.Context, stale, requestID string) (string, error) {
	// A renewal for stale may have finished between the caller's read and
	// this call.
	if current, ok := c.session.AccessCredential(); ok && current != stale {
		return successorOf(stale, current)
	} else if !ok {
		if err := c.failureFor(stale); err != nil {
			return "", err
		}
		return "", ErrUnauthorized
	}

	c.metricInc(MetricRenewalStarted)
	c.logger.DebugContext(ctx, "goSession: renewing session", logging.RequestID(requestID))

	start := time.Now()
	err := c.renew(ctx, stale, requestID)
	c.metrics.Observe(MetricRenewalLatency, time.Since(start))

	if errors.Is(err, errSessionChanged) {
		// The session moved on while the call was out.
		if token, ok := c.session.AccessCredential(); ok {
			return successorOf(stale, token)
		}
		return "", ErrUnauthorized
	}
	if err != nil {
		c.recordFailure(stale, err)
		if c.endSessionIf(ctx, stale, ReasonRenewalFailed) {
			c.metricInc(MetricForcedLogout)
			c.logger.WarnContext(ctx, "goSession: renewal failed, ending session", logging.Error(err))
		}
		return "", err
	}

	c.clearFailure()
	token, ok := c.session.AccessCredential()
	if !ok {
		// logged out while the renewal was landing
		return "", ErrUnauthorized
	}
	return successorOf(stale, token)
}

// successorOf returns current as the credential to replay a request that was
// sent with stale. A request is never replayed as a different user.
func successorOf(stale, current string) (string, error) {
	if stale == "" {
		return current, nil
	}
	if subjectOf(stale) != subjectOf(current) {
		return "", ErrUnauthorized
	}
	return current, nil
}

func subjectOf(token string) string {
	p, err := credential.Decode(token)
	if err != nil {
		return ""
	}
	return p.Subject
}

func (c *Client) recordFailure(token string, err error) {
	c.failMu.Lock()
	defer c.failMu.Unlock()
	c.failure = renewalFailure{token: token, err: err}
}

func (c *Client) clearFailure() {
	c.failMu.Lock()
	defer c.failMu.Unlock()
	c.failure = renewalFailure{}
}

func (c *Client) failureFor(token string) error {
	if token == "" {
		return nil
	}
	c.failMu.Lock()
	defer c.failMu.Unlock()
	if c.failure.token == token {
		return c.failure.err
	}
	return nil
}
