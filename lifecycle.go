package goSession

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/MrEthical07/goSession/credential"
	"github.com/MrEthical07/goSession/internal/logging"
)

// maxResponseBody bounds how much of an API response is read into memory.
const maxResponseBody = 1 << 20

// RegistrationInput is the account creation payload.
type RegistrationInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegistrationResult is the server's description of the created account.
type RegistrationResult struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	IsActive bool   `json:"is_active"`

	// Raw holds the full response body for fields not modelled above.
	Raw json.RawMessage `json:"-"`
}

// LoginInput holds the secrets submitted by Login. Username may be an email
// address; the server decides how to interpret it.
type LoginInput struct {
	Username string
	Password string
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// Register creates an account. It never touches the session. Rejections are
// returned as *APIError and transport failures wrap ErrNetwork.
func (c *Client) Register(ctx context.Context, in RegistrationInput) (*RegistrationResult, error) {
	if c == nil {
		return nil, ErrClientNotReady
	}

	body, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	status, respBody, err := c.post(ctx, c.config.API.RegisterPath, "application/json", bytes.NewReader(body), "", requestID)
	if err != nil {
		c.metricInc(MetricRegisterFailure)
		c.emitEvent(ctx, EventRegisterFailure, false, "", requestID, err, nil)
		return nil, err
	}
	if status < 200 || status > 299 {
		apiErr := newAPIError(status, respBody)
		c.metricInc(MetricRegisterFailure)
		c.emitEvent(ctx, EventRegisterFailure, false, "", requestID, apiErr, nil)
		return nil, apiErr
	}

	res := &RegistrationResult{Raw: json.RawMessage(respBody)}
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, res); err != nil {
			c.metricInc(MetricRegisterFailure)
			err = fmt.Errorf("%w: %w", ErrInvalidServerResponse, err)
			c.emitEvent(ctx, EventRegisterFailure, false, "", requestID, err, nil)
			return nil, err
		}
	}

	c.metricInc(MetricRegisterSuccess)
	c.emitEvent(ctx, EventRegisterSuccess, true, fmt.Sprint(res.ID), requestID, nil, nil)
	return res, nil
}

// Login exchanges username and password for a credential pair and installs it
// as the current session. A response without a refresh credential produces an
// access-only session.
func (c *Client) Login(ctx context.Context, in LoginInput) error {
	if c == nil {
		return ErrClientNotReady
	}

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", in.Username)
	form.Set("password", in.Password)
	form.Set("scope", c.config.API.Scope)
	form.Set("client_id", c.config.API.ClientID)
	form.Set("client_secret", c.config.API.ClientSecret)

	requestID := uuid.NewString()
	fail := func(err error) error {
		c.metricInc(MetricLoginFailure)
		c.emitEvent(ctx, EventLoginFailure, false, "", requestID, err, nil)
		return err
	}

	status, respBody, err := c.post(ctx, c.config.API.LoginPath, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()), "", requestID)
	if err != nil {
		return fail(err)
	}

	switch {
	case status == http.StatusBadRequest, status == http.StatusUnauthorized, status == http.StatusForbidden:
		return fail(fmt.Errorf("%w: %w", ErrInvalidCredentials, newAPIError(status, respBody)))
	case status < 200 || status > 299:
		return fail(newAPIError(status, respBody))
	}

	tokens, err := decodeTokens(respBody)
	if err != nil {
		return fail(err)
	}

	if err := c.session.SetSession(ctx, tokens.AccessToken, tokens.RefreshToken); err != nil {
		// memory already holds the new session; only the mirror is stale
		c.logger.WarnContext(ctx, "goSession: login session not persisted", logging.Error(err))
	}

	id, _ := c.session.Identity()
	c.metricInc(MetricLoginSuccess)
	c.emitEvent(ctx, EventLoginSuccess, true, id.ID, requestID, nil, nil)
	return nil
}

// Renew trades the current access credential for a new pair. On any failure
// the session is left exactly as it was and the error wraps ErrRenewalFailed.
// A renewal that lands after the session changed (a new login, a logout or
// another renewal) is discarded.
//
// Renew is the manual form of the renewal the request interceptor performs;
// unlike the interceptor it never logs the user out.
func (c *Client) Renew(ctx context.Context) error {
	if c == nil {
		return ErrClientNotReady
	}
	access, ok := c.session.AccessCredential()
	if !ok {
		return fmt.Errorf("%w: no session", ErrRenewalFailed)
	}

	err := c.renew(ctx, access, uuid.NewString())
	if errors.Is(err, errSessionChanged) {
		// Another renewal of the same session got there first.
		if current, ok := c.session.AccessCredential(); ok {
			if _, serr := successorOf(access, current); serr == nil {
				return nil
			}
		}
	}
	return err
}

// renew posts the refresh call authenticated with access and installs the
// result. It emits renewal events but leaves forced logout to the caller.
func (c *Client) renew(ctx context.Context, access, requestID string) error {
	if c.config.Renewal.RequireRefreshCredential {
		if _, ok := c.session.RefreshCredential(); !ok {
			err := fmt.Errorf("%w: no refresh credential", ErrRenewalFailed)
			c.metricInc(MetricRenewalFailure)
			c.emitEvent(ctx, EventRenewalFailure, false, "", requestID, err, nil)
			return err
		}
	}

	userID := ""
	if p, err := credential.Decode(access); err == nil {
		userID = p.Subject
	}
	fail := func(err error) error {
		err = fmt.Errorf("%w: %w", ErrRenewalFailed, err)
		c.metricInc(MetricRenewalFailure)
		c.emitEvent(ctx, EventRenewalFailure, false, userID, requestID, err, nil)
		return err
	}

	status, respBody, err := c.post(ctx, c.config.API.RefreshPath, "", nil, access, requestID)
	if err != nil {
		return fail(err)
	}
	if status < 200 || status > 299 {
		return fail(newAPIError(status, respBody))
	}

	tokens, err := decodeTokens(respBody)
	if err != nil {
		return fail(err)
	}

	applied, err := c.session.replaceIf(ctx, access, tokens.AccessToken, tokens.RefreshToken)
	if err != nil {
		c.logger.WarnContext(ctx, "goSession: renewed session not persisted", logging.Error(err))
	}
	if !applied {
		c.logger.DebugContext(ctx, "goSession: renewal outcome discarded, session changed", logging.RequestID(requestID))
		return fmt.Errorf("%w: %w", ErrRenewalFailed, errSessionChanged)
	}

	c.metricInc(MetricRenewalSuccess)
	c.emitEvent(ctx, EventRenewalSuccess, true, userID, requestID, nil, nil)
	return nil
}

// Logout ends the session locally. It never fails: the session is cleared
// before anything else happens, and the optional server notification runs in
// the background with its own timeout.
func (c *Client) Logout(ctx context.Context) {
	if c == nil {
		return
	}
	c.endSession(ctx, ReasonLogout)
	c.metricInc(MetricLogout)
}

// endSession clears the session and announces it. Logout goes through here.
func (c *Client) endSession(ctx context.Context, reason string) {
	access, _ := c.session.AccessCredential()
	if err := c.session.ClearSession(ctx); err != nil {
		c.logger.WarnContext(ctx, "goSession: cleared session not persisted", logging.Error(err))
	}
	c.announceEnd(ctx, access, reason)
}

// endSessionIf is endSession for a session still holding stale. A session
// installed since then is left alone and false is returned.
func (c *Client) endSessionIf(ctx context.Context, stale, reason string) bool {
	cleared, err := c.session.clearIf(ctx, stale)
	if err != nil {
		c.logger.WarnContext(ctx, "goSession: cleared session not persisted", logging.Error(err))
	}
	if !cleared {
		return false
	}
	c.announceEnd(ctx, stale, reason)
	return true
}

func (c *Client) announceEnd(ctx context.Context, access, reason string) {
	userID := ""
	if p, err := credential.Decode(access); err == nil {
		userID = p.Subject
	}

	c.emitEvent(ctx, EventSessionInvalidated, true, userID, "", nil, func() map[string]string {
		return map[string]string{"reason": reason}
	})

	if access != "" && c.config.Logout.NotifyPath != "" {
		c.notifyLogout(ctx, access)
	}
}

func (c *Client) notifyLogout(ctx context.Context, access string) {
	c.notifyMu.Lock()
	if c.closed {
		c.notifyMu.Unlock()
		c.logger.DebugContext(ctx, "goSession: logout notification skipped, client closed")
		return
	}
	c.notifyWG.Add(1)
	c.notifyMu.Unlock()

	go func() {
		defer c.notifyWG.Done()

		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.Logout.NotifyTimeout)
		defer cancel()

		status, _, err := c.post(nctx, c.config.Logout.NotifyPath, "", nil, access, uuid.NewString())
		if err != nil {
			c.logger.WarnContext(nctx, "goSession: logout notification failed", logging.Error(err))
			return
		}
		if status < 200 || status > 299 {
			c.logger.WarnContext(nctx, "goSession: logout notification rejected", slog.Int("status", status))
		}
	}()
}

// post sends a lifecycle call directly on the base transport. These calls
// never pass through the interceptor, so a 401 here is the caller's to read.
func (c *Client) post(ctx context.Context, path, contentType string, body io.Reader, bearer, requestID string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), body)
	if err != nil {
		return 0, nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, requestID)
	if bearer != "" {
		req.Header.Set("Authorization", bearerPrefix+bearer)
	}

	resp, err := c.raw.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, nil, ctxErr
		}
		return 0, nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read response: %w", ErrNetwork, err)
	}
	return resp.StatusCode, respBody, nil
}

func (c *Client) endpoint(path string) string {
	return c.config.API.BaseURL + path
}

func decodeTokens(body []byte) (tokenResponse, error) {
	var tokens tokenResponse
	if err := json.Unmarshal(body, &tokens); err != nil {
		return tokenResponse{}, fmt.Errorf("%w: %w", ErrInvalidServerResponse, err)
	}
	if tokens.AccessToken == "" {
		return tokenResponse{}, fmt.Errorf("%w: no access token received", ErrInvalidServerResponse)
	}
	if _, err := credential.Decode(tokens.AccessToken); err != nil {
		return tokenResponse{}, fmt.Errorf("%w: %w", ErrInvalidServerResponse, err)
	}
	return tokens, nil
}
