package goSession

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goSession/internal/apitest"
)

func loggedInClient(t *testing.T, srv *apitest.Server, opts testClientOptions) *Client {
	t.Helper()
	srv.AddUser("alice", "alice@example.com", "p")
	client := newTestClient(t, srv, opts)
	if err := client.Login(context.Background(), LoginInput{Username: "alice", Password: "p"}); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	return client
}

func getMe(ctx context.Context, client *Client) (int, string, error) {
	req, err := client.NewRequest(ctx, http.MethodGet, "/me", nil)
	if err != nil {
		return 0, "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body), err
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

type meResult struct {
	status int
	body   string
	err    error
}

func fireConcurrent(ctx context.Context, client *Client, n int) <-chan meResult {
	results := make(chan meResult, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			status, body, err := getMe(ctx, client)
			results <- meResult{status: status, body: body, err: err}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()
	return results
}

func TestConcurrentUnauthorizedSharesOneRenewal(t *testing.T) {
	gate := make(chan struct{})
	srv := newTestServer(t, apitest.Options{RefreshGate: gate})
	client := loggedInClient(t, srv, testClientOptions{})
	stale, _ := client.Session().AccessCredential()

	srv.Revoke()

	const n = 16
	results := fireConcurrent(context.Background(), client, n)

	waitFor(t, "every first attempt to reach the server", func() bool { return srv.ProtectedCalls() >= n })
	waitFor(t, "the renewal to start", func() bool { return srv.Refreshes() >= 1 })
	close(gate)

	ok := 0
	for res := range results {
		if res.err != nil {
			t.Fatalf("request failed: %v", res.err)
		}
		if res.status != http.StatusOK || !strings.Contains(res.body, `"username":"alice"`) {
			t.Fatalf("unexpected replay result: %d %s", res.status, res.body)
		}
		ok++
	}

	if ok != n {
		t.Fatalf("expected %d successful replays, got %d", n, ok)
	}
	if got := srv.Refreshes(); got != 1 {
		t.Fatalf("expected exactly one renewal call, got %d", got)
	}
	if got := srv.ProtectedCalls(); got != 2*n {
		t.Fatalf("expected %d protected calls (first attempt + one replay each), got %d", 2*n, got)
	}

	counters := client.MetricsSnapshot().Counters
	if counters[MetricRenewalStarted] != 1 {
		t.Fatalf("expected one started renewal, got %d", counters[MetricRenewalStarted])
	}
	if counters[MetricReplaySuccess] != n {
		t.Fatalf("expected %d replays, got %d", n, counters[MetricReplaySuccess])
	}

	current, _ := client.Session().AccessCredential()
	if current == stale {
		t.Fatal("expected session to hold the renewed credential")
	}
}

func TestConcurrentRenewalFailureRejectsAll(t *testing.T) {
	gate := make(chan struct{})
	srv := newTestServer(t, apitest.Options{RefreshGate: gate})
	sink := NewChannelSink(64)
	client := loggedInClient(t, srv, testClientOptions{sink: sink})

	srv.Revoke()
	srv.FailRefresh(true)

	const n = 8
	results := fireConcurrent(context.Background(), client, n)

	waitFor(t, "every first attempt to reach the server", func() bool { return srv.ProtectedCalls() >= n })
	close(gate)

	for res := range results {
		if !errors.Is(res.err, ErrRenewalFailed) {
			t.Fatalf("expected ErrRenewalFailed, got status=%d err=%v", res.status, res.err)
		}
	}

	if got := srv.Refreshes(); got != 1 {
		t.Fatalf("expected exactly one renewal call, got %d", got)
	}
	if client.Session().IsAuthenticated() {
		t.Fatal("expected forced logout after failed renewal")
	}
	if got := client.MetricsSnapshot().Counters[MetricForcedLogout]; got != 1 {
		t.Fatalf("expected one forced logout, got %d", got)
	}

	invalidated := eventsOfType(drainEvents(client, sink), EventSessionInvalidated)
	if len(invalidated) != 1 {
		t.Fatalf("expected one session_invalidated event, got %d", len(invalidated))
	}
	if invalidated[0].Metadata["reason"] != ReasonRenewalFailed {
		t.Fatalf("expected reason %q, got %q", ReasonRenewalFailed, invalidated[0].Metadata["reason"])
	}
}

func TestReplayRejectedIsTerminal(t *testing.T) {
	srv := newTestServer(t, apitest.Options{})
	sink := NewChannelSink(64)
	client := loggedInClient(t, srv, testClientOptions{sink: sink})

	srv.RejectAll(true)

	_, _, err := getMe(context.Background(), client)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if got := srv.Refreshes(); got != 1 {
		t.Fatalf("expected one renewal, got %d", got)
	}
	if got := srv.ProtectedCalls(); got != 2 {
		t.Fatalf("expected first attempt and one replay, got %d calls", got)
	}
	if !client.Session().IsAuthenticated() {
		t.Fatal("a rejected replay must not end a successfully renewed session")
	}

	rejected := eventsOfType(drainEvents(client, sink), EventReplayRejected)
	if len(rejected) != 1 {
		t.Fatalf("expected one replay_rejected event, got %d", len(rejected))
	}
	if rejected[0].Metadata["path"] != "/api/v1/me" {
		t.Fatalf("unexpected path metadata %q", rejected[0].Metadata["path"])
	}
}

func TestNonUnauthorizedResponsesPassThrough(t *testing.T) {
	srv := newTestServer(t, apitest.Options{})
	client := loggedInClient(t, srv, testClientOptions{})

	req, _ := client.NewRequest(context.Background(), http.MethodGet, "/missing", nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 to pass through, got %d", resp.StatusCode)
	}
	if srv.Refreshes() != 0 {
		t.Fatal("expected no renewal for a non-401 response")
	}
}

func TestTransportErrorPassesThrough(t *testing.T) {
	srv := newTestServer(t, apitest.Options{})
	client := loggedInClient(t, srv, testClientOptions{})
	srv.Close()

	_, _, err := getMe(context.Background(), client)
	if err == nil {
		t.Fatal("expected transport error")
	}
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrRenewalFailed) {
		t.Fatalf("transport error must not be reclassified: %v", err)
	}
	if !client.Session().IsAuthenticated() {
		t.Fatal("transport error must not touch the session")
	}
}

func TestUnauthorizedWithoutSessionIsTerminal(t *testing.T) {
	srv := newTestServer(t, apitest.Options{})
	client := newTestClient(t, srv, testClientOptions{})

	_, _, err := getMe(context.Background(), client)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if srv.Refreshes() != 0 {
		t.Fatal("expected no renewal without a session")
	}
}

func TestLateUnauthorizedAfterRenewalReplaysDirectly(t *testing.T) {
	srv := newTestServer(t, apitest.Options{})
	client := loggedInClient(t, srv, testClientOptions{})
	ctx := context.Background()

	stale, _ := client.Session().AccessCredential()
	srv.Revoke()
	if err := client.Renew(ctx); err != nil {
		t.Fatalf("renew failed: %v", err)
	}

	req, _ := client.NewRequest(ctx, http.MethodGet, "/me", nil)
	env, err := newEnvelope(req)
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}

	resp, err := client.recoverUnauthorized(ctx, env, stale)
	if err != nil {
		t.Fatalf("expected replay with the current credential, got %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := srv.Refreshes(); got != 1 {
		t.Fatalf("expected no second renewal, got %d renewals", got)
	}
}

func TestLateUnauthorizedAfterFailedRenewalGetsSameError(t *testing.T) {
	srv := newTestServer(t, apitest.Options{})
	client := loggedInClient(t, srv, testClientOptions{})
	ctx := context.Background()

	stale, _ := client.Session().AccessCredential()
	srv.Revoke()
	srv.FailRefresh(true)

	_, _, firstErr := getMe(ctx, client)
	if !errors.Is(firstErr, ErrRenewalFailed) {
		t.Fatalf("expected ErrRenewalFailed, got %v", firstErr)
	}

	req, _ := client.NewRequest(ctx, http.MethodGet, "/me", nil)
	env, _ := newEnvelope(req)
	_, err := client.recoverUnauthorized(ctx, env, stale)
	if !errors.Is(err, ErrRenewalFailed) {
		t.Fatalf("expected the failed renewal's error, got %v", err)
	}
	if got := srv.Refreshes(); got != 1 {
		t.Fatalf("expected one renewal, got %d", got)
	}
}

func TestReplayResendsBody(t *testing.T) {
	srv := newTestServer(t, apitest.Options{})
	client := loggedInClient(t, srv, testClientOptions{})
	srv.Revoke()

	req, _ := client.NewRequest(context.Background(), http.MethodPost, "/echo", strings.NewReader("hello, replay"))
	req.Header.Set("Content-Type", "text/plain")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "hello, replay" {
		t.Fatalf("expected replayed body, got %q", body)
	}
	if srv.Refreshes() != 1 {
		t.Fatalf("expected one renewal, got %d", srv.Refreshes())
	}
}

func TestCallerAuthorizationBypassesRenewal(t *testing.T) {
	srv := newTestServer(t, apitest.Options{})
	client := loggedInClient(t, srv, testClientOptions{})
	srv.Revoke()

	req, _ := client.NewRequest(context.Background(), http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer someone-else")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected raw 401, got %d", resp.StatusCode)
	}
	if srv.Refreshes() != 0 {
		t.Fatal("expected no renewal for caller-authorized request")
	}
}

func TestRenewalDisabledReturnsRawUnauthorized(t *testing.T) {
	srv := newTestServer(t, apitest.Options{})
	client := loggedInClient(t, srv, testClientOptions{
		mutate: func(c *Config) { c.Renewal.Enabled = false },
	})
	srv.Revoke()

	status, _, err := getMe(context.Background(), client)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", status)
	}
	if srv.Refreshes() != 0 {
		t.Fatal("expected no renewal when disabled")
	}
}

func TestRenewalUnavailableWithoutRefreshCredential(t *testing.T) {
	srv := newTestServer(t, apitest.Options{OmitRefreshToken: true})
	client := loggedInClient(t, srv, testClientOptions{
		mutate: func(c *Config) { c.Renewal.RequireRefreshCredential = true },
	})
	srv.Revoke()

	_, _, err := getMe(context.Background(), client)
	if !errors.Is(err, ErrRenewalFailed) {
		t.Fatalf("expected ErrRenewalFailed, got %v", err)
	}
	if srv.Refreshes() != 0 {
		t.Fatal("expected no renewal call")
	}
	if client.Session().IsAuthenticated() {
		t.Fatal("expected session to end")
	}
}

func TestRenewalWithoutRefreshCredentialAttemptedByDefault(t *testing.T) {
	srv := newTestServer(t, apitest.Options{OmitRefreshToken: true})
	client := loggedInClient(t, srv, testClientOptions{})
	srv.Revoke()

	status, _, err := getMe(context.Background(), client)
	if err != nil || status != http.StatusOK {
		t.Fatalf("expected renewed replay, got status=%d err=%v", status, err)
	}
	if srv.Refreshes() != 1 {
		t.Fatalf("expected one renewal, got %d", srv.Refreshes())
	}
}

func TestWaiterCancelDoesNotCancelRenewal(t *testing.T) {
	gate := make(chan struct{})
	srv := newTestServer(t, apitest.Options{RefreshGate: gate})
	client := loggedInClient(t, srv, testClientOptions{})
	stale, _ := client.Session().AccessCredential()
	srv.Revoke()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := getMe(ctx, client)
		done <- err
	}()

	waitFor(t, "the renewal to start", func() bool { return srv.Refreshes() >= 1 })
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter did not return after cancel")
	}

	close(gate)
	waitFor(t, "the detached renewal to land", func() bool {
		current, _ := client.Session().AccessCredential()
		return current != stale
	})
}

func TestHTTPClientRoutesThroughInterceptor(t *testing.T) {
	srv := newTestServer(t, apitest.Options{})
	client := loggedInClient(t, srv, testClientOptions{})
	srv.Revoke()

	resp, err := client.HTTPClient().Get(srv.BaseURL() + "/me")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 after renewal, got %d", resp.StatusCode)
	}
}

func TestEnvelopeDoesNotMutateCallerRequest(t *testing.T) {
	h := newDefaultHeaders()
	h.setAuthorization("abc")

	req := mustRequest(t)
	env, err := newEnvelope(req)
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}

	first := env.attempt(context.Background(), h, "")
	second := env.attempt(context.Background(), h, "xyz")

	if req.Header.Get("Authorization") != "" || req.Header.Get(requestIDHeader) != "" {
		t.Fatal("caller request headers were mutated")
	}
	if first.Header.Get("Authorization") != "Bearer abc" {
		t.Fatalf("unexpected first attempt auth %q", first.Header.Get("Authorization"))
	}
	if second.Header.Get("Authorization") != "Bearer xyz" {
		t.Fatalf("unexpected replay auth %q", second.Header.Get("Authorization"))
	}
	if first.Header.Get(requestIDHeader) == "" || first.Header.Get(requestIDHeader) != second.Header.Get(requestIDHeader) {
		t.Fatal("expected a stable request id across attempts")
	}
}

// startHeldRenewal logs alice in, revokes her credential and sends one request
// whose renewal is held open at gate. It returns once the refresh call has
// reached the server.
func startHeldRenewal(t *testing.T, srv *apitest.Server, client *Client) <-chan meResult {
	t.Helper()
	srv.Revoke()
	results := fireConcurrent(context.Background(), client, 1)
	waitFor(t, "the renewal to start", func() bool { return srv.Refreshes() >= 1 })
	return results
}

func TestFailedRenewalDoesNotEndNewerSession(t *testing.T) {
	gate := make(chan struct{})
	srv := newTestServer(t, apitest.Options{RefreshGate: gate})
	sink := NewChannelSink(64)
	client := loggedInClient(t, srv, testClientOptions{sink: sink})
	srv.AddUser("bob", "bob@example.com", "q")

	results := startHeldRenewal(t, srv, client)
	srv.FailRefresh(true)
	if err := client.Login(context.Background(), LoginInput{Username: "bob", Password: "q"}); err != nil {
		t.Fatalf("bob login failed: %v", err)
	}
	close(gate)

	res := <-results
	if !errors.Is(res.err, ErrRenewalFailed) {
		t.Fatalf("expected ErrRenewalFailed for alice's request, got status=%d err=%v", res.status, res.err)
	}

	id, ok := client.Session().Identity()
	if !ok || id.DisplayName != "bob" || !client.Session().IsAuthenticated() {
		t.Fatalf("expected bob's session to survive, got identity=%+v authenticated=%v", id, client.Session().IsAuthenticated())
	}
	if got := client.MetricsSnapshot().Counters[MetricForcedLogout]; got != 0 {
		t.Fatalf("expected no forced logout, got %d", got)
	}
	if got := eventsOfType(drainEvents(client, sink), EventSessionInvalidated); len(got) != 0 {
		t.Fatalf("expected no session_invalidated event, got %d", len(got))
	}
}

func TestSuccessfulRenewalDoesNotOverwriteNewerSession(t *testing.T) {
	gate := make(chan struct{})
	srv := newTestServer(t, apitest.Options{RefreshGate: gate})
	client := loggedInClient(t, srv, testClientOptions{})
	srv.AddUser("bob", "bob@example.com", "q")

	results := startHeldRenewal(t, srv, client)
	if err := client.Login(context.Background(), LoginInput{Username: "bob", Password: "q"}); err != nil {
		t.Fatalf("bob login failed: %v", err)
	}
	bob, _ := client.Session().AccessCredential()
	close(gate)

	res := <-results
	if !errors.Is(res.err, ErrUnauthorized) {
		t.Fatalf("expected alice's request to fail rather than replay as bob, got status=%d body=%s err=%v", res.status, res.body, res.err)
	}

	current, _ := client.Session().AccessCredential()
	if current != bob {
		t.Fatal("expected the renewal of alice's credential to be discarded")
	}
	if got := client.MetricsSnapshot().Counters[MetricRenewalSuccess]; got != 0 {
		t.Fatalf("expected the discarded renewal not to count as a success, got %d", got)
	}
	// Only alice's first attempt reached a protected route.
	if got := srv.ProtectedCalls(); got != 1 {
		t.Fatalf("expected no replay, got %d protected calls", got)
	}
}

func TestTokenSourceSharesRenewalWithInterceptor(t *testing.T) {
	gate := make(chan struct{})
	clock := newFixedClock(time.Now())
	srv := newTestServer(t, apitest.Options{RefreshGate: gate, Now: clock.Now, AccessTTL: time.Minute})
	client := loggedInClient(t, srv, testClientOptions{clock: clock.Now})
	stale, _ := client.Session().AccessCredential()

	clock.Set(clock.Now().Add(2 * time.Minute))
	srv.Revoke()

	const callers = 8
	tokens := make(chan string, callers)
	errs := make(chan error, callers)
	var started, done sync.WaitGroup
	started.Add(callers)
	done.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer done.Done()
			started.Done()
			tok, err := client.TokenSource(context.Background()).Token()
			if err != nil {
				errs <- err
				return
			}
			tokens <- tok.AccessToken
		}()
	}
	requests := fireConcurrent(context.Background(), client, 4)

	started.Wait()
	waitFor(t, "the renewal to start", func() bool { return srv.Refreshes() >= 1 })
	waitFor(t, "every request to be rejected once", func() bool { return srv.ProtectedCalls() >= 4 })
	time.Sleep(20 * time.Millisecond)
	close(gate)

	done.Wait()
	close(tokens)
	close(errs)
	for err := range errs {
		t.Fatalf("Token failed: %v", err)
	}
	for res := range requests {
		if res.err != nil || res.status != http.StatusOK {
			t.Fatalf("request failed: status=%d err=%v", res.status, res.err)
		}
	}

	current, _ := client.Session().AccessCredential()
	if current == stale {
		t.Fatal("expected the session to hold the renewed credential")
	}
	for tok := range tokens {
		if tok != current {
			t.Fatal("expected every Token caller to receive the renewed credential")
		}
	}
	if got := srv.Refreshes(); got != 1 {
		t.Fatalf("expected exactly one refresh call, got %d", got)
	}
}
