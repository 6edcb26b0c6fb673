package goSession

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/MrEthical07/goSession/credential"
)

type sessionTokenSource struct {
	ctx    context.Context
	client *Client
}

// TokenSource exposes the session as an oauth2.TokenSource so libraries built
// on golang.org/x/oauth2 can share it. Token returns the current access
// credential, renewing it first when it is no longer live. That renewal is the
// one the interceptor shares: concurrent callers and in-flight 401s cause a
// single refresh call, and a failure ends the session. ctx bounds the wait.
func (c *Client) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &sessionTokenSource{ctx: ctx, client: c}
}

func (s *sessionTokenSource) Token() (*oauth2.Token, error) {
	c := s.client
	if c == nil || c.session == nil {
		return nil, ErrClientNotReady
	}

	access, ok := c.session.AccessCredential()
	if !ok {
		return nil, ErrUnauthorized
	}
	if !credential.IsLive(access, c.now()) {
		if !c.config.Renewal.Enabled {
			return nil, ErrUnauthorized
		}
		renewed, err := c.awaitRenewal(s.ctx, access, uuid.NewString())
		if err != nil {
			return nil, err
		}
		access = renewed
	}

	p, err := credential.Decode(access)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	refresh, _ := c.session.RefreshCredential()
	return &oauth2.Token{
		AccessToken:  access,
		TokenType:    "Bearer",
		RefreshToken: refresh,
		Expiry:       p.ExpiresAt,
	}, nil
}
