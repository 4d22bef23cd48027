package authpipe

import (
	"context"

	"golang.org/x/oauth2"
)

type tokenSource struct {
	ctx    context.Context
	client *Client
}

// TokenSource adapts the client to [oauth2.TokenSource] so libraries that
// accept one (oauth2.NewClient, gRPC per-RPC credentials) share the same
// renewal. Expiry is read from the token's exp claim.
func (c *Client) TokenSource(ctx context.Context) oauth2.TokenSource {
	if ctx == nil {
		ctx = context.Background()
	}
	return tokenSource{ctx: ctx, client: c}
}

func (s tokenSource) Token() (*oauth2.Token, error) {
	access, err := s.client.AwaitCredential(s.ctx)
	if err != nil {
		return nil, err
	}
	tok := &oauth2.Token{AccessToken: access, TokenType: "Bearer"}
	if exp, err := s.client.checker.Expiry(access); err == nil {
		tok.Expiry = exp
	}
	return tok, nil
}
