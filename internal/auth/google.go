package auth

import (
	"context"
	"errors"
	"fmt"

	verifier "github.com/futurenda/google-auth-id-token-verifier"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/sakif/campus-companion/internal/model"
)

// ErrNoIDToken is returned when Google's token response carries no id_token.
var ErrNoIDToken = errors.New("auth: token response has no id_token")

// GoogleProvider wraps golang.org/x/oauth2 for the Google Authorization Code
// flow and verifies the OpenID Connect ID token Google returns.
//
// Two entry points:
//   - browser clients go through AuthURL and Exchange (redirect + callback)
//   - mobile clients that already hold an ID token call VerifyIDToken
//
// Both end in a model.SocialProfile built from the verified token's claims.
type GoogleProvider struct {
	config   *oauth2.Config
	clientID string

	// exchange and verify are swapped out in tests.
	exchange func(ctx context.Context, code string) (*oauth2.Token, error)
	verify   func(idToken string) (model.SocialProfile, error)
}

// NewGoogleProvider creates a GoogleProvider.
//
// callbackURL must match an authorised redirect URI on the OAuth client.
// Example: "http://localhost:8080/auth/google/callback"
func NewGoogleProvider(clientID, clientSecret, callbackURL string) *GoogleProvider {
	p := &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		clientID: clientID,
	}
	p.exchange = func(ctx context.Context, code string) (*oauth2.Token, error) {
		return p.config.Exchange(ctx, code)
	}
	p.verify = p.verifyWithGoogle
	return p
}

// AuthURL returns the URL to redirect the user to for authorization.
// state is echoed back on the callback and checked against a cookie.
func (p *GoogleProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades the authorization code for tokens and returns the profile
// carried by the verified ID token.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (model.SocialProfile, error) {
	tok, err := p.exchange(ctx, code)
	if err != nil {
		return model.SocialProfile{}, fmt.Errorf("auth: exchanging OAuth code: %w", err)
	}

	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		return model.SocialProfile{}, ErrNoIDToken
	}

	return p.VerifyIDToken(idToken)
}

// VerifyIDToken checks the token's signature, expiry and audience and
// returns the profile in its claims.
func (p *GoogleProvider) VerifyIDToken(idToken string) (model.SocialProfile, error) {
	profile, err := p.verify(idToken)
	if err != nil {
		return model.SocialProfile{}, err
	}
	if profile.Subject == "" {
		return model.SocialProfile{}, fmt.Errorf("auth: ID token has no subject")
	}
	return profile, nil
}

func (p *GoogleProvider) verifyWithGoogle(idToken string) (model.SocialProfile, error) {
	v := verifier.Verifier{}
	if err := v.VerifyIDToken(idToken, []string{p.clientID}); err != nil {
		return model.SocialProfile{}, fmt.Errorf("auth: invalid Google ID token: %w", err)
	}

	claims, err := verifier.Decode(idToken)
	if err != nil {
		return model.SocialProfile{}, fmt.Errorf("auth: decoding Google ID token: %w", err)
	}

	return model.SocialProfile{
		Subject: claims.Sub,
		Email:   claims.Email,
		Name:    claims.Name,
	}, nil
}
