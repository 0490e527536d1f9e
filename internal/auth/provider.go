package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// IdentityProvider is the external sign-in collaborator.
type IdentityProvider interface {
	AuthCodeURL(state, nonce string) string
	Exchange(ctx context.Context, code, nonce string) (ProviderIdentity, error)
}

// OIDCConfig describes the relying party registration.
type OIDCConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// OIDCProvider implements IdentityProvider against an OpenID Connect issuer.
type OIDCProvider struct {
	verifier *oidc.IDTokenVerifier
	oauth    oauth2.Config
}

var errNoIDToken = errors.New("auth: no id_token in token response")

// NewOIDCProvider performs issuer discovery and returns a provider.
func NewOIDCProvider(ctx context.Context, cfg OIDCConfig) (*OIDCProvider, error) {
	if cfg.IssuerURL == "" || cfg.ClientID == "" {
		return nil, errors.New("auth: oidc issuer and client id are required")
	}
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("auth: oidc discovery: %w", err)
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"profile", "email"}
	}
	if !containsScope(scopes, oidc.ScopeOpenID) {
		scopes = append([]string{oidc.ScopeOpenID}, scopes...)
	}
	return &OIDCProvider{
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       scopes,
		},
	}, nil
}

// AuthCodeURL builds the redirect to the issuer's authorization endpoint.
func (p *OIDCProvider) AuthCodeURL(state, nonce string) string {
	return p.oauth.AuthCodeURL(state, oidc.Nonce(nonce))
}

type idClaims struct {
	Email         string `json:"email"`
	EmailVerified *bool  `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// Exchange trades the authorization code for a verified identity.
func (p *OIDCProvider) Exchange(ctx context.Context, code, nonce string) (ProviderIdentity, error) {
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return ProviderIdentity{}, fmt.Errorf("auth: code exchange: %w", err)
	}
	raw, ok := token.Extra("id_token").(string)
	if !ok || raw == "" {
		return ProviderIdentity{}, errNoIDToken
	}
	idToken, err := p.verifier.Verify(ctx, raw)
	if err != nil {
		return ProviderIdentity{}, fmt.Errorf("auth: verify id_token: %w", err)
	}
	if nonce != "" && idToken.Nonce != nonce {
		return ProviderIdentity{}, errors.New("auth: id_token nonce mismatch")
	}
	var claims idClaims
	if err := idToken.Claims(&claims); err != nil {
		return ProviderIdentity{}, fmt.Errorf("auth: decode claims: %w", err)
	}
	if claims.EmailVerified != nil && !*claims.EmailVerified {
		return ProviderIdentity{}, errors.New("auth: email not verified")
	}
	return ProviderIdentity{
		Subject: idToken.Subject,
		Email:   strings.ToLower(strings.TrimSpace(claims.Email)),
		Name:    claims.Name,
		Picture: claims.Picture,
	}, nil
}

func containsScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}
