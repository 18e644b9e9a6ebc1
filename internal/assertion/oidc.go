package assertion

import (
	"context"
	"fmt"
	"strconv"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/idbridge/idbridge/internal/config"
	"github.com/idbridge/idbridge/internal/reconcile"
)

// OIDCSource implements the OpenID Connect authorization code flow and
// flattens the verified ID token claims into an attribute bag.
type OIDCSource struct {
	name         string
	provider     *oidc.Provider
	oauth2Config oauth2.Config
	verifier     *oidc.IDTokenVerifier
	logoutURL    string
}

// NewOIDCSource creates a new OIDC source
func NewOIDCSource(cfg config.SourceConfig) (*OIDCSource, error) {
	issuer, ok := cfg.Config["issuer"]
	if !ok {
		return nil, fmt.Errorf("issuer not configured")
	}

	clientID, ok := cfg.Config["client_id"]
	if !ok {
		return nil, fmt.Errorf("client_id not configured")
	}

	clientSecret, ok := cfg.Config["client_secret"]
	if !ok {
		return nil, fmt.Errorf("client_secret not configured")
	}

	redirectURL, ok := cfg.Config["redirect_url"]
	if !ok {
		return nil, fmt.Errorf("redirect_url not configured")
	}

	ctx := context.Background()
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	oauth2Config := oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email", "groups"},
	}

	return &OIDCSource{
		name:         cfg.Name,
		provider:     provider,
		oauth2Config: oauth2Config,
		verifier:     provider.Verifier(&oidc.Config{ClientID: clientID}),
		logoutURL:    cfg.Config["logout_url"],
	}, nil
}

// Name returns the source name
func (s *OIDCSource) Name() string { return s.name }

// Type returns the source type
func (s *OIDCSource) Type() string { return "oidc" }

// AuthCodeURL returns the provider authorization URL for the given state
func (s *OIDCSource) AuthCodeURL(state string) string {
	return s.oauth2Config.AuthCodeURL(state)
}

// LogoutURL returns the configured end-session URL, if any
func (s *OIDCSource) LogoutURL() string {
	return s.logoutURL
}

// Exchange redeems an authorization code, verifies the ID token, and
// returns the claims as an attribute bag.
func (s *OIDCSource) Exchange(ctx context.Context, code string) (reconcile.AttributeBag, error) {
	token, err := s.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken == "" {
		return nil, fmt.Errorf("no id_token in response")
	}

	idToken, err := s.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify id_token: %w", err)
	}

	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}

	return flattenClaims(claims), nil
}

// flattenClaims converts ID token claims into an attribute bag. Lists
// become multi-valued attributes; scalars become single values. Nested
// objects are skipped.
func flattenClaims(claims map[string]interface{}) reconcile.AttributeBag {
	bag := make(reconcile.AttributeBag, len(claims))
	for name, value := range claims {
		switch v := value.(type) {
		case string:
			bag[name] = []string{v}
		case bool:
			bag[name] = []string{strconv.FormatBool(v)}
		case float64:
			bag[name] = []string{strconv.FormatFloat(v, 'f', -1, 64)}
		case []interface{}:
			var values []string
			for _, item := range v {
				if s, ok := item.(string); ok {
					values = append(values, s)
				}
			}
			if len(values) > 0 {
				bag[name] = values
			}
		}
	}
	return bag
}
