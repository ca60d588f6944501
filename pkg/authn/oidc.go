package authn

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/provider"
)

// OIDCClient builds authorization URLs and exchanges authorization codes
// for one OIDC provider. Discovery and JWKS documents are fetched and
// cached by go-oidc; concurrent refreshes are tolerated rather than
// serialized.
type OIDCClient struct {
	provider *provider.AuthProvider
	remote   *oidc.Provider
	verifier *oidc.IDTokenVerifier
	oauth    *oauth2.Config
	timeout  time.Duration
	logger   *observability.Logger
}

// NewOIDCClient creates a client for the given provider. Explicit
// authorization and token endpoints take precedence; otherwise the
// endpoints come from issuer discovery. In explicit-endpoint mode JWKS
// validation needs a key-set URL, and the issuer URL (when configured)
// is still enforced against the ID token's iss claim.
func NewOIDCClient(ctx context.Context, p *provider.AuthProvider, timeout time.Duration, logger *observability.Logger) (*OIDCClient, error) {
	if p.OIDC == nil {
		return nil, fmt.Errorf("provider %q has no OIDC config", p.ID)
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	cfg := p.OIDC

	client := &OIDCClient{
		provider: p,
		timeout:  timeout,
		logger:   logger.WithField("provider", p.ID),
	}

	var endpoint oauth2.Endpoint
	switch {
	case cfg.AuthorizationEndpoint != "" && cfg.TokenEndpoint != "":
		endpoint = oauth2.Endpoint{
			AuthURL:  cfg.AuthorizationEndpoint,
			TokenURL: cfg.TokenEndpoint,
		}
		if cfg.JWKSEndpoint != "" {
			skipIssuer := cfg.IssuerURL == ""
			if skipIssuer {
				client.logger.Warn("no issuer_url configured, ID token issuer claim will not be validated")
			}
			keySet := oidc.NewRemoteKeySet(ctx, cfg.JWKSEndpoint)
			client.verifier = oidc.NewVerifier(cfg.IssuerURL, keySet, &oidc.Config{
				ClientID:        cfg.ClientID,
				SkipIssuerCheck: skipIssuer,
			})
		}
	case cfg.IssuerURL != "":
		remote, err := oidc.NewProvider(ctx, cfg.IssuerURL)
		if err != nil {
			return nil, fmt.Errorf("failed to discover OIDC provider %q: %w", p.ID, err)
		}
		client.remote = remote
		client.verifier = remote.Verifier(&oidc.Config{ClientID: cfg.ClientID})
		endpoint = remote.Endpoint()
	default:
		return nil, fmt.Errorf("provider %q has neither issuer_url nor explicit endpoints", p.ID)
	}

	client.oauth = &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     endpoint,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       cfg.Scopes,
	}

	return client, nil
}

// AuthorizationURL composes the redirect URL for the authorization
// endpoint, carrying state, nonce, and the PKCE challenge when enabled
func (c *OIDCClient) AuthorizationURL(params *SecurityParameters) string {
	opts := []oauth2.AuthCodeOption{oidc.Nonce(params.Nonce)}
	if params.CodeVerifier != "" {
		opts = append(opts, oauth2.S256ChallengeOption(params.CodeVerifier))
	}
	return c.oauth.AuthCodeURL(params.State, opts...)
}

// Exchange validates the consumed login parameters, exchanges the
// authorization code, verifies any returned ID token, and fetches user
// info. bindOrigin requires the completing request to come from the
// address that began the flow.
func (c *OIDCClient) Exchange(ctx context.Context, code string, params *SecurityParameters, origin Origin, bindOrigin bool) (*Identity, error) {
	if err := ValidateParameters(params, c.provider.ID, origin, bindOrigin); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var opts []oauth2.AuthCodeOption
	if params.CodeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(params.CodeVerifier))
	}

	token, err := c.oauth.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenExchangeFailed, err)
	}

	identity := &Identity{
		Attributes:   make(map[string]string),
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}

	if rawIDToken, ok := token.Extra("id_token").(string); ok && rawIDToken != "" {
		if c.provider.Policy.ValidateSignature {
			if c.verifier == nil {
				return nil, fmt.Errorf("%w: no key set configured for signature validation", ErrInvalidIDToken)
			}
			idToken, err := c.verifier.Verify(ctx, rawIDToken)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidIDToken, err)
			}
			if c.provider.Policy.ValidateNonce && idToken.Nonce != params.Nonce {
				return nil, fmt.Errorf("%w: nonce mismatch", ErrInvalidIDToken)
			}

			var claims map[string]interface{}
			if err := idToken.Claims(&claims); err != nil {
				return nil, fmt.Errorf("%w: failed to parse claims: %v", ErrInvalidIDToken, err)
			}
			c.applyClaims(identity, claims)
			if identity.Subject == "" {
				identity.Subject = idToken.Subject
			}
		} else {
			c.logger.Warn("ID token signature validation disabled by provider policy")
		}
	}

	userInfo, err := c.fetchUserInfo(ctx, token)
	if err != nil {
		return nil, err
	}
	c.applyClaims(identity, userInfo)

	if identity.Email == "" {
		return nil, fmt.Errorf("%w: provider returned no email", ErrIncompleteUserInfo)
	}
	if identity.Subject == "" {
		identity.Subject = identity.Email
	}

	return identity, nil
}

// applyClaims folds a claim set into the identity, never overwriting a
// field already populated from a verified ID token
func (c *OIDCClient) applyClaims(identity *Identity, claims map[string]interface{}) {
	for k, v := range claims {
		if str, ok := v.(string); ok {
			if _, exists := identity.Attributes[k]; !exists {
				identity.Attributes[k] = str
			}
		}
	}

	if identity.Subject == "" {
		identity.Subject = getStringValue(claims, "sub")
	}
	if identity.Email == "" {
		identity.Email = getStringValue(claims, "email")
	}
	if identity.DisplayName == "" {
		identity.DisplayName = getStringValue(claims, "name")
	}
	if len(identity.Groups) == 0 {
		identity.Groups = getArrayValue(claims, "groups")
	}
	if len(identity.Roles) == 0 {
		identity.Roles = getArrayValue(claims, "roles")
	}
}

// fetchUserInfo retrieves the userinfo document, via go-oidc when the
// provider was discovered or a plain authorized GET otherwise
func (c *OIDCClient) fetchUserInfo(ctx context.Context, token *oauth2.Token) (map[string]interface{}, error) {
	if c.remote != nil {
		userInfo, err := c.remote.UserInfo(ctx, oauth2.StaticTokenSource(token))
		if err != nil {
			return nil, fmt.Errorf("%w: userinfo fetch failed: %v", ErrIncompleteUserInfo, err)
		}
		var claims map[string]interface{}
		if err := userInfo.Claims(&claims); err != nil {
			return nil, fmt.Errorf("%w: failed to parse userinfo: %v", ErrIncompleteUserInfo, err)
		}
		return claims, nil
	}

	endpoint := c.provider.OIDC.UserinfoEndpoint
	if endpoint == "" {
		return nil, fmt.Errorf("%w: no userinfo endpoint configured", ErrIncompleteUserInfo)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIncompleteUserInfo, err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: userinfo fetch failed: %v", ErrIncompleteUserInfo, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: userinfo endpoint returned %d", ErrIncompleteUserInfo, resp.StatusCode)
	}

	var claims map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, fmt.Errorf("%w: failed to parse userinfo: %v", ErrIncompleteUserInfo, err)
	}
	return claims, nil
}
