package provider

import (
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

var (
	// ErrProviderNotFound is returned when no provider has the given ID
	ErrProviderNotFound = errors.New("provider not found")

	// ErrProviderDisabled is returned for a configured but disabled provider
	ErrProviderDisabled = errors.New("provider is disabled")

	// ErrCapabilityUnavailable is returned when the provider's protocol
	// support is compiled in but switched off for this deployment
	ErrCapabilityUnavailable = errors.New("provider capability unavailable")

	// ErrInvalidConfig wraps load-time validation failures
	ErrInvalidConfig = errors.New("invalid provider configuration")
)

// minClientSecretBytes is the minimum accepted client secret length
const minClientSecretBytes = 32

// Options configures registry loading behavior
type Options struct {
	// Strict makes every validation problem fatal. Non-strict mode logs a
	// warning and substitutes an ephemeral secret for weak client secrets.
	Strict bool

	// SAMLEnabled toggles the SAML capability for this deployment
	SAMLEnabled bool

	Logger *observability.Logger
}

// Registry holds the validated, immutable set of identity providers.
// It is built once at startup and safe for concurrent reads without locking.
type Registry struct {
	providers   map[string]*AuthProvider
	samlEnabled bool
}

// Load validates the given provider configurations and builds a registry.
// In strict mode any invalid provider aborts the load.
func Load(configs []*AuthProvider, opts Options) (*Registry, error) {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	providers := make(map[string]*AuthProvider, len(configs))
	for _, p := range configs {
		if p.ID == "" {
			return nil, fmt.Errorf("%w: provider with empty id", ErrInvalidConfig)
		}
		if _, dup := providers[p.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate provider id %q", ErrInvalidConfig, p.ID)
		}

		if p.Type == TypeSAML && !opts.SAMLEnabled {
			if opts.Strict {
				return nil, fmt.Errorf("%w: provider %q requires SAML support", ErrCapabilityUnavailable, p.ID)
			}
			logger.Warnf("SAML capability disabled, provider %q will be unavailable", p.ID)
		}

		if err := validate(p, opts.Strict, logger); err != nil {
			if opts.Strict {
				return nil, err
			}
			logger.WithError(err).Warnf("provider %q failed validation and will be unavailable", p.ID)
			continue
		}

		providers[p.ID] = p
	}

	return &Registry{
		providers:   providers,
		samlEnabled: opts.SAMLEnabled,
	}, nil
}

// Get returns the provider with the given ID if it is usable for login
func (r *Registry) Get(id string) (*AuthProvider, error) {
	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotFound, id)
	}
	if p.Type == TypeSAML && !r.samlEnabled {
		return nil, fmt.Errorf("%w: SAML support is disabled", ErrCapabilityUnavailable)
	}
	if !p.Enabled {
		return nil, fmt.Errorf("%w: %q", ErrProviderDisabled, id)
	}
	return p, nil
}

// Known reports whether a provider with the given ID was loaded, usable
// or not. Callers use it to keep attacker-chosen IDs out of metric labels.
func (r *Registry) Known(id string) bool {
	_, ok := r.providers[id]
	return ok
}

// List returns all loaded providers ordered by ID, including disabled ones
func (r *Registry) List() []*AuthProvider {
	out := make([]*AuthProvider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SecurityFlags reports the enforced protections per provider
func (r *Registry) SecurityFlags() []SecurityFlags {
	flags := make([]SecurityFlags, 0, len(r.providers))
	for _, p := range r.List() {
		flags = append(flags, SecurityFlags{
			ProviderID:        p.ID,
			Type:              p.Type,
			Enabled:           p.Enabled,
			UsePKCE:           p.Policy.UsePKCE,
			ValidateNonce:     p.Policy.ValidateNonce,
			ValidateSignature: p.Policy.ValidateSignature,
		})
	}
	return flags
}

// validate checks one provider's configuration. In non-strict mode a weak or
// missing client secret is replaced by an ephemeral generated one.
func validate(p *AuthProvider, strict bool, logger *observability.Logger) error {
	switch p.Type {
	case TypeOIDC:
		return validateOIDC(p, strict, logger)
	case TypeSAML:
		return validateSAML(p)
	default:
		return fmt.Errorf("%w: provider %q has unsupported type %q", ErrInvalidConfig, p.ID, p.Type)
	}
}

func validateOIDC(p *AuthProvider, strict bool, logger *observability.Logger) error {
	cfg := p.OIDC
	if cfg == nil {
		return fmt.Errorf("%w: provider %q: oidc config is required", ErrInvalidConfig, p.ID)
	}
	if cfg.ClientID == "" {
		return fmt.Errorf("%w: provider %q: client_id is required", ErrInvalidConfig, p.ID)
	}
	if cfg.RedirectURI == "" {
		return fmt.Errorf("%w: provider %q: redirect_uri is required", ErrInvalidConfig, p.ID)
	}
	if len(cfg.Scopes) == 0 {
		return fmt.Errorf("%w: provider %q: scopes are required", ErrInvalidConfig, p.ID)
	}
	hasOpenID := false
	for _, scope := range cfg.Scopes {
		if scope == "openid" {
			hasOpenID = true
			break
		}
	}
	if !hasOpenID {
		return fmt.Errorf("%w: provider %q: 'openid' scope is required", ErrInvalidConfig, p.ID)
	}
	if cfg.IssuerURL == "" && (cfg.AuthorizationEndpoint == "" || cfg.TokenEndpoint == "") {
		return fmt.Errorf("%w: provider %q: issuer_url or explicit endpoints are required", ErrInvalidConfig, p.ID)
	}

	if len(cfg.ClientSecret) < minClientSecretBytes {
		if strict {
			return fmt.Errorf("%w: provider %q: client secret shorter than %d bytes", ErrInvalidConfig, p.ID, minClientSecretBytes)
		}
		logger.Warnf("provider %q: weak client secret, substituting an ephemeral one", p.ID)
		cfg.ClientSecret = ephemeralSecret()
	}

	if p.Policy.RequireHTTPS || strict {
		u, err := url.Parse(cfg.RedirectURI)
		if err != nil {
			return fmt.Errorf("%w: provider %q: invalid redirect_uri: %v", ErrInvalidConfig, p.ID, err)
		}
		if u.Scheme != "https" {
			return fmt.Errorf("%w: provider %q: redirect_uri must use https", ErrInvalidConfig, p.ID)
		}
	}

	return nil
}

func validateSAML(p *AuthProvider) error {
	cfg := p.SAML
	if cfg == nil {
		return fmt.Errorf("%w: provider %q: saml config is required", ErrInvalidConfig, p.ID)
	}
	if cfg.EntityID == "" {
		return fmt.Errorf("%w: provider %q: entity_id is required", ErrInvalidConfig, p.ID)
	}
	if cfg.SSOURL == "" {
		return fmt.Errorf("%w: provider %q: sso_url is required", ErrInvalidConfig, p.ID)
	}
	if cfg.SPEntityID == "" {
		return fmt.Errorf("%w: provider %q: sp_entity_id is required", ErrInvalidConfig, p.ID)
	}
	if cfg.ACSURL == "" {
		return fmt.Errorf("%w: provider %q: acs_url is required", ErrInvalidConfig, p.ID)
	}

	// Signature validation without a parseable certificate cannot work.
	if p.Policy.ValidateSignature {
		if strings.TrimSpace(cfg.Certificate) == "" {
			return fmt.Errorf("%w: provider %q: certificate is required when validate_signature is set", ErrInvalidConfig, p.ID)
		}
		block, _ := pem.Decode([]byte(cfg.Certificate))
		if block == nil {
			return fmt.Errorf("%w: provider %q: certificate is not valid PEM", ErrInvalidConfig, p.ID)
		}
		if _, err := x509.ParseCertificate(block.Bytes); err != nil {
			return fmt.Errorf("%w: provider %q: invalid certificate: %v", ErrInvalidConfig, p.ID, err)
		}
	}

	return nil
}

// ephemeralSecret generates a random per-process secret for non-strict mode
func ephemeralSecret() string {
	b := make([]byte, minClientSecretBytes)
	rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
