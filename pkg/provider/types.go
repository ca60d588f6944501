package provider

// Type represents the identity provider protocol
type Type string

const (
	TypeOIDC Type = "oidc"
	TypeSAML Type = "saml"
)

// SecurityPolicy controls which protections are enforced for a provider
type SecurityPolicy struct {
	UsePKCE           bool `json:"use_pkce"`
	ValidateNonce     bool `json:"validate_nonce"`
	ValidateSignature bool `json:"validate_signature"`
	RequireEncryption bool `json:"require_encryption"`
	RequireHTTPS      bool `json:"require_https"`
}

// OIDCConfig holds OpenID Connect configuration.
// Either IssuerURL (discovery) or the explicit endpoints must be set.
type OIDCConfig struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"-"` // Never expose secret in JSON
	RedirectURI  string   `json:"redirect_uri"`
	Scopes       []string `json:"scopes"`

	// Discovery
	IssuerURL string `json:"issuer_url,omitempty"`

	// Explicit endpoints, used when discovery is not available
	AuthorizationEndpoint string `json:"authorization_endpoint,omitempty"`
	TokenEndpoint         string `json:"token_endpoint,omitempty"`
	UserinfoEndpoint      string `json:"userinfo_endpoint,omitempty"`
	JWKSEndpoint          string `json:"jwks_endpoint,omitempty"`
}

// SAMLConfig holds SAML 2.0 configuration
type SAMLConfig struct {
	EntityID    string `json:"entity_id"`
	SSOURL      string `json:"sso_url"`
	Certificate string `json:"certificate"` // PEM encoded IdP signing certificate

	// Service provider identity
	SPEntityID string `json:"sp_entity_id"`
	ACSURL     string `json:"acs_url"`

	NameIDFormat string `json:"name_id_format,omitempty"`
}

// AuthProvider represents one configured identity provider.
// Instances are immutable after the registry loads them.
type AuthProvider struct {
	ID             string         `json:"id"`
	Type           Type           `json:"type"`
	DisplayName    string         `json:"display_name"`
	Enabled        bool           `json:"enabled"`
	OrganizationID string         `json:"organization_id,omitempty"`
	OIDC           *OIDCConfig    `json:"oidc,omitempty"`
	SAML           *SAMLConfig    `json:"saml,omitempty"`
	Policy         SecurityPolicy `json:"security_policy"`
}

// SecurityFlags summarizes the enforced protections for health reporting
type SecurityFlags struct {
	ProviderID        string `json:"provider_id"`
	Type              Type   `json:"type"`
	Enabled           bool   `json:"enabled"`
	UsePKCE           bool   `json:"use_pkce"`
	ValidateNonce     bool   `json:"validate_nonce"`
	ValidateSignature bool   `json:"validate_signature"`
}
