package authn

import (
	"encoding/base64"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeeper/pkg/provider"
)

func samlProvider() *provider.AuthProvider {
	return &provider.AuthProvider{
		ID:      "corp-saml",
		Type:    provider.TypeSAML,
		Enabled: true,
		SAML: &provider.SAMLConfig{
			EntityID:   "https://idp.example.com/saml",
			SSOURL:     "https://idp.example.com/saml/sso",
			SPEntityID: "https://app.example.com",
			ACSURL:     "https://app.example.com/acs",
		},
	}
}

func TestNewSAMLClientStrictRequiresCertificate(t *testing.T) {
	_, err := NewSAMLClient(samlProvider(), true, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "certificate")
}

func TestNewSAMLClientPolicyRequiresCertificate(t *testing.T) {
	p := samlProvider()
	p.Policy.ValidateSignature = true
	_, err := NewSAMLClient(p, false, nil)
	require.Error(t, err)
}

func TestNewSAMLClientRejectsBadCertificate(t *testing.T) {
	p := samlProvider()
	p.SAML.Certificate = "not a pem block"
	_, err := NewSAMLClient(p, false, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PEM")
}

func TestSAMLAuthorizationURL(t *testing.T) {
	client, err := NewSAMLClient(samlProvider(), false, nil)
	require.NoError(t, err)

	params := &SecurityParameters{
		State:      "relay-state-value",
		ProviderID: "corp-saml",
		IssuedAt:   time.Now(),
	}
	authURL, err := client.AuthorizationURL(params)
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, "idp.example.com", parsed.Host)
	assert.Equal(t, "relay-state-value", parsed.Query().Get("RelayState"))
	assert.NotEmpty(t, parsed.Query().Get("SAMLRequest"))
}

func TestProcessAssertionRejectsGarbage(t *testing.T) {
	client, err := NewSAMLClient(samlProvider(), false, nil)
	require.NoError(t, err)

	params := &SecurityParameters{
		State:      "s",
		ProviderID: "corp-saml",
		IssuedAt:   time.Now(),
	}

	// Not base64 at all.
	_, err = client.ProcessAssertion("%%%not-base64%%%", params, Origin{}, false)
	assert.ErrorIs(t, err, ErrNoAssertion)

	// Base64 but no assertion inside.
	empty := base64.StdEncoding.EncodeToString([]byte(`<samlp:Response xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol"></samlp:Response>`))
	_, err = client.ProcessAssertion(empty, params, Origin{}, false)
	assert.ErrorIs(t, err, ErrNoAssertion)
}

func TestProcessAssertionExpiredParams(t *testing.T) {
	client, err := NewSAMLClient(samlProvider(), false, nil)
	require.NoError(t, err)

	params := &SecurityParameters{
		State:      "s",
		ProviderID: "corp-saml",
		IssuedAt:   time.Now().Add(-ParameterTTL - time.Second),
	}
	_, err = client.ProcessAssertion("ignored", params, Origin{}, false)
	assert.ErrorIs(t, err, ErrSecurityParamsExpired)
}

func TestNormalizeAttributeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"email", "email"},
		{"Email", "email"},
		{"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/emailaddress", "emailaddress"},
		{"urn:oid:1.2.840.113549.1.9.1", "1.2.840.113549.1.9.1"},
		{"member-of", "memberof"},
		{"member_of", "memberof"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeAttributeName(tt.in), "input %q", tt.in)
	}
}
