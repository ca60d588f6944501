package authn

import "errors"

var (
	// ErrSecurityParamsExpired is returned when login parameters are older
	// than ParameterTTL or have already been consumed
	ErrSecurityParamsExpired = errors.New("security parameters expired")

	// ErrSecurityParamsMismatch is returned when login parameters do not
	// match the provider or origin completing the flow
	ErrSecurityParamsMismatch = errors.New("security parameters mismatch")

	// ErrTokenExchangeFailed is returned when the code exchange with the
	// identity provider fails
	ErrTokenExchangeFailed = errors.New("token exchange failed")

	// ErrInvalidIDToken is returned when an ID token fails signature,
	// issuer, audience, or nonce validation
	ErrInvalidIDToken = errors.New("invalid ID token")

	// ErrIncompleteUserInfo is returned when the provider does not supply
	// the minimum identity fields (email)
	ErrIncompleteUserInfo = errors.New("incomplete user info")

	// ErrNoAssertion is returned when a SAML response carries no assertion
	ErrNoAssertion = errors.New("no SAML assertion")

	// ErrSignatureInvalid is returned when a SAML assertion signature does
	// not verify against the configured certificate
	ErrSignatureInvalid = errors.New("SAML signature invalid")

	// ErrInvalidAssertion is returned when an assertion is outside its
	// validity window or addressed to a different audience
	ErrInvalidAssertion = errors.New("invalid SAML assertion")

	// ErrMissingSubject is returned when an assertion has no usable NameID
	ErrMissingSubject = errors.New("missing SAML subject")
)
