// Package authn implements the protocol half of login: per-attempt
// security parameters (state, nonce, PKCE verifier), the OIDC code
// exchange, and SAML assertion processing.
//
// Both protocol clients produce a provider-agnostic Identity; session
// minting and persistence live in pkg/session and pkg/sso. Parameters
// are stored between the begin and complete halves of a flow through a
// ParameterStore, whose Consume is single-use so a state value can never
// be replayed.
package authn
