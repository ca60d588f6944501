// Package sso ties the login stack together. The Service drives the
// begin/complete halves of OIDC and SAML flows, establishes sessions,
// and enforces revocation, device binding, and origin lockout on every
// validation. Handlers expose it over HTTP.
package sso
