// Package provider holds the identity provider registry.
//
// Providers are loaded and validated once at startup and the registry is
// immutable afterwards, so it needs no locking. Strict mode (production)
// refuses weak client secrets, non-HTTPS redirect URIs, and missing
// required fields outright; non-strict mode logs a warning and either
// skips the provider or substitutes an ephemeral secret.
//
// The SAML capability is a deployment-level switch: when off, SAML
// providers fail loudly at load or lookup rather than silently no-oping.
package provider
