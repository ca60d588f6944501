// Package audit records the security event trail: login attempts,
// session validations, revocations, and lockouts.
package audit
