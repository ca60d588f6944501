// Package session owns everything that happens after a login completes:
// minting and validating HS256 session tokens, the server-side session
// record, device fingerprints, token revocation, and sealed storage of
// upstream provider secrets.
//
// The token a client holds is a reference, not the session itself.
// Validation always consults the Store, so deleting the record kills
// the session immediately regardless of the token's remaining lifetime.
package session
