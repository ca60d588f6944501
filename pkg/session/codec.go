package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/platinummonkey/gatekeeper/pkg/authn"
)

// Claims is the signed payload of a session token. The token carries
// identity and role claims for cheap reads; anything security-critical
// is cross-checked against the server-side session record.
type Claims struct {
	UserID            string       `json:"user_id"`
	Email             string       `json:"email"`
	DisplayName       string       `json:"display_name,omitempty"`
	OrganizationID    string       `json:"organization_id,omitempty"`
	OrganizationName  string       `json:"organization_name,omitempty"`
	Roles             []authn.Role `json:"roles"`
	Groups            []string     `json:"groups"`
	AuthProviderID    string       `json:"auth_provider_id"`
	SessionID         string       `json:"session_id"`
	DeviceFingerprint string       `json:"device_fingerprint,omitempty"`
	jwt.RegisteredClaims
}

// TokenCodec signs and validates session tokens with HS256
type TokenCodec struct {
	secret   []byte
	lifetime time.Duration
	issuer   string
	now      func() time.Time
}

// NewTokenCodec creates a codec with the given signing secret and token
// lifetime
func NewTokenCodec(secret []byte, lifetime time.Duration) *TokenCodec {
	return &TokenCodec{
		secret:   secret,
		lifetime: lifetime,
		issuer:   "gatekeeper",
		now:      time.Now,
	}
}

// Encode mints a signed token for the user. Every token gets a fresh jti
// so revocation can target it individually.
func (c *TokenCodec) Encode(user *EnterpriseUser) (string, *Claims, error) {
	now := c.now().UTC()
	claims := &Claims{
		UserID:            user.UserID,
		Email:             user.Email,
		DisplayName:       user.DisplayName,
		OrganizationID:    user.OrganizationID,
		OrganizationName:  user.OrganizationName,
		Roles:             user.Roles,
		Groups:            user.Groups,
		AuthProviderID:    user.AuthProviderID,
		SessionID:         user.Session.SessionID,
		DeviceFingerprint: user.Session.DeviceFingerprint,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    c.issuer,
			Subject:   user.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.lifetime)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, claims, nil
}

// Decode validates a token's signature and lifetime and returns its
// claims
func (c *TokenCodec) Decode(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, c.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// DecodeExpired validates only the signature, accepting expired tokens.
// Logout uses it so an expired token can still revoke its session.
func (c *TokenCodec) DecodeExpired(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, c.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

func (c *TokenCodec) keyFunc(token *jwt.Token) (interface{}, error) {
	return c.secret, nil
}
