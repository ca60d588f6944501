package authn

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/gatekeeper/pkg/provider"
)

// ParameterTTL is the maximum lifetime of a set of login parameters.
// An older set is always rejected regardless of how it was stored.
const ParameterTTL = 10 * time.Minute

// stateBytes yields 256 bits of entropy, 43 base64url characters
const stateBytes = 32

// SecurityParameters are the ephemeral, single-use secrets for one login
// attempt. They are consumed exactly once when the flow completes.
type SecurityParameters struct {
	State         string    `json:"state"`
	Nonce         string    `json:"nonce"`
	CodeVerifier  string    `json:"code_verifier,omitempty"` // OIDC PKCE only
	ProviderID    string    `json:"provider_id"`
	OriginAddress string    `json:"origin_address"`
	OriginAgent   string    `json:"origin_agent"`
	IssuedAt      time.Time `json:"issued_at"`
}

// Expired reports whether the parameters are past their lifetime
func (p *SecurityParameters) Expired(now time.Time) bool {
	return now.Sub(p.IssuedAt) > ParameterTTL
}

// CodeChallenge derives the S256 PKCE challenge for the verifier
func (p *SecurityParameters) CodeChallenge() string {
	if p.CodeVerifier == "" {
		return ""
	}
	return oauth2.S256ChallengeFromVerifier(p.CodeVerifier)
}

// ParameterFactory creates security parameters for login attempts
type ParameterFactory struct {
	now func() time.Time
}

// NewParameterFactory creates a new parameter factory
func NewParameterFactory() *ParameterFactory {
	return &ParameterFactory{now: time.Now}
}

// Create generates fresh state, nonce, and (for OIDC providers with PKCE
// enabled) a code verifier for one login attempt
func (f *ParameterFactory) Create(p *provider.AuthProvider, origin Origin) (*SecurityParameters, error) {
	state, err := randomToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}
	nonce, err := randomToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	params := &SecurityParameters{
		State:         state,
		Nonce:         nonce,
		ProviderID:    p.ID,
		OriginAddress: origin.Address,
		OriginAgent:   origin.Agent,
		IssuedAt:      f.now().UTC(),
	}

	if p.Type == provider.TypeOIDC && p.Policy.UsePKCE {
		params.CodeVerifier = oauth2.GenerateVerifier()
	}

	return params, nil
}

// randomToken returns 256 bits of randomness, base64url encoded
func randomToken() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ValidateParameters enforces freshness and consistency of consumed login
// parameters against the request completing the flow. When bindOrigin is
// set, the completing request must come from the address that started it.
func ValidateParameters(params *SecurityParameters, providerID string, origin Origin, bindOrigin bool) error {
	if params == nil {
		return ErrSecurityParamsExpired
	}
	if params.Expired(time.Now()) {
		return ErrSecurityParamsExpired
	}
	if params.ProviderID != providerID {
		return fmt.Errorf("%w: provider %q does not match login provider %q", ErrSecurityParamsMismatch, providerID, params.ProviderID)
	}
	if bindOrigin && params.OriginAddress != origin.Address {
		return fmt.Errorf("%w: origin address changed mid-flow", ErrSecurityParamsMismatch)
	}
	return nil
}

// ParameterStore persists security parameters between the begin and
// complete halves of a login flow. Consume is single-use: a second call
// with the same handle fails.
type ParameterStore interface {
	Put(ctx context.Context, params *SecurityParameters) (handle string, err error)
	Consume(ctx context.Context, handle string) (*SecurityParameters, error)
	Close() error
}

// MemoryParameterStore keeps parameters in process memory
type MemoryParameterStore struct {
	mu     sync.Mutex
	ttl    time.Duration
	params map[string]*SecurityParameters
	now    func() time.Time
}

// NewMemoryParameterStore creates an in-memory parameter store
func NewMemoryParameterStore(ttl time.Duration) *MemoryParameterStore {
	if ttl <= 0 || ttl > ParameterTTL {
		ttl = ParameterTTL
	}
	return &MemoryParameterStore{
		ttl:    ttl,
		params: make(map[string]*SecurityParameters),
		now:    time.Now,
	}
}

// Put stores the parameters keyed by their state value
func (s *MemoryParameterStore) Put(ctx context.Context, params *SecurityParameters) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.params[params.State] = params
	return params.State, nil
}

// Consume removes and returns the parameters for the handle. Expired or
// already-consumed handles fail with ErrSecurityParamsExpired.
func (s *MemoryParameterStore) Consume(ctx context.Context, handle string) (*SecurityParameters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	params, ok := s.params[handle]
	if !ok {
		return nil, ErrSecurityParamsExpired
	}
	delete(s.params, handle)
	if s.now().Sub(params.IssuedAt) > s.ttl {
		return nil, ErrSecurityParamsExpired
	}
	return params, nil
}

// Close releases the store
func (s *MemoryParameterStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = make(map[string]*SecurityParameters)
	return nil
}

// sweepLocked drops expired entries. Called with the lock held.
func (s *MemoryParameterStore) sweepLocked() {
	now := s.now()
	for k, p := range s.params {
		if now.Sub(p.IssuedAt) > s.ttl {
			delete(s.params, k)
		}
	}
}

const redisParamPrefix = "gatekeeper:loginparams:"

// RedisParameterStore keeps parameters in redis so any service instance
// can complete a flow another instance started
type RedisParameterStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisParameterStore creates a redis-backed parameter store
func NewRedisParameterStore(client *redis.Client, ttl time.Duration) *RedisParameterStore {
	if ttl <= 0 || ttl > ParameterTTL {
		ttl = ParameterTTL
	}
	return &RedisParameterStore{client: client, ttl: ttl}
}

// Put stores the parameters keyed by their state value with a TTL
func (s *RedisParameterStore) Put(ctx context.Context, params *SecurityParameters) (string, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to marshal security parameters: %w", err)
	}
	if err := s.client.Set(ctx, redisParamPrefix+params.State, data, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to store security parameters: %w", err)
	}
	return params.State, nil
}

// Consume atomically fetches and deletes the parameters for the handle
func (s *RedisParameterStore) Consume(ctx context.Context, handle string) (*SecurityParameters, error) {
	data, err := s.client.GetDel(ctx, redisParamPrefix+handle).Result()
	if err == redis.Nil {
		return nil, ErrSecurityParamsExpired
	} else if err != nil {
		return nil, fmt.Errorf("failed to consume security parameters: %w", err)
	}

	var params SecurityParameters
	if err := json.Unmarshal([]byte(data), &params); err != nil {
		return nil, fmt.Errorf("failed to unmarshal security parameters: %w", err)
	}
	return &params, nil
}

// Close releases the store. The underlying client is shared and stays open.
func (s *RedisParameterStore) Close() error {
	return nil
}
