package authn

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeeper/pkg/provider"
)

func testOIDCProvider() *provider.AuthProvider {
	return &provider.AuthProvider{
		ID:      "okta",
		Type:    provider.TypeOIDC,
		Enabled: true,
		OIDC: &provider.OIDCConfig{
			ClientID:    "client",
			RedirectURI: "https://app.example.com/callback",
			Scopes:      []string{"openid"},
		},
		Policy: provider.SecurityPolicy{UsePKCE: true, ValidateNonce: true},
	}
}

func TestParameterFactoryCreate(t *testing.T) {
	factory := NewParameterFactory()
	origin := Origin{Address: "10.0.0.1", Agent: "test-agent"}

	params, err := factory.Create(testOIDCProvider(), origin)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, len(params.State), 43)
	assert.GreaterOrEqual(t, len(params.Nonce), 43)
	assert.NotEqual(t, params.State, params.Nonce)
	assert.NotEmpty(t, params.CodeVerifier)
	assert.NotEmpty(t, params.CodeChallenge())
	assert.NotEqual(t, params.CodeVerifier, params.CodeChallenge())
	assert.Equal(t, "okta", params.ProviderID)
	assert.Equal(t, "10.0.0.1", params.OriginAddress)
}

func TestParameterFactoryNoPKCEForSAML(t *testing.T) {
	factory := NewParameterFactory()
	p := &provider.AuthProvider{ID: "saml", Type: provider.TypeSAML}

	params, err := factory.Create(p, Origin{})
	require.NoError(t, err)
	assert.Empty(t, params.CodeVerifier)
	assert.Empty(t, params.CodeChallenge())
}

func TestParameterUniqueness(t *testing.T) {
	factory := NewParameterFactory()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		params, err := factory.Create(testOIDCProvider(), Origin{})
		require.NoError(t, err)
		assert.False(t, seen[params.State], "state values must be unique")
		seen[params.State] = true
	}
}

func TestValidateParameters(t *testing.T) {
	origin := Origin{Address: "10.0.0.1", Agent: "agent"}
	fresh := func() *SecurityParameters {
		return &SecurityParameters{
			State:         "state",
			Nonce:         "nonce",
			ProviderID:    "okta",
			OriginAddress: "10.0.0.1",
			IssuedAt:      time.Now(),
		}
	}

	tests := []struct {
		name       string
		params     func() *SecurityParameters
		providerID string
		origin     Origin
		bindOrigin bool
		wantErr    error
	}{
		{
			name:       "valid",
			params:     fresh,
			providerID: "okta",
			origin:     origin,
			bindOrigin: true,
		},
		{
			name: "expired",
			params: func() *SecurityParameters {
				p := fresh()
				p.IssuedAt = time.Now().Add(-ParameterTTL - time.Second)
				return p
			},
			providerID: "okta",
			origin:     origin,
			wantErr:    ErrSecurityParamsExpired,
		},
		{
			name:       "nil params",
			params:     func() *SecurityParameters { return nil },
			providerID: "okta",
			origin:     origin,
			wantErr:    ErrSecurityParamsExpired,
		},
		{
			name:       "provider mismatch",
			params:     fresh,
			providerID: "azure",
			origin:     origin,
			wantErr:    ErrSecurityParamsMismatch,
		},
		{
			name:       "origin change with binding",
			params:     fresh,
			providerID: "okta",
			origin:     Origin{Address: "10.0.0.2", Agent: "agent"},
			bindOrigin: true,
			wantErr:    ErrSecurityParamsMismatch,
		},
		{
			name:       "origin change without binding",
			params:     fresh,
			providerID: "okta",
			origin:     Origin{Address: "10.0.0.2", Agent: "agent"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateParameters(tt.params(), tt.providerID, tt.origin, tt.bindOrigin)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMemoryParameterStoreSingleUse(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryParameterStore(time.Minute)
	defer store.Close()

	params, err := NewParameterFactory().Create(testOIDCProvider(), Origin{Address: "10.0.0.1"})
	require.NoError(t, err)

	handle, err := store.Put(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, params.State, handle)

	got, err := store.Consume(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, params.Nonce, got.Nonce)

	// Second consume must fail.
	_, err = store.Consume(ctx, handle)
	assert.ErrorIs(t, err, ErrSecurityParamsExpired)
}

func TestMemoryParameterStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryParameterStore(time.Minute)
	defer store.Close()

	params := &SecurityParameters{
		State:      "stale-state",
		ProviderID: "okta",
		IssuedAt:   time.Now().Add(-2 * time.Minute),
	}
	_, err := store.Put(ctx, params)
	require.NoError(t, err)

	_, err = store.Consume(ctx, "stale-state")
	assert.ErrorIs(t, err, ErrSecurityParamsExpired)
}

func TestRedisParameterStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	store := NewRedisParameterStore(client, time.Minute)

	params, err := NewParameterFactory().Create(testOIDCProvider(), Origin{Address: "10.0.0.1", Agent: "agent"})
	require.NoError(t, err)

	handle, err := store.Put(ctx, params)
	require.NoError(t, err)

	got, err := store.Consume(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, params.State, got.State)
	assert.Equal(t, params.CodeVerifier, got.CodeVerifier)
	assert.Equal(t, params.OriginAddress, got.OriginAddress)

	_, err = store.Consume(ctx, handle)
	assert.ErrorIs(t, err, ErrSecurityParamsExpired)
}

func TestRedisParameterStoreTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	store := NewRedisParameterStore(client, time.Minute)

	params, err := NewParameterFactory().Create(testOIDCProvider(), Origin{})
	require.NoError(t, err)
	handle, err := store.Put(ctx, params)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = store.Consume(ctx, handle)
	assert.ErrorIs(t, err, ErrSecurityParamsExpired)
}
