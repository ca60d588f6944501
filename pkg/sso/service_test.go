package sso

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/authn"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/provider"
	"github.com/platinummonkey/gatekeeper/pkg/session"
)

// fakeIdP serves the OIDC token and userinfo endpoints for flow tests
func fakeIdP(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostFormValue("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "at-123",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"sub":   "user-1",
			"email": "user@example.com",
			"name":  "Test User",
			"roles": []interface{}{"developer"},
		})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

type testEnv struct {
	service  *Service
	recorder *audit.MemoryRecorder
	sessions *session.MemoryStore
	metrics  *observability.Metrics
	origin   authn.Origin
}

func newTestEnv(t *testing.T, idp *httptest.Server, opts Options) *testEnv {
	t.Helper()

	providers := []*provider.AuthProvider{{
		ID:      "okta",
		Type:    provider.TypeOIDC,
		Enabled: true,
		OIDC: &provider.OIDCConfig{
			ClientID:              "client-id",
			ClientSecret:          strings.Repeat("s", 32),
			RedirectURI:           "https://app.example.com/callback",
			Scopes:                []string{"openid", "email"},
			AuthorizationEndpoint: idp.URL + "/authorize",
			TokenEndpoint:         idp.URL + "/token",
			UserinfoEndpoint:      idp.URL + "/userinfo",
		},
		Policy: provider.SecurityPolicy{UsePKCE: true, ValidateNonce: true},
	}}

	registry, err := provider.Load(providers, provider.Options{SAMLEnabled: true})
	require.NoError(t, err)

	if opts.SessionTimeout == 0 {
		opts.SessionTimeout = time.Hour
	}
	opts.RequireDeviceBinding = true

	recorder := audit.NewMemoryRecorder(0)
	sessions := session.NewMemoryStore(opts.SessionTimeout)
	sealer, err := session.NewSecretSealer([]byte(strings.Repeat("e", 32)))
	require.NoError(t, err)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	svc := NewService(
		registry,
		authn.NewMemoryParameterStore(10*time.Minute),
		sessions,
		session.NewMemoryRevocations(),
		session.NewTokenCodec([]byte(strings.Repeat("k", 32)), opts.SessionTimeout),
		sealer,
		recorder,
		metrics,
		nil,
		opts,
	)
	t.Cleanup(func() { svc.Close() })

	return &testEnv{
		service:  svc,
		recorder: recorder,
		sessions: sessions,
		metrics:  metrics,
		origin:   authn.Origin{Address: "10.0.0.1", Agent: "test-agent"},
	}
}

func (e *testEnv) login(t *testing.T) *LoginResult {
	t.Helper()
	ctx := context.Background()

	start, err := e.service.BeginLogin(ctx, "okta", e.origin)
	require.NoError(t, err)

	result, err := e.service.CompleteLogin(ctx, &CompleteLoginRequest{
		ProviderID: "okta",
		Handle:     start.Handle,
		Code:       "good-code",
		Origin:     e.origin,
	})
	require.NoError(t, err)
	return result
}

func (e *testEnv) eventsOfType(et audit.EventType) []*audit.SecurityEvent {
	var out []*audit.SecurityEvent
	for _, ev := range e.recorder.Events() {
		if ev.EventType == et {
			out = append(out, ev)
		}
	}
	return out
}

func TestBeginLoginRedirect(t *testing.T) {
	env := newTestEnv(t, fakeIdP(t), Options{})
	ctx := context.Background()

	start, err := env.service.BeginLogin(ctx, "okta", env.origin)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, len(start.Handle), 43)

	parsed, err := url.Parse(start.RedirectURL)
	require.NoError(t, err)
	q := parsed.Query()
	assert.Equal(t, start.Handle, q.Get("state"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.NotEmpty(t, q.Get("nonce"))

	started := env.eventsOfType(audit.EventLoginStarted)
	require.Len(t, started, 1)
	assert.Equal(t, "okta", started[0].ProviderID)
}

func TestBeginLoginUnknownProvider(t *testing.T) {
	env := newTestEnv(t, fakeIdP(t), Options{})
	_, err := env.service.BeginLogin(context.Background(), "nope", env.origin)
	assert.ErrorIs(t, err, provider.ErrProviderNotFound)
}

func TestFullLoginFlow(t *testing.T) {
	env := newTestEnv(t, fakeIdP(t), Options{})

	result := env.login(t)
	assert.NotEmpty(t, result.Token)
	assert.Equal(t, "user-1", result.User.UserID)
	assert.Equal(t, "user@example.com", result.User.Email)
	assert.Equal(t, []authn.Role{authn.RoleDeveloper}, result.User.Roles)
	assert.NotEmpty(t, result.User.Session.SessionID)
	assert.NotEmpty(t, result.User.Session.DeviceFingerprint)
	assert.NotEmpty(t, result.User.Session.EncryptedSecrets, "provider tokens must be sealed into the session")

	// The session record exists server-side.
	count, err := env.sessions.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// Exactly one success event for the completion.
	assert.Len(t, env.eventsOfType(audit.EventLogin), 1)
	assert.Empty(t, env.eventsOfType(audit.EventLoginFailed))

	user, err := env.service.ValidateSession(context.Background(), result.Token, env.origin)
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.UserID)
}

func TestCompleteLoginUnknownHandle(t *testing.T) {
	env := newTestEnv(t, fakeIdP(t), Options{})

	_, err := env.service.CompleteLogin(context.Background(), &CompleteLoginRequest{
		ProviderID: "okta",
		Handle:     "never-issued",
		Code:       "good-code",
		Origin:     env.origin,
	})
	assert.ErrorIs(t, err, authn.ErrSecurityParamsExpired)

	// Exactly one failure event, no success event.
	failed := env.eventsOfType(audit.EventLoginFailed)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].ErrorMessage, "expired")
	assert.Empty(t, env.eventsOfType(audit.EventLogin))
}

func TestCompleteLoginHandleSingleUse(t *testing.T) {
	env := newTestEnv(t, fakeIdP(t), Options{})
	ctx := context.Background()

	start, err := env.service.BeginLogin(ctx, "okta", env.origin)
	require.NoError(t, err)

	req := &CompleteLoginRequest{
		ProviderID: "okta",
		Handle:     start.Handle,
		Code:       "good-code",
		Origin:     env.origin,
	}
	_, err = env.service.CompleteLogin(ctx, req)
	require.NoError(t, err)

	// Replaying the callback must fail.
	_, err = env.service.CompleteLogin(ctx, req)
	assert.ErrorIs(t, err, authn.ErrSecurityParamsExpired)
}

func TestCompleteLoginOriginBound(t *testing.T) {
	env := newTestEnv(t, fakeIdP(t), Options{})
	ctx := context.Background()

	start, err := env.service.BeginLogin(ctx, "okta", env.origin)
	require.NoError(t, err)

	_, err = env.service.CompleteLogin(ctx, &CompleteLoginRequest{
		ProviderID: "okta",
		Handle:     start.Handle,
		Code:       "good-code",
		Origin:     authn.Origin{Address: "192.168.9.9", Agent: "other"},
	})
	assert.ErrorIs(t, err, authn.ErrSecurityParamsMismatch)
}

func TestValidateSessionDeviceMismatch(t *testing.T) {
	env := newTestEnv(t, fakeIdP(t), Options{})
	result := env.login(t)

	_, err := env.service.ValidateSession(context.Background(), result.Token, authn.Origin{
		Address: "192.168.9.9",
		Agent:   "stolen-token-client",
	})
	assert.ErrorIs(t, err, ErrDeviceMismatch)

	fails := env.eventsOfType(audit.EventSessionValidateFail)
	require.Len(t, fails, 1)
	assert.Equal(t, "192.168.9.9", fails[0].OriginAddress)
}

func TestValidateSessionAuditsSuccess(t *testing.T) {
	env := newTestEnv(t, fakeIdP(t), Options{})
	result := env.login(t)

	_, err := env.service.ValidateSession(context.Background(), result.Token, env.origin)
	require.NoError(t, err)

	validated := env.eventsOfType(audit.EventSessionValidate)
	require.Len(t, validated, 1)
	assert.True(t, validated[0].Success)
	assert.Equal(t, "user-1", validated[0].UserID)
	assert.Equal(t, "okta", validated[0].ProviderID)
	assert.Equal(t, env.origin.Address, validated[0].OriginAddress)
	assert.Empty(t, env.eventsOfType(audit.EventSessionValidateFail))
}

func TestValidateSessionGarbageToken(t *testing.T) {
	env := newTestEnv(t, fakeIdP(t), Options{})
	_, err := env.service.ValidateSession(context.Background(), "not.a.token", env.origin)
	assert.ErrorIs(t, err, session.ErrInvalidToken)
}

func TestLogoutRevokesToken(t *testing.T) {
	env := newTestEnv(t, fakeIdP(t), Options{})
	ctx := context.Background()
	result := env.login(t)

	require.NoError(t, env.service.Logout(ctx, result.Token, env.origin))

	// The token is dead even though its signature and lifetime are fine.
	_, err := env.service.ValidateSession(ctx, result.Token, env.origin)
	assert.ErrorIs(t, err, ErrRevoked)

	// The session record is gone too.
	count, err := env.sessions.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	assert.Len(t, env.eventsOfType(audit.EventLogout), 1)
	assert.Len(t, env.eventsOfType(audit.EventTokenRevoke), 1)
}

func TestLogoutIdempotent(t *testing.T) {
	env := newTestEnv(t, fakeIdP(t), Options{})
	ctx := context.Background()
	result := env.login(t)

	require.NoError(t, env.service.Logout(ctx, result.Token, env.origin))
	require.NoError(t, env.service.Logout(ctx, result.Token, env.origin))
}

func TestLogoutBalancesActiveSessionsGauge(t *testing.T) {
	env := newTestEnv(t, fakeIdP(t), Options{})
	ctx := context.Background()
	result := env.login(t)

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.SessionsActive))

	require.NoError(t, env.service.Logout(ctx, result.Token, env.origin))
	assert.Equal(t, 0.0, testutil.ToFloat64(env.metrics.SessionsActive))

	// A repeated logout for the same token must not push the gauge negative.
	require.NoError(t, env.service.Logout(ctx, result.Token, env.origin))
	assert.Equal(t, 0.0, testutil.ToFloat64(env.metrics.SessionsActive))
}

func TestFailedLoginMetricLabels(t *testing.T) {
	env := newTestEnv(t, fakeIdP(t), Options{})
	ctx := context.Background()

	// A failure for a configured provider is labeled with its ID.
	_, err := env.service.CompleteLogin(ctx, &CompleteLoginRequest{
		ProviderID: "okta",
		Handle:     "never-issued",
		Code:       "good-code",
		Origin:     env.origin,
	})
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.LoginsFailedTotal.WithLabelValues("okta", "params_expired")))

	// An arbitrary caller-supplied provider ID must not become a label value.
	_, err = env.service.CompleteLogin(ctx, &CompleteLoginRequest{
		ProviderID: "no-such-provider-42",
		Handle:     "never-issued",
		Code:       "good-code",
		Origin:     env.origin,
	})
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.LoginsFailedTotal.WithLabelValues("unknown", "provider_unavailable")))
	assert.Equal(t, 0.0, testutil.ToFloat64(env.metrics.LoginsFailedTotal.WithLabelValues("no-such-provider-42", "provider_unavailable")))
}

func TestLockoutAfterRepeatedFailures(t *testing.T) {
	env := newTestEnv(t, fakeIdP(t), Options{
		MaxLoginAttempts: 3,
		LockoutDuration:  time.Minute,
	})
	ctx := context.Background()

	bad := &CompleteLoginRequest{
		ProviderID: "okta",
		Handle:     "never-issued",
		Code:       "good-code",
		Origin:     env.origin,
	}
	for i := 0; i < 3; i++ {
		_, err := env.service.CompleteLogin(ctx, bad)
		assert.ErrorIs(t, err, authn.ErrSecurityParamsExpired)
	}

	// The origin is now locked out before any provider work happens.
	_, err := env.service.CompleteLogin(ctx, bad)
	assert.ErrorIs(t, err, ErrLockedOut)

	assert.Len(t, env.eventsOfType(audit.EventLockout), 1)

	// A different origin is unaffected.
	start, err := env.service.BeginLogin(ctx, "okta", authn.Origin{Address: "10.0.0.2", Agent: "agent"})
	require.NoError(t, err)
	_, err = env.service.CompleteLogin(ctx, &CompleteLoginRequest{
		ProviderID: "okta",
		Handle:     start.Handle,
		Code:       "good-code",
		Origin:     authn.Origin{Address: "10.0.0.2", Agent: "agent"},
	})
	require.NoError(t, err)
}

func TestLockoutResetsOnSuccess(t *testing.T) {
	env := newTestEnv(t, fakeIdP(t), Options{
		MaxLoginAttempts: 3,
		LockoutDuration:  time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := env.service.CompleteLogin(ctx, &CompleteLoginRequest{
			ProviderID: "okta",
			Handle:     "never-issued",
			Code:       "good-code",
			Origin:     env.origin,
		})
		require.Error(t, err)
	}

	env.login(t)

	// The counter restarted; two more failures stay below the limit.
	for i := 0; i < 2; i++ {
		_, err := env.service.CompleteLogin(ctx, &CompleteLoginRequest{
			ProviderID: "okta",
			Handle:     "never-issued",
			Code:       "good-code",
			Origin:     env.origin,
		})
		assert.ErrorIs(t, err, authn.ErrSecurityParamsExpired)
	}
}

func TestConcurrentValidationsCountMonotonic(t *testing.T) {
	env := newTestEnv(t, fakeIdP(t), Options{})
	ctx := context.Background()
	result := env.login(t)

	const validations = 50
	var wg sync.WaitGroup
	for i := 0; i < validations; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.service.ValidateSession(ctx, result.Token, env.origin)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	meta, err := env.sessions.Get(ctx, result.User.Session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(validations), meta.AccessCount)
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t, fakeIdP(t), Options{})
	env.login(t)

	status := env.service.HealthCheck(context.Background())
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, int64(1), status.ActiveSessions)
	require.Len(t, status.Providers, 1)
	assert.Equal(t, "okta", status.Providers[0].ProviderID)
	assert.True(t, status.Providers[0].UsePKCE)
}
