package sso

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/authn"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/provider"
	"github.com/platinummonkey/gatekeeper/pkg/session"
)

// Options configures the SSO service
type Options struct {
	SessionTimeout       time.Duration
	HTTPTimeout          time.Duration
	MaxLoginAttempts     int
	LockoutDuration      time.Duration
	RequireDeviceBinding bool
	StrictSecurity       bool
}

// Service orchestrates the full login lifecycle: beginning a flow,
// completing it against the identity provider, and validating, touching,
// and revoking the resulting session.
type Service struct {
	registry    *provider.Registry
	params      authn.ParameterStore
	factory     *authn.ParameterFactory
	sessions    session.Store
	revocations session.RevocationRegistry
	codec       *session.TokenCodec
	sealer      *session.SecretSealer
	recorder    audit.Recorder
	metrics     *observability.Metrics
	logger      *observability.Logger
	lockouts    *lockoutTracker
	opts        Options

	mu          sync.RWMutex
	oidcClients map[string]*authn.OIDCClient
	samlClients map[string]*authn.SAMLClient
}

// NewService wires the SSO service from its collaborators
func NewService(
	registry *provider.Registry,
	params authn.ParameterStore,
	sessions session.Store,
	revocations session.RevocationRegistry,
	codec *session.TokenCodec,
	sealer *session.SecretSealer,
	recorder audit.Recorder,
	metrics *observability.Metrics,
	logger *observability.Logger,
	opts Options,
) *Service {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	if opts.MaxLoginAttempts <= 0 {
		opts.MaxLoginAttempts = 5
	}
	if opts.LockoutDuration <= 0 {
		opts.LockoutDuration = 15 * time.Minute
	}
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = 10 * time.Second
	}
	return &Service{
		registry:    registry,
		params:      params,
		factory:     authn.NewParameterFactory(),
		sessions:    sessions,
		revocations: revocations,
		codec:       codec,
		sealer:      sealer,
		recorder:    recorder,
		metrics:     metrics,
		logger:      logger,
		lockouts:    newLockoutTracker(opts.MaxLoginAttempts, opts.LockoutDuration),
		opts:        opts,
		oidcClients: make(map[string]*authn.OIDCClient),
		samlClients: make(map[string]*authn.SAMLClient),
	}
}

// LoginStart is the response to a begun login flow. The handle is echoed
// back by the identity provider as state (OIDC) or RelayState (SAML).
type LoginStart struct {
	ProviderID  string `json:"provider_id"`
	RedirectURL string `json:"redirect_url"`
	Handle      string `json:"handle"`
}

// CompleteLoginRequest carries the identity provider's callback payload
type CompleteLoginRequest struct {
	ProviderID   string
	Handle       string
	Code         string // OIDC authorization code
	SAMLResponse string // base64-encoded SAML response
	Origin       authn.Origin
}

// LoginResult is a successfully established session
type LoginResult struct {
	Token     string                  `json:"token"`
	ExpiresAt time.Time               `json:"expires_at"`
	User      *session.EnterpriseUser `json:"user"`
}

// BeginLogin starts a login flow against the given provider and returns
// the redirect URL the client should follow
func (s *Service) BeginLogin(ctx context.Context, providerID string, origin authn.Origin) (*LoginStart, error) {
	p, err := s.registry.Get(providerID)
	if err != nil {
		return nil, err
	}

	params, err := s.factory.Create(p, origin)
	if err != nil {
		return nil, fmt.Errorf("failed to create login parameters: %w", err)
	}

	handle, err := s.params.Put(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to store login parameters: %w", err)
	}

	var redirectURL string
	switch p.Type {
	case provider.TypeOIDC:
		client, err := s.oidcClient(ctx, p)
		if err != nil {
			return nil, err
		}
		redirectURL = client.AuthorizationURL(params)
	case provider.TypeSAML:
		client, err := s.samlClient(p)
		if err != nil {
			return nil, err
		}
		redirectURL, err = client.AuthorizationURL(params)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unsupported type %q", provider.ErrInvalidConfig, p.Type)
	}

	if s.metrics != nil {
		s.metrics.LoginsStartedTotal.WithLabelValues(p.ID).Inc()
	}
	s.record(ctx, &audit.SecurityEvent{
		EventType:     audit.EventLoginStarted,
		ProviderID:    p.ID,
		OriginAddress: origin.Address,
		OriginAgent:   origin.Agent,
		Success:       true,
	})

	return &LoginStart{
		ProviderID:  p.ID,
		RedirectURL: redirectURL,
		Handle:      handle,
	}, nil
}

// CompleteLogin finishes a login flow: it consumes the single-use login
// parameters, validates the provider's response, and establishes a
// session. Exactly one audit event is recorded per call, success or
// failure.
func (s *Service) CompleteLogin(ctx context.Context, req *CompleteLoginRequest) (*LoginResult, error) {
	// The metric label must stay low-cardinality; the raw path segment is
	// attacker-controlled.
	providerLabel := req.ProviderID
	if !s.registry.Known(req.ProviderID) {
		providerLabel = "unknown"
	}

	if s.lockouts.locked(req.Origin.Address) {
		s.record(ctx, &audit.SecurityEvent{
			EventType:     audit.EventLoginFailed,
			ProviderID:    req.ProviderID,
			OriginAddress: req.Origin.Address,
			OriginAgent:   req.Origin.Agent,
			ErrorMessage:  ErrLockedOut.Error(),
		})
		if s.metrics != nil {
			s.metrics.LoginsFailedTotal.WithLabelValues(providerLabel, "locked_out").Inc()
		}
		return nil, ErrLockedOut
	}

	result, err := s.completeLogin(ctx, req)
	if err != nil {
		tripped := s.lockouts.recordFailure(req.Origin.Address)
		s.record(ctx, &audit.SecurityEvent{
			EventType:     audit.EventLoginFailed,
			ProviderID:    req.ProviderID,
			OriginAddress: req.Origin.Address,
			OriginAgent:   req.Origin.Agent,
			ErrorMessage:  err.Error(),
		})
		if s.metrics != nil {
			s.metrics.LoginsFailedTotal.WithLabelValues(providerLabel, failureReason(err)).Inc()
		}
		if tripped {
			s.record(ctx, &audit.SecurityEvent{
				EventType:     audit.EventLockout,
				ProviderID:    req.ProviderID,
				OriginAddress: req.Origin.Address,
				OriginAgent:   req.Origin.Agent,
				ErrorMessage:  fmt.Sprintf("origin locked out for %s", s.opts.LockoutDuration),
			})
			s.logger.WithField("origin", req.Origin.Address).Warn("origin locked out after repeated login failures")
		}
		return nil, err
	}

	s.lockouts.reset(req.Origin.Address)
	s.record(ctx, &audit.SecurityEvent{
		EventType:      audit.EventLogin,
		UserID:         result.User.UserID,
		Email:          result.User.Email,
		OrganizationID: result.User.OrganizationID,
		ProviderID:     req.ProviderID,
		OriginAddress:  req.Origin.Address,
		OriginAgent:    req.Origin.Agent,
		Success:        true,
	})
	if s.metrics != nil {
		s.metrics.LoginsCompletedTotal.WithLabelValues(req.ProviderID).Inc()
		s.metrics.SessionsActive.Inc()
	}

	return result, nil
}

func (s *Service) completeLogin(ctx context.Context, req *CompleteLoginRequest) (*LoginResult, error) {
	p, err := s.registry.Get(req.ProviderID)
	if err != nil {
		return nil, err
	}

	params, err := s.params.Consume(ctx, req.Handle)
	if err != nil {
		return nil, err
	}

	bindOrigin := s.opts.RequireDeviceBinding

	var identity *authn.Identity
	start := time.Now()
	switch p.Type {
	case provider.TypeOIDC:
		client, err := s.oidcClient(ctx, p)
		if err != nil {
			return nil, err
		}
		identity, err = client.Exchange(ctx, req.Code, params, req.Origin, bindOrigin)
		if err != nil {
			return nil, err
		}
	case provider.TypeSAML:
		client, err := s.samlClient(p)
		if err != nil {
			return nil, err
		}
		identity, err = client.ProcessAssertion(req.SAMLResponse, params, req.Origin, bindOrigin)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unsupported type %q", provider.ErrInvalidConfig, p.Type)
	}
	if s.metrics != nil {
		s.metrics.TokenExchangeDuration.WithLabelValues(p.ID, "complete").Observe(time.Since(start).Seconds())
	}

	now := time.Now().UTC()
	sessionID := uuid.New().String()

	sealed, err := s.sealSecrets(identity)
	if err != nil {
		return nil, err
	}

	user := &session.EnterpriseUser{
		UserID:         identity.Subject,
		Email:          identity.Email,
		DisplayName:    identity.DisplayName,
		OrganizationID: p.OrganizationID,
		Roles:          authn.MapRoles(identity.Roles),
		Groups:         identity.Groups,
		AuthProviderID: p.ID,
		Session: session.Metadata{
			SessionID:         sessionID,
			UserID:            identity.Subject,
			DeviceFingerprint: session.Fingerprint(req.Origin.Address, req.Origin.Agent),
			OriginAddress:     req.Origin.Address,
			OriginAgent:       req.Origin.Agent,
			CreatedAt:         now,
			LastAccessedAt:    now,
			EncryptedSecrets:  sealed,
		},
	}

	// The session record must exist before the token does; a token that
	// validates against nothing is worse than a failed login.
	if err := s.sessions.Create(ctx, &user.Session); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	token, claims, err := s.codec.Encode(user)
	if err != nil {
		s.sessions.Delete(ctx, sessionID)
		return nil, err
	}

	return &LoginResult{
		Token:     token,
		ExpiresAt: claims.ExpiresAt.Time,
		User:      user,
	}, nil
}

// ValidateSession checks a session token end to end: signature and
// lifetime, revocation, the server-side session record, and the device
// fingerprint when binding is required. A success bumps the session's
// access counter.
func (s *Service) ValidateSession(ctx context.Context, token string, origin authn.Origin) (*session.EnterpriseUser, error) {
	user, err := s.validateSession(ctx, token, origin)
	if err != nil {
		s.record(ctx, &audit.SecurityEvent{
			EventType:     audit.EventSessionValidateFail,
			OriginAddress: origin.Address,
			OriginAgent:   origin.Agent,
			ErrorMessage:  err.Error(),
		})
		if s.metrics != nil {
			s.metrics.SessionValidationsTotal.WithLabelValues(failureReason(err)).Inc()
		}
		return nil, err
	}
	s.record(ctx, &audit.SecurityEvent{
		EventType:      audit.EventSessionValidate,
		UserID:         user.UserID,
		Email:          user.Email,
		OrganizationID: user.OrganizationID,
		ProviderID:     user.AuthProviderID,
		OriginAddress:  origin.Address,
		OriginAgent:    origin.Agent,
		Success:        true,
	})
	if s.metrics != nil {
		s.metrics.SessionValidationsTotal.WithLabelValues("ok").Inc()
	}
	return user, nil
}

func (s *Service) validateSession(ctx context.Context, token string, origin authn.Origin) (*session.EnterpriseUser, error) {
	claims, err := s.codec.Decode(token)
	if err != nil {
		return nil, err
	}

	revoked, err := s.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		// Fail closed when the registry cannot answer.
		return nil, fmt.Errorf("%w: %v", ErrRevoked, err)
	}
	if revoked {
		return nil, ErrRevoked
	}

	meta, err := s.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}

	if s.opts.RequireDeviceBinding {
		if session.Fingerprint(origin.Address, origin.Agent) != meta.DeviceFingerprint {
			return nil, ErrDeviceMismatch
		}
	}

	if err := s.sessions.Touch(ctx, claims.SessionID, time.Now().UTC()); err != nil {
		return nil, err
	}
	meta.AccessCount++
	meta.LastAccessedAt = time.Now().UTC()

	return &session.EnterpriseUser{
		UserID:           claims.UserID,
		Email:            claims.Email,
		DisplayName:      claims.DisplayName,
		OrganizationID:   claims.OrganizationID,
		OrganizationName: claims.OrganizationName,
		Roles:            claims.Roles,
		Groups:           claims.Groups,
		AuthProviderID:   claims.AuthProviderID,
		Session:          *meta,
	}, nil
}

// Logout revokes the token and deletes its session. Expired tokens are
// accepted as long as their signature verifies, so a stale client can
// still clean up after itself.
func (s *Service) Logout(ctx context.Context, token string, origin authn.Origin) error {
	claims, err := s.codec.DecodeExpired(token)
	if err != nil {
		return err
	}

	until := time.Now().Add(s.opts.SessionTimeout)
	if claims.ExpiresAt != nil {
		until = claims.ExpiresAt.Time
	}
	if err := s.revocations.Revoke(ctx, claims.ID, until); err != nil {
		return err
	}

	// Only a delete that removed a live session moves the active gauge;
	// repeated logouts for the same token must not drive it negative.
	existed := true
	if _, err := s.sessions.Get(ctx, claims.SessionID); err != nil {
		existed = false
	}
	if err := s.sessions.Delete(ctx, claims.SessionID); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		return err
	}

	s.record(ctx, &audit.SecurityEvent{
		EventType:     audit.EventLogout,
		UserID:        claims.UserID,
		Email:         claims.Email,
		ProviderID:    claims.AuthProviderID,
		OriginAddress: origin.Address,
		OriginAgent:   origin.Agent,
		Success:       true,
	})
	s.record(ctx, &audit.SecurityEvent{
		EventType: audit.EventTokenRevoke,
		UserID:    claims.UserID,
		Success:   true,
		Metadata:  map[string]string{"jti": claims.ID},
	})
	if s.metrics != nil {
		s.metrics.TokensRevokedTotal.Inc()
		if existed {
			s.metrics.SessionsActive.Dec()
		}
	}

	return nil
}

// HealthStatus reports the service's operational state
type HealthStatus struct {
	Status         string                   `json:"status"`
	ActiveSessions int64                    `json:"active_sessions"`
	RevokedTokens  int64                    `json:"revoked_tokens"`
	Providers      []provider.SecurityFlags `json:"providers"`
}

// HealthCheck reports session and revocation counts plus the enforced
// security flags per provider
func (s *Service) HealthCheck(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Status:    "healthy",
		Providers: s.registry.SecurityFlags(),
	}

	sessions, err := s.sessions.Count(ctx)
	if err != nil {
		status.Status = "degraded"
	}
	status.ActiveSessions = sessions

	revoked, err := s.revocations.Count(ctx)
	if err != nil {
		status.Status = "degraded"
	}
	status.RevokedTokens = revoked

	return status
}

// Close releases the service's stores
func (s *Service) Close() error {
	var errs []error
	if err := s.params.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.sessions.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.revocations.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.recorder.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// sealSecrets encrypts the identity's provider tokens for storage
func (s *Service) sealSecrets(identity *authn.Identity) ([]byte, error) {
	if s.sealer == nil {
		return nil, nil
	}
	return s.sealer.Seal(&session.ProviderSecrets{
		AccessToken:  identity.AccessToken,
		RefreshToken: identity.RefreshToken,
	})
}

// record persists an audit event, counting but never propagating a
// recorder failure
func (s *Service) record(ctx context.Context, event *audit.SecurityEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if err := s.recorder.Record(ctx, event); err != nil {
		s.logger.WithError(err).WithField("event_type", string(event.EventType)).Error("failed to record audit event")
		if s.metrics != nil {
			s.metrics.AuditRecordErrorsTotal.Inc()
		}
		return
	}
	if s.metrics != nil {
		s.metrics.AuditEventsTotal.WithLabelValues(string(event.EventType), strconv.FormatBool(event.Success)).Inc()
	}
}

// oidcClient returns the cached OIDC client for a provider, creating it
// on first use
func (s *Service) oidcClient(ctx context.Context, p *provider.AuthProvider) (*authn.OIDCClient, error) {
	s.mu.RLock()
	client, ok := s.oidcClients[p.ID]
	s.mu.RUnlock()
	if ok {
		return client, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if client, ok := s.oidcClients[p.ID]; ok {
		return client, nil
	}
	client, err := authn.NewOIDCClient(ctx, p, s.opts.HTTPTimeout, s.logger)
	if err != nil {
		return nil, err
	}
	s.oidcClients[p.ID] = client
	return client, nil
}

// samlClient returns the cached SAML client for a provider, creating it
// on first use
func (s *Service) samlClient(p *provider.AuthProvider) (*authn.SAMLClient, error) {
	s.mu.RLock()
	client, ok := s.samlClients[p.ID]
	s.mu.RUnlock()
	if ok {
		return client, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if client, ok := s.samlClients[p.ID]; ok {
		return client, nil
	}
	client, err := authn.NewSAMLClient(p, s.opts.StrictSecurity, s.logger)
	if err != nil {
		return nil, err
	}
	s.samlClients[p.ID] = client
	return client, nil
}

// failureReason maps an error to a low-cardinality metric label
func failureReason(err error) string {
	switch {
	case errors.Is(err, authn.ErrSecurityParamsExpired):
		return "params_expired"
	case errors.Is(err, authn.ErrSecurityParamsMismatch):
		return "params_mismatch"
	case errors.Is(err, authn.ErrTokenExchangeFailed):
		return "exchange_failed"
	case errors.Is(err, authn.ErrInvalidIDToken):
		return "invalid_id_token"
	case errors.Is(err, authn.ErrSignatureInvalid):
		return "signature_invalid"
	case errors.Is(err, authn.ErrInvalidAssertion), errors.Is(err, authn.ErrNoAssertion):
		return "invalid_assertion"
	case errors.Is(err, authn.ErrIncompleteUserInfo), errors.Is(err, authn.ErrMissingSubject):
		return "incomplete_identity"
	case errors.Is(err, session.ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, session.ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, session.ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrRevoked):
		return "revoked"
	case errors.Is(err, ErrDeviceMismatch):
		return "device_mismatch"
	case errors.Is(err, ErrLockedOut):
		return "locked_out"
	case errors.Is(err, provider.ErrProviderNotFound), errors.Is(err, provider.ErrProviderDisabled), errors.Is(err, provider.ErrCapabilityUnavailable):
		return "provider_unavailable"
	default:
		return "internal"
	}
}
