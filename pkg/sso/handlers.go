package sso

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gatekeeper/pkg/authn"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/provider"
	"github.com/platinummonkey/gatekeeper/pkg/session"
)

// Handlers exposes the SSO service over HTTP
type Handlers struct {
	service *Service
	logger  *observability.Logger
}

// NewHandlers creates HTTP handlers for the SSO service
func NewHandlers(service *Service, logger *observability.Logger) *Handlers {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Handlers{service: service, logger: logger}
}

// RegisterRoutes registers all SSO routes on the router
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/auth/providers", h.ListProviders).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/auth/login/{provider}", h.BeginLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/auth/callback/{provider}", h.CompleteLogin).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/api/v1/auth/validate", h.ValidateSession).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/auth/logout", h.Logout).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/auth/health", h.Health).Methods(http.MethodGet)
}

// ListProviders returns the enforced security flags for every configured
// provider. Secrets never appear here.
func (h *Handlers) ListProviders(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, h.service.registry.SecurityFlags())
}

// BeginLogin starts a login flow and returns the provider redirect URL
func (h *Handlers) BeginLogin(w http.ResponseWriter, r *http.Request) {
	providerID := mux.Vars(r)["provider"]

	start, err := h.service.BeginLogin(r.Context(), providerID, requestOrigin(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, start)
}

// CompleteLogin handles the identity provider callback. OIDC providers
// redirect with code and state in the query; SAML providers POST
// SAMLResponse and RelayState as form values.
func (h *Handlers) CompleteLogin(w http.ResponseWriter, r *http.Request) {
	providerID := mux.Vars(r)["provider"]

	req := &CompleteLoginRequest{
		ProviderID: providerID,
		Origin:     requestOrigin(r),
	}

	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			httputil.WriteBadRequest(w, "malformed callback form")
			return
		}
		req.SAMLResponse = r.PostFormValue("SAMLResponse")
		req.Handle = r.PostFormValue("RelayState")
	}
	if req.Handle == "" {
		req.Handle = r.URL.Query().Get("state")
	}
	req.Code = r.URL.Query().Get("code")

	if req.Handle == "" {
		httputil.WriteBadRequest(w, "missing state")
		return
	}
	if req.Code == "" && req.SAMLResponse == "" {
		httputil.WriteBadRequest(w, "missing authorization code or SAML response")
		return
	}

	result, err := h.service.CompleteLogin(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// ValidateSession validates the bearer token and returns the
// authenticated user
func (h *Handlers) ValidateSession(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		httputil.WriteUnauthorized(w, "missing bearer token")
		return
	}

	user, err := h.service.ValidateSession(r.Context(), token, requestOrigin(r))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

// Logout revokes the bearer token and deletes its session
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		httputil.WriteUnauthorized(w, "missing bearer token")
		return
	}

	if err := h.service.Logout(r.Context(), token, requestOrigin(r)); err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// Health reports service health plus per-provider security flags
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := h.service.HealthCheck(r.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, code, status)
}

// writeServiceError maps service errors onto HTTP status codes without
// leaking internals
func (h *Handlers) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, provider.ErrProviderNotFound):
		httputil.WriteNotFound(w, "unknown provider")
	case errors.Is(err, provider.ErrProviderDisabled), errors.Is(err, provider.ErrCapabilityUnavailable):
		httputil.WriteForbidden(w, "provider unavailable")
	case errors.Is(err, ErrLockedOut):
		httputil.WriteTooManyRequests(w, "too many failed login attempts")
	case errors.Is(err, authn.ErrSecurityParamsExpired), errors.Is(err, authn.ErrSecurityParamsMismatch):
		httputil.WriteUnauthorized(w, "login attempt expired, restart the flow")
	case errors.Is(err, session.ErrTokenExpired):
		httputil.WriteUnauthorized(w, "session expired")
	case errors.Is(err, session.ErrInvalidToken),
		errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, ErrRevoked),
		errors.Is(err, ErrDeviceMismatch):
		httputil.WriteUnauthorized(w, "invalid session")
	case errors.Is(err, authn.ErrTokenExchangeFailed),
		errors.Is(err, authn.ErrInvalidIDToken),
		errors.Is(err, authn.ErrIncompleteUserInfo),
		errors.Is(err, authn.ErrNoAssertion),
		errors.Is(err, authn.ErrSignatureInvalid),
		errors.Is(err, authn.ErrInvalidAssertion),
		errors.Is(err, authn.ErrMissingSubject):
		httputil.WriteUnauthorized(w, "authentication failed")
	default:
		h.logger.WithError(err).Error("internal error handling auth request")
		httputil.WriteInternalError(w, errors.New("internal error"))
	}
}

// requestOrigin derives the network origin of a request
func requestOrigin(r *http.Request) authn.Origin {
	return authn.Origin{
		Address: httputil.ClientIP(r),
		Agent:   r.UserAgent(),
	}
}

// bearerToken extracts a bearer token from the Authorization header
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
