package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/authn"
	"github.com/platinummonkey/gatekeeper/pkg/config"
	"github.com/platinummonkey/gatekeeper/pkg/middleware"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/provider"
	"github.com/platinummonkey/gatekeeper/pkg/session"
	"github.com/platinummonkey/gatekeeper/pkg/sso"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithFields(map[string]interface{}{
		"environment": string(cfg.Auth.Environment),
		"strict":      cfg.Auth.StrictSecurity,
	}).Info("starting gatekeeper")

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	providers, err := provider.LoadFile(cfg.Auth.ProviderConfigPath)
	if err != nil {
		logger.WithError(err).Error("failed to load provider configuration")
		os.Exit(1)
	}
	providerRegistry, err := provider.Load(providers, provider.Options{
		Strict:      cfg.Auth.StrictSecurity,
		SAMLEnabled: cfg.Auth.SAMLEnabled,
		Logger:      logger,
	})
	if err != nil {
		logger.WithError(err).Error("invalid provider configuration")
		os.Exit(1)
	}

	paramStore, sessionStore, revocations := buildStores(cfg, logger)

	signingSecret := []byte(cfg.Auth.SessionSigningSecret)
	if len(signingSecret) == 0 {
		// Non-strict mode only; config validation rejects this in strict mode.
		logger.Warn("no session signing secret configured, using an ephemeral one")
		signingSecret = ephemeralKey()
	}
	codec := session.NewTokenCodec(signingSecret, cfg.Auth.SessionTimeout)

	sealer, err := session.NewSecretSealer(sealingKey(cfg))
	if err != nil {
		logger.WithError(err).Error("failed to initialize secret sealer")
		os.Exit(1)
	}

	recorder := buildRecorder(cfg, logger)

	service := sso.NewService(
		providerRegistry,
		paramStore,
		sessionStore,
		revocations,
		codec,
		sealer,
		recorder,
		metrics,
		logger,
		sso.Options{
			SessionTimeout:       cfg.Auth.SessionTimeout,
			HTTPTimeout:          cfg.Auth.HTTPTimeout,
			MaxLoginAttempts:     cfg.Auth.MaxLoginAttempts,
			LockoutDuration:      cfg.Auth.LockoutDuration,
			RequireDeviceBinding: cfg.Auth.RequireDeviceBinding,
			StrictSecurity:       cfg.Auth.StrictSecurity,
		},
	)
	defer service.Close()

	router := mux.NewRouter()
	router.Use(middleware.RequestID)
	handlers := sso.NewHandlers(service, logger)
	handlers.RegisterRoutes(router)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		handlers.Health(w, r)
	})
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.Handler(registry))
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	go func() {
		logger.Infof("health/metrics server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()

	go func() {
		logger.Infof("auth server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("server failed")
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("server shutdown failed")
	}
	if err := healthServer.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("health server shutdown failed")
	}
}

// buildStores selects redis-backed stores when a redis URL is configured
// and falls back to in-memory stores otherwise
func buildStores(cfg *config.Config, logger *observability.Logger) (authn.ParameterStore, session.Store, session.RevocationRegistry) {
	if cfg.Auth.RedisURL != "" {
		client, err := session.NewRedisClient(cfg.Auth.RedisURL, cfg.Auth.RedisPassword, cfg.Auth.RedisDB)
		if err != nil {
			logger.WithError(err).Error("failed to connect to redis")
			os.Exit(1)
		}
		logger.Info("using redis-backed session stores")
		return authn.NewRedisParameterStore(client, cfg.Auth.SecurityParamTTL),
			session.NewRedisStore(client, cfg.Auth.SessionTimeout),
			session.NewRedisRevocations(client)
	}

	logger.Warn("no redis configured, sessions will not survive a restart")
	return authn.NewMemoryParameterStore(cfg.Auth.SecurityParamTTL),
		session.NewMemoryStore(cfg.Auth.SessionTimeout),
		session.NewMemoryRevocations()
}

// buildRecorder selects the file audit recorder when a path is
// configured, the in-memory recorder otherwise
func buildRecorder(cfg *config.Config, logger *observability.Logger) audit.Recorder {
	if cfg.Auth.AuditLogPath == "" {
		logger.Warn("no audit log path configured, audit trail is in-memory only")
		return audit.NewMemoryRecorder(0)
	}
	recorder, err := audit.NewFileRecorder(cfg.Auth.AuditLogPath)
	if err != nil {
		logger.WithError(err).Error("failed to open audit log")
		os.Exit(1)
	}
	return recorder
}

// sealingKey derives the 32-byte secret-sealing key, falling back to a
// derivation of the signing secret when no dedicated key is configured
func sealingKey(cfg *config.Config) []byte {
	material := cfg.Auth.SessionSecretKey
	if material == "" {
		material = "seal:" + cfg.Auth.SessionSigningSecret
	}
	key := sha256.Sum256([]byte(material))
	return key[:]
}

// ephemeralKey generates a random per-process signing secret
func ephemeralKey() []byte {
	key := make([]byte, config.MinSigningSecretBytes)
	if _, err := rand.Read(key); err != nil {
		log.Fatalf("Failed to generate ephemeral signing secret: %v", err)
	}
	return key
}
