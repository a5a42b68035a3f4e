package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/gatehouse/pkg/authn"
	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/gate"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/kv"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
	"github.com/platinummonkey/gatehouse/pkg/session"
)

// apiPrefix is where the management and authentication endpoints are mounted.
const apiPrefix = "/iam/api/v1"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gatehouse: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("Starting gatehouse")

	kvStore, err := kv.NewRedisStore(cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to identity store: %w", err)
	}
	logger.Info("Connected to identity store")

	discoveryCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	idp, err := authn.NewClient(discoveryCtx, authn.ClientConfig{
		IssuerURL:    cfg.IdP.IssuerURL,
		Audience:     cfg.IdP.Audience,
		ClientID:     cfg.IdP.ClientID,
		ClientSecret: cfg.IdP.ClientSecret,
		CallbackURL:  cfg.IdP.CallbackURL,
		Scopes:       cfg.IdP.Scopes,
	})
	if err != nil {
		return fmt.Errorf("failed to set up identity provider client: %w", err)
	}
	logger.WithField("issuer", cfg.IdP.IssuerURL).Info("Discovered identity provider")

	verifier, err := authn.NewJWTVerifier(authn.VerifierConfig{
		Issuer:    cfg.IdP.IssuerURL,
		Audience:  cfg.IdP.Audience,
		JWKSURL:   idp.JWKSURL(),
		CacheSize: cfg.Auth.JWKSCacheSize,
		CacheTTL:  cfg.Auth.JWKSCacheTTL,
	})
	if err != nil {
		return fmt.Errorf("failed to set up token verifier: %w", err)
	}

	matcher, err := rbac.NewMatcher(cfg.Auth.PatternCacheSize)
	if err != nil {
		return err
	}

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics()
	}

	sessions := session.NewManager(kvStore, cfg.Auth.SessionTTL)
	store := rbac.NewStore(kvStore, logger)
	engine := rbac.NewEngine(store, matcher, cfg.Auth.RootUsers, logger)

	authHandlers := authn.NewHandlers(sessions, idp, logger)
	rbacHandlers := rbac.NewHandlers(store, engine, logger, metrics)

	router := mux.NewRouter()
	router.HandleFunc("/", homeHandler).Methods("GET")
	router.HandleFunc("/home", homeHandler).Methods("GET")

	api := router.PathPrefix(apiPrefix).Subrouter()
	authHandlers.RegisterRoutes(api)
	rbacHandlers.RegisterRoutes(api)

	requestGate := gate.New(verifier, engine, sessions, authHandlers, apiPrefix, logger, metrics)
	handler := observability.RecoveryMiddleware(logger)(
		observability.RequestIDMiddleware(
			requestGate.Middleware(router)))
	if metrics != nil {
		handler = metrics.Middleware(handler)
	}

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthChecker := observability.NewHealthChecker(5 * time.Second)
	healthChecker.Register("identity-store", kvStore.Ping)

	healthRouter := mux.NewRouter()
	healthRouter.HandleFunc("/healthz", healthChecker.LivenessHandler()).Methods("GET")
	healthRouter.HandleFunc("/readyz", healthChecker.ReadinessHandler()).Methods("GET")
	if metrics != nil {
		healthRouter.Handle("/metrics", metrics.Handler()).Methods("GET")
	}

	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthRouter,
	}

	shutdown := observability.NewShutdownManager(logger, apiServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(healthServer.Shutdown)
	shutdown.RegisterShutdownFunc(func(context.Context) error { return kvStore.Close() })

	var group errgroup.Group
	group.Go(func() error {
		logger.Infof("Listening on %s", apiServer.Addr)
		if err := apiServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		logger.Infof("Health endpoints on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(shutdown.WaitForShutdown)

	return group.Wait()
}

func homeHandler(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]string{
		"service": "gatehouse",
		"status":  "ok",
	})
}
