// Package main runs the forest gateway: a single-sign-on relying party that
// fronts protected services with PKCE login, JWT verification and a
// cache-backed token lifecycle.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/innogeotech/forest-gateway/pkg/cache"
	"github.com/innogeotech/forest-gateway/pkg/config"
	"github.com/innogeotech/forest-gateway/pkg/core"
	"github.com/innogeotech/forest-gateway/pkg/logger"
	"github.com/innogeotech/forest-gateway/pkg/sso"

	"github.com/appleboy/graceful"
	sloggin "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"
)

func main() {
	var addr string
	var logLevel string
	var cacheType string
	var redisAddr string
	var redisPassword string
	var redisDB int
	flag.StringVar(&addr, "addr", ":8090", "address to listen on")
	flag.StringVar(&logLevel, "log-level", "", "Log level (DEBUG, INFO, WARN, ERROR). Defaults to DEBUG in development, INFO in production")
	flag.StringVar(&cacheType, "cache", "redis", "Cache type: memory or redis")
	flag.StringVar(&redisAddr, "redis-addr", "localhost:6379", "Redis address (only used when cache=redis)")
	flag.StringVar(&redisPassword, "redis-password", "", "Redis password (only used when cache=redis)")
	flag.IntVar(&redisDB, "redis-db", 0, "Redis database (only used when cache=redis)")
	flag.Parse()

	// Initialize logger with the specified log level
	logger.NewWithLevel(logLevel)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	cacheConfig := cache.Config{
		Type: cache.ParseType(cacheType),
		Redis: cache.RedisOptions{
			Addr:     redisAddr,
			Password: redisPassword,
			DB:       redisDB,
		},
	}
	store, err := cache.New(cacheConfig)
	if err != nil {
		slog.Error("Failed to create cache", "type", cacheType, "error", err)
		os.Exit(1)
	}
	switch cacheConfig.Type {
	case cache.TypeMemory:
		slog.Info("Using in-memory cache")
	case cache.TypeRedis:
		slog.Info("Using Redis cache", "addr", redisAddr, "db", redisDB)
		if redisCache, ok := store.(*cache.RedisCache); ok {
			defer redisCache.Close()
		}
	}

	issuer := sso.NewIssuer(cfg.Issuer, cfg.ClientID, cfg.ClientSecret)
	flow := sso.NewFlow(issuer, store, sso.FlowOptions{
		Scope:       cfg.Scopes,
		RedirectURI: cfg.RedirectURI,
	})
	verifier := sso.NewVerifier(issuer, sso.VerifierOptions{
		Audience: cfg.Audience,
	})
	tokens := sso.NewTokenStore(store, issuer, cfg.RedirectURI)
	handlers := sso.NewHandlers(flow, tokens, cfg.TokenRedirectURL)

	auth, err := sso.Middleware(sso.MiddlewareOptions{
		Verifier:      verifier,
		RequiredGroup: cfg.RequiredGroup,
		RevocationChecker: sso.RevocationCheckerFunc(func(ctx context.Context, token string) (bool, error) {
			return tokens.IsRevoked(ctx, token)
		}),
		Whitelist: []string{"^/healthz$"},
	})
	if err != nil {
		slog.Error("Failed to build auth middleware", "error", err)
		os.Exit(1)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(sloggin.SetLogger())
	router.Use(gin.Recovery())
	router.Use(requestID())

	handlers.RegisterRoutes(router, auth)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("SSO gateway listening", "addr", addr, "issuer", cfg.Issuer)

	m := graceful.NewManager()
	m.AddRunningJob(func(context.Context) error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	m.AddShutdownJob(func() error {
		slog.Info("Shutdown signal received, shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	})

	<-m.Done()
	slog.Info("Server shutdown gracefully")
}

// requestID tags every request context with a correlation id for logging.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(core.WithRequestID(c.Request.Context()))
		c.Next()
	}
}
