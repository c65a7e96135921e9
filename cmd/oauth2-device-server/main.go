// Package main implements the OAuth 2.0 Device Authorization Grant server
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wrale/oauth2-device-server/internal/clients"
	"github.com/wrale/oauth2-device-server/internal/csrf"
	"github.com/wrale/oauth2-device-server/internal/deviceflow"
	"github.com/wrale/oauth2-device-server/internal/issuer"
	"github.com/wrale/oauth2-device-server/internal/metrics"
	"github.com/wrale/oauth2-device-server/internal/upstream"
)

// Version is set by the build process
var Version = "dev"

func main() {
	// Load .env first so envconfig sees it; missing files are fine
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, csrfStore, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	directory, err := buildDirectory(cfg, logger)
	if err != nil {
		return err
	}

	tokenIssuer, err := buildIssuer(cfg, logger)
	if err != nil {
		return err
	}

	flow := deviceflow.NewFlow(store, directory, tokenIssuer, cfg.BaseURL,
		deviceflow.WithExpiryDuration(cfg.CodeExpiry),
		deviceflow.WithPollInterval(cfg.PollInterval),
		deviceflow.WithSlowDownIncrement(cfg.SlowDownIncrement),
		deviceflow.WithUserCodeGenerator(deviceflow.NewGenerator(cfg.UserCodeLength, cfg.UserCodeCharset)),
		deviceflow.WithLogger(logger),
	)

	csrfManager := csrf.NewManager(csrfStore, csrfSecret(cfg, logger), cfg.CSRFTokenExpiry)

	var provider *upstream.Provider
	if cfg.upstreamEnabled() {
		provider, err = upstream.New(upstream.Config{
			ClientID:              cfg.UpstreamClientID,
			ClientSecret:          cfg.UpstreamClientSecret,
			AuthorizationEndpoint: cfg.UpstreamAuthURL,
			TokenEndpoint:         cfg.UpstreamTokenURL,
			RedirectURL:           cfg.BaseURL + "/device/complete",
			Scopes:                deviceflow.ParseScope(cfg.UpstreamScope),
		})
		if err != nil {
			return fmt.Errorf("configuring upstream provider: %w", err)
		}
		logger.Info("upstream-delegated verification enabled",
			zap.String("authorization_endpoint", cfg.UpstreamAuthURL))
	}

	m := metrics.New()

	sweeper := deviceflow.NewSweeper(store,
		deviceflow.WithSweepInterval(cfg.CleanupInterval),
		deviceflow.WithRetention(cfg.CleanupRetention),
		deviceflow.WithSweepLogger(logger),
		deviceflow.WithOnSweep(func(removed int) {
			m.SweptRecords.Add(float64(removed))
		}),
	)
	go sweeper.Run(ctx)

	srv, err := newServer(cfg, flow, csrfManager, m, provider, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.Int("port", cfg.Port),
			zap.String("store", cfg.StoreDriver),
			zap.String("version", Version))
		serverErrors <- httpServer.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("starting server: %w", err)

	case sig := <-shutdown:
		logger.Info("starting shutdown", zap.String("signal", sig.String()))
		cancel() // stop the sweeper

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", zap.Error(err))
			if err := httpServer.Close(); err != nil {
				return fmt.Errorf("closing server: %w", err)
			}
		}
	}
	return nil
}

func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// buildStore creates the device code store and a matching CSRF token
// store for the configured driver.
func buildStore(ctx context.Context, cfg Config) (deviceflow.Store, csrf.Store, func(), error) {
	switch cfg.StoreDriver {
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("parsing redis URL: %w", err)
		}
		client := redis.NewClient(opts)

		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		defer pingCancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}

		store := deviceflow.NewRedisStore(client, cfg.CleanupRetention)
		return store, csrf.NewRedisStore(client), func() { _ = client.Close() }, nil

	case "sqlite":
		store, err := deviceflow.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		return store, csrf.NewMemoryStore(), func() { _ = store.Close() }, nil

	case "memory":
		return deviceflow.NewMemoryStore(), csrf.NewMemoryStore(), func() {}, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func buildDirectory(cfg Config, logger *zap.Logger) (deviceflow.ClientDirectory, error) {
	if cfg.ClientsFile != "" {
		directory, err := clients.LoadFile(cfg.ClientsFile)
		if err != nil {
			return nil, err
		}
		return directory, nil
	}

	// No registry configured: seed a development client so the flow is
	// usable out of the box.
	clientID := "device-cli"
	logger.Warn("no clients file configured, seeding development client",
		zap.String("client_id", clientID))
	return clients.NewStaticDirectory(deviceflow.Client{
		ID:         clientID,
		Name:       "Development CLI",
		GrantTypes: []string{deviceflow.GrantType},
	}), nil
}

func buildIssuer(cfg Config, logger *zap.Logger) (deviceflow.TokenIssuer, error) {
	secret := []byte(cfg.SigningSecret)
	if len(secret) == 0 {
		if !cfg.Development {
			return nil, fmt.Errorf("SIGNING_SECRET is required outside development mode")
		}
		secret = randomSecret()
		logger.Warn("SIGNING_SECRET not set, using a random per-boot secret")
	}
	return issuer.NewJWT(secret, cfg.TokenIssuerName,
		issuer.WithAccessTokenTTL(cfg.AccessTokenTTL))
}

func csrfSecret(cfg Config, logger *zap.Logger) []byte {
	if cfg.CSRFSecret != "" {
		return []byte(cfg.CSRFSecret)
	}
	logger.Warn("CSRF_SECRET not set, using a random per-boot secret")
	return randomSecret()
}

func randomSecret() []byte {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("reading random bytes: %v", err))
	}
	return []byte(base64.RawStdEncoding.EncodeToString(buf))
}
