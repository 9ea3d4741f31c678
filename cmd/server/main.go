// Package main initializes and starts the keystore server, setting up
// configuration, logging, storage, services, handlers, and optional TLS.
package main

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	nethttp "net/http"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/atinyakov/keyvault/internal/config"
	"github.com/atinyakov/keyvault/internal/crypto"
	"github.com/atinyakov/keyvault/internal/db"
	"github.com/atinyakov/keyvault/internal/logger"
	"github.com/atinyakov/keyvault/internal/middleware"
	"github.com/atinyakov/keyvault/internal/repository"
	"github.com/atinyakov/keyvault/internal/server/handler/http"
	"github.com/atinyakov/keyvault/internal/service"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

const (
	cleanupInterval = time.Minute
	authBurst       = 10
)

// repositories groups the persistence backends the services need.
type repositories struct {
	auth       service.AuthRepository
	keys       service.KeyRepository
	delegation service.DelegationRepository
	share      service.ShareRepository
	sweep      db.SweepFunc
}

func main() {
	options, err := config.Parse()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init(options.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	zapLogger := log.Log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repos, err := openRepositories(options, zapLogger)
	if err != nil {
		zapLogger.Fatal("cannot init storage", zap.Error(err))
	}
	db.StartExpiryCleaner(ctx, cleanupInterval, repos.sweep, zapLogger)

	tokens, err := service.NewTokenIssuer([]byte(options.JWTSecret), "keyvault", time.Duration(options.TokenTTL))
	if err != nil {
		zapLogger.Fatal("cannot init token issuer", zap.Error(err))
	}

	keyService := service.NewKeyService(repos.keys, zapLogger)
	keyService.MinIterations = options.KDFIterations

	handlers := http.Handlers{
		Auth: &http.AuthHandler{
			AuthService: service.NewAuthService(repos.auth, tokens, crypto.RFC5054Group2048(), zapLogger),
			Log:         zapLogger,
		},
		Keys: &http.KeyHandler{KeyService: keyService, Log: zapLogger},
		Delegation: &http.DelegationHandler{
			DelegationService: service.NewDelegationService(repos.delegation, crypto.New(), zapLogger),
			Log:               zapLogger,
		},
		Share: &http.ShareHandler{ShareService: service.NewShareService(repos.share, zapLogger), Log: zapLogger},
	}
	limiter := middleware.NewRateLimiter(rate.Limit(options.AuthRateLimit), authBurst, 10*time.Minute)
	router := http.NewRouter(handlers, tokens, limiter, zapLogger, http.WithTrustedProxy(options.TrustProxy))

	server := &nethttp.Server{
		Addr:              options.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if options.TLSCert != "" && options.TLSKey != "" {
		zapLogger.Info("starting HTTPS server", zap.String("addr", options.Port))
		err = server.ListenAndServeTLS(options.TLSCert, options.TLSKey)
	} else {
		zapLogger.Warn("TLS is not configured, starting plain HTTP server", zap.String("addr", options.Port))
		err = server.ListenAndServe()
	}
	if err != nil && err != nethttp.ErrServerClosed {
		zapLogger.Fatal("server stopped", zap.Error(err))
	}
}

// openRepositories selects Postgres when a DSN is configured and the
// in-memory store otherwise.
func openRepositories(options *config.Options, log *zap.Logger) (*repositories, error) {
	retention := time.Duration(options.Retention)

	if options.DatabaseDSN == "" {
		log.Warn("DATABASE_DSN is empty, keeping all records in memory")
		store := repository.NewMemoryStore()
		return &repositories{
			auth:       store,
			keys:       store,
			delegation: store,
			share:      store,
			sweep: func(_ context.Context, now time.Time) (int64, error) {
				return int64(store.PurgeExpired(now.Add(-service.DefaultChallengeTTL), now.Add(-retention))), nil
			},
		}, nil
	}

	postgresDB, err := db.InitPostgres(options.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	return &repositories{
		auth:       repository.NewPostgresAuthRepository(postgresDB),
		keys:       repository.NewPostgresKeyRepository(postgresDB),
		delegation: repository.NewPostgresDelegationRepository(postgresDB),
		share:      repository.NewPostgresShareRepository(postgresDB),
		sweep:      db.PostgresSweeper(postgresDB, service.DefaultChallengeTTL, retention),
	}, nil
}
