// Package runtime wires the chain layer together and manages its lifecycle.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	redis "github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	"github.com/MyFanss/MyFans-sub002/internal/app/httpapi"
	checkoutsvc "github.com/MyFanss/MyFans-sub002/internal/app/services/checkout"
	entitlementsvc "github.com/MyFanss/MyFans-sub002/internal/app/services/entitlement"
	"github.com/MyFanss/MyFans-sub002/internal/app/services/renewal"
	"github.com/MyFanss/MyFans-sub002/internal/app/storage"
	"github.com/MyFanss/MyFans-sub002/internal/app/storage/memory"
	"github.com/MyFanss/MyFans-sub002/internal/app/storage/postgres"
	"github.com/MyFanss/MyFans-sub002/internal/app/submit"
	"github.com/MyFanss/MyFans-sub002/internal/app/txbuilder"
	"github.com/MyFanss/MyFans-sub002/internal/config"
	"github.com/MyFanss/MyFans-sub002/internal/stellar"
	"github.com/MyFanss/MyFans-sub002/pkg/logger"
)

// stores is the combined persistence surface the application needs.
type stores interface {
	storage.PlanStore
	storage.CheckoutStore
	storage.SubscriptionStore
}

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg      config.Config
	log      *logger.Logger
	server   *http.Server
	scanner  *renewal.Scanner
	checkout *checkoutsvc.Service
	db       *sql.DB
	rdb      *redis.Client
}

// NewApplication constructs an application from configuration.
func NewApplication(cfg config.Config) (*Application, error) {
	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	gateway, err := stellar.NewClient(stellar.Config{
		HorizonURL:           cfg.Stellar.HorizonURL,
		SorobanRPCURL:        cfg.Stellar.SorobanURL,
		NetworkPassphrase:    cfg.Stellar.NetworkPassphrase,
		SubscriptionContract: cfg.Stellar.ContractID,
		RequestsPerSecond:    cfg.Stellar.RequestsPerSecond,
		Timeout:              cfg.Stellar.Timeout.Std(),
	})
	if err != nil {
		return nil, fmt.Errorf("ledger gateway: %w", err)
	}

	store, db, err := buildStores(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	cache, rdb := buildCache(cfg, log)
	resolver := entitlementsvc.New(gateway, cache, log.WithField("component", "entitlement"),
		entitlementsvc.WithTTL(cfg.Entitlement.CacheTTL.Std()))

	builder := txbuilder.New(gateway, cfg.Stellar.ContractID,
		txbuilder.WithBaseFee(cfg.Stellar.BaseFee))

	coordinator := submit.New(gateway, submit.Config{
		InitialPollInterval: cfg.Submission.InitialPollInterval.Std(),
		MaxPollInterval:     cfg.Submission.MaxPollInterval.Std(),
		PollBudget:          cfg.Submission.PollBudget.Std(),
		TransientAttempts:   cfg.Submission.TransientAttempts,
	}, nil, log.WithField("component", "submit"))

	checkout := checkoutsvc.New(store, store, store, builder, coordinator, gateway, resolver,
		checkoutsvc.Config{
			PlatformFeeBps: cfg.Checkout.PlatformFeeBps,
			NetworkFee:     cfg.Stellar.BaseFee,
			SessionTTL:     cfg.Checkout.SessionTTL.Std(),
		}, log.WithField("component", "checkout"))

	scanner := renewal.New(store, resolver, log.WithField("component", "renewal"),
		renewal.WithSchedule(cfg.Renewal.Schedule),
		renewal.WithLookahead(cfg.Renewal.Lookahead.Std()))

	handler := httpapi.NewHandler(httpapi.Deps{
		Checkout:     checkout,
		Entitlements: resolver,
		Plans:        store,
		Log:          log.WithField("component", "httpapi"),
	})

	return &Application{
		cfg: cfg,
		log: log,
		server: &http.Server{
			Addr:         cfg.Server.Addr(),
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0, // WebSocket streams outlive any write deadline
			IdleTimeout:  60 * time.Second,
		},
		scanner:  scanner,
		checkout: checkout,
		db:       db,
		rdb:      rdb,
	}, nil
}

// Run starts the background services and the HTTP server, blocking until the
// context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.checkout.RecoverOpenSessions(ctx); err != nil {
		a.log.WithError(err).Warn("could not reconcile open checkout sessions")
	}

	if err := a.scanner.Start(ctx); err != nil {
		return fmt.Errorf("start renewal scanner: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.cfg.Server.Addr())
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the server and the background services gracefully.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.scanner.Stop(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("renewal scanner did not stop cleanly")
	}
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis connection")
		}
	}
	return nil
}

func buildStores(cfg config.Config, log *logger.Logger) (stores, *sql.DB, error) {
	if cfg.Database.DSN == "" {
		log.Warn("no database configured; running on the in-memory store")
		return memory.New(), nil, nil
	}

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := postgres.Migrate(db); err != nil {
		db.Close()
		return nil, nil, err
	}
	return postgres.New(db), db, nil
}

func buildCache(cfg config.Config, log *logger.Logger) (entitlementsvc.Cache, *redis.Client) {
	if cfg.Redis.Addr == "" {
		return entitlementsvc.NewMemoryCache(cfg.Entitlement.CacheSize, cfg.Entitlement.CacheTTL.Std()), nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	log.WithField("addr", cfg.Redis.Addr).Info("entitlement cache on redis")
	return entitlementsvc.NewRedisCache(rdb, cfg.Entitlement.CacheTTL.Std()), rdb
}
