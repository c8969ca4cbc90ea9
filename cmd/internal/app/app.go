// Package app wires the lanyard server runtime: config, logging, stores,
// HTTP routes, wallet sync, and the live feed gateway.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"lanyard/cmd/internal/credential"
	"lanyard/cmd/internal/feed"
	"lanyard/cmd/internal/gateapi"
	"lanyard/cmd/internal/redemption"
	"lanyard/cmd/internal/staff"
	"lanyard/cmd/internal/wallet"
	"lanyard/cmd/security/password"
)

// Store is a small app-level lifecycle abstraction for closable
// persistence resources.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory dev mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// App is the lanyard server runtime.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	gate      *gateapi.Handler
	apple     *wallet.AppleHandler
	google    *wallet.GoogleFlow
	feedGW    *feed.Gateway
	pushQueue *wallet.PushQueue
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	st, pool, dbEnabled, bundle, err := newStores(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	credSvc, err := credential.NewService(bundle.creds)
	if err != nil {
		return nil, err
	}

	pwcfg, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	staffSvc, err := staff.NewService(log, staff.Config{TokenTTL: cfg.DeviceTokenTTL}, bundle.staff, pwcfg)
	if err != nil {
		return nil, err
	}

	// Wallet sync: push queue + coordinator + pass builder.
	// The pusher is log-only; APNs delivery runs as a separate relay fed
	// from the same registration table.
	pushQueue, err := wallet.NewPushQueue(log, wallet.PushQueueConfig{}, wallet.LogPusher{Log: log}, bundle.regs)
	if err != nil {
		return nil, err
	}
	coord, err := wallet.NewCoordinator(log, bundle.regs, bundle.creds, bundle.redem, pushQueue)
	if err != nil {
		return nil, err
	}
	builder, err := wallet.NewPassBuilder(wallet.PassConfig{
		PassTypeID:       cfg.PassTypeID,
		TeamID:           cfg.PassTeamID,
		OrganizationName: cfg.PassOrganization,
		Description:      cfg.PassDescription,
		BackgroundColor:  wallet.DefaultPassConfig().BackgroundColor,
		WebServiceURL:    cfg.PassWebService,
	}, nil)
	if err != nil {
		return nil, err
	}

	engine, err := redemption.NewEngine(log, bundle.redem, coord)
	if err != nil {
		return nil, err
	}

	hub := feed.NewHub(log)
	feedGW, err := feed.NewGateway(log, hub, staffSvc)
	if err != nil {
		return nil, err
	}

	gateCfg := gateapi.LoadConfigFromEnv()
	gate, err := gateapi.NewHandler(log, gateCfg, engine, bundle.redem, credSvc, staffSvc, hub, coord, builder)
	if err != nil {
		return nil, err
	}

	appleHandler, err := wallet.NewAppleHandler(log, credSvc, bundle.regs, coord, builder)
	if err != nil {
		return nil, err
	}

	googleFlow, err := newGoogleFlow(cfg, log, credSvc)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:       cfg,
		log:       log,
		store:     st,
		dbPool:    pool,
		dbEnabled: dbEnabled,
		gate:      gate,
		apple:     appleHandler,
		google:    googleFlow,
		feedGW:    feedGW,
		pushQueue: pushQueue,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or
// fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.gate, a.apple, a.google, a.feedGW)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"db_enabled", a.dbEnabled,
		"google_wallet", a.google != nil,
	)

	pushCtx, stopPush := context.WithCancel(context.Background())
	defer stopPush()
	go a.pushQueue.Run(pushCtx)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	stopPush()
	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// storeBundle groups the per-domain persistence boundaries.
type storeBundle struct {
	creds credential.Store
	redem redemption.Store
	staff staff.Store
	regs  wallet.Store
}

// newStores decides between Postgres-backed persistence and the in-memory
// dev stores.
func newStores(ctx context.Context, cfg Config, log Logger) (Store, *pgxpool.Pool, bool, storeBundle, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		redem := redemption.NewInMemoryStore()
		bundle := storeBundle{
			// Dev credential store feeds the redemption store's known-id
			// set, which Postgres gets for free from the shared table.
			creds: devCredentialStore{Store: credential.NewInMemoryStore(), redem: redem},
			redem: redem,
			staff: staff.NewInMemoryStore(),
			regs:  wallet.NewInMemoryStore(),
		}
		return nopStore{}, nil, false, bundle, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, storeBundle{}, err
	}
	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)

	var bundle storeBundle
	schema := cfg.DBSchema

	creds, err := credential.NewPostgresStore(pool, credential.WithSchema(schema))
	if err == nil {
		bundle.creds = creds
		var redem *redemption.PostgresStore
		if redem, err = redemption.NewPostgresStore(pool, redemption.WithSchema(schema)); err == nil {
			bundle.redem = redem
			var staffStore *staff.PostgresStore
			if staffStore, err = staff.NewPostgresStore(pool, staff.WithSchema(schema)); err == nil {
				bundle.staff = staffStore
				var regs *wallet.PostgresStore
				if regs, err = wallet.NewPostgresStore(pool, wallet.WithSchema(schema)); err == nil {
					bundle.regs = regs
				}
			}
		}
	}
	if err != nil {
		pool.Close()
		return nil, nil, false, storeBundle{}, err
	}

	return dbStore{pool: pool}, pool, true, bundle, nil
}

type dbStore struct {
	pool *pgxpool.Pool
}

func (s dbStore) Close(_ context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// devCredentialStore mirrors created credential ids into the in-memory
// redemption store so dev-mode scans can resolve them.
type devCredentialStore struct {
	credential.Store
	redem *redemption.InMemoryStore
}

func (s devCredentialStore) Create(ctx context.Context, in credential.CreateRecord) (credential.Credential, error) {
	cred, err := s.Store.Create(ctx, in)
	if err == nil {
		s.redem.AddCredential(cred.ID)
	}
	return cred, err
}
