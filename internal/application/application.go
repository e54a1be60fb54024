package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/alexsmy/bot-29-sub000/internal/config"
	"github.com/alexsmy/bot-29-sub000/internal/database"
	"github.com/alexsmy/bot-29-sub000/internal/handler"
	"github.com/alexsmy/bot-29-sub000/internal/iceservers"
	"github.com/alexsmy/bot-29-sub000/internal/middleware"
	"github.com/alexsmy/bot-29-sub000/internal/observer"
	"github.com/alexsmy/bot-29-sub000/internal/router"
	"github.com/alexsmy/bot-29-sub000/internal/service"
	"github.com/alexsmy/bot-29-sub000/internal/store"
)

// API is the HTTP + WebSocket API application.
type API struct {
	cfg      *config.Config
	srv      *http.Server
	db       *gorm.DB
	logger   *zap.Logger
	registry *service.Registry
	redis    *observer.RedisPublisher
}

// NewLogger builds the process logger: console in development, JSON otherwise.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.AppEnv == "development" {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.LogLevel != "" {
		lvl, err := zap.ParseAtomicLevel(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("LOG_LEVEL: %w", err)
		}
		zcfg.Level = lvl
	}
	return zcfg.Build()
}

// OpenStore returns the configured session store. db is nil for the memory driver.
func OpenStore(cfg *config.Config, logger *zap.Logger) (store.Store, *gorm.DB, error) {
	if cfg.StoreDriver == "memory" {
		logger.Warn("using in-memory session store; rooms do not survive a restart")
		return store.NewMemoryStore(logger), nil, nil
	}
	if err := database.MigrateUp(cfg.DatabaseURL(), logger); err != nil {
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg.DSN())
	if err != nil {
		return nil, nil, fmt.Errorf("database: %w", err)
	}
	return store.NewGormStore(db), db, nil
}

// NewICEService wires every configured relay credentials provider.
func NewICEService(cfg *config.Config, logger *zap.Logger) (*iceservers.Service, error) {
	ice := cfg.ICE
	var providers []iceservers.Provider
	if len(ice.TURNRESTURLs) > 0 {
		p, err := iceservers.NewTURNRESTProvider(ice.TURNRESTURLs, ice.TURNRESTSecret, ice.TURNRESTTTL)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	if ice.MeteredDomain != "" {
		providers = append(providers, iceservers.NewMeteredProvider(ice.MeteredDomain, ice.MeteredAPIKey, ice.FetchTimeout))
	}
	if ice.CloudflareKeyID != "" {
		providers = append(providers, iceservers.NewCloudflareProvider(ice.CloudflareKeyID, ice.CloudflareAPIToken, ice.TURNRESTTTL, ice.FetchTimeout))
	}
	return iceservers.NewService(ice.StunURLs, providers, ice.FetchTimeout, logger.Named("ice")), nil
}

// NewAPI creates the API application: validates config, opens the store, builds router.
func NewAPI(cfg *config.Config) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logger, err := NewLogger(cfg)
	if err != nil {
		return nil, err
	}

	st, db, err := OpenStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	checks := map[string]handler.ReadyCheck{}
	if db != nil {
		checks["postgres"] = func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
	}

	broker := observer.NewBroker(logger)
	sinks := observer.Fanout{broker}
	var redisPub *observer.RedisPublisher
	if cfg.RedisURL != "" {
		redisPub, err = observer.NewRedisPublisher(cfg.RedisURL, cfg.RedisEventsChannel, logger)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		sinks = append(sinks, redisPub)
		checks["redis"] = redisPub.Ping
	}

	registry := service.NewRegistry(st, sinks, logger.Named("registry"), service.Options{
		CallTimeout:  cfg.CallTimeout,
		StoreTimeout: cfg.StoreTimeout,
	})
	urls := &service.URLConfig{BaseURL: cfg.BaseURL, BasePath: cfg.BasePath}
	roomSvc := service.NewRoomService(registry, st, urls, service.Lifetimes{
		Private:    cfg.PrivateRoomLifetime,
		Admin:      cfg.AdminRoomLifetime,
		AdminToken: cfg.AdminTokenLifetime,
	}, logger.Named("rooms"))

	iceSvc, err := NewICEService(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("ice: %w", err)
	}

	wsOpts := handler.WSOptions{
		ReadBufferSize:  cfg.WSReadBufferSize,
		WriteBufferSize: cfg.WSWriteBufferSize,
		MaxMessageSize:  cfg.WSMaxMessageSize,
		WriteTimeout:    cfg.WSWriteTimeout,
		AllowedOrigins:  cfg.WSAllowedOrigins,
	}
	r := router.New(cfg.BasePath, router.Handlers{
		Room:       handler.NewRoomHandler(roomSvc, logger),
		Signaling:  handler.NewSignalingHandler(registry, wsOpts, logger),
		Events:     handler.NewEventsHandler(broker, wsOpts, logger),
		Admin:      handler.NewAdminHandler(roomSvc, logger),
		ICE:        handler.NewICEHandler(iceSvc),
		Health:     handler.NewHealthHandler(checks),
		Auth:       roomSvc,
		ICELimiter: middleware.NewIPRateLimiter(cfg.ICE.RatePerMin),
	}, logger.Named("http"))

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &API{cfg: cfg, srv: srv, db: db, logger: logger, registry: registry, redis: redisPub}, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled; then shuts down gracefully.
func (a *API) Run(ctx context.Context) error {
	defer func() { _ = a.logger.Sync() }()

	host := a.cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.cfg.HTTPPort
	a.logger.Info("HTTP server listening",
		zap.String("addr", a.srv.Addr),
		zap.String("health", base+"/health"),
		zap.String("room_page", base+a.cfg.BasePath+"/call/:room_id"),
		zap.String("signaling", "ws://"+host+":"+a.cfg.HTTPPort+a.cfg.BasePath+"/ws/private/:room_id"))

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Hijacked WebSocket connections are not tracked by http.Server; the registry closes them.
	if err := a.registry.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("registry shutdown", zap.Error(err))
	}
	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if serveErr != nil {
		return fmt.Errorf("http: %w", serveErr)
	}
	a.logger.Info("server stopped")
	return nil
}
