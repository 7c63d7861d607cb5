package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gatherly/backend/internal/api"
	"github.com/gatherly/backend/internal/auth"
	"github.com/gatherly/backend/internal/cache"
	"github.com/gatherly/backend/internal/config"
	"github.com/gatherly/backend/internal/db"
	"github.com/gatherly/backend/internal/db/memdb"
	"github.com/gatherly/backend/internal/events"
	"github.com/gatherly/backend/internal/health"
	"github.com/gatherly/backend/internal/hobbies"
	"github.com/gatherly/backend/internal/logger"
	"github.com/gatherly/backend/internal/metrics"
	"github.com/gatherly/backend/internal/middleware"
	"github.com/gatherly/backend/internal/notify"
	"github.com/gatherly/backend/internal/search"
	"github.com/gatherly/backend/internal/storage"
	"github.com/gatherly/backend/internal/users"
	"github.com/gatherly/backend/internal/venues"
	"github.com/gatherly/backend/internal/websocket"
)

const shutdownTimeout = 15 * time.Second

func runServe(parent context.Context) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	checks := map[string]health.CheckFunc{}
	checkerCfg := &health.CheckerConfig{Version: version, Checks: checks}

	var store db.Store
	switch cfg.Store {
	case config.StoreMemory:
		log.Warn(ctx, "using the in-memory store; data is lost on restart")
		store = memdb.New()
	default:
		database, err := openPostgres(ctx, cfg)
		if err != nil {
			return err
		}
		defer database.Close()
		checkerCfg.DB = database.DB
		store = db.NewStore(database)
	}

	images, err := openImages(ctx, cfg, log, checks)
	if err != nil {
		return err
	}

	issuer, err := auth.NewIssuer(cfg.JWT)
	if err != nil {
		return err
	}
	authService := auth.NewService(store, issuer, cfg.BcryptCost, log, m)

	hub := websocket.NewHub(m.WSConnections())
	go hub.Run(ctx)

	var notifier notify.Notifier
	var eventCache *cache.Cache
	if cfg.RedisURL != "" {
		queue, err := notify.NewQueue(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer queue.Close()
		checks["redis"] = queue.Ping

		eventCache, err = cache.NewWithClient(ctx, queue.Client(), "gatherly:", log)
		if err != nil {
			return err
		}

		pool := notify.NewWorkerPool(queue, hub, &notify.WorkerPoolConfig{
			WorkerCount: cfg.WorkerCount,
			Metrics:     m,
			Logger:      log,
		})
		pool.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := pool.Stop(stopCtx); err != nil {
				log.Error(stopCtx, "worker pool did not stop cleanly", err)
			}
		}()
		go reportQueueLength(ctx, queue, m)
		notifier = queue
	} else {
		log.Info(ctx, "REDIS_URL not set; notifications are delivered inline and events are not cached")
		notifier = notify.NewDirect(hub, m, log)
	}

	hobbyService := hobbies.NewService(store)
	limiter := middleware.NewRateLimiter(cfg.AuthRatePerMinute, cfg.AuthRateBurst)
	go sweepLimiter(ctx, limiter)

	eventService := events.NewService(store, events.Config{
		Cache:    eventCache,
		CacheTTL: cfg.EventCacheTTL,
		Notifier: notifier,
		Images:   images,
		Logger:   log,
	})
	venueService := venues.NewService(store, images, eventCache, log)

	router := api.NewRouter(api.Handlers{
		Auth:    auth.NewHandlers(authService),
		Users:   users.NewHandlers(users.NewService(store, hobbyService, eventCache, log)),
		Events:  events.NewHandlers(eventService),
		Venues:  venues.NewHandlers(venueService),
		Hobbies: hobbies.NewHandlers(hobbyService),
		Search:  search.NewHandlers(eventService, venueService),
		Health:  health.NewHandler(health.NewChecker(checkerCfg)),
		WS:      websocket.NewHandler(hub, authService, cfg.CORSOrigins, log),
	}, api.Config{
		AuthService: authService,
		Metrics:     m,
		RateLimiter: limiter,
		Logger:      log,
		CORSOrigins: cfg.CORSOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting server", map[string]interface{}{"addr": cfg.ServerAddr, "store": cfg.Store})
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openImages uses MinIO/S3 when an endpoint is configured and keeps images
// in memory otherwise.
func openImages(ctx context.Context, cfg *config.Config, log *logger.Logger, checks map[string]health.CheckFunc) (storage.ImageStore, error) {
	if cfg.MinioEndpoint == "" {
		log.Warn(ctx, "MINIO_ENDPOINT not set; images are kept in memory")
		return storage.NewMemoryImages(), nil
	}

	reader, err := storage.New(&storage.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, err
	}
	if err := reader.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	checks["storage"] = reader.Ping
	return storage.NewImages(storage.NewS3Storage(cfg), reader), nil
}

func reportQueueLength(ctx context.Context, queue *notify.Queue, m *metrics.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := queue.Length(ctx); err == nil {
				m.SetNotificationQueueLength(n)
			}
		}
	}
}

func sweepLimiter(ctx context.Context, limiter *middleware.RateLimiter) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Sweep()
		}
	}
}
