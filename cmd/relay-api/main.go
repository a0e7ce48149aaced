package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/oskarpl/media-relay/internal/cleanup"
	"github.com/oskarpl/media-relay/internal/events"
	"github.com/oskarpl/media-relay/internal/handler"
	"github.com/oskarpl/media-relay/internal/middleware"
	"github.com/oskarpl/media-relay/internal/models"
	"github.com/oskarpl/media-relay/internal/platform"
	"github.com/oskarpl/media-relay/internal/repository"
	"github.com/oskarpl/media-relay/internal/service"
	"github.com/oskarpl/media-relay/internal/session"
	"github.com/oskarpl/media-relay/internal/transfer"
	"github.com/oskarpl/media-relay/pkg/cache"
	"github.com/oskarpl/media-relay/pkg/config"
	"github.com/oskarpl/media-relay/pkg/database"
	"github.com/oskarpl/media-relay/pkg/logger"
	corsmiddleware "github.com/oskarpl/media-relay/pkg/middleware/cors"
	reqidmiddleware "github.com/oskarpl/media-relay/pkg/middleware/requestid"
	"github.com/oskarpl/media-relay/pkg/storage"
)

// sessionPool adapts the concrete pool to the queue's lease interface.
type sessionPool struct {
	pool *session.Pool
}

func (s sessionPool) Acquire(ctx context.Context, userID int64) (transfer.Lease, error) {
	h, err := s.pool.Acquire(ctx, userID)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (s sessionPool) Release(lease transfer.Lease) {
	if h, ok := lease.(*session.Handle); ok {
		s.pool.Release(h)
	}
}

func (s sessionPool) Size() int     { return s.pool.Size() }
func (s sessionPool) Capacity() int { return s.pool.Capacity() }

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("database connection failed", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("redis connection failed", "error", err)
	}
	defer redisClient.Close() //nolint:errcheck

	store, err := storage.NewLocalStorage(cfg.Transfer.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("storage init failed", "error", err)
	}

	credStore := session.NewRedisStore(redisClient, 0, logr)
	platformClient := platform.NewHTTPClient(cfg.Platform.GatewayURL, logr)
	pool := session.NewPool(platformClient, credStore, session.Config{
		Capacity:      cfg.Pool.Capacity,
		IdleTimeout:   cfg.Pool.IdleTimeout,
		EvictionGrace: cfg.Pool.EvictionGrace,
		SweepInterval: cfg.Pool.SweepInterval,
	}, logr)

	accounts := repository.NewAccountRepository(db)
	metrics := service.NewMetricsService()

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.AMQP.URL != "" {
		amqpPublisher, err := events.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logr)
		if err != nil {
			logr.Sugar().Warnw("amqp unavailable, status events disabled", "error", err)
		} else {
			publisher = amqpPublisher
		}
	}
	recorder := service.NewStatusRecorder(publisher, metrics, accounts, logr)

	executor := transfer.NewExecutor(store, transfer.ExecutorConfig{
		ChunkSize:       cfg.Transfer.ChunkSize,
		FreeMaxBytes:    cfg.Transfer.FreeMaxBytes,
		PremiumMaxBytes: cfg.Transfer.PremiumMaxBytes,
	}, logr)

	// The queue and the cleanup coordinator reference each other: the queue
	// emits cleanup records, the coordinator asks the queue which owners are
	// active. The function adapter breaks the construction cycle.
	var queue *transfer.Queue
	coordinator := cleanup.New(store, cleanup.OwnersFunc(func(ctx context.Context) map[int64]struct{} {
		if queue == nil {
			return nil
		}
		return queue.ActiveOwners(ctx)
	}), cleanup.Config{
		PremiumDelay:  cfg.Cleanup.PremiumDelay,
		FreeDelay:     cfg.Cleanup.FreeDelay,
		SafetyCeiling: cfg.Cleanup.SafetyCeiling,
		SweepInterval: cfg.Cleanup.SweepInterval,
	}, logr)

	queue = transfer.NewQueue(sessionPool{pool: pool}, executor, coordinator, recorder, transfer.Config{
		MaxActive:        cfg.Queue.MaxActive,
		MaxPending:       cfg.Queue.MaxPending,
		MaxPendingAge:    cfg.Queue.MaxPendingAge,
		SlotsFullBackoff: cfg.Queue.SlotsFullBackoff,
		RetentionWindow:  cfg.Queue.RetentionWindow,
		TickInterval:     cfg.Queue.TickInterval,
		Deadline:         cfg.Transfer.Deadline,
		MaxRetries:       cfg.Transfer.MaxRetries,
		AcquireRetries:   cfg.Transfer.AcquireRetries,
	}, logr)

	signer := storage.NewSignedURLSigner(cfg.Transfer.SigningSecret, cfg.Transfer.SigningTTL)
	relaySvc := service.NewRelayService(queue, accounts, pool, credStore, store, signer, service.RelayLimits{
		FreeMaxBytes:    cfg.Transfer.FreeMaxBytes,
		PremiumMaxBytes: cfg.Transfer.PremiumMaxBytes,
	}, logr)
	authSvc := service.NewAuthService(service.AuthConfig{
		Secret: cfg.Admin.JWTSecret,
		Issuer: "media-relay",
		Expiry: cfg.Admin.JWTExpiration,
	}, logr)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool.StartSweeper(rootCtx)
	queue.Start(rootCtx)
	coordinator.Start(rootCtx)
	go updateOccupancy(rootCtx, queue, metrics)

	transferHandler := handler.NewTransferHandler(relaySvc)
	queueHandler := handler.NewQueueHandler(relaySvc)
	sessionHandler := handler.NewSessionHandler(relaySvc)
	metricsHandler := handler.NewMetricsHandler(metrics)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	api := r.Group(cfg.APIPrefix)
	{
		api.POST("/transfers", transferHandler.Submit)
		api.GET("/transfers/:id", transferHandler.Status)
		api.DELETE("/transfers/:id", transferHandler.Cancel)
		api.GET("/transfers/:id/artifact", transferHandler.Artifact)
		api.GET("/artifacts/:token", transferHandler.Download)
		api.GET("/queue", queueHandler.Overview)
		api.GET("/stats", metricsHandler.Stats)
		api.DELETE("/sessions/:userId", sessionHandler.Logout)

		admin := api.Group("/admin")
		admin.Use(middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin, models.RoleOperator))
		admin.POST("/queue/cancel-all", queueHandler.CancelAll)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-rootCtx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("http shutdown incomplete", "error", err)
	}

	queue.Stop()
	coordinator.Stop()
	pool.Shutdown(shutdownCtx)
	if err := recorder.Close(); err != nil {
		logr.Sugar().Warnw("publisher close failed", "error", err)
	}
	logr.Sugar().Infow("shutdown complete")
}

// updateOccupancy keeps the pool and queue gauges fresh.
func updateOccupancy(ctx context.Context, queue *transfer.Queue, metrics *service.MetricsService) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if snap, err := queue.Snapshot(ctx); err == nil {
				metrics.UpdateOccupancy(snap)
			}
		}
	}
}
