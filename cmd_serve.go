package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"homora/internal/api"
	"homora/internal/cache"
	"homora/internal/logging"
	"homora/internal/metrics"
	"homora/internal/redis"
	"homora/internal/session"
	"homora/internal/storage"
	"homora/internal/worker"
)

var dbType string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the browser-facing API server",
	RunE:  runServe,
}

func init() {
	def := os.Getenv("HOMORA_DB")
	if def == "" {
		def = "sqlite3"
	}
	serveCmd.Flags().StringVar(&dbType, "db", def, "database driver: sqlite3 or mysql")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting", zap.String("db", dbType), zap.String("backend", cfg.BasicConfig.BackendURL))
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	m := metrics.New()
	cacheOpts := []cache.Option{cache.WithLogger(logger), cache.WithMetrics(m), cache.WithTTL(cfg.BasicConfig.CacheTTL())}
	if cfg.Redis.Enabled {
		rdb, err := redis.NewRedisClient(cfg)
		if err != nil {
			return fmt.Errorf("create redis client: %w", err)
		}
		defer rdb.Close()
		cacheOpts = append(cacheOpts, cache.WithRedis(rdb))
	}
	queryCache := cache.New(cacheOpts...)
	if err := queryCache.Listen(ctx); err != nil {
		return fmt.Errorf("subscribe cache invalidations: %w", err)
	}

	client, err := newBackendClient()
	if err != nil {
		return err
	}
	notices := storage.NewNoticeStore(db)
	sessions, err := session.NewManager(session.Deps{
		Backend:     client,
		Invalidator: queryCache,
		Sessions:    storage.NewSessionStore(db),
		Notices:     notices,
	},
		session.WithLogger(logger),
		session.WithMetrics(m),
		session.WithIdleTimeout(cfg.BasicConfig.SessionIdle()),
	)
	if err != nil {
		return err
	}
	go sessions.Run(ctx, session.DefaultSweepGap)

	workers := worker.NewDispatcher(worker.Config{
		MinWorkers:  cfg.BasicConfig.MinWorkers,
		MaxWorkers:  cfg.BasicConfig.MaxWorkers,
		QueueSize:   cfg.BasicConfig.QueueSize,
		IdleTimeout: cfg.BasicConfig.WorkerIdleTimeout(),
	}, logger.Named("worker"))
	defer workers.Stop()

	handler, err := api.NewHandler(api.Deps{
		Backend:        client,
		Cache:          queryCache,
		Sessions:       sessions,
		Notices:        notices,
		Workers:        workers,
		Metrics:        m,
		Logger:         logger,
		StreamTimeout:  cfg.BasicConfig.StreamTimeout(),
		RateLimitRPS:   cfg.BasicConfig.RateLimitRPS,
		RateLimitBurst: cfg.BasicConfig.RateLimitBurst,
	})
	if err != nil {
		return err
	}
	go handler.Run(ctx)

	if !verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), logging.GinMiddleware(logger))
	handler.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}
	srv := &http.Server{Addr: addr, Handler: router}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
